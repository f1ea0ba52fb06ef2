// Package playback plays streamed PCM16 speech fragments gaplessly in arrival
// order.
//
// A [Streamer] owns the playback queue. Fragments are appended with
// [Streamer.AddPCM16] at whatever pace they arrive; the streamer hands them to
// an [Output] one at a time and starts the next as soon as the previous one
// ends. [Streamer.Stop] is the barge-in path (drop everything, fade out) and
// [Streamer.Complete] is the graceful end-of-turn path (fire the completion
// callback once the queue has drained).
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lingua/pkg/audio"
)

const (
	// DefaultStallTimeout is how long the queue may sit without a new buffer
	// being scheduled, past the expected end of the current one, before the
	// watchdog forces the next buffer out.
	DefaultStallTimeout = time.Second

	watchdogInterval = time.Second
	retryDelay       = 100 * time.Millisecond
	fadeOut          = 100 * time.Millisecond
	gainRestore      = 200 * time.Millisecond
)

// Voice is one buffer that is currently playing.
type Voice interface {
	// Stop halts the buffer immediately. onEnded is not invoked afterwards.
	Stop()
}

// Output is the platform sound device.
type Output interface {
	// Play starts samples (mono, normalised to [-1, 1)) immediately and calls
	// onEnded from another goroutine once the last sample has been rendered.
	// onEnded must never be called before Play returns.
	Play(samples []float32, onEnded func()) (Voice, error)

	// SetGain moves the master gain to level over ramp.
	SetGain(level float64, ramp time.Duration)

	// Suspended reports whether the device is paused by the platform.
	Suspended() bool

	// Resume restarts a suspended device.
	Resume() error
}

// Suspender is implemented by outputs that can pause the device while no
// session needs it.
type Suspender interface {
	Suspend() error
}

// LevelTap is implemented by outputs that can report the level of the audio
// they are rendering. The function is installed once per output.
type LevelTap interface {
	SetLevelFunc(fn func(level float64))
}

// Option configures a [Streamer].
type Option func(*Streamer)

// WithOnComplete sets the callback fired when a requested completion is
// reached (see [Streamer.Complete]).
func WithOnComplete(fn func()) Option {
	return func(s *Streamer) { s.onComplete = fn }
}

// WithLevelFunc installs fn as the output level observer. It has no effect
// when the output does not implement [LevelTap].
func WithLevelFunc(fn func(level float64)) Option {
	return func(s *Streamer) { s.levelFn = fn }
}

// WithStallTimeout overrides [DefaultStallTimeout].
func WithStallTimeout(d time.Duration) Option {
	return func(s *Streamer) {
		if d > 0 {
			s.stallTimeout = d
		}
	}
}

// WithOnStall registers a callback invoked whenever the watchdog has to force
// a reschedule.
func WithOnStall(fn func()) Option {
	return func(s *Streamer) { s.onStall = fn }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Streamer) { s.now = now }
}

// WithoutWatchdog disables the background ticker. The owner is then
// responsible for calling [Streamer.CheckStall].
func WithoutWatchdog() Option {
	return func(s *Streamer) { s.noWatchdog = true }
}

// Streamer is the playback pipeline. All methods are safe for concurrent use.
type Streamer struct {
	out          Output
	onComplete   func()
	onStall      func()
	levelFn      func(float64)
	stallTimeout time.Duration
	now          func() time.Time
	noWatchdog   bool

	mu sync.Mutex
	// queue holds buffers not yet handed to the output, front first.
	queue [][]float32
	// playing is true while a buffer is playing or a retry is pending.
	playing           bool
	current           Voice
	currentID         uint64
	seq               uint64
	lastScheduled     time.Time
	expectedEnd       time.Time
	completeRequested bool
	retry             *time.Timer
	restore           *time.Timer
	closed            bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewStreamer returns a Streamer playing through out. The stall watchdog
// runs until [Streamer.Close].
func NewStreamer(out Output, opts ...Option) *Streamer {
	s := &Streamer{
		out:          out,
		stallTimeout: DefaultStallTimeout,
		now:          time.Now,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.levelFn != nil {
		if tap, ok := out.(LevelTap); ok {
			tap.SetLevelFunc(s.levelFn)
		}
	}
	if !s.noWatchdog {
		go s.watchdog()
	}
	return s
}

// AddPCM16 decodes little-endian PCM16 at 24 kHz and appends it to the
// queue, starting playback if the pipeline is idle. It never blocks on the
// device and never drops data.
func (s *Streamer) AddPCM16(pcm []byte) {
	samples := audio.Float32FromPCM16(pcm)
	if len(samples) == 0 {
		return
	}

	s.wake()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, samples)
	var fire bool
	if !s.playing {
		fire = s.scheduleLocked()
	}
	s.mu.Unlock()
	s.fireComplete(fire)
}

// Resume wakes a suspended output, restores full gain after a prior Stop and
// restarts scheduling if buffered audio is waiting.
func (s *Streamer) Resume() {
	s.wake()

	s.mu.Lock()
	if s.restore != nil {
		s.restore.Stop()
		s.restore = nil
	}
	s.mu.Unlock()
	s.out.SetGain(1, 0)

	s.mu.Lock()
	var fire bool
	if !s.closed && len(s.queue) > 0 && !s.playing {
		fire = s.scheduleLocked()
	}
	s.mu.Unlock()
	s.fireComplete(fire)
}

// Stop halts the playing buffer, discards everything queued and fades the
// output to silence. Buffers added afterwards start a fresh queue.
func (s *Streamer) Stop() {
	s.mu.Lock()
	s.queue = nil
	s.seq++
	s.currentID = 0
	v := s.current
	s.current = nil
	s.playing = false
	s.completeRequested = false
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.restore != nil {
		s.restore.Stop()
	}
	s.restore = time.AfterFunc(gainRestore, func() { s.out.SetGain(1, 0) })
	s.mu.Unlock()

	if v != nil {
		v.Stop()
	}
	s.out.SetGain(0, fadeOut)
}

// Suspend stops playback like [Streamer.Stop] and then pauses the device if
// the output supports it. The next AddPCM16 or Resume wakes it again.
func (s *Streamer) Suspend() {
	s.Stop()
	sp, ok := s.out.(Suspender)
	if !ok || s.out.Suspended() {
		return
	}
	if err := sp.Suspend(); err != nil {
		slog.Warn("playback: failed to suspend output", "err", err)
	}
}

func (s *Streamer) wake() {
	if !s.out.Suspended() {
		return
	}
	if err := s.out.Resume(); err != nil {
		slog.Warn("playback: failed to resume output", "err", err)
	}
}

// Complete marks the end of the current turn. With nothing queued or playing
// the completion callback fires immediately; otherwise it fires once the
// queue has drained.
func (s *Streamer) Complete() {
	s.mu.Lock()
	idle := len(s.queue) == 0 && !s.playing
	if !idle {
		s.completeRequested = true
	}
	s.mu.Unlock()
	s.fireComplete(idle)
}

// Pending returns the number of queued buffers that have not started yet.
func (s *Streamer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Playing reports whether a buffer is playing or about to be retried.
func (s *Streamer) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Close stops playback and the watchdog. Further AddPCM16 calls are ignored.
func (s *Streamer) Close() {
	s.Stop()
	s.mu.Lock()
	s.closed = true
	if s.restore != nil {
		s.restore.Stop()
		s.restore = nil
	}
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

// scheduleLocked pops the front buffer and starts it. It reports whether the
// completion callback is due because the queue ran dry after Complete.
func (s *Streamer) scheduleLocked() bool {
	for {
		if len(s.queue) == 0 {
			s.playing = false
			s.current = nil
			s.currentID = 0
			if s.completeRequested {
				s.completeRequested = false
				return true
			}
			return false
		}

		buf := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]

		s.seq++
		id := s.seq
		v, err := s.out.Play(buf, func() { s.onEnded(id) })
		if err != nil {
			slog.Warn("playback: failed to schedule buffer, skipping", "err", err, "samples", len(buf))
			s.playing = true
			s.current = nil
			s.currentID = 0
			s.retry = time.AfterFunc(retryDelay, func() { s.retryNext(id) })
			return false
		}

		now := s.now()
		s.playing = true
		s.current = v
		s.currentID = id
		s.lastScheduled = now
		s.expectedEnd = now.Add(bufferDuration(len(buf)))
		return false
	}
}

func (s *Streamer) onEnded(id uint64) {
	s.mu.Lock()
	if s.closed || id != s.currentID {
		s.mu.Unlock()
		return
	}
	s.current = nil
	fire := s.scheduleLocked()
	s.mu.Unlock()
	s.fireComplete(fire)
}

func (s *Streamer) retryNext(id uint64) {
	s.mu.Lock()
	if s.closed || id != s.seq || s.current != nil {
		s.mu.Unlock()
		return
	}
	s.retry = nil
	fire := s.scheduleLocked()
	s.mu.Unlock()
	s.fireComplete(fire)
}

func (s *Streamer) watchdog() {
	t := time.NewTicker(watchdogInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.CheckStall()
		}
	}
}

// CheckStall runs one watchdog pass: when the current buffer should have
// ended a while ago but the output never reported it, the next buffer is
// forced out. The background watchdog calls it every second.
func (s *Streamer) CheckStall() {
	s.mu.Lock()
	now := s.now()
	stalled := s.playing && s.current != nil && len(s.queue) > 0 &&
		now.Sub(s.lastScheduled) > s.stallTimeout &&
		now.After(s.expectedEnd)
	if !stalled {
		s.mu.Unlock()
		return
	}
	v := s.current
	s.current = nil
	s.currentID = 0
	fire := s.scheduleLocked()
	s.mu.Unlock()

	slog.Debug("playback: stall detected, rescheduled next buffer")
	v.Stop()
	if s.onStall != nil {
		s.onStall()
	}
	s.fireComplete(fire)
}

func (s *Streamer) fireComplete(fire bool) {
	if fire && s.onComplete != nil {
		s.onComplete()
	}
}

func bufferDuration(samples int) time.Duration {
	return time.Duration(samples) * time.Second / audio.PlaybackSampleRate
}
