// Package capture turns a microphone into a stream of fixed-size PCM16 blocks
// and a parallel stream of input levels.
//
// A [Recorder] owns exactly one capture [Device] stream at a time. Its
// lifecycle is an explicit state machine (Idle → Starting → Recording →
// Idle) so that concurrent Start calls share one device acquisition and a
// Stop issued while the device is still opening closes it as soon as it
// arrives instead of leaving a live microphone behind.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/lingua/pkg/audio"
)

// Errors returned by [Recorder.Start] and [Device.Open].
var (
	// ErrPermissionDenied means the platform refused access to the microphone.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrDeviceUnavailable means no usable capture device exists.
	ErrDeviceUnavailable = errors.New("capture: capture device unavailable")

	// ErrStopped is returned by a Start that was overtaken by Stop before the
	// device finished opening. The device has already been released.
	ErrStopped = errors.New("capture: stopped before start completed")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("capture: recorder closed")
)

const (
	// DefaultBlockSamples is the number of samples per emitted frame.
	DefaultBlockSamples = 2048

	defaultFrameBuffer = 64
)

// Options describe the stream a [Device] should open.
type Options struct {
	SampleRate int
	Channels   int

	// NoiseSuppression and EchoCancellation request platform DSP. Devices
	// that cannot honour them ignore them.
	NoiseSuppression bool
	EchoCancellation bool
}

// Stream is an open capture device.
type Stream interface {
	// Close releases the device. After Close returns no further callbacks
	// are delivered.
	Close() error
}

// Device opens microphone streams. onFrame is invoked from the device's
// audio thread with PCM16 in whatever format the device actually delivers;
// the frame's SampleRate and Channels describe it. onFrame may be called
// before Open returns.
type Device interface {
	Open(ctx context.Context, opts Options, onFrame func(audio.Frame)) (Stream, error)
}

// State is the lifecycle state of a [Recorder].
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRecording
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithBlockSamples sets the number of samples per emitted frame.
func WithBlockSamples(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.blockBytes = n * audio.BytesPerSample
		}
	}
}

// WithFrameBuffer sets the capacity of the [Recorder.Frames] channel.
func WithFrameBuffer(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.frameBuf = n
		}
	}
}

// WithOnDrop registers a callback invoked from the audio thread whenever a
// frame is dropped because the consumer is not keeping up.
func WithOnDrop(fn func()) Option {
	return func(r *Recorder) { r.onDrop = fn }
}

// pendingStart is the guard shared by every caller waiting on the same device
// acquisition.
type pendingStart struct {
	done chan struct{}
	err  error
}

// Recorder is the capture pipeline. All methods are safe for concurrent use.
type Recorder struct {
	dev        Device
	opts       Options
	blockBytes int
	frameBuf   int
	onDrop     func()

	mu            sync.Mutex
	state         State
	pending       *pendingStart
	stopRequested bool
	stream        Stream
	closed        bool

	live    atomic.Bool
	muted   atomic.Bool
	dropped atomic.Uint64

	// sendMu guards the output channels against Close.
	sendMu      sync.RWMutex
	closedChans bool
	frames      chan audio.Frame
	levels      chan float64

	// Touched only from the device callback.
	cbMu  sync.Mutex
	acc   []byte
	norm  *audio.Normalizer
	meter *audio.Meter
}

// NewRecorder returns an idle Recorder that opens dev at 16 kHz mono with
// noise suppression and echo cancellation requested.
func NewRecorder(dev Device, opts ...Option) *Recorder {
	r := &Recorder{
		dev: dev,
		opts: Options{
			SampleRate:       audio.CaptureSampleRate,
			Channels:         1,
			NoiseSuppression: true,
			EchoCancellation: true,
		},
		blockBytes: DefaultBlockSamples * audio.BytesPerSample,
		frameBuf:   defaultFrameBuffer,
	}
	for _, o := range opts {
		o(r)
	}
	r.frames = make(chan audio.Frame, r.frameBuf)
	r.levels = make(chan float64, 1)
	r.norm = &audio.Normalizer{SampleRate: audio.CaptureSampleRate}
	r.meter = audio.NewMeter(audio.CaptureSampleRate, audio.DefaultMeterInterval)
	return r
}

// Frames returns the channel of captured blocks. Each frame is exactly one
// block of 16 kHz mono PCM16. The channel is closed by [Recorder.Close].
func (r *Recorder) Frames() <-chan audio.Frame { return r.frames }

// Levels returns the channel of input levels in [0, 1], one per 25 ms of
// audio. Only the newest undelivered level is kept. The channel is closed by
// [Recorder.Close].
func (r *Recorder) Levels() <-chan float64 { return r.levels }

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Dropped returns how many frames were discarded because Frames was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Start acquires the microphone. It is a no-op while recording. A Start that
// arrives while another is still opening the device waits for that attempt
// and returns its result. If Stop is called before the device opens, Start
// releases the device and returns [ErrStopped].
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	switch r.state {
	case StateRecording:
		r.mu.Unlock()
		return nil
	case StateStarting:
		p := r.pending
		r.mu.Unlock()
		select {
		case <-p.done:
			return p.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p := &pendingStart{done: make(chan struct{})}
	r.pending = p
	r.state = StateStarting
	r.stopRequested = false
	r.mu.Unlock()

	r.resetCallbackState()
	stream, err := r.dev.Open(ctx, r.opts, r.onFrame)

	r.mu.Lock()
	var orphan Stream
	switch {
	case err != nil:
		r.state = StateIdle
		p.err = fmt.Errorf("capture: start: %w", err)
	case r.stopRequested || r.closed:
		r.state = StateIdle
		orphan = stream
		p.err = ErrStopped
	default:
		r.stream = stream
		r.state = StateRecording
		r.live.Store(true)
	}
	r.pending = nil
	r.stopRequested = false
	r.mu.Unlock()

	if orphan != nil {
		if cerr := orphan.Close(); cerr != nil {
			slog.Warn("capture: failed to release device after early stop", "err", cerr)
		}
	}
	close(p.done)
	return p.err
}

// Stop releases the microphone. It is safe to call in any state; while a
// Start is in flight the release is applied as soon as the device opens.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	switch r.state {
	case StateIdle:
		r.mu.Unlock()
		return nil
	case StateStarting:
		r.stopRequested = true
		r.mu.Unlock()
		return nil
	}
	stream := r.stream
	r.stream = nil
	r.state = StateIdle
	r.live.Store(false)
	r.mu.Unlock()

	err := stream.Close()
	r.drainFrames()
	if err != nil {
		return fmt.Errorf("capture: stop: %w", err)
	}
	return nil
}

// Mute stops emitting frames without releasing the device. Levels keep
// flowing so the UI can still show the microphone is live.
func (r *Recorder) Mute() { r.muted.Store(true) }

// Unmute resumes frame emission after [Recorder.Mute].
func (r *Recorder) Unmute() { r.muted.Store(false) }

// Muted reports whether frame emission is paused.
func (r *Recorder) Muted() bool { return r.muted.Load() }

// Close stops the recorder and closes the output channels. The Recorder
// cannot be restarted afterwards.
func (r *Recorder) Close() error {
	err := r.Stop()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.sendMu.Lock()
	if !r.closedChans {
		r.closedChans = true
		close(r.frames)
		close(r.levels)
	}
	r.sendMu.Unlock()
	return err
}

func (r *Recorder) resetCallbackState() {
	r.cbMu.Lock()
	r.acc = r.acc[:0]
	r.meter.Reset()
	r.cbMu.Unlock()
}

// onFrame runs on the device's audio thread.
func (r *Recorder) onFrame(f audio.Frame) {
	if !r.live.Load() {
		return
	}

	r.cbMu.Lock()
	f = r.norm.Normalize(f)
	var levels []float64
	r.meter.Write(audio.Float32FromPCM16(f.Data), func(l float64) { levels = append(levels, l) })

	var blocks [][]byte
	if !r.muted.Load() {
		r.acc = append(r.acc, f.Data...)
		for len(r.acc) >= r.blockBytes {
			block := make([]byte, r.blockBytes)
			copy(block, r.acc)
			r.acc = r.acc[r.blockBytes:]
			blocks = append(blocks, block)
		}
	} else {
		r.acc = r.acc[:0]
	}
	r.cbMu.Unlock()

	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closedChans {
		return
	}
	for _, b := range blocks {
		select {
		case r.frames <- audio.Frame{Data: b, SampleRate: audio.CaptureSampleRate, Channels: 1}:
		default:
			r.dropped.Add(1)
			if r.onDrop != nil {
				r.onDrop()
			}
		}
	}
	for _, l := range levels {
		r.pushLevel(l)
	}
}

// pushLevel delivers l, replacing an undelivered older level.
func (r *Recorder) pushLevel(l float64) {
	for {
		select {
		case r.levels <- l:
			return
		default:
		}
		select {
		case <-r.levels:
		default:
		}
	}
}

func (r *Recorder) drainFrames() {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closedChans {
		return
	}
	for {
		select {
		case <-r.frames:
		default:
			return
		}
	}
}
