// Package mock provides in-memory implementations of [capture.Device] and
// [playback.Output] for unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on counts and arguments, and they expose exported fields the test can
// set to control behaviour.
//
// Typical usage:
//
//	dev := &mock.CaptureDevice{}
//	rec := capture.NewRecorder(dev)
//	_ = rec.Start(ctx)
//	dev.Emit(audio.Frame{Data: pcm, SampleRate: 16000, Channels: 1})
//
//	out := &mock.Output{}
//	s := playback.NewStreamer(out)
//	s.AddPCM16(pcm)
//	out.EndCurrent()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/lingua/pkg/audio"
	"github.com/MrWong99/lingua/pkg/audio/capture"
	"github.com/MrWong99/lingua/pkg/audio/playback"
)

// ─── CaptureDevice ────────────────────────────────────────────────────────────

// CaptureDevice is a mock implementation of [capture.Device].
type CaptureDevice struct {
	mu sync.Mutex

	// OpenError is returned by [CaptureDevice.Open] when non-nil.
	OpenError error

	// Gate, when non-nil, makes Open block until it is closed (or the context
	// ends). Use it to hold a Recorder in its Starting state.
	Gate chan struct{}

	// Opened is signalled (non-blocking) every time Open is entered.
	Opened chan struct{}

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// LastOptions holds the options of the most recent Open.
	LastOptions capture.Options

	onFrame func(audio.Frame)
	streams []*CaptureStream
}

var _ capture.Device = (*CaptureDevice)(nil)

// Open implements [capture.Device].
func (d *CaptureDevice) Open(ctx context.Context, opts capture.Options, onFrame func(audio.Frame)) (capture.Stream, error) {
	d.mu.Lock()
	d.CallCountOpen++
	d.LastOptions = opts
	gate, opened, openErr := d.Gate, d.Opened, d.OpenError
	d.mu.Unlock()

	if opened != nil {
		select {
		case opened <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if openErr != nil {
		return nil, openErr
	}

	s := &CaptureStream{}
	d.mu.Lock()
	d.onFrame = onFrame
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

// Emit delivers f to the most recently opened stream's callback as if it came
// from the audio thread. It is a no-op before the first Open.
func (d *CaptureDevice) Emit(f audio.Frame) {
	d.mu.Lock()
	fn := d.onFrame
	d.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}

// Streams returns every stream opened so far.
func (d *CaptureDevice) Streams() []*CaptureStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*CaptureStream, len(d.streams))
	copy(out, d.streams)
	return out
}

// OpenStreams returns how many opened streams have not been closed.
func (d *CaptureDevice) OpenStreams() int {
	n := 0
	for _, s := range d.Streams() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// CaptureStream is the [capture.Stream] returned by [CaptureDevice.Open].
type CaptureStream struct {
	mu sync.Mutex

	// CloseError is returned by Close.
	CloseError error

	closeCount int
}

// Close implements [capture.Stream].
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	return s.CloseError
}

// Closed reports whether Close has been called.
func (s *CaptureStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount > 0
}

// ─── Output ───────────────────────────────────────────────────────────────────

// GainCall records one SetGain invocation.
type GainCall struct {
	Level float64
	Ramp  time.Duration
}

// Output is a mock implementation of [playback.Output]. Buffers never end on
// their own; call [Output.EndCurrent] to simulate the device finishing the
// playing buffer.
type Output struct {
	mu sync.Mutex

	// PlayError, when non-nil, is returned by the next Play call and then
	// cleared.
	PlayError error

	// IsSuspended is returned by Suspended and cleared by Resume.
	IsSuspended bool

	// ResumeError is returned by Resume.
	ResumeError error

	// SuspendError is returned by Suspend.
	SuspendError error

	// Started holds every buffer passed to Play, in call order.
	Started [][]float32

	// GainCalls records every SetGain invocation.
	GainCalls []GainCall

	// CallCountResume records how many times Resume was called.
	CallCountResume int

	// CallCountSuspend records how many times Suspend was called.
	CallCountSuspend int

	voices  []*Voice
	levelFn func(float64)
}

var (
	_ playback.Output    = (*Output)(nil)
	_ playback.LevelTap  = (*Output)(nil)
	_ playback.Suspender = (*Output)(nil)
)

// Play implements [playback.Output].
func (o *Output) Play(samples []float32, onEnded func()) (playback.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.PlayError; err != nil {
		o.PlayError = nil
		return nil, err
	}
	o.Started = append(o.Started, samples)
	v := &Voice{samples: samples, onEnded: onEnded}
	o.voices = append(o.voices, v)
	return v, nil
}

// SetGain implements [playback.Output].
func (o *Output) SetGain(level float64, ramp time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.GainCalls = append(o.GainCalls, GainCall{Level: level, Ramp: ramp})
}

// Suspended implements [playback.Output].
func (o *Output) Suspended() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.IsSuspended
}

// Resume implements [playback.Output].
func (o *Output) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountResume++
	if o.ResumeError != nil {
		return o.ResumeError
	}
	o.IsSuspended = false
	return nil
}

// Suspend implements [playback.Suspender].
func (o *Output) Suspend() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountSuspend++
	if o.SuspendError != nil {
		return o.SuspendError
	}
	o.IsSuspended = true
	return nil
}

// Resumes returns CallCountResume.
func (o *Output) Resumes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountResume
}

// Suspends returns CallCountSuspend.
func (o *Output) Suspends() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountSuspend
}

// SetLevelFunc implements [playback.LevelTap].
func (o *Output) SetLevelFunc(fn func(float64)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.levelFn = fn
}

// EmitLevel reports l through the installed level function, if any.
func (o *Output) EmitLevel(l float64) {
	o.mu.Lock()
	fn := o.levelFn
	o.mu.Unlock()
	if fn != nil {
		fn(l)
	}
}

// EndCurrent finishes the most recently started voice that is still playing
// and reports whether there was one.
func (o *Output) EndCurrent() bool {
	o.mu.Lock()
	var v *Voice
	for i := len(o.voices) - 1; i >= 0; i-- {
		if !o.voices[i].done() {
			v = o.voices[i]
			break
		}
	}
	o.mu.Unlock()
	if v == nil {
		return false
	}
	v.end()
	return true
}

// Gains returns a copy of GainCalls.
func (o *Output) Gains() []GainCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]GainCall, len(o.GainCalls))
	copy(out, o.GainCalls)
	return out
}

// StartedCount returns len(Started).
func (o *Output) StartedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Started)
}

// Voices returns every voice created so far.
func (o *Output) Voices() []*Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Voice, len(o.voices))
	copy(out, o.voices)
	return out
}

// Voice is the [playback.Voice] returned by [Output.Play].
type Voice struct {
	mu       sync.Mutex
	samples  []float32
	onEnded  func()
	stopped  bool
	finished bool
}

// Samples returns the buffer this voice is playing.
func (v *Voice) Samples() []float32 { return v.samples }

// Stop implements [playback.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

func (v *Voice) done() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped || v.finished
}

func (v *Voice) end() {
	v.mu.Lock()
	if v.stopped || v.finished {
		v.mu.Unlock()
		return
	}
	v.finished = true
	fn := v.onEnded
	v.mu.Unlock()
	if fn != nil {
		fn()
	}
}
