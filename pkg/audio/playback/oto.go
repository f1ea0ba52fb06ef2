package playback

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/lingua/pkg/audio"
)

const endPollInterval = 5 * time.Millisecond

// Oto renders buffers through the system sound card. Each buffer gets its own
// oto player; the shared gain stage and level meter sit in the sample reader
// every player pulls from.
//
// oto allows one context per process, so create a single Oto and share it.
type Oto struct {
	ctx *oto.Context

	mu        sync.Mutex
	suspended bool
	gainFrom  float64
	gainTo    float64
	rampStart time.Time
	rampDur   time.Duration
	levelFn   func(float64)
	meter     *audio.Meter
}

var (
	_ Output    = (*Oto)(nil)
	_ LevelTap  = (*Oto)(nil)
	_ Suspender = (*Oto)(nil)
)

// NewOto opens the default output device at sampleRate, mono PCM16.
func NewOto(sampleRate int) (*Oto, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("playback: open output: %w", err)
	}
	<-ready

	slog.Info("playback: output open", "sample_rate", sampleRate)
	return &Oto{
		ctx:      ctx,
		gainFrom: 1,
		gainTo:   1,
		meter:    audio.NewMeter(sampleRate, audio.DefaultMeterInterval),
	}, nil
}

// SetLevelFunc implements [LevelTap].
func (o *Oto) SetLevelFunc(fn func(float64)) {
	o.mu.Lock()
	o.levelFn = fn
	o.mu.Unlock()
}

// SetGain implements [Output].
func (o *Oto) SetGain(level float64, ramp time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gainFrom = o.gainAtLocked(time.Now())
	o.gainTo = level
	o.rampStart = time.Now()
	o.rampDur = ramp
}

func (o *Oto) gainAtLocked(now time.Time) float64 {
	if o.rampDur <= 0 {
		return o.gainTo
	}
	p := float64(now.Sub(o.rampStart)) / float64(o.rampDur)
	if p >= 1 {
		return o.gainTo
	}
	return o.gainFrom + (o.gainTo-o.gainFrom)*p
}

// Suspended implements [Output].
func (o *Oto) Suspended() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.suspended
}

// Resume implements [Output].
func (o *Oto) Resume() error {
	if err := o.ctx.Resume(); err != nil {
		return fmt.Errorf("playback: resume output: %w", err)
	}
	o.mu.Lock()
	o.suspended = false
	o.mu.Unlock()
	return nil
}

// Suspend implements [Suspender].
func (o *Oto) Suspend() error {
	if err := o.ctx.Suspend(); err != nil {
		return fmt.Errorf("playback: suspend output: %w", err)
	}
	o.mu.Lock()
	o.suspended = true
	o.mu.Unlock()
	return nil
}

// Play implements [Output].
func (o *Oto) Play(samples []float32, onEnded func()) (Voice, error) {
	if err := o.ctx.Err(); err != nil {
		return nil, fmt.Errorf("playback: output failed: %w", err)
	}
	r := &sampleReader{out: o, samples: samples}
	p := o.ctx.NewPlayer(r)
	v := &otoVoice{player: p, stop: make(chan struct{})}
	p.Play()
	go v.wait(r, onEnded)
	return v, nil
}

// render converts the next chunk to PCM16 through the gain stage and feeds
// the level meter.
func (o *Oto) render(dst []byte, src []float32) {
	o.mu.Lock()
	gain := o.gainAtLocked(time.Now())
	fn := o.levelFn
	var levels []float64
	if fn != nil {
		scaled := make([]float32, len(src))
		for i, s := range src {
			scaled[i] = s * float32(gain)
		}
		o.meter.Write(scaled, func(l float64) { levels = append(levels, l) })
	}
	o.mu.Unlock()

	copy(dst, audio.PCM16FromFloat32(src, gain))
	for _, l := range levels {
		fn(l)
	}
}

type sampleReader struct {
	out     *Oto
	mu      sync.Mutex
	samples []float32
	pos     int
}

func (r *sampleReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos >= len(r.samples) {
		return 0, io.EOF
	}
	n := min(len(p)/audio.BytesPerSample, len(r.samples)-r.pos)
	if n == 0 {
		return 0, nil
	}
	r.out.render(p[:n*audio.BytesPerSample], r.samples[r.pos:r.pos+n])
	r.pos += n
	return n * audio.BytesPerSample, nil
}

func (r *sampleReader) drained() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos >= len(r.samples)
}

type otoVoice struct {
	player   *oto.Player
	stop     chan struct{}
	stopOnce sync.Once
}

func (v *otoVoice) wait(r *sampleReader, onEnded func()) {
	t := time.NewTicker(endPollInterval)
	defer t.Stop()
	for {
		select {
		case <-v.stop:
			return
		case <-t.C:
			if r.drained() && !v.player.IsPlaying() {
				_ = v.player.Close()
				select {
				case <-v.stop:
				default:
					onEnded()
				}
				return
			}
		}
	}
}

// Stop implements [Voice].
func (v *otoVoice) Stop() {
	v.stopOnce.Do(func() {
		close(v.stop)
		v.player.Pause()
		_ = v.player.Close()
	})
}
