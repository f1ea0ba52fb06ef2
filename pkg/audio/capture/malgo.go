package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/lingua/pkg/audio"
)

// Malgo captures from the system default input through miniaudio.
//
// miniaudio converts whatever the hardware delivers to the requested format,
// so frames arrive as signed 16-bit at [Options.SampleRate] and
// [Options.Channels]. Noise suppression and echo cancellation are left to the
// platform's audio server (PipeWire / PulseAudio filter chains); miniaudio
// has no switch for them.
type Malgo struct {
	// PeriodMillis is the device callback period. Defaults to 20 ms.
	PeriodMillis uint32
}

var _ Device = (*Malgo)(nil)

type malgoStream struct {
	ctx *malgo.AllocatedContext
	dev *malgo.Device
}

// Open implements [Device].
func (m *Malgo) Open(ctx context.Context, opts Options, onFrame func(audio.Frame)) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", ErrDeviceUnavailable, err)
	}

	period := m.PeriodMillis
	if period == 0 {
		period = 20
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(opts.Channels)
	cfg.SampleRate = uint32(opts.SampleRate)
	cfg.PeriodSizeInMilliseconds = period
	cfg.Alsa.NoMMap = 1

	rate, channels := opts.SampleRate, opts.Channels
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			if len(in) == 0 {
				return
			}
			data := make([]byte, len(in))
			copy(data, in)
			onFrame(audio.Frame{Data: data, SampleRate: rate, Channels: channels})
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		freeContext(mctx)
		return nil, classifyDeviceError(err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(mctx)
		return nil, classifyDeviceError(err)
	}

	if opts.NoiseSuppression || opts.EchoCancellation {
		slog.Debug("capture: noise suppression and echo cancellation delegated to the audio server")
	}
	slog.Info("capture: microphone open", "sample_rate", rate, "channels", channels, "period_ms", period)

	s := &malgoStream{ctx: mctx, dev: dev}
	if err := ctx.Err(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close implements [Stream].
func (s *malgoStream) Close() error {
	if err := s.dev.Stop(); err != nil {
		slog.Warn("capture: device stop error", "err", err)
	}
	s.dev.Uninit()
	freeContext(s.ctx)
	return nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	if err := ctx.Uninit(); err != nil {
		slog.Warn("capture: malgo context uninit error", "err", err)
	}
	ctx.Free()
}

// classifyDeviceError maps miniaudio failures onto the package sentinels.
func classifyDeviceError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
