package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Normalizer converts device frames to mono PCM16 at a fixed rate. It logs a
// warning the first time a frame needs converting and drops frames whose byte
// count is not sample aligned.
// Create one per stream; not designed for shared use across goroutines.
type Normalizer struct {
	SampleRate int

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Normalize returns frame as mono PCM16 at n.SampleRate. Frames already in
// that format are returned unchanged. Conversion order is downmix first, then
// resample.
func (n *Normalizer) Normalize(frame Frame) Frame {
	channels := max(frame.Channels, 1)
	if len(frame.Data)%(BytesPerSample*channels) != 0 {
		n.warnedCorrupt.Do(func() {
			slog.Warn("audio normalizer: unaligned PCM data, dropping frame",
				"bytes", len(frame.Data),
				"channels", channels,
			)
		})
		return Frame{SampleRate: n.SampleRate, Channels: 1, Timestamp: frame.Timestamp}
	}

	if frame.SampleRate == n.SampleRate && channels == 1 {
		return frame
	}

	n.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(frame.SampleRate, channels),
			"to", formatString(n.SampleRate, 1),
		)
	})

	pcm := frame.Data
	if channels == 2 {
		pcm = StereoToMono(pcm)
	} else if channels > 2 {
		pcm = firstChannel(pcm, channels)
	}
	pcm = ResampleMono16(pcm, frame.SampleRate, n.SampleRate)

	return Frame{
		Data:       pcm,
		SampleRate: n.SampleRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}
}

// Float32FromPCM16 decodes little-endian PCM16 into samples normalised to
// [-1, 1). A trailing odd byte is ignored.
func Float32FromPCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/BytesPerSample)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768
	}
	return out
}

// PCM16FromFloat32 encodes normalised samples as little-endian PCM16, scaling
// each by gain and clamping to the int16 range.
func PCM16FromFloat32(samples []float32, gain float64) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := math.Round(float64(s) * gain * 32768)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// PCM16FromInt16 encodes samples as little-endian PCM16.
func PCM16FromInt16(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		avg := min(max((l+r)/2, math.MinInt16), math.MaxInt16)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(avg)))
	}
	return out
}

// firstChannel keeps channel 0 of interleaved multi-channel PCM16.
func firstChannel(pcm []byte, channels int) []byte {
	stride := channels * BytesPerSample
	frames := len(pcm) / stride
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		copy(out[i*2:i*2+2], pcm[i*stride:i*stride+2])
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(binary.LittleEndian.Uint16(pcm[srcIdx*2:]))
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(srcIdx+1)*2:]))
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(interpolated))
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
