// Package audio holds the PCM primitives shared by the capture and playback
// pipelines: frames, sample conversion, resampling, WAV framing and level
// metering.
//
// All PCM in this package is signed 16-bit little-endian unless a function
// name says otherwise.
package audio

import "time"

const (
	// CaptureSampleRate is the rate microphone audio is delivered to the live
	// session at.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate the live session streams synthesised
	// speech at.
	PlaybackSampleRate = 24000

	// BytesPerSample is the width of one mono PCM16 sample.
	BytesPerSample = 2
)

// Frame is a contiguous block of PCM16 samples. A frame is never mutated after
// it has been handed to a channel or queue; the receiver owns it.
type Frame struct {
	// Data is little-endian PCM16.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Channels is 1 for everything the live session exchanges.
	Channels int

	// Timestamp is the capture offset relative to the start of the stream.
	Timestamp time.Duration
}

// Samples returns the number of per-channel samples in f.
func (f Frame) Samples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(f.Data) / (BytesPerSample * ch)
}

// Duration returns the playback length of f.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
