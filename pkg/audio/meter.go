package audio

import (
	"math"
	"time"
)

const (
	meterBlock = 128
	meterDecay = 0.7

	// DefaultMeterInterval is how often a [Meter] reports a level.
	DefaultMeterInterval = 25 * time.Millisecond
)

// Meter is a VU-style level detector. It computes the RMS of every 128-sample
// block, keeps the larger of that and the previous level decayed by 0.7, and
// reports the level once per interval of audio. Levels are in [0, 1].
//
// A Meter is fed from a single audio goroutine and is not safe for concurrent
// use.
type Meter struct {
	every   int
	level   float64
	sum     float64
	inBlock int
	since   int
}

// NewMeter returns a Meter reporting once per interval of audio at sampleRate.
func NewMeter(sampleRate int, interval time.Duration) *Meter {
	if interval <= 0 {
		interval = DefaultMeterInterval
	}
	every := int(int64(sampleRate) * int64(interval) / int64(time.Second))
	return &Meter{every: max(every, 1)}
}

// Write consumes samples and calls emit for every completed reporting
// interval.
func (m *Meter) Write(samples []float32, emit func(level float64)) {
	for _, s := range samples {
		m.sum += float64(s) * float64(s)
		m.inBlock++
		if m.inBlock == meterBlock {
			rms := math.Sqrt(m.sum / meterBlock)
			m.level = min(max(rms, m.level*meterDecay), 1)
			m.sum, m.inBlock = 0, 0
		}
		m.since++
		if m.since >= m.every {
			m.since = 0
			if emit != nil {
				emit(m.level)
			}
		}
	}
}

// Level returns the most recent decayed level.
func (m *Meter) Level() float64 { return m.level }

// Reset clears all accumulated state.
func (m *Meter) Reset() {
	*m = Meter{every: m.every}
}
