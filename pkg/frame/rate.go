package frame

// RateTracker computes the current frame rate over a fixed window of
// recent timestamps. Timestamps are in milliseconds; once the window is
// full the oldest sample is discarded.
type RateTracker struct {
	samples []float64
	window  int
}

// DefaultRateWindow is the sample window used when none is given.
const DefaultRateWindow = 60

// NewRateTracker creates a tracker holding up to window samples.
// Windows below 2 are clamped to 2, the minimum needed to compute a rate.
func NewRateTracker(window int) *RateTracker {
	if window < 2 {
		window = 2
	}
	return &RateTracker{
		samples: make([]float64, 0, window),
		window:  window,
	}
}

// Record adds a timestamp sample, evicting the oldest when full.
func (t *RateTracker) Record(timestamp float64) {
	if len(t.samples) >= t.window {
		copy(t.samples, t.samples[1:])
		t.samples = t.samples[:len(t.samples)-1]
	}
	t.samples = append(t.samples, timestamp)
}

// Rate returns the frame rate implied by the recorded samples, or 0 when
// fewer than two samples exist or the samples span no time.
func (t *RateTracker) Rate() float64 {
	if len(t.samples) < 2 {
		return 0
	}
	span := t.samples[len(t.samples)-1] - t.samples[0]
	if span <= 0 {
		return 0
	}
	return float64(len(t.samples)-1) * 1000 / span
}

// Reset discards all samples.
func (t *RateTracker) Reset() {
	t.samples = t.samples[:0]
}
