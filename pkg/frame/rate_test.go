package frame

import "testing"

func TestRateTracker(t *testing.T) {
	tr := NewRateTracker(10)
	for i := 0; i < 5; i++ {
		tr.Record(float64(i) * 16.67)
	}
	rate := tr.Rate()
	if rate < 55 || rate > 65 {
		t.Errorf("Rate() = %v, want ~60", rate)
	}
}

func TestRateTrackerDegenerate(t *testing.T) {
	tr := NewRateTracker(10)
	if tr.Rate() != 0 {
		t.Error("empty tracker should report 0")
	}
	tr.Record(100)
	if tr.Rate() != 0 {
		t.Error("single sample should report 0")
	}
	tr.Record(100)
	if tr.Rate() != 0 {
		t.Error("zero span should report 0")
	}
}

func TestRateTrackerWindow(t *testing.T) {
	tr := NewRateTracker(4)
	// Slow samples first, then fast ones; once the window rolls past the
	// slow samples only the fast rate remains.
	tr.Record(0)
	tr.Record(1000)
	for i := 0; i < 4; i++ {
		tr.Record(2000 + float64(i)*10)
	}
	rate := tr.Rate()
	if rate < 95 || rate > 105 {
		t.Errorf("Rate() = %v, want ~100 after window rolls", rate)
	}
}

func TestRateTrackerReset(t *testing.T) {
	tr := NewRateTracker(5)
	tr.Record(0)
	tr.Record(10)
	tr.Reset()
	if tr.Rate() != 0 {
		t.Error("Rate() after Reset should be 0")
	}
}
