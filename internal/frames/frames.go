// Package frames tracks presented-frame intervals and classifies drops and
// stutters against the active target rate.
package frames

import (
	"sync"
	"time"

	"codeberg.org/mutker/framectl/internal/history"
)

const (
	// DefaultWindow holds about five seconds of frames at 60 Hz.
	DefaultWindow = 300

	defaultTargetRate = 60
	dropFactor        = 1.5
	stutterFactor     = 2.0
)

// Interval is the time between two consecutive presented frames.
type Interval struct {
	Duration time.Duration
	Dropped  bool
	Stutter  bool
}

// Classify grades d against the target frame interval.
func Classify(d, target time.Duration) Interval {
	return Interval{
		Duration: d,
		Dropped:  float64(d) > dropFactor*float64(target),
		Stutter:  float64(d) > stutterFactor*float64(target),
	}
}

// Tracker records frame timestamps. RecordFrame is called from the frame
// path and performs no allocation.
type Tracker struct {
	intervals *history.Bounded[Interval]
	drops     *history.Bounded[bool]
	target    time.Duration
	last      time.Time
	mu        sync.Mutex
}

func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}

	return &Tracker{
		intervals: history.New[Interval](window),
		drops:     history.New[bool](window),
		target:    rateToInterval(defaultTargetRate),
	}
}

// SetTargetRate changes the rate subsequent frames are classified against.
// Non-positive rates are ignored.
func (t *Tracker) SetTargetRate(hz float64) {
	if hz <= 0 {
		return
	}

	t.mu.Lock()
	t.target = rateToInterval(hz)
	t.mu.Unlock()
}

// TargetInterval returns the interval frames are currently classified against.
func (t *Tracker) TargetInterval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target
}

// RecordFrame registers a frame presented at now. The first frame after
// construction or Reset only sets the reference timestamp; timestamps that do
// not advance are ignored.
func (t *Tracker) RecordFrame(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last.IsZero() {
		t.last = now
		return
	}

	d := now.Sub(t.last)
	if d <= 0 {
		return
	}
	t.last = now

	iv := Classify(d, t.target)
	t.intervals.Append(iv)
	t.drops.Append(iv.Dropped)
}

// AverageFrameRate returns frames per second over the window, or 0 when no
// interval has been recorded.
func (t *Tracker) AverageFrameRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total time.Duration
	t.intervals.Do(func(iv Interval) { total += iv.Duration })
	if total <= 0 {
		return 0
	}

	return float64(t.intervals.Len()) / total.Seconds()
}

// DropRate returns the fraction of dropped frames in the window.
func (t *Tracker) DropRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.drops.Len()
	if n == 0 {
		return 0
	}

	dropped := 0
	t.drops.Do(func(d bool) {
		if d {
			dropped++
		}
	})

	return float64(dropped) / float64(n)
}

// StutterRate returns the fraction of stuttered frames in the window.
func (t *Tracker) StutterRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.intervals.Len()
	if n == 0 {
		return 0
	}

	stutters := 0
	t.intervals.Do(func(iv Interval) {
		if iv.Stutter {
			stutters++
		}
	})

	return float64(stutters) / float64(n)
}

// Intervals returns a copy of the recorded intervals, oldest first.
func (t *Tracker) Intervals() []Interval {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.intervals.Values()
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.intervals.Len()
}

// Reset clears both histories and forgets the previous timestamp so the
// next frame starts a new session.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.intervals.Reset()
	t.drops.Reset()
	t.last = time.Time{}
}

func rateToInterval(hz float64) time.Duration {
	return time.Duration(float64(time.Second) / hz)
}
