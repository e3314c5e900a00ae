package gpu

import "sync"

const (
	milliWattsToWatts = 1000
	powerWindowSize   = 5
)

// powerWindow smooths board power readings over the last few samples.
type powerWindow struct {
	mu      sync.Mutex
	history []Watts
}

func newPowerWindow() *powerWindow {
	return &powerWindow{history: make([]Watts, 0, powerWindowSize)}
}

// Update records a reading and returns the windowed mean.
func (w *powerWindow) Update(reading Watts) Watts {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.history = append(w.history, reading)
	if len(w.history) > powerWindowSize {
		w.history = w.history[1:]
	}

	var sum Watts
	for _, p := range w.history {
		sum += p
	}

	return sum / Watts(len(w.history))
}

func (w *powerWindow) Reset() {
	w.mu.Lock()
	w.history = w.history[:0]
	w.mu.Unlock()
}

func milliWatts(mw uint32) Watts {
	return Watts(mw) / milliWattsToWatts
}
