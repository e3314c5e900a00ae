package pacer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/framectl/internal/profile"
	"github.com/stretchr/testify/assert"
)

type fixedProfile struct {
	rate atomic.Int64
}

func (f *fixedProfile) ActiveProfile() profile.Profile {
	return profile.Default().WithFrameRate(int(f.rate.Load()))
}

type frameLog struct {
	mu     sync.Mutex
	frames []time.Time
}

func (l *frameLog) RecordFrame(at time.Time) {
	l.mu.Lock()
	l.frames = append(l.frames, at)
	l.mu.Unlock()
}

func (l *frameLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

func TestInterval(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, Interval(100))
	assert.Equal(t, time.Second/60, Interval(0))
	assert.Equal(t, time.Second/60, Interval(-5))
}

func TestRunRendersAndRecords(t *testing.T) {
	src := &fixedProfile{}
	src.rate.Store(500)
	sink := &frameLog{}

	var rendered atomic.Int64
	var lastRate atomic.Int64
	p := New(src, sink, func(prof profile.Profile) {
		rendered.Add(1)
		lastRate.Store(int64(prof.FrameRate))
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return sink.count() >= 5 }, time.Second, time.Millisecond)

	src.rate.Store(400)
	assert.Eventually(t, func() bool { return lastRate.Load() == 400 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pacer did not stop")
	}

	assert.Equal(t, rendered.Load(), int64(sink.count()))
}

func TestRunStopsImmediately(t *testing.T) {
	src := &fixedProfile{}
	src.rate.Store(1)
	sink := &frameLog{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	New(src, sink, nil).Run(ctx)

	assert.Zero(t, sink.count())
}

func TestNextDeadline(t *testing.T) {
	start := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	interval := 10 * time.Millisecond

	tests := []struct {
		name string
		prev time.Time
		now  time.Time
		want time.Time
	}{
		{
			name: "render time does not shift the grid",
			prev: start,
			now:  start.Add(3 * time.Millisecond),
			want: start.Add(interval),
		},
		{
			name: "late frame keeps the grid",
			prev: start,
			now:  start.Add(15 * time.Millisecond),
			want: start.Add(interval),
		},
		{
			name: "far behind restarts from now",
			prev: start,
			now:  start.Add(35 * time.Millisecond),
			want: start.Add(45 * time.Millisecond),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextDeadline(tt.prev, tt.now, interval))
		})
	}
}

func TestSlowRenderKeepsRate(t *testing.T) {
	src := &fixedProfile{}
	src.rate.Store(100)
	sink := &frameLog{}

	p := New(src, sink, func(profile.Profile) { time.Sleep(4 * time.Millisecond) })

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	// At 100 Hz the loop fits 50 frames; scheduling after render would
	// stretch each period to 14 ms and yield about 35.
	assert.GreaterOrEqual(t, sink.count(), 40)
}
