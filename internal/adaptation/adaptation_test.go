package adaptation

import (
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/framectl/internal/policy"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)

func event(from, to int) Event {
	return NewEvent(policy.Decision{
		Outcome:  policy.OutcomeCommitted,
		FromRate: from,
		ToRate:   to,
		Reason:   "High CPU usage (85%)",
	}, t0)
}

func TestNewEvent(t *testing.T) {
	e := event(120, 60)

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, t0, e.Timestamp)
	assert.Equal(t, 120, e.FromRate)
	assert.Equal(t, 60, e.ToRate)
	assert.Equal(t, "down", e.Direction())
	assert.Equal(t, "up", event(30, 60).Direction())
	assert.NotEqual(t, e.ID, event(120, 60).ID)
}

func TestLogIsBounded(t *testing.T) {
	l := NewLog(3)
	for i := 0; i < 5; i++ {
		l.Append(event(i, i+1))
	}

	require.Equal(t, 3, l.Len())
	events := l.Events()
	assert.Equal(t, []int{2, 3, 4}, fromRates(events))
	assert.Equal(t, []int{3, 4}, fromRates(l.Recent(2)))
	assert.Empty(t, l.Recent(0))
}

func TestEventsIsSnapshot(t *testing.T) {
	l := NewLog(DefaultCapacity)
	l.Append(event(60, 90))

	events := l.Events()
	events[0].ToRate = 999

	assert.Equal(t, 90, l.Events()[0].ToRate)
}

func TestReset(t *testing.T) {
	l := NewLog(0)
	l.Append(event(60, 30))
	l.Reset()

	assert.Zero(t, l.Len())
	assert.Empty(t, l.Events())
}

func TestConcurrentAppend(t *testing.T) {
	l := NewLog(DefaultCapacity)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Append(event(60, 90))
				_ = l.Recent(5)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, DefaultCapacity, l.Len())
}

func fromRates(events []Event) []int {
	rates := make([]int, 0, len(events))
	for _, e := range events {
		rates = append(rates, e.FromRate)
	}
	return rates
}
