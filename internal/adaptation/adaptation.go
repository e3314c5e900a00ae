// Package adaptation records committed frame-rate changes.
package adaptation

import (
	"sync"
	"time"

	"codeberg.org/mutker/framectl/internal/history"
	"codeberg.org/mutker/framectl/internal/policy"
	"github.com/google/uuid"
)

const DefaultCapacity = 100

// Event is one committed change. It is a value; holders cannot mutate the
// log through it.
type Event struct {
	ID        uuid.UUID               `json:"id"`
	Timestamp time.Time               `json:"timestamp"`
	FromRate  int                     `json:"from_rate"`
	ToRate    int                     `json:"to_rate"`
	Reason    string                  `json:"reason"`
	Metrics   policy.FrameRateMetrics `json:"metrics"`
}

// Direction is "up" or "down".
func (e Event) Direction() string {
	if e.ToRate > e.FromRate {
		return "up"
	}
	return "down"
}

// NewEvent builds an Event from a committed decision.
func NewEvent(d policy.Decision, at time.Time) Event {
	return Event{
		ID:        uuid.New(),
		Timestamp: at,
		FromRate:  d.FromRate,
		ToRate:    d.ToRate,
		Reason:    d.Reason,
		Metrics:   d.Metrics,
	}
}

// Log is an append-only bounded record of events.
type Log struct {
	mu     sync.RWMutex
	events *history.Bounded[Event]
}

func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Log{events: history.New[Event](capacity)}
}

func (l *Log) Append(e Event) {
	l.mu.Lock()
	l.events.Append(e)
	l.mu.Unlock()
}

// Events returns all retained events, oldest first.
func (l *Log) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.events.Values()
}

// Recent returns up to k of the newest events, oldest first.
func (l *Log) Recent(k int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.events.Recent(k)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.events.Len()
}

func (l *Log) Reset() {
	l.mu.Lock()
	l.events.Reset()
	l.mu.Unlock()
}
