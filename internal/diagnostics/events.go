package diagnostics

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/framectl/internal/adaptation"
	"codeberg.org/mutker/framectl/internal/logger"
	"codeberg.org/mutker/framectl/internal/policy"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	eventTimeout   = 5 * time.Second
	eventQueueSize = 64
)

// EventType names a streamed event.
type EventType string

const (
	EventAdaptation EventType = "adaptation"
	EventMetrics    EventType = "metrics"
)

// Event is one WebSocket message.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type subscriber struct {
	conn *websocket.Conn
	ctx  context.Context
}

// Broadcaster fans events out to connected WebSocket clients from its own
// goroutine. Publishing never blocks: when the queue is full the event is
// dropped. Clients that fail a write are removed.
type Broadcaster struct {
	subscribers map[string]*subscriber
	mu          sync.RWMutex
	log         logger.Logger

	queue   chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Uint64
	once    sync.Once
}

func NewBroadcaster() *Broadcaster {
	b := newBroadcaster(eventQueueSize)
	go b.run()
	return b
}

func newBroadcaster(queueSize int) *Broadcaster {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broadcaster{
		subscribers: make(map[string]*subscriber),
		log:         logger.Component("events"),
		queue:       make(chan Event, queueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (b *Broadcaster) run() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.queue:
			b.broadcast(event)
		}
	}
}

// Close stops the broadcasting goroutine, aborting a write in progress.
// Later publishes are discarded.
func (b *Broadcaster) Close() {
	b.once.Do(func() {
		b.cancel()
		b.log.Debug().Uint64("dropped", b.dropped.Load()).Msg("Event broadcaster stopped")
	})
}

// Dropped returns how many events were discarded because the queue was full.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe registers conn under id. An existing entry with the same id is
// replaced.
func (b *Broadcaster) Subscribe(ctx context.Context, id string, conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[id] = &subscriber{conn: conn, ctx: ctx}
	b.log.Debug().Str("subscriber", id).Msg("Event subscriber added")
}

func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, id)
	b.log.Debug().Str("subscriber", id).Msg("Event subscriber removed")
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broadcaster) PublishAdaptation(e adaptation.Event) {
	b.enqueue(Event{Type: EventAdaptation, Data: e})
}

func (b *Broadcaster) PublishMetrics(m policy.FrameRateMetrics) {
	b.enqueue(Event{Type: EventMetrics, Data: m})
}

func (b *Broadcaster) enqueue(event Event) {
	if b.ctx.Err() != nil {
		return
	}

	select {
	case b.queue <- event:
	default:
		if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
			b.log.Warn().Uint64("dropped", n).Str("type", string(event.Type)).Msg("Event queue full, dropping")
		}
	}
}

func (b *Broadcaster) broadcast(event Event) {
	b.mu.RLock()
	subs := make(map[string]*subscriber, len(b.subscribers))
	for id, sub := range b.subscribers {
		subs[id] = sub
	}
	b.mu.RUnlock()

	var failed []string
	for id, sub := range subs {
		if !b.send(sub, event) {
			failed = append(failed, id)
		}
	}

	if len(failed) == 0 {
		return
	}

	b.mu.Lock()
	for _, id := range failed {
		delete(b.subscribers, id)
		b.log.Warn().Str("subscriber", id).Msg("Removed failed event subscriber")
	}
	b.mu.Unlock()
}

func (b *Broadcaster) send(sub *subscriber, event Event) bool {
	if sub.ctx.Err() != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(sub.ctx, eventTimeout)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	if err := wsjson.Write(ctx, sub.conn, event); err != nil {
		if isClosed(err) {
			b.log.Debug().Err(err).Msg("Connection closed during event send")
		} else {
			b.log.Warn().Err(err).Msg("Failed to send event")
		}
		return false
	}

	return true
}

func isClosed(err error) bool {
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "context canceled")
}
