// Package events implements the in-memory event bus that fans workflow
// events out to streaming clients. Queues are bounded per subscriber;
// slow consumers lose the oldest events and see a lagged marker, the
// publisher never blocks.
package events

import (
	"sync"
	"time"
)

// Kind identifies an event type on the wire.
type Kind string

const (
	KindStatusUpdate        Kind = "status_update"
	KindProgress            Kind = "progress"
	KindLog                 Kind = "log"
	KindConversationMessage Kind = "conversation_message"
	KindMetadataRequest     Kind = "metadata_request"
	KindValidationReport    Kind = "validation_report"
	KindFinalized           Kind = "finalized"
	KindReset               Kind = "reset"
	KindLagged              Kind = "lagged"
)

// Event is a single bus event. Payload is one of the typed payload
// structs below, chosen by Kind.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// StatusUpdate reports a session status transition.
type StatusUpdate struct {
	Status string `json:"status"`
	Phase  string `json:"phase"`
}

// Progress reports conversion progress.
type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Log carries an operational log line to clients.
type Log struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// ConversationMessage mirrors a chat turn onto the stream.
type ConversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidationReportSummary announces a completed validation pass.
type ValidationReportSummary struct {
	Outcome string `json:"outcome"`
	Summary string `json:"summary"`
	Issues  int    `json:"issues"`
}

// Finalized announces workflow termination.
type Finalized struct {
	TerminalStatus string `json:"terminal_status"`
}

// Lagged tells a slow subscriber how many events it missed.
type Lagged struct {
	Dropped uint64 `json:"dropped"`
}

// DefaultQueueSize is the per-subscriber queue depth.
const DefaultQueueSize = 64

// DropFunc observes dropped events, e.g. for a metrics counter.
type DropFunc func(n uint64)

// Bus is the event fan-out. The zero value is not usable; use NewBus.
type Bus struct {
	mu        sync.Mutex
	subs      map[uint64]*subscriber
	nextID    uint64
	queueSize int
	onDrop    DropFunc
}

type subscriber struct {
	ch     chan Event
	kinds  map[Kind]struct{} // nil = all kinds
	lagged uint64            // drops not yet reported to this subscriber
	closed bool
}

// NewBus creates a Bus with the given per-subscriber queue size
// (DefaultQueueSize if <= 0).
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subs:      make(map[uint64]*subscriber),
		queueSize: queueSize,
	}
}

// OnDrop registers a callback invoked with the number of events dropped
// each time a subscriber queue overflows. Must be called before Publish.
func (b *Bus) OnDrop(fn DropFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Subscribe registers a subscriber. kinds filters delivery; empty means
// all kinds. The returned cancel detaches the subscriber and closes its
// channel; it is safe to call more than once.
func (b *Bus) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	var filter map[Kind]struct{}
	if len(kinds) > 0 {
		filter = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			filter[k] = struct{}{}
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{
		ch:    make(chan Event, b.queueSize),
		kinds: filter,
	}
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		delete(b.subs, id)
		// Drain so pending events do not pin memory, then close.
		for {
			select {
			case <-sub.ch:
			default:
				close(sub.ch)
				return
			}
		}
	}
	return sub.ch, cancel
}

// Publish delivers the event to every matching subscriber without
// blocking. Timestamp is stamped here if unset. For a full queue the
// oldest event is dropped; the subscriber sees a Lagged marker before
// its next delivery.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.kinds != nil {
			if _, want := sub.kinds[event.Kind]; !want {
				continue
			}
		}
		b.deliver(sub, event)
	}
}

// deliver is called with b.mu held.
func (b *Bus) deliver(sub *subscriber, event Event) {
	// Report accumulated lag first so the marker precedes newer events.
	if sub.lagged > 0 && len(sub.ch) < cap(sub.ch) {
		sub.ch <- Event{
			Kind:      KindLagged,
			Timestamp: time.Now().UTC(),
			Payload:   Lagged{Dropped: sub.lagged},
		}
		sub.lagged = 0
	}

	select {
	case sub.ch <- event:
		return
	default:
	}

	// Queue full: drop the oldest and retry once.
	select {
	case <-sub.ch:
		sub.lagged++
		if b.onDrop != nil {
			b.onDrop(1)
		}
	default:
	}
	select {
	case sub.ch <- event:
	default:
		sub.lagged++
		if b.onDrop != nil {
			b.onDrop(1)
		}
	}
}

// SubscriberCount returns the number of attached subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
