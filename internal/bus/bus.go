// Package bus implements the bounded, lossy-drain message channel
// described in spec.md §4.9: a multi-producer/multi-consumer channel of
// tagged Messages that never blocks a sender, dropping the oldest half of
// its backlog rather than applying backpressure.
//
// Grounded on the original implementation's sync/logger.rs and util/mod.rs
// (a Message trait with Sync/Trigger/Setup variants drained by a
// receiver loop), adapted from a polling println logger into a proper
// bounded channel since Go has no direct analogue of a non-blocking
// crossbeam try_recv loop tied to a boolean switch.
package bus

import "sync"

// Capacity is the bus's fixed channel size (C in spec.md §4.9).
const Capacity = 1000

// Kind tags which of the three message variants a Message carries.
type Kind string

const (
	KindSync    Kind = "sync"
	KindTrigger Kind = "trigger"
	KindSetup   Kind = "setup"
)

// Message is the tagged union carried on the bus. All variants share a
// human-readable Text, an optional Count, and an optional ElapsedMs; it
// marshals directly to JSON for both the HTTP drain routes and the
// WebSocket fan-out.
type Message struct {
	Kind      Kind   `json:"kind"`
	Text      string `json:"text"`
	Object    string `json:"object,omitempty"`
	Count     int    `json:"count,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}

// Bus is a bounded channel of Messages with a lossy-drain send policy:
// Send never blocks. When the channel is full, the oldest Capacity/2
// messages are dropped and the send is retried once.
type Bus struct {
	mu sync.Mutex
	ch chan Message
}

// New returns a Bus with the spec-mandated capacity of 1000.
func New() *Bus { return NewWithCapacity(Capacity) }

// NewWithCapacity returns a Bus with a caller-chosen capacity, used by
// tests that want a smaller bus to exercise the drain policy quickly.
func NewWithCapacity(capacity int) *Bus {
	return &Bus{ch: make(chan Message, capacity)}
}

// Send enqueues m without blocking. If the channel is full, it drops the
// oldest half of the backlog first, then retries once; if it is still
// full after that (a bus of capacity 1 has no half to drop), the new
// message itself is dropped rather than blocking the caller.
func (b *Bus) Send(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case b.ch <- m:
		return
	default:
	}

	half := cap(b.ch) / 2
	for i := 0; i < half; i++ {
		select {
		case <-b.ch:
		default:
			break
		}
	}

	select {
	case b.ch <- m:
	default:
	}
}

// Drain performs a non-blocking read of every message currently queued,
// in FIFO order, leaving the bus empty. Used by the GET /messages and
// GET /sync/messages handlers, and by the WebSocket send loop.
func (b *Bus) Drain() []Message {
	var out []Message
	for {
		select {
		case m := <-b.ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

// Len reports the number of messages currently queued.
func (b *Bus) Len() int { return len(b.ch) }
