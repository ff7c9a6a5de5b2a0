package eventlog

import "sync"

// Broker fans out newly appended events to live subscribers over buffered
// channels, grounded on the teacher's subscription-fanout idiom used for
// consensus client notifications (a channel per subscriber rather than an
// external broker, since the event stream's live surface is scoped to one
// process's HTTP subscribers per SPEC_FULL.md's event log design).
type Broker struct {
	mu          sync.Mutex
	subscribers map[int]chan Record
	nextID      int
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[int]chan Record)}
}

// Subscribe registers a new live listener with a bounded buffer. The
// returned cancel func must be called when the subscriber disconnects.
func (b *Broker) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Record, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers rec to every current subscriber. A subscriber that isn't
// draining its channel fast enough has this event dropped rather than
// blocking the writer — the durable events table is always there for
// catch-up, so a dropped live push never loses data.
func (b *Broker) Publish(rec Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- rec:
		default:
		}
	}
}
