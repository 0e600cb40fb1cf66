package events

import (
	"sync"

	"github.com/antibyte/emojivm/pkg/logger"
)

// Handler receives events synchronously. It must not call back into the
// machine that produced the event.
type Handler func(Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus delivers every published event to all current subscribers, in
// subscription order, before Publish returns.
type Bus struct {
	mu     sync.Mutex
	subs   []subscription
	nextID int
	seq    uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h and returns an id for Unsubscribe.
func (b *Bus) Subscribe(h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, handler: h})
	logger.Debug(logger.AreaEvents, "subscriber %d added (%d total)", b.nextID, len(b.subs))
	return b.nextID
}

// Unsubscribe removes a subscriber. A delivery already in progress still
// reaches it.
func (b *Bus) Unsubscribe(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			subs := make([]subscription, 0, len(b.subs)-1)
			subs = append(subs, b.subs[:i]...)
			b.subs = append(subs, b.subs[i+1:]...)
			logger.Debug(logger.AreaEvents, "subscriber %d removed", id)
			return true
		}
	}
	return false
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish stamps e with the next sequence number and delivers it.
func (b *Bus) Publish(e Event) Event {
	b.mu.Lock()
	b.seq++
	e.Seq = b.seq
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		s.handler(e)
	}
	return e
}

// Only wraps h so it sees events of the given kinds only.
func Only(h Handler, kinds ...Kind) Handler {
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	return func(e Event) {
		if want[e.Kind] {
			h(e)
		}
	}
}

// Recorder collects events in delivery order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Handle implements Handler.
func (r *Recorder) Handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds lists the kinds of the recorded events in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
