package events

import "sync"

// Pipe hands events to another goroutine without ever blocking the
// publisher. Events are queued without bound and come out of C in order.
type Pipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	ending bool // Finish was called; deliver the rest, then close
	out    chan Event
	done   chan struct{}
}

// NewPipe starts the forwarding goroutine.
func NewPipe() *Pipe {
	p := &Pipe{
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.forward()
	return p
}

// Handle implements Handler.
func (p *Pipe) Handle(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.ending {
		return
	}
	p.queue = append(p.queue, e)
	p.cond.Signal()
}

// C returns the receiving end. It is closed after Close.
func (p *Pipe) C() <-chan Event {
	return p.out
}

// Pending returns the number of queued, undelivered events.
func (p *Pipe) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops forwarding. Undelivered events are dropped.
func (p *Pipe) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.queue = nil
	close(p.done)
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Finish stops accepting events. Queued events are still delivered and C is
// closed after the last one.
func (p *Pipe) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ending = true
	p.cond.Broadcast()
}

func (p *Pipe) forward() {
	defer close(p.out)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed && !p.ending {
			p.cond.Wait()
		}
		if p.closed || len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		e := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		select {
		case p.out <- e:
		case <-p.done:
			return
		}
	}
}
