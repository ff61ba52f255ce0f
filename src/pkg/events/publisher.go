package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type Type string

const (
	Registered Type = "registered"
	Served     Type = "served"
	Removed    Type = "removed"
	Purged     Type = "purged"
)

type Event struct {
	Type       Type      `json:"type"`
	ArtifactID string    `json:"artifact_id"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

var (
	ErrClosed    = errors.New("publisher is closed")
	ErrQueueFull = errors.New("event queue is full, dropping event")
)

const defaultBuffer = 100

// Publisher fans artifact lifecycle events out to subscribers. Publishing
// never blocks: a subscriber that falls behind loses events.
type Publisher struct {
	done        atomic.Bool
	mu          sync.Mutex
	subscribers map[int]chan Event
	next        int
	buffer      int
}

func NewPublisher() *Publisher {
	return &Publisher{subscribers: make(map[int]chan Event), buffer: defaultBuffer}
}

func (p *Publisher) Publish(event Event) error {
	if p == nil {
		return nil
	}
	if p.done.Load() {
		return ErrClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var dropped bool
	for _, ch := range p.subscribers {
		select {
		case ch <- event:
		default:
			dropped = true
		}
	}
	if dropped {
		return ErrQueueFull
	}
	return nil
}

// Subscribe returns a channel of events and a function that unsubscribes
// and closes the channel.
func (p *Publisher) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan Event, p.buffer)
	if p.done.Load() {
		close(ch)
		return ch, func() {}
	}

	id := p.next
	p.next++
	p.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if sub, ok := p.subscribers[id]; ok {
				delete(p.subscribers, id)
				close(sub)
			}
		})
	}
}

func (p *Publisher) Close() {
	if p.done.Swap(true) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subscribers {
		delete(p.subscribers, id)
		close(ch)
	}
}
