// Package dispatch fans fetched transaction records out to subscribers.
package dispatch

import (
	"errors"
	"sync"

	"swapwatch/internal/domain"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("dispatch: bus closed")

// Handler processes one record. It runs on the subscription's goroutine.
type Handler func(rec *domain.TransactionRecord)

// Bus delivers every published record to every subscriber, in publish order.
// Publish never waits for subscriber work: each subscription owns an
// unbounded queue drained by its own goroutine.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
	wg     sync.WaitGroup
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscription is one consumer attached to a Bus.
type Subscription struct {
	name    string
	handler Handler

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []*domain.TransactionRecord
	closed    bool
	delivered int64
}

// Subscribe attaches handler under name and starts its goroutine.
// Records published before the call are not replayed.
func (b *Bus) Subscribe(name string, handler Handler) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	s := &Subscription{name: name, handler: handler}
	s.cond = sync.NewCond(&s.mu)
	b.subs = append(b.subs, s)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		s.run()
	}()
	return s, nil
}

// Publish enqueues rec for every subscriber and returns immediately.
func (b *Bus) Publish(rec *domain.TransactionRecord) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	for _, s := range b.subs {
		s.push(rec)
	}
	return nil
}

// Close stops accepting records. Subscribers finish their queues and exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

// Wait blocks until every subscriber has drained after Close.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Pending returns the total number of queued, undelivered records.
func (b *Bus) Pending() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, s := range b.subs {
		n += s.Pending()
	}
	return n
}

// Name returns the subscription name.
func (s *Subscription) Name() string {
	return s.name
}

// Pending returns the number of records waiting for the handler.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Delivered returns the number of records handed to the handler.
func (s *Subscription) Delivered() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

func (s *Subscription) push(rec *domain.TransactionRecord) {
	s.mu.Lock()
	s.queue = append(s.queue, rec)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *Subscription) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		rec := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.delivered++
		s.mu.Unlock()

		s.handler(rec)
	}
}
