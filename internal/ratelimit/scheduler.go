package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a unit of scheduled work. ctx is cancelled only on forced shutdown.
type Task func(ctx context.Context) error

// Result reports the completion of a scheduled task.
type Result struct {
	ID       string
	Err      error
	Duration time.Duration
}

// Stats is a point-in-time view of a scheduler.
type Stats struct {
	Queued         int
	InFlight       int64
	Completed      int64
	Failed         int64
	Dropped        int64 // never admitted (shutdown)
	DroppedResults int64 // results discarded because Results() was full
}

// compactMin is the consumed prefix length below which the queue is not compacted.
const compactMin = 64

type job struct {
	id   string
	cost int64
	task Task
}

// Scheduler is a FIFO work queue in front of a Gate. Schedule never blocks:
// jobs are queued and a single admission goroutine admits them in order,
// then runs each on its own goroutine holding the permit until it returns.
type Scheduler struct {
	name string
	gate Gate

	mu     sync.Mutex
	queue  []job
	head   int
	closed bool
	notify chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	running  sync.WaitGroup

	results chan Result

	inFlight       atomic.Int64
	completed      atomic.Int64
	failed         atomic.Int64
	dropped        atomic.Int64
	droppedResults atomic.Int64
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithResults enables the completion channel with the given buffer size.
func WithResults(buffer int) SchedulerOption {
	return func(s *Scheduler) {
		if buffer < 1 {
			buffer = 1
		}
		s.results = make(chan Result, buffer)
	}
}

// NewScheduler creates and starts a scheduler admitting work through gate.
func NewScheduler(name string, gate Gate, opts ...SchedulerOption) *Scheduler {
	if gate == nil {
		gate = Chain()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		name:     name,
		gate:     gate,
		notify:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s
}

// Name returns the scheduler name.
func (s *Scheduler) Name() string {
	return s.name
}

// Schedule enqueues task with the given id and cost and returns immediately.
// Returns ErrClosed after Shutdown has been called.
func (s *Scheduler) Schedule(id string, cost int64, task Task) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.queue = append(s.queue, job{id: id, cost: cost, task: task})
	s.mu.Unlock()

	s.wake()
	return nil
}

// Results returns the completion channel, or nil if WithResults was not set.
// The channel is closed once Shutdown has finished.
func (s *Scheduler) Results() <-chan Result {
	return s.results
}

// Stats returns current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	queued := len(s.queue) - s.head
	s.mu.Unlock()

	return Stats{
		Queued:         queued,
		InFlight:       s.inFlight.Load(),
		Completed:      s.completed.Load(),
		Failed:         s.failed.Load(),
		Dropped:        s.dropped.Load(),
		DroppedResults: s.droppedResults.Load(),
	}
}

// Shutdown stops accepting work, lets queued jobs be admitted and waits for
// running tasks. If ctx expires first, pending admissions are abandoned and
// running tasks see their context cancelled; ctx.Err() is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	s.wake()

	var forced error
	select {
	case <-s.loopDone:
	case <-ctx.Done():
		forced = ctx.Err()
		s.cancel()
		<-s.loopDone
	}

	tasksDone := make(chan struct{})
	go func() {
		s.running.Wait()
		close(tasksDone)
	}()
	select {
	case <-tasksDone:
	case <-ctx.Done():
		if forced == nil {
			forced = ctx.Err()
		}
		s.cancel()
		<-tasksDone
	}
	s.cancel()

	if !alreadyClosed && s.results != nil {
		close(s.results)
	}
	return forced
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// next pops the oldest job, waiting for one to arrive. Returns false once the
// scheduler is closed and the queue is empty.
func (s *Scheduler) next() (job, bool) {
	for {
		s.mu.Lock()
		if s.head < len(s.queue) {
			j := s.queue[s.head]
			s.queue[s.head] = job{}
			s.head++
			switch {
			case s.head == len(s.queue):
				s.queue = s.queue[:0]
				s.head = 0
			case s.head >= compactMin && s.head > len(s.queue)/2:
				// Drop the consumed prefix so append stops copying it.
				n := copy(s.queue, s.queue[s.head:])
				clear(s.queue[n:])
				s.queue = s.queue[:n]
				s.head = 0
			}
			s.mu.Unlock()
			return j, true
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return job{}, false
		}
		<-s.notify
	}
}

func (s *Scheduler) loop() {
	defer close(s.loopDone)

	for {
		j, ok := s.next()
		if !ok {
			return
		}

		permit, err := s.gate.Admit(s.ctx, j.cost)
		if err != nil {
			s.dropped.Add(1)
			s.publish(Result{ID: j.id, Err: ErrClosed})
			continue
		}

		s.inFlight.Add(1)
		s.running.Add(1)
		go s.run(j, permit)
	}
}

func (s *Scheduler) run(j job, permit Permit) {
	defer s.running.Done()
	defer s.inFlight.Add(-1)
	defer permit.Release()

	start := time.Now()
	err := j.task(s.ctx)
	if err != nil {
		s.failed.Add(1)
	} else {
		s.completed.Add(1)
	}
	s.publish(Result{ID: j.id, Err: err, Duration: time.Since(start)})
}

// publish never blocks the admission loop or a task goroutine.
func (s *Scheduler) publish(r Result) {
	if s.results == nil {
		return
	}
	select {
	case s.results <- r:
	default:
		s.droppedResults.Add(1)
	}
}
