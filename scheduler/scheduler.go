// Package scheduler orders delayed callbacks on a dedicated worker
// goroutine, supporting both one-shot and repeating schedules with
// drain-or-cancel shutdown.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// CancelFunc cancels a scheduled callback. Cancelling after the
// callback has already started running does not interrupt it; it only
// prevents a repeating callback's next occurrence.
type CancelFunc func()

type job struct {
	deadline  time.Time
	interval  time.Duration // 0 for one-shot
	fn        func()
	cancelled bool // mutated only on the worker goroutine, via cancelCh
	index     int  // heap index, maintained by container/heap
}

type jobQueue []*job

func (q jobQueue) Len() int            { return len(q) }
func (q jobQueue) Less(i, j int) bool  { return q[i].deadline.Before(q[j].deadline) }
func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *jobQueue) Push(x any) {
	j := x.(*job) //nolint:forcetypeassert
	j.index = len(*q)
	*q = append(*q, j)
}
func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return j
}

// Scheduler runs a single worker goroutine that fires callbacks in
// deadline order. All mutation of the job queue happens on the worker
// goroutine; callers communicate with it over channels, the same
// single-owner discipline used by the connections manager's reactor.
type Scheduler struct {
	clock clock.Clock

	addCh    chan *job
	cancelCh chan *job
	stopCh   chan chan struct{}
	stopped  chan struct{}

	wg sync.WaitGroup
}

// New returns a Scheduler using clk as its time source. Call Start
// before scheduling anything.
func New(clk clock.Clock) *Scheduler {
	return &Scheduler{
		clock:    clk,
		addCh:    make(chan *job),
		cancelCh: make(chan *job),
		stopCh:   make(chan chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop performs a drain-or-cancel shutdown: pending callbacks that have
// not yet started are cancelled; a callback already executing is
// allowed to finish before Stop returns.
func (s *Scheduler) Stop() {
	done := make(chan struct{})
	s.stopCh <- done
	<-done
	s.wg.Wait()
}

// After schedules fn to run once, after d elapses.
func (s *Scheduler) After(d time.Duration, fn func()) CancelFunc {
	return s.schedule(d, 0, fn)
}

// Every schedules fn to run repeatedly, every d, starting after the
// first d elapses.
func (s *Scheduler) Every(d time.Duration, fn func()) CancelFunc {
	return s.schedule(d, d, fn)
}

func (s *Scheduler) schedule(delay, interval time.Duration, fn func()) CancelFunc {
	j := &job{
		deadline: s.clock.Now().Add(delay),
		interval: interval,
		fn:       fn,
	}
	s.addCh <- j
	return func() {
		select {
		case s.cancelCh <- j:
		case <-s.stopped:
		}
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	defer close(s.stopped)

	q := &jobQueue{}
	heap.Init(q)

	timer := s.clock.NewTimer(time.Hour)
	defer timer.Stop()
	armed := false

	rearm := func() {
		if armed {
			timer.Stop()
			armed = false
		}
		for q.Len() > 0 && (*q)[0].cancelled {
			heap.Pop(q)
		}
		if q.Len() == 0 {
			return
		}
		d := (*q)[0].deadline.Sub(s.clock.Now())
		if d < 0 {
			d = 0
		}
		timer.Reset(d)
		armed = true
	}

	for {
		select {
		case j := <-s.addCh:
			heap.Push(q, j)
			rearm()

		case j := <-s.cancelCh:
			j.cancelled = true
			rearm()

		case <-timer.C():
			armed = false
			now := s.clock.Now()
			for q.Len() > 0 && !(*q)[0].deadline.After(now) {
				j := heap.Pop(q).(*job) //nolint:forcetypeassert
				if j.cancelled {
					continue
				}
				j.fn()
				if j.interval > 0 && !j.cancelled {
					j.deadline = now.Add(j.interval)
					heap.Push(q, j)
				}
			}
			rearm()

		case done := <-s.stopCh:
			close(done)
			return
		}
	}
}
