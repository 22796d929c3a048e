// Package pool runs queued jobs on a fixed set of workers.
//
// Submit never blocks: jobs land in an unbounded FIFO queue and are
// picked up in arrival order as workers free. Connection handlers and
// ingest jobs share one pool, so a handler must be able to enqueue
// follow-up work even while every worker is busy.
package pool

import (
	"log"
	"sync"
)

// Pool is a fixed-size worker pool with an unbounded job queue.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
	wg      sync.WaitGroup
}

// New starts a pool with the given number of workers. Counts below one
// are raised to one.
func New(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues job for execution and returns immediately. It reports
// false once the pool has been stopped; the job is discarded then.
func (p *Pool) Submit(job func()) bool {
	if job == nil {
		return false
	}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, job)
	p.mu.Unlock()
	p.cond.Signal()
	return true
}

// Backlog reports how many queued jobs no worker has picked up yet.
func (p *Pool) Backlog() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Stop closes the pool to new work and blocks until every job already
// queued has finished.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()
		run(job)
	}
}

// run executes one job. A panicking job must not take its worker down
// with it.
func run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Pool job panic: %v", r)
		}
	}()
	job()
}
