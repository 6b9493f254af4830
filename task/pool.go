package task

import (
	"sync"

	"github.com/zeebo/errs"
)

// ErrBusy is returned when the pool queue is full. Callers surface it as a
// retryable condition.
var ErrBusy = errs.Class("task pool busy")

// Pool runs submitted functions on a fixed set of workers over a bounded
// queue.
type Pool struct {
	queue chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts workers goroutines consuming a queue of the given size.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	p := &Pool{queue: make(chan func(), queueSize)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for fn := range p.queue {
				fn()
			}
		}()
	}
	return p
}

// Submit enqueues fn without blocking, failing with ErrBusy when the queue
// is full.
func (p *Pool) Submit(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrBusy.New("pool is closed")
	}
	select {
	case p.queue <- fn:
		return nil
	default:
		return ErrBusy.New("queue is full")
	}
}

// Close stops accepting work and waits for queued functions to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}
