package processor

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"go-aftershock/metrics"
)

// ErrPoolClosed is returned by Submit after Close has been called.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is one unit of work, e.g. one enrichment call for one user.
type Task func()

// Pool runs tasks on a fixed number of workers. Tasks beyond the workers'
// capacity wait in a bounded queue; Submit blocks once the queue is full.
type Pool struct {
	tasks  chan Task
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	log    *logrus.Entry
}

// NewPool starts size workers reading from a queue of the given capacity.
func NewPool(size, queue int, log *logrus.Entry) *Pool {
	if size <= 0 {
		size = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{
		tasks: make(chan Task, queue),
		log:   log,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.WithFields(logrus.Fields{"workers": size, "queue": queue}).Info("worker pool started")
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		metrics.WorkerQueueDepth.Set(float64(len(p.tasks)))
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task Task) {
	metrics.WorkerBusy.Inc()
	defer metrics.WorkerBusy.Dec()
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{"worker": id, "panic": r}).Error("task panicked")
		}
	}()
	task()
}

// Submit queues a task. It blocks while the queue is full, until ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		metrics.WorkerQueueDepth.Set(float64(len(p.tasks)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for the queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("worker pool drained")
}
