package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Pool runs enrichment jobs on a fixed number of goroutines fed by a bounded
// queue. A job that does not fit in the queue is dropped; the item stays
// pending and can be dispatched again later.
type Pool struct {
	jobs    chan string
	workers int
	timeout time.Duration
	handler func(ctx context.Context, itemID string) error
	log     logrus.FieldLogger

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewPool(workers, queueSize int, timeout time.Duration, handler func(ctx context.Context, itemID string) error, log logrus.FieldLogger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:    make(chan string, queueSize),
		workers: workers,
		timeout: timeout,
		handler: handler,
		log:     log,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	p.log.WithField("workers", p.workers).Info("enrichment pool started")
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit queues itemID and reports whether it was accepted.
func (p *Pool) Submit(itemID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.log.WithField("item", itemID).Warn("enrichment pool stopped, job dropped")
		return false
	}
	select {
	case p.jobs <- itemID:
		return true
	default:
		p.log.WithFields(logrus.Fields{"item": itemID, "queue": cap(p.jobs)}).Warn("enrichment queue full, job dropped")
		return false
	}
}

// Stop stops accepting jobs and waits for queued ones to finish. When ctx
// expires first, running jobs are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.log.Info("enrichment pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for itemID := range p.jobs {
		p.run(id, itemID)
	}
}

func (p *Pool) run(worker int, itemID string) {
	ctx, cancel := context.WithTimeout(p.baseCtx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{"item": itemID, "worker": worker, "panic": r}).Error("enrichment job panicked")
		}
	}()

	start := time.Now()
	if err := p.handler(ctx, itemID); err != nil {
		p.log.WithFields(logrus.Fields{"item": itemID, "worker": worker}).WithError(err).Warn("enrichment job failed")
		return
	}
	p.log.WithFields(logrus.Fields{"item": itemID, "worker": worker, "took": time.Since(start).String()}).Debug("enrichment job done")
}
