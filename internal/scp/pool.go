package scp

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers bounds concurrent operation processing per Scp.
const DefaultWorkers = 16

// workerPool runs operations on a bounded number of goroutines shared by
// every association of one Scp.
type workerPool struct {
	sem *semaphore.Weighted
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = DefaultWorkers
	}
	return &workerPool{sem: semaphore.NewWeighted(int64(size))}
}

// submit schedules fn without blocking the caller. The goroutine waits for
// a slot itself so a saturated pool never stalls a connection's reader.
func (p *workerPool) submit(inflight *sync.WaitGroup, fn func()) {
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		fn()
	}()
}

// waitTimeout waits for wg up to d and reports whether it drained.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	if d <= 0 {
		return false
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
