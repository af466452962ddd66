package coordinator

import (
	"context"
	"sync"
)

// Pool runs jobs on a fixed number of workers fed from a work queue. Results come back on a
// channel in completion order; the channel closes once every job has reported.
type Pool struct {
	size int
}

// NewPool returns a pool of size workers; size below one is treated as one.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size}
}

// Size is the concurrency bound.
func (p *Pool) Size() int { return p.size }

// Run hands every id to fn exactly once. fn owns its id for the duration of the call; workers
// share nothing else. Cancelling ctx does not drop queued ids: fn is still called and should
// report the cancellation as that id's result without doing the work.
func Run[R any](ctx context.Context, p *Pool, ids []string, fn func(context.Context, string) R) <-chan R {
	jobs := make(chan string, len(ids))
	for _, id := range ids {
		jobs <- id
	}
	close(jobs)

	results := make(chan R, len(ids))
	workers := p.size
	if workers > len(ids) {
		workers = len(ids)
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for id := range jobs {
				results <- fn(ctx, id)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}
