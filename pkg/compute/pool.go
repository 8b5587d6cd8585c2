package compute

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the number of indices a worker claims at once
const DefaultChunkSize = 4

// Pool runs fork-join loops over index ranges. Workers claim chunks from a
// shared cursor, so long-running items do not hold up a fixed partition.
type Pool struct {
	workers   int
	chunkSize int
}

// NewPool creates a pool. workers <= 0 uses runtime.NumCPU(), chunkSize <= 0
// uses DefaultChunkSize.
func NewPool(workers, chunkSize int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Pool{workers: workers, chunkSize: chunkSize}
}

// Workers returns the maximum number of goroutines used per loop
func (p *Pool) Workers() int {
	return p.workers
}

// ChunkSize returns the number of indices claimed per cursor advance
func (p *Pool) ChunkSize() int {
	return p.chunkSize
}

// ParallelFor calls fn for every i in [0, n) and returns after all calls
// finished. The first error stops workers from claiming further chunks and
// is returned. Context cancellation is observed between chunks only.
func (p *Pool) ParallelFor(ctx context.Context, n int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}

	chunk := p.chunkSize
	workers := p.workers
	if chunks := (n + chunk - 1) / chunk; chunks < workers {
		workers = chunks
	}

	var cursor atomic.Int64
	g, gctx := errgroup.WithContext(ctx)

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				start := int(cursor.Add(int64(chunk))) - chunk
				if start >= n {
					return nil
				}
				end := start + chunk
				if end > n {
					end = n
				}
				for i := start; i < end; i++ {
					if err := fn(i); err != nil {
						return err
					}
				}
			}
		})
	}

	return g.Wait()
}
