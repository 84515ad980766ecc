package annotool

// The worker pool used by all per-image batch operations.

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// DefaultWorkers is the number of concurrent tasks used when none is configured. Tasks load
// potentially large images into memory, so this stays a small multiple of the CPU count.
func DefaultWorkers() int {
	return 2 * runtime.NumCPU()
}

// runTasks calls task(i) for i in [0, n) on up to workers goroutines and waits for all of them.
//
// Each task must only write state owned by its index. The returned slice holds the error of each
// task, nil on success. Once ctx is done no new tasks are started; their slots hold ctx.Err().
func runTasks(ctx context.Context, n, workers int, task func(i int) error) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}

	if workers <= 0 {
		workers = DefaultWorkers()
	}
	if n < workers {
		workers = n
	}
	workQueue := make(chan int, 2*workers)

	// Process items concurrently from a work queue.
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range workQueue {
				errs[i] = task(i)
			}
		}()
	}

	// Feed the work queue until done or cancelled.
	next := 0
feed:
	for ; next < n; next++ {
		select {
		case <-ctx.Done():
			break feed
		case workQueue <- next:
		}
	}
	close(workQueue)
	wg.Wait()

	for i := next; i < n; i++ {
		errs[i] = ctx.Err()
	}

	return errs
}

// collectItemErrors pairs the non-nil errors with the names of their items.
func collectItemErrors(errs []error, name func(i int) string) []ItemError {
	var items []ItemError
	for i, err := range errs {
		if err != nil {
			items = append(items, ItemError{Name: name(i), Err: err})
		}
	}
	return items
}

// conflictingOutputs returns an error for every item whose output path (as returned by path) is
// also the output of an earlier item. Those items must not be written, as two tasks would
// interleave their writes to the same file.
func conflictingOutputs(n int, path func(i int) string) map[int]error {
	conflicts := make(map[int]error)
	first := make(map[string]int, n)
	for i := 0; i < n; i++ {
		p := path(i)
		if j, ok := first[p]; ok {
			conflicts[i] = fmt.Errorf("output %q is already written for item %d", p, j)
			continue
		}
		first[p] = i
	}
	return conflicts
}
