package annotool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunTasks(t *testing.T) {
	const n = 100
	var running, maxRunning int32
	done := make([]bool, n)

	errs := runTasks(context.Background(), n, 4, func(i int) error {
		cur := atomic.AddInt32(&running, 1)
		for {
			prev := atomic.LoadInt32(&maxRunning)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxRunning, prev, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&running, -1)

		done[i] = true
		if i%10 == 0 {
			return errors.New("failed")
		}
		return nil
	})

	if len(errs) != n {
		t.Fatalf("Expected %d errors, got %d", n, len(errs))
	}
	for i := range done {
		if !done[i] {
			t.Errorf("Task %d did not run", i)
		}
		if (errs[i] != nil) != (i%10 == 0) {
			t.Errorf("Unexpected error for task %d: %v", i, errs[i])
		}
	}
	if maxRunning > 4 {
		t.Errorf("Expected at most 4 concurrent tasks, got %d", maxRunning)
	}
}

func TestRunTasksEmpty(t *testing.T) {
	errs := runTasks(context.Background(), 0, 0, func(int) error {
		t.Error("Unexpected task")
		return nil
	})
	if len(errs) != 0 {
		t.Errorf("Expected no errors, got %v", errs)
	}
}

func TestRunTasksCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int32
	errs := runTasks(ctx, 50, 1, func(int) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	// A task may be scheduled before the cancellation is observed, but never all of them.
	cancelled := 0
	for _, err := range errs {
		if errors.Is(err, context.Canceled) {
			cancelled++
		}
	}
	if cancelled == 0 || cancelled+int(ran) != 50 {
		t.Errorf("Expected every task to either run or be cancelled, got %d run and %d cancelled",
			ran, cancelled)
	}
}

func TestCollectItemErrors(t *testing.T) {
	names := []string{"a", "b", "c"}
	errB := errors.New("b failed")

	items := collectItemErrors([]error{nil, errB, nil}, func(i int) string { return names[i] })
	if len(items) != 1 || items[0].Name != "b" || items[0].Err != errB {
		t.Errorf("Unexpected item errors %v", items)
	}

	err := batchErr(items)
	if !errors.Is(err, errB) {
		t.Errorf("Expected the batch error to wrap %v", errB)
	}
	if batchErr(nil) != nil {
		t.Error("Expected nil for no item errors")
	}
}

func TestConflictingOutputs(t *testing.T) {
	paths := []string{"a.jpg", "b.jpg", "a.jpg", "c.jpg", "b.jpg"}

	conflicts := conflictingOutputs(len(paths), func(i int) string { return paths[i] })

	if len(conflicts) != 2 || conflicts[2] == nil || conflicts[4] == nil {
		t.Errorf("Expected conflicts for items 2 and 4, got %v", conflicts)
	}
}
