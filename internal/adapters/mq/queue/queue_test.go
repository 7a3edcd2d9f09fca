package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Dan-Hightower/hirebot/internal/domain/model"
)

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	job1 := model.Job{ID: "d1", Kind: model.KindConfirm}
	if !q.Enqueue(ctx, job1) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.ID != "d1" {
		t.Errorf("expected d1, got %v", got.ID)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Backpressure(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if !q.Enqueue(ctx, model.Job{ID: fmt.Sprintf("d%d", i)}) {
			t.Fatalf("enqueue %d should succeed", i)
		}
	}
	if q.Enqueue(ctx, model.Job{ID: "overflow"}) {
		t.Error("expected enqueue to fail when full")
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if q.Enqueue(ctx, model.Job{ID: "late"}) {
		t.Error("expected enqueue to fail with a cancelled context")
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	_ = q.Enqueue(ctx, model.Job{ID: "queued"})
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}
	if q.Enqueue(ctx, model.Job{ID: "after"}) {
		t.Error("expected enqueue to fail after close")
	}

	var drained []string
	for j := range q.Dequeue(ctx) {
		drained = append(drained, j.ID)
	}
	if len(drained) != 1 || drained[0] != "queued" {
		t.Errorf("expected queued job to drain, got %v", drained)
	}
}

func TestInMemoryQueue_ConcurrentEnqueue(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(ctx, model.Job{ID: fmt.Sprintf("d%d", i)})
		}(i)
	}
	wg.Wait()

	if l := q.Len(ctx); l != 100 {
		t.Errorf("expected 100 queued jobs, got %d", l)
	}
}
