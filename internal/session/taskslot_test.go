package session_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxnote/internal/session"
)

func TestTaskSlot_RunsInOrder(t *testing.T) {
	t.Parallel()

	slot := session.NewTaskSlot(context.Background(), 2)
	release := make(chan struct{})

	var mu sync.Mutex
	var order []int
	record := func(n int) func(context.Context) {
		return func(context.Context) {
			if n == 1 {
				<-release
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}
	}

	for n := 1; n <= 3; n++ {
		if err := slot.Submit(record(n)); err != nil {
			t.Fatalf("Submit(%d): %v", n, err)
		}
	}
	if err := slot.Submit(record(4)); !errors.Is(err, session.ErrBusy) {
		t.Fatalf("Submit(4) err = %v, want ErrBusy", err)
	}
	if got := slot.Pending(); got != 2 {
		t.Errorf("Pending = %d, want 2", got)
	}

	close(release)
	slot.Wait()

	if !slices.Equal(order, []int{1, 2, 3}) {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
	if slot.Busy() {
		t.Error("slot still busy after Wait")
	}
}

func TestTaskSlot_ZeroQueueRejectsOverlap(t *testing.T) {
	t.Parallel()

	slot := session.NewTaskSlot(context.Background(), 0)
	release := make(chan struct{})
	if err := slot.Submit(func(context.Context) { <-release }); err != nil {
		t.Fatal(err)
	}
	if err := slot.Submit(func(context.Context) {}); !errors.Is(err, session.ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	close(release)
	slot.Wait()

	// The slot accepts work again once idle.
	if err := slot.Submit(func(context.Context) {}); err != nil {
		t.Errorf("Submit after drain: %v", err)
	}
	slot.Wait()
}

func TestTaskSlot_CancelDropsQueue(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	slot := session.NewTaskSlot(ctx, 2)

	started := make(chan struct{})
	ran := make(chan struct{}, 2)
	if err := slot.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}); err != nil {
		t.Fatal(err)
	}
	<-started
	for range 2 {
		if err := slot.Submit(func(context.Context) { ran <- struct{}{} }); err != nil {
			t.Fatal(err)
		}
	}
	cancel()

	done := make(chan struct{})
	go func() {
		slot.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
	if len(ran) != 0 {
		t.Errorf("%d queued tasks ran after cancel", len(ran))
	}
	if err := slot.Submit(func(context.Context) {}); !errors.Is(err, session.ErrClosed) {
		t.Errorf("Submit after cancel err = %v, want ErrClosed", err)
	}
}

func TestTaskSlot_NilTask(t *testing.T) {
	t.Parallel()

	if err := session.NewTaskSlot(context.Background(), 1).Submit(nil); err == nil {
		t.Error("expected error for nil task")
	}
}
