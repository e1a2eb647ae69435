package queue

import (
	"testing"
	"time"
)

func newTestQueue() *PromptQueue {
	return New(0.5, 15*time.Minute, time.Minute)
}

func TestAcquireSkipsOwnPrompt(t *testing.T) {
	q := newTestQueue()
	q.Enqueue(1, 7, 0)

	if _, ok := q.Acquire(7); ok {
		t.Fatal("owner must not receive their own prompt")
	}
	id, ok := q.Acquire(8)
	if !ok || id != 1 {
		t.Fatalf("expected prompt 1 for another player, got %d ok=%v", id, ok)
	}
}

func TestAcquireOldestFirst(t *testing.T) {
	q := newTestQueue()
	q.Enqueue(1, 7, 0)
	time.Sleep(time.Millisecond)
	q.Enqueue(2, 7, 0)

	id, ok := q.Acquire(8)
	if !ok || id != 1 {
		t.Fatalf("expected oldest prompt 1, got %d ok=%v", id, ok)
	}
}

func TestAcquireRespectsSlotCapacity(t *testing.T) {
	q := newTestQueue()
	q.Enqueue(1, 7, 0)

	if _, ok := q.Acquire(8); !ok {
		t.Fatal("first acquire should succeed")
	}
	if _, ok := q.Acquire(9); !ok {
		t.Fatal("second acquire should succeed")
	}
	if _, ok := q.Acquire(10); ok {
		t.Fatal("third acquire must fail; both slots reserved")
	}

	q.Release(1, 9, false)
	if _, ok := q.Acquire(10); !ok {
		t.Fatal("released reservation should be reusable")
	}
}

func TestEnqueueWithFilledSlots(t *testing.T) {
	q := newTestQueue()
	q.Enqueue(1, 7, 1)

	if _, ok := q.Acquire(8); !ok {
		t.Fatal("one open slot should be acquirable")
	}
	if _, ok := q.Acquire(9); ok {
		t.Fatal("no second slot should remain")
	}
}

func TestSlotFilledRemovesFullPrompt(t *testing.T) {
	q := newTestQueue()
	q.Enqueue(1, 7, 1)
	if _, ok := q.Acquire(8); !ok {
		t.Fatal("acquire failed")
	}
	q.SlotFilled(1, 2)
	if q.WaitingCount() != 0 {
		t.Fatalf("expected empty queue, got %d waiting", q.WaitingCount())
	}
}

func TestReleaseWithCooldownBlocksReclaim(t *testing.T) {
	q := newTestQueue()
	q.Enqueue(1, 7, 0)
	if _, ok := q.Acquire(8); !ok {
		t.Fatal("acquire failed")
	}
	q.Release(1, 8, true)

	if _, ok := q.Acquire(8); ok {
		t.Fatal("abandoning player must not immediately reclaim the prompt")
	}
	if _, ok := q.Acquire(9); !ok {
		t.Fatal("other players are unaffected by the cooldown")
	}
}

func TestDiscountActivation(t *testing.T) {
	q := newTestQueue()
	if q.DiscountActive() {
		t.Fatal("no copy activity yet; discount must be off")
	}

	// Ten prompts waiting, one recent copy: ratio 10, discount off.
	for i := uint(1); i <= 10; i++ {
		q.Enqueue(i, 100+i, 0)
	}
	q.NoteCopyStarted()
	if q.DiscountActive() {
		t.Fatal("ratio far above threshold; discount must be off")
	}

	// One prompt waiting, many recent copies: ratio below threshold.
	q2 := newTestQueue()
	q2.Enqueue(1, 7, 0)
	for i := 0; i < 10; i++ {
		q2.NoteCopyStarted()
	}
	if !q2.DiscountActive() {
		t.Fatal("ratio below threshold; discount must be on")
	}
}

func TestRemove(t *testing.T) {
	q := newTestQueue()
	q.Enqueue(1, 7, 0)
	q.Remove(1)
	if _, ok := q.Acquire(8); ok {
		t.Fatal("removed prompt must not be acquirable")
	}
}
