package ringbuffer_test

import (
	"sync"
	"testing"

	"github.com/zenith-fleet/zenith/internal/ringbuffer"
)

func TestNew_RoundsCapacityToPowerOfTwo(t *testing.T) {
	cases := []struct {
		requested int
		want      int
	}{
		{1, 1},
		{2, 2},
		{3, 4},
		{5, 8},
		{1024, 1024},
		{1025, 2048},
	}
	for _, c := range cases {
		r := ringbuffer.New[int](c.requested)
		if got := r.Capacity(); got != c.want {
			t.Errorf("New(%d).Capacity() = %d, want %d", c.requested, got, c.want)
		}
	}
}

func TestTryPush_CapacityOneAcceptsExactlyOne(t *testing.T) {
	r := ringbuffer.New[int](1)
	if _, ok := r.TryPush(1); !ok {
		t.Fatal("first push into capacity-1 ring should succeed")
	}
	if rejected, ok := r.TryPush(2); ok || rejected != 2 {
		t.Fatalf("second push into full ring should fail and return the item, got (%d, %v)", rejected, ok)
	}
	if v, ok := r.TryPop(); !ok || v != 1 {
		t.Fatalf("pop should yield first pushed item, got (%d, %v)", v, ok)
	}
	if _, ok := r.TryPush(3); !ok {
		t.Fatal("push after a pop should succeed again")
	}
}

func TestTryPop_EmptyReturnsFalse(t *testing.T) {
	r := ringbuffer.New[string](4)
	if _, ok := r.TryPop(); ok {
		t.Fatal("pop on empty ring should return ok=false")
	}
}

func TestBackPressure_CapacityTwo(t *testing.T) {
	r := ringbuffer.New[int](2)
	if _, ok := r.TryPush(10); !ok {
		t.Fatal("push 1 should succeed")
	}
	if _, ok := r.TryPush(20); !ok {
		t.Fatal("push 2 should succeed")
	}
	if rejected, ok := r.TryPush(30); ok || rejected != 30 {
		t.Fatalf("push 3 should fail with the item intact, got (%d, %v)", rejected, ok)
	}
	if v, ok := r.TryPop(); !ok || v != 10 {
		t.Fatalf("first pop should yield 10, got (%d, %v)", v, ok)
	}
	if _, ok := r.TryPush(30); !ok {
		t.Fatal("push after a pop should succeed")
	}
}

func TestFIFOOrderUnderConcurrentProducerConsumer(t *testing.T) {
	const n = 100000
	r := ringbuffer.New[int](64)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for {
				if _, ok := r.TryPush(i); ok {
					break
				}
			}
		}
	}()

	var got []int
	go func() {
		defer wg.Done()
		for len(got) < n {
			if v, ok := r.TryPop(); ok {
				got = append(got, v)
			}
		}
	}()

	wg.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("FIFO order violated at index %d: got %d, want %d", i, v, i)
		}
	}
}

func TestLenNeverExceedsCapacity(t *testing.T) {
	r := ringbuffer.New[int](4)
	for i := 0; i < 10; i++ {
		r.TryPush(i)
		if r.Len() > r.Capacity() {
			t.Fatalf("len %d exceeded capacity %d", r.Len(), r.Capacity())
		}
	}
	if !r.IsFull() {
		t.Fatal("ring should report full at capacity")
	}
}
