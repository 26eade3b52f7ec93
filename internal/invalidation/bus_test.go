package invalidation

import (
	"sync"
	"testing"
)

func TestBus_TouchIsStrictlyMonotonic(t *testing.T) {
	b := New()
	if b.CurrentRevision() != 0 {
		t.Fatalf("expected initial revision 0, got %d", b.CurrentRevision())
	}

	prev := b.CurrentRevision()
	for i := 0; i < 100; i++ {
		next := b.Touch()
		if next <= prev {
			t.Fatalf("revision went from %d to %d", prev, next)
		}
		if b.CurrentRevision() != next {
			t.Fatalf("expected current revision %d, got %d", next, b.CurrentRevision())
		}
		prev = next
	}
}

func TestBus_ConcurrentTouch(t *testing.T) {
	b := New()

	const workers, perWorker = 8, 250
	seen := make(chan int64, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				seen <- b.Touch()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for r := range seen {
		if unique[r] {
			t.Fatalf("revision %d returned twice", r)
		}
		unique[r] = true
	}
	if b.CurrentRevision() != workers*perWorker {
		t.Errorf("expected revision %d, got %d", workers*perWorker, b.CurrentRevision())
	}
}
