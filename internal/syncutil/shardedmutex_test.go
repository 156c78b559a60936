package syncutil

import (
	"sync"
	"testing"
)

func TestShardedMutex_SerializesSameKey(t *testing.T) {
	var sm ShardedMutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := sm.Lock("user-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Fatalf("expected 100, got %d (lost update)", counter)
	}
}

func TestShardedMutex_DifferentKeysDoNotDeadlock(t *testing.T) {
	var sm ShardedMutex

	u1 := sm.Lock("alpha")
	u2 := sm.Lock("beta")
	u1()
	u2()
}

func TestShardedMutex_UnlockAllowsReacquire(t *testing.T) {
	var sm ShardedMutex

	unlock := sm.Lock("user-1")
	unlock()

	done := make(chan struct{})
	go func() {
		u := sm.Lock("user-1")
		u()
		close(done)
	}()
	<-done
}
