package agent

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Pipelines for platforms that share the JLink tool stack must never
// run at the same time on one machine, even on different boards.
func TestJLinkToolingSerialized(t *testing.T) {
	misc := map[string]*sync.Mutex{LockJLink: new(sync.Mutex)}
	jobs := []Job{
		{Platform: "nrf5sdk", PlatformLock: new(sync.Mutex), ConnLock: new(sync.Mutex), Misc: misc},
		{Platform: "zephyr", PlatformLock: new(sync.Mutex), ConnLock: new(sync.Mutex), Misc: misc},
	}

	var inside, overlaps int32
	var wg sync.WaitGroup
	for _, job := range jobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				unlock := job.lockTooling()
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				time.Sleep(100 * time.Microsecond)
				atomic.AddInt32(&inside, -1)
				unlock()
			}
		}()
	}
	wg.Wait()

	if overlaps != 0 {
		t.Errorf("jlink-platform pipelines overlapped %d times", overlaps)
	}
}

// Platforms outside the JLink set must not contend for the jlink
// lock.
func TestJLinkLockSkipsOtherPlatforms(t *testing.T) {
	misc := map[string]*sync.Mutex{LockJLink: new(sync.Mutex)}
	misc[LockJLink].Lock()
	defer misc[LockJLink].Unlock()

	job := Job{Platform: "esp32", PlatformLock: new(sync.Mutex), ConnLock: new(sync.Mutex), Misc: misc}
	done := make(chan struct{})
	go func() {
		unlock := job.lockTooling()
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("esp32 pipeline blocked on the jlink lock")
	}
}
