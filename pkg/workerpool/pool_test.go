package workerpool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{Workers: 2, QueueSize: 10}, false},
		{"zero queue", Config{Workers: 1}, false},
		{"no workers", Config{QueueSize: 10}, true},
		{"negative workers", Config{Workers: -1}, true},
		{"negative queue", Config{Workers: 1, QueueSize: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPool_RunsTasks(t *testing.T) {
	pool, err := New(Config{Workers: 4, QueueSize: 16})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer pool.Stop()

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := pool.Submit(func() error {
			defer wg.Done()
			count.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	wg.Wait()

	if got := count.Load(); got != 20 {
		t.Errorf("ran %d tasks, want 20", got)
	}
}

func TestPool_Stats(t *testing.T) {
	pool, err := New(Config{Workers: 2, QueueSize: 8})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	pool.Submit(func() error { defer wg.Done(); return nil })
	pool.Submit(func() error { defer wg.Done(); return errors.New("boom") })
	pool.Submit(func() error { defer wg.Done(); panic("bang") })
	wg.Wait()
	pool.Stop()

	stats := pool.Stats()
	if stats.Submitted != 3 {
		t.Errorf("submitted = %d, want 3", stats.Submitted)
	}
	if stats.Completed != 1 {
		t.Errorf("completed = %d, want 1", stats.Completed)
	}
	if stats.Failed != 2 {
		t.Errorf("failed = %d, want 2", stats.Failed)
	}
	if stats.Panicked != 1 {
		t.Errorf("panicked = %d, want 1", stats.Panicked)
	}
}

func TestPool_TrySubmitQueueFull(t *testing.T) {
	pool, err := New(Config{Workers: 1, QueueSize: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer pool.Stop()

	block := make(chan struct{})
	release := sync.OnceFunc(func() { close(block) })
	defer release()

	// Occupy the single worker, then fill the queue.
	pool.Submit(func() error { <-block; return nil })
	for {
		if err := pool.TrySubmit(func() error { <-block; return nil }); err != nil {
			if !errors.Is(err, ErrQueueFull) {
				t.Fatalf("err = %v, want ErrQueueFull", err)
			}
			break
		}
	}
	release()
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool, err := New(Config{Workers: 1, QueueSize: 1, ShutdownTimeout: time.Second})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	pool.Stop()
	pool.Stop() // stopping twice is safe

	if err := pool.Submit(func() error { return nil }); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit after Stop: err = %v, want ErrPoolClosed", err)
	}
	if err := pool.TrySubmit(func() error { return nil }); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("TrySubmit after Stop: err = %v, want ErrPoolClosed", err)
	}
}
