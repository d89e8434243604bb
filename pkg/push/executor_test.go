package push

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestCallerRuns(t *testing.T) {
	ran := false
	if err := CallerRuns.Submit(func() { ran = true }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !ran {
		t.Error("task did not run synchronously")
	}
}

func TestGoExecutor(t *testing.T) {
	done := make(chan struct{})
	if err := GoExecutor.Submit(func() { close(done) }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2, quietLogger())

	var running, peak atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		go func() {
			_ = p.Submit(func() {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				<-release
				running.Add(-1)
			})
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestPool_RecoversPanics(t *testing.T) {
	p := NewPool(1, quietLogger())
	if err := p.Submit(func() { panic("boom") }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	var ran atomic.Bool
	if err := p.Submit(func() { ran.Store(true) }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !ran.Load() {
		t.Error("task after panic did not run")
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := NewPool(1, nil)
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Submit(func() {}); !errors.Is(err, ErrExecutorClosed) {
		t.Errorf("Submit() error = %v, want ErrExecutorClosed", err)
	}
}

func TestPool_WaitHonoursContext(t *testing.T) {
	p := NewPool(1, quietLogger())
	block := make(chan struct{})
	defer close(block)
	_ = p.Submit(func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
}
