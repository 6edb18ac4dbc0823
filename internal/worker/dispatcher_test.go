package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestDispatcherJobOrder(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 2, MaxWorkers: 2, QueueSize: 10})
	defer d.Stop()

	var mu sync.Mutex
	order := make([]string, 0, 3)
	var wg sync.WaitGroup
	for _, label := range []string{"first", "second", "third"} {
		label := label
		wg.Add(1)
		err := d.Submit(Job{Key: "session-1", Name: label, Run: func(ctx context.Context) {
			defer wg.Done()
			// later jobs would overtake this one if the key ran concurrently
			if label == "first" {
				time.Sleep(20 * time.Millisecond)
			}
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
		}})
		if err != nil {
			t.Fatalf("submit %s: %v", label, err)
		}
	}
	waitTimeout(t, &wg, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("expected execution order [first second third], got %v", order)
	}
}

func TestDispatcherQueuesWhenKeyBusy(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 2, MaxWorkers: 2, QueueSize: 10})
	defer d.Stop()

	block := make(chan struct{})
	started := make(chan struct{})
	done1 := make(chan struct{})
	done2 := make(chan struct{})

	if err := d.Submit(Job{Key: "s", Name: "first", Run: func(ctx context.Context) {
		close(started)
		<-block
		close(done1)
	}}); err != nil {
		t.Fatalf("submit first: %v", err)
	}
	if err := d.Submit(Job{Key: "s", Name: "second", Run: func(ctx context.Context) {
		close(done2)
	}}); err != nil {
		t.Fatalf("submit second: %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("first job did not start")
	}
	select {
	case <-done2:
		t.Fatalf("second job ran while first was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	select {
	case <-done1:
	case <-time.After(time.Second):
		t.Fatalf("first job did not complete after unblocking")
	}
	select {
	case <-done2:
	case <-time.After(time.Second):
		t.Fatalf("second job did not complete after first")
	}
}

func TestDispatcherHighLoadAllowsOtherKeys(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 3, QueueSize: 10})
	defer d.Stop()

	block := make(chan struct{})
	started := make(chan struct{})
	if err := d.Submit(Job{Key: "slow", Name: "slow", Run: func(ctx context.Context) {
		close(started)
		<-block
	}}); err != nil {
		t.Fatalf("submit slow: %v", err)
	}
	<-started

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b"} {
		wg.Add(1)
		if err := d.Submit(Job{Key: key, Name: "fast", Run: func(ctx context.Context) { wg.Done() }}); err != nil {
			t.Fatalf("submit %s: %v", key, err)
		}
	}
	waitTimeout(t, &wg, time.Second)
	close(block)
}

func TestDispatcherBusyWhenQueueFull(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1})
	block := make(chan struct{})
	defer func() {
		close(block)
		d.Stop()
	}()

	var err error
	for i := 0; i < 20 && err == nil; i++ {
		// distinct keys so the loop blocks waiting for the single worker
		err = d.Submit(Job{Key: fmt.Sprintf("k%d", i), Name: "blocked", Run: func(ctx context.Context) {
			select {
			case <-block:
			case <-ctx.Done():
			}
		}})
		if err == nil {
			// give the dispatch loop a chance to drain the queue
			time.Sleep(5 * time.Millisecond)
		}
	}
	if !errors.Is(err, ErrDispatcherBusy) {
		t.Fatalf("expected ErrDispatcherBusy, got %v", err)
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	defer d.Stop()

	if err := d.Submit(Job{Key: "k", Name: "panic", Run: func(ctx context.Context) { panic("boom") }}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := make(chan struct{})
	if err := d.Submit(Job{Key: "k", Name: "after", Run: func(ctx context.Context) { close(done) }}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("job after panic did not run")
	}
}

func TestDispatcherStop(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	cancelled := make(chan struct{})
	started := make(chan struct{})
	if err := d.Submit(Job{Key: "k", Name: "long", Run: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started
	d.Stop()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("running job was not cancelled")
	}
	if err := d.Submit(Job{Key: "k", Run: func(context.Context) {}}); !errors.Is(err, ErrDispatcherStopped) {
		t.Fatalf("expected ErrDispatcherStopped, got %v", err)
	}
}

func TestDispatcherStopAbortsQueuedJobs(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	started := make(chan struct{})
	if err := d.Submit(Job{Key: "k", Name: "long", Run: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	aborted := make(chan error, 1)
	ran := false
	if err := d.Submit(Job{Key: "k", Name: "queued",
		Run:   func(context.Context) { ran = true },
		Abort: func(err error) { aborted <- err },
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	d.Stop()

	select {
	case err := <-aborted:
		if !errors.Is(err, ErrDispatcherStopped) {
			t.Fatalf("expected ErrDispatcherStopped, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("queued job was not aborted")
	}
	if ran {
		t.Fatalf("aborted job must not run")
	}
}

func TestDispatcherCancelKeyAbortsQueuedJobs(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	defer d.Stop()

	block := make(chan struct{})
	started := make(chan struct{})
	if err := d.Submit(Job{Key: "k", Name: "running", Run: func(ctx context.Context) {
		close(started)
		<-block
	}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	aborted := make(chan error, 1)
	if err := d.Submit(Job{Key: "k", Name: "queued",
		Run:   func(context.Context) { t.Errorf("canceled job ran") },
		Abort: func(err error) { aborted <- err },
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// the dispatch loop moves the submission into the key queue asynchronously
	deadline := time.Now().Add(time.Second)
	for {
		d.CancelKey("k")
		select {
		case err := <-aborted:
			if !errors.Is(err, ErrJobCanceled) {
				t.Fatalf("expected ErrJobCanceled, got %v", err)
			}
			close(block)
			return
		case <-time.After(5 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			close(block)
			t.Fatalf("queued job was not aborted")
		}
	}
}

func TestPoolShrinksToMin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newJobChannelPool(ctx, 1, 3, time.Hour, nil)
	for i := 0; i < 3; i++ {
		p.spawnWorker()
	}
	if running, _ := p.size(); running != 3 {
		t.Fatalf("expected 3 workers, got %d", running)
	}

	p.mu.Lock()
	for _, meta := range p.idle {
		meta.lastUsed = time.Now().Add(-2 * time.Hour)
	}
	p.mu.Unlock()
	p.shutdownExpired()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if running, _ := p.size(); running == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	running, _ := p.size()
	t.Fatalf("expected pool to shrink to 1 worker, got %d", running)
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("jobs did not finish within %s", timeout)
	}
}
