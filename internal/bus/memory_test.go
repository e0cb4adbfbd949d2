package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMemoryBus_PublishDeliversToSubscriber(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	var got atomic.Value
	err := b.Subscribe(ctx, TopicNewMessage, func(ctx context.Context, msg Message) error {
		got.Store(string(msg.Payload))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := b.Publish(ctx, TopicNewMessage, []byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		v, ok := got.Load().(string)
		return ok && v == "hello"
	})
}

func TestMemoryBus_TopicsAreIsolated(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	var answerCount atomic.Int64
	b.Subscribe(ctx, TopicNewAnswer, func(ctx context.Context, msg Message) error {
		answerCount.Add(1)
		return nil
	})

	if err := b.Publish(ctx, TopicNewMessage, []byte("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if answerCount.Load() != 0 {
		t.Errorf("expected no cross-topic delivery, got %d", answerCount.Load())
	}
}

func TestMemoryBus_NackRedelivers(t *testing.T) {
	b := NewMemoryBus(WithRetryBackoff(5 * time.Millisecond))
	defer b.Close()
	ctx := context.Background()

	var attempts []int
	var mu sync.Mutex
	b.Subscribe(ctx, TopicNewAnswer, func(ctx context.Context, msg Message) error {
		mu.Lock()
		attempts = append(attempts, msg.Attempt)
		n := len(attempts)
		mu.Unlock()
		if n < 3 {
			return errors.New("transient failure")
		}
		return nil
	})

	if err := b.Publish(ctx, TopicNewAnswer, []byte("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(attempts) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	for i, a := range attempts {
		if a != i+1 {
			t.Errorf("delivery %d: expected attempt %d, got %d", i, i+1, a)
		}
	}
	if b.Parked() != 0 {
		t.Errorf("expected no parked messages, got %d", b.Parked())
	}
}

func TestMemoryBus_ParksAfterMaxAttempts(t *testing.T) {
	b := NewMemoryBus(WithMaxAttempts(3), WithRetryBackoff(time.Millisecond))
	defer b.Close()
	ctx := context.Background()

	var deliveries atomic.Int64
	b.Subscribe(ctx, TopicNewAnswer, func(ctx context.Context, msg Message) error {
		deliveries.Add(1)
		return errors.New("poison message")
	})

	if err := b.Publish(ctx, TopicNewAnswer, []byte("bad')")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return b.Parked() == 1 })

	if got := deliveries.Load(); got != 3 {
		t.Errorf("expected exactly 3 delivery attempts, got %d", got)
	}

	// Parked messages stay parked.
	time.Sleep(20 * time.Millisecond)
	if got := deliveries.Load(); got != 3 {
		t.Errorf("expected no redelivery after parking, got %d", got)
	}
}

func TestMemoryBus_FlowControlCapsInFlight(t *testing.T) {
	const limit = 3
	b := NewMemoryBus(WithMaxInFlight(limit))
	defer b.Close()
	ctx := context.Background()

	var inFlight, peak atomic.Int64
	release := make(chan struct{})
	b.Subscribe(ctx, TopicNewMessage, func(ctx context.Context, msg Message) error {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return nil
	})

	for i := 0; i < 10; i++ {
		if err := b.Publish(ctx, TopicNewMessage, []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	waitFor(t, time.Second, func() bool { return inFlight.Load() == limit })
	time.Sleep(50 * time.Millisecond)
	if got := peak.Load(); got != limit {
		t.Errorf("expected at most %d in flight, got %d", limit, got)
	}
	close(release)

	waitFor(t, time.Second, func() bool { return inFlight.Load() == 0 })
}

func TestMemoryBus_CloseStopsIntake(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	b.Subscribe(ctx, TopicNewMessage, func(ctx context.Context, msg Message) error { return nil })

	if err := b.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Publish(ctx, TopicNewMessage, []byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := b.Subscribe(ctx, TopicNewMessage, func(ctx context.Context, msg Message) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	// Close is idempotent.
	if err := b.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
}

func TestMemoryBus_CloseWaitsForInFlightHandlers(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	started := make(chan struct{})
	var finished atomic.Bool
	b.Subscribe(ctx, TopicNewMessage, func(ctx context.Context, msg Message) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	if err := b.Publish(ctx, TopicNewMessage, []byte("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-started

	if err := b.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !finished.Load() {
		t.Error("expected Close to wait for the in-flight handler")
	}
}
