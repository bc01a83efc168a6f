package feed

import (
	"context"
	"testing"
	"time"

	"udhaar.org/internal/ledger"
)

func TestPublishReachesSubscribers(t *testing.T) {
	f := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := f.Subscribe(ctx)
	f.Publish(Event{Type: ledger.TypeCredit, Amount: 500})

	select {
	case evt := <-ch:
		if evt.Amount != 500 || evt.Type != ledger.TypeCredit {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	f := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := f.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel never closed")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	f := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = f.Subscribe(ctx)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			f.Publish(Event{Amount: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}
