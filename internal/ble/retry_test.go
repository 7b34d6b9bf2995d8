package ble

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second, // still capped
	}

	for i, want := range delays {
		got := backoffDelay(i, 30*time.Second)
		if got != want {
			t.Errorf("backoffDelay(%d, 30s) = %v, want %v", i, got, want)
		}
	}
}

func TestBackoffDelayOverflowProtection(t *testing.T) {
	// 1<<100 would overflow without the cap.
	if got := backoffDelay(100, 30*time.Second); got != 30*time.Second {
		t.Errorf("backoffDelay(100, 30s) = %v, want 30s", got)
	}
	if got := backoffDelay(29, time.Minute); got <= 0 || got > time.Minute {
		t.Errorf("backoffDelay(29, 1m) = %v, want within (0, 1m]", got)
	}
}

func TestConnectWithRetrySucceedsAfterFailures(t *testing.T) {
	adapter := newMockAdapter([]Peripheral{testBand})
	adapter.connectErr = errors.New("le-connection-abort-by-local")
	adapter.failConnects = 2
	link, rec := newTestLink(t, adapter)

	err := ConnectWithRetry(context.Background(), link, testBand, RetryOptions{Attempts: 3})
	if err != nil {
		t.Fatalf("ConnectWithRetry() error = %v", err)
	}
	if !link.IsConnected() {
		t.Error("link should be connected")
	}
	if got := adapter.ConnectCalls(); got != 3 {
		t.Errorf("Connect calls = %d, want 3", got)
	}
	sleeps := adapter.clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("backoff sleeps = %v, want [1s 2s]", sleeps)
	}
	if edges := rec.Edges(); len(edges) != 1 || !edges[0] {
		t.Errorf("edges = %v, want [true]", edges)
	}
}

func TestConnectWithRetryGivesUp(t *testing.T) {
	adapter := newMockAdapter([]Peripheral{testBand})
	adapter.connectErr = errors.New("le-connection-abort-by-local")
	link, rec := newTestLink(t, adapter)

	err := ConnectWithRetry(context.Background(), link, testBand, RetryOptions{Attempts: 4, MaxDelay: 2 * time.Second})
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("ConnectWithRetry() error = %v, want ErrConnectFailed", err)
	}
	if got := adapter.ConnectCalls(); got != 4 {
		t.Errorf("Connect calls = %d, want 4", got)
	}
	sleeps := adapter.clock.Sleeps()
	want := []time.Duration{time.Second, 2 * time.Second, 2 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("backoff sleeps = %v, want %v", sleeps, want)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, sleeps[i], want[i])
		}
	}
	if len(rec.Edges()) != 0 {
		t.Errorf("observer fired %v for failed connects", rec.Edges())
	}
}

func TestConnectWithRetryStopsOnPermanentErrors(t *testing.T) {
	t.Run("unsupported", func(t *testing.T) {
		adapter := newMockAdapter([]Peripheral{testBand})
		adapter.enableErr = errors.New("no adapter")
		link, _ := newTestLink(t, adapter)

		err := ConnectWithRetry(context.Background(), link, testBand, RetryOptions{Attempts: 5})
		if !errors.Is(err, ErrUnsupportedTransport) {
			t.Fatalf("error = %v, want ErrUnsupportedTransport", err)
		}
		if len(adapter.clock.Sleeps()) != 0 {
			t.Error("should not back off on a permanent error")
		}
	})

	t.Run("already connected", func(t *testing.T) {
		link, adapter, _ := connectTestLink(t)

		err := ConnectWithRetry(context.Background(), link, testBand, RetryOptions{Attempts: 5})
		if !errors.Is(err, ErrAlreadyConnected) {
			t.Fatalf("error = %v, want ErrAlreadyConnected", err)
		}
		if got := adapter.ConnectCalls(); got != 1 {
			t.Errorf("Connect calls = %d, want 1", got)
		}
	})
}

func TestConnectWithRetryCancelledDuringBackoff(t *testing.T) {
	adapter := newMockAdapter([]Peripheral{testBand})
	adapter.connectErr = errors.New("le-connection-abort-by-local")
	link, _ := newTestLink(t, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ConnectWithRetry(ctx, link, testBand, RetryOptions{Attempts: 3})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
