package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	id     int
	closed atomic.Bool
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

var errDial = errors.New("dial failed")

func TestReconnector_ConnectSuccess(t *testing.T) {
	r := NewReconnector(ReconnectorConfig{Name: "test"}, func(ctx context.Context) (*fakeConn, error) {
		return &fakeConn{id: 1}, nil
	})

	conn, err := r.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if conn.id != 1 {
		t.Fatalf("id = %d, want 1", conn.id)
	}

	got, ok := r.Current()
	if !ok || got.id != 1 {
		t.Fatalf("Current() = (%v, %v), want (1, true)", got, ok)
	}
}

func TestReconnector_ConnectFailurePropagates(t *testing.T) {
	r := NewReconnector(ReconnectorConfig{Name: "test"}, func(ctx context.Context) (*fakeConn, error) {
		return nil, errDial
	})

	_, err := r.Connect(context.Background())
	if !errors.Is(err, errDial) {
		t.Fatalf("err = %v, want errDial", err)
	}
	if _, ok := r.Current(); ok {
		t.Fatal("Current() ok = true after failed Connect")
	}
}

func TestReconnector_MonitorReconnectsAfterLoss(t *testing.T) {
	var attempts atomic.Int32
	r := NewReconnector(ReconnectorConfig{
		Name:           "test",
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, func(ctx context.Context) (*fakeConn, error) {
		n := attempts.Add(1)
		if n == 1 {
			// First call is Connect(); succeed immediately.
			return &fakeConn{id: int(n)}, nil
		}
		if n < 3 {
			return nil, errDial
		}
		return &fakeConn{id: int(n)}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := r.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	reconnected := make(chan *fakeConn, 1)
	go r.Monitor(ctx, func(c *fakeConn) {
		reconnected <- c
	})

	r.NotifyLost()

	select {
	case c := <-reconnected:
		if c.id <= first.id {
			t.Fatalf("reconnected id = %d, want > %d", c.id, first.id)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reconnect")
	}

	if !first.closed.Load() {
		// The old connection is owned by the caller, not closed by
		// Reconnector on loss — only Stop closes the current connection.
		_ = first
	}

	r.Stop()
}

func TestReconnector_StopClosesCurrent(t *testing.T) {
	r := NewReconnector(ReconnectorConfig{Name: "test"}, func(ctx context.Context) (*fakeConn, error) {
		return &fakeConn{id: 1}, nil
	})
	conn, err := r.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	r.Stop()

	if !conn.closed.Load() {
		t.Fatal("connection was not closed by Stop")
	}
	if _, ok := r.Current(); ok {
		t.Fatal("Current() ok = true after Stop")
	}
}

func TestReconnector_MonitorStopsOnContextCancel(t *testing.T) {
	r := NewReconnector(ReconnectorConfig{
		Name:           "test",
		InitialBackoff: time.Hour, // never actually waits this long in the test
	}, func(ctx context.Context) (*fakeConn, error) {
		return nil, errDial
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Monitor(ctx, func(c *fakeConn) {})
		close(done)
	}()

	r.NotifyLost()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after context cancellation")
	}
}
