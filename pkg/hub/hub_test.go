package hub

import (
	"context"
	"testing"
	"time"
)

// attach registers a connection-less client for exercising the fan-out.
func attach(t *testing.T, h *Hub, buffer int) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan Message, buffer)}
	select {
	case h.register <- c:
	case <-time.After(time.Second):
		t.Fatal("register timed out")
	}
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 1s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew(t *testing.T) {
	h := New("frames", nil)
	if h.ClientCount() != 0 {
		t.Error("ClientCount should be 0 initially")
	}
	if h.IsRunning() {
		t.Error("hub should not run before Run")
	}
}

func TestHub_BroadcastToClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New("frames", nil)
	go h.Run(ctx)

	a := attach(t, h, 4)
	b := attach(t, h, 4)
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	h.BroadcastBinary([]byte{0xFF, 0xD8})
	if err := h.BroadcastJSON(map[string]int{"frames": 3}); err != nil {
		t.Fatalf("BroadcastJSON failed: %v", err)
	}

	for name, c := range map[string]*Client{"a": a, "b": b} {
		first := <-c.send
		if first.Type != BinaryMessage || len(first.Data) != 2 {
			t.Errorf("client %s: first message = %+v", name, first)
		}
		second := <-c.send
		if second.Type != JSONMessage || string(second.Data) != `{"frames":3}` {
			t.Errorf("client %s: second message = %s", name, second.Data)
		}
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New("frames", nil)
	go h.Run(ctx)

	slow := attach(t, h, 1)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.BroadcastBinary([]byte{1})
	h.BroadcastBinary([]byte{2})
	waitFor(t, func() bool { return h.ClientCount() == 0 })

	// The queued message is still readable, then the channel is closed.
	<-slow.send
	if _, ok := <-slow.send; ok {
		t.Error("slow client's channel should be closed")
	}
}

func TestHub_Unregister(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New("status", nil)
	go h.Run(ctx)

	c := attach(t, h, 1)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.unregister <- c
	waitFor(t, func() bool { return h.ClientCount() == 0 })

	// Unregistering twice is harmless.
	h.unregister <- c
}

func TestHub_StopClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New("frames", nil)
	go h.Run(ctx)

	c := attach(t, h, 1)
	waitFor(t, func() bool { return h.IsRunning() && h.ClientCount() == 1 })

	cancel()
	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	if _, ok := <-c.send; ok {
		t.Error("client channel should be closed on stop")
	}
	if h.IsRunning() {
		t.Error("hub should not be running")
	}
	if NewClient(h, nil) != nil {
		t.Error("NewClient on a stopped hub should return nil")
	}
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	h := New("frames", nil) // not running

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			h.BroadcastBinary([]byte{byte(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked")
	}
	if h.Dropped() == 0 {
		t.Error("expected dropped broadcasts once the queue filled")
	}
}
