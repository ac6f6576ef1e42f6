package sse

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func waitForCount(t *testing.T, b *Broker, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d (got %d)", want, b.ClientCount())
}

func recvEvent(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before event arrived")
		}
		return string(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return ""
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	ch := b.Subscribe()
	waitForCount(t, b, 1)

	b.Unsubscribe(ch)
	waitForCount(t, b, 0)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	ch := b.Subscribe()
	waitForCount(t, b, 1)

	b.Publish(Event{Type: "test.event", Data: map[string]string{"k": "v"}})

	msg := recvEvent(t, ch)
	if !strings.Contains(msg, "event: test.event") {
		t.Errorf("missing event type in %q", msg)
	}
	if !strings.Contains(msg, `"k":"v"`) {
		t.Errorf("missing data in %q", msg)
	}
}

func TestPublishNodeEvent(t *testing.T) {
	b := NewBroker(time.Hour) // throttle tree.updated out of the way after the first
	defer b.Close()

	ch := b.Subscribe()
	waitForCount(t, b, 1)

	b.PublishNodeEvent("created", "/notes/a.md", "")

	msg := recvEvent(t, ch)
	if !strings.Contains(msg, "event: node.created") {
		t.Errorf("missing node.created in %q", msg)
	}
	if !strings.Contains(msg, `"path":"/notes/a.md"`) {
		t.Errorf("missing path in %q", msg)
	}
	if strings.Contains(msg, "old_path") {
		t.Errorf("old_path should be absent for creates: %q", msg)
	}

	// The first change also emits one tree.updated.
	msg = recvEvent(t, ch)
	if !strings.Contains(msg, "event: tree.updated") {
		t.Errorf("expected tree.updated, got %q", msg)
	}
}

func TestPublishNodeEventRenameCarriesOldPath(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	ch := b.Subscribe()
	waitForCount(t, b, 1)

	b.PublishNodeEvent("renamed", "/b.md", "/a.md")

	msg := recvEvent(t, ch)
	if !strings.Contains(msg, "event: node.renamed") {
		t.Errorf("missing node.renamed in %q", msg)
	}
	if !strings.Contains(msg, `"old_path":"/a.md"`) {
		t.Errorf("missing old_path in %q", msg)
	}
}

func TestTreeUpdatedThrottle(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	ch := b.Subscribe()
	waitForCount(t, b, 1)

	for i := 0; i < 5; i++ {
		b.PublishNodeEvent("modified", "/a.md", "")
	}

	var nodeEvents, treeEvents int
	deadline := time.After(2 * time.Second)
	for nodeEvents < 5 {
		select {
		case msg := <-ch:
			s := string(msg)
			switch {
			case strings.Contains(s, "event: node.modified"):
				nodeEvents++
			case strings.Contains(s, "event: tree.updated"):
				treeEvents++
			}
		case <-deadline:
			t.Fatalf("timed out: %d node events, %d tree events", nodeEvents, treeEvents)
		}
	}
	if treeEvents != 1 {
		t.Errorf("tree.updated count = %d, want 1 (throttled)", treeEvents)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	req := httptest.NewRequest("GET", "/api/events", nil)
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.ServeHTTP(rec, req)
	}()

	waitForCount(t, b, 1)
	b.Publish(Event{Type: "ping", Data: map[string]string{}})

	// The recorder is only safe to inspect once the handler has returned.
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "event: ping") {
		t.Errorf("body missing event: %q", rec.Body.String())
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	b := NewBroker(time.Second)
	ch := b.Subscribe()
	waitForCount(t, b, 1)

	b.Close()

	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}

	// None of these may block or panic after Close.
	b.Publish(Event{Type: "x", Data: nil})
	b.PublishNodeEvent("created", "/a.md", "")
	b.Unsubscribe(ch)
	if n := b.ClientCount(); n != 0 {
		t.Errorf("client count after close = %d", n)
	}

	ch2 := b.Subscribe()
	if _, ok := <-ch2; ok {
		t.Error("subscribe after close should return a closed channel")
	}
}
