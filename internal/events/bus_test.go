package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func receive(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-s.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBus(4)
	defer b.Close()
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers")
	}
	s := b.Subscribe()
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	b.Unsubscribe(s)
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe")
	}
	if _, ok := <-s.C; ok {
		t.Fatal("channel should be closed")
	}
}

func TestTypeFilter(t *testing.T) {
	b := NewBus(8)
	defer b.Close()
	all := b.Subscribe()
	done := b.Subscribe(ProcessingComplete)

	b.Publish(StartEvent("u1", "a", "url"))
	b.Publish(CompleteEvent("u1", "a", true, ""))

	if e := receive(t, all); e.Type != ProcessingStart || e.ItemType != "url" {
		t.Errorf("first event = %+v", e)
	}
	if e := receive(t, all); e.Type != ProcessingComplete {
		t.Errorf("second event = %+v", e)
	}
	e := receive(t, done)
	if e.Type != ProcessingComplete || e.Success == nil || !*e.Success {
		t.Errorf("filtered event = %+v", e)
	}
	select {
	case extra := <-done.C:
		t.Errorf("unexpected event %+v", extra)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := NewBus(2)
	defer b.Close()
	s := b.Subscribe()

	for _, msg := range []string{"one", "two", "three", "four"} {
		b.Publish(UpdateEvent("u1", "a", msg))
	}
	time.Sleep(50 * time.Millisecond)

	if e := receive(t, s); e.Message != "three" {
		t.Errorf("first kept = %q", e.Message)
	}
	if e := receive(t, s); e.Message != "four" {
		t.Errorf("second kept = %q", e.Message)
	}
}

func TestCloseIsSafe(t *testing.T) {
	b := NewBus(1)
	s := b.Subscribe()
	b.Close()
	if _, ok := <-s.C; ok {
		t.Fatal("expected closed channel")
	}
	if b.SubscriberCount() != 0 {
		t.Fatal("expected 0 subscribers after close")
	}
	b.Publish(NewItemEvent("u1", "x"))
	b.Close()
}

func TestServeSSEFiltersByUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	b := NewBus(8)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/events?types=new-item,processing-complete", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		b.ServeSSE(c, "u1")
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for b.SubscriberCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Publish(NewItemEvent("u2", "other"))
	b.Publish(StartEvent("u1", "mine", "text"))
	b.Publish(NewItemEvent("u1", "mine"))
	b.Publish(CompleteEvent("u1", "mine", false, "no metadata"))
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if strings.Contains(body, "other") {
		t.Errorf("leaked another user's event: %q", body)
	}
	if strings.Contains(body, "processing-start") {
		t.Errorf("type filter ignored: %q", body)
	}
	if !strings.Contains(body, "event:new-item") || !strings.Contains(body, `"success":false`) {
		t.Errorf("missing events: %q", body)
	}
}

func TestServeSSERejectsUnknownType(t *testing.T) {
	gin.SetMode(gin.TestMode)
	b := NewBus(1)
	defer b.Close()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/events?types=bogus", nil)
	b.ServeSSE(c, "u1")
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d", w.Code)
	}
}
