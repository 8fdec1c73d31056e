package events

import (
	"testing"
	"time"
)

func TestBus_FanOut(t *testing.T) {
	b := NewBus(4)
	defer b.Close()

	a := b.Subscribe()
	c := b.Subscribe()

	ev := SessionStarted{SessionID: "s1", Provider: "mock", StartedAt: time.Now()}
	b.Publish(ev)

	for _, ch := range []<-chan Event{a, c} {
		select {
		case got := <-ch:
			if got.EventType() != TypeSessionStarted {
				t.Errorf("expected sessionStarted, got %s", got.EventType())
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the event")
		}
	}
}

func TestBus_DropsOldestWhenFull(t *testing.T) {
	b := NewBus(2)
	defer b.Close()

	ch := b.Subscribe()

	// Three publishes into a depth-2 buffer: the first event is dropped.
	b.Publish(SessionStarted{SessionID: "s1"})
	b.Publish(SessionStarted{SessionID: "s2"})
	b.Publish(SessionStarted{SessionID: "s3"})

	got := []string{}
	for i := 0; i < 2; i++ {
		ev := <-ch
		got = append(got, ev.(SessionStarted).SessionID)
	}
	if got[0] != "s2" || got[1] != "s3" {
		t.Errorf("expected oldest dropped, got %v", got)
	}

	select {
	case ev := <-ch:
		t.Errorf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	b := NewBus(1)
	defer b.Close()
	b.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(SessionStarted{SessionID: "s"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestBus_Close(t *testing.T) {
	b := NewBus(2)
	ch := b.Subscribe()

	b.Close()
	b.Close() // idempotent

	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel closed")
	}

	// Publish and subscribe after close must not panic.
	b.Publish(SessionStarted{SessionID: "s"})
	if _, ok := <-b.Subscribe(); ok {
		t.Error("expected closed channel from post-close subscribe")
	}
}
