package event

import (
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPublishFansOut(t *testing.T) {
	b := NewBus(4)
	a, unsubA := b.Subscribe()
	c, unsubC := b.Subscribe()
	defer unsubA()
	defer unsubC()

	id := uuid.New()
	b.Publish(New(DetectorStatus, id, "Idle"))
	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Kind != DetectorStatus || e.Detector != id || e.Payload != "Idle" {
				t.Errorf("unexpected event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBus(1)
	ch, unsub := b.Subscribe()
	defer unsub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(New(Log, uuid.Nil, i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if e := <-ch; e.Payload != 0 {
		t.Errorf("expected the first event to be kept, got %v", e.Payload)
	}
}

func TestUnsubscribeCloses(t *testing.T) {
	b := NewBus(1)
	ch, unsub := b.Subscribe()
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	if n := b.Subscribers(); n != 0 {
		t.Errorf("%d subscribers left", n)
	}
	b.Publish(New(Log, uuid.Nil, "after"))
}

func TestWriterPublishesLogLines(t *testing.T) {
	b := NewBus(2)
	ch, unsub := b.Subscribe()
	defer unsub()
	l := log.New(Writer{Bus: b}, "", 0)
	l.Println("detector open")
	e := <-ch
	if e.Kind != Log || e.Payload != "detector open" {
		t.Errorf("unexpected event %+v", e)
	}
}
