package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeToggle})
	b.Publish(Event{Type: TypeToggle}) // buffer full, dropped

	if got := len(ch); got != 1 {
		t.Fatalf("buffered=%d want 1", got)
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", b.Dropped())
	}
	if e := <-ch; e.Time.IsZero() {
		t.Fatalf("publish should stamp time")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	b.Publish(Event{Type: TypeSend})
}

func TestConsumeFiltersByPrefix(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(8)

	b.Publish(Event{Type: TypeTaskDone})
	b.Publish(Event{Type: TypeToggle})
	b.Publish(Event{Type: TypeBroadcast})
	unsub()

	var got []string
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	Consume(ctx, ch, func(e Event) { got = append(got, e.Type) }, "group.")

	if len(got) != 2 || got[0] != TypeToggle || got[1] != TypeBroadcast {
		t.Fatalf("got %v", got)
	}
}
