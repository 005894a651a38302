package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

func msgUpdate(text string) transport.Update {
	return transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{Group: "-1", IsGroup: true, From: "7", Text: text}}
}

func TestDispatcherRunsHandlersInOrder(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})

	first := func(_ context.Context, r *Request) error {
		mu.Lock()
		seen = append(seen, "first:"+r.Update.Message.Text)
		mu.Unlock()
		return errors.New("ignored")
	}
	second := func(_ context.Context, r *Request) error {
		mu.Lock()
		seen = append(seen, "second:"+r.Update.Message.Text)
		mu.Unlock()
		close(done)
		return nil
	}

	d := New(Config{Workers: 1}, logx.Nop(), first, nil, second)
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan transport.Update, 1)
	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(ctx, updates) }()

	updates <- msgUpdate("hi")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers never ran")
	}
	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "first:hi" || seen[1] != "second:hi" {
		t.Fatalf("seen=%v", seen)
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	t.Parallel()
	var after atomic.Int32
	done := make(chan struct{}, 2)

	boom := func(context.Context, *Request) error { panic("bad handler") }
	ok := func(context.Context, *Request) error {
		after.Add(1)
		done <- struct{}{}
		return nil
	}
	d := New(Config{Workers: 1}, logx.Nop(), boom, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan transport.Update, 2)
	go func() { _ = d.Run(ctx, updates) }()

	updates <- msgUpdate("a")
	updates <- msgUpdate("b")
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("update %d not handled", i)
		}
	}
	if after.Load() != 2 {
		t.Fatalf("later handler ran %d times", after.Load())
	}
}

func TestDispatcherStopsWhenChannelCloses(t *testing.T) {
	t.Parallel()
	d := New(Config{}, logx.Nop())
	updates := make(chan transport.Update)
	close(updates)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background(), updates) }()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
}

func TestMWTimeoutSetsDeadline(t *testing.T) {
	t.Parallel()
	h := Chain(func(ctx context.Context, _ *Request) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	}, MWTimeout(time.Second))
	if err := h(context.Background(), &Request{}); err != nil {
		t.Fatal(err)
	}
}
