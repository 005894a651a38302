// Package eventbus is an in-memory, non-blocking event fan-out.
//
// Publish never blocks. Subscribers get buffered channels and a slow
// subscriber loses events instead of stalling the publisher.
package eventbus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the bot.
const (
	TypeToggle      = "group.toggle"    // Data: automation.ToggleEvent
	TypeBroadcast   = "group.broadcast" // Data: automation.BroadcastEvent
	TypeSend        = "transport.send"  // Data: automation.SendEvent
	TypeTaskStarted = "task.started"    // Data: engine.TaskEvent
	TypeTaskDone    = "task.finished"   // Data: engine.TaskEvent
	TypeTaskFailed  = "task.failed"     // Data: engine.TaskEvent
	TypeTaskSkipped = "task.skipped"    // Data: engine.TaskEvent
	TypeTaskDropped = "task.dropped"    // Data: engine.TaskEvent
	TypeConfig      = "config.reloaded" // Data: string summary
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

// New returns an in-memory bus that owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		b.deliver(ch, e)
	}
}

// deliver tolerates a concurrent unsubscribe closing ch.
func (b *memBus) deliver(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

// Consume calls fn for every event whose type starts with one of prefixes
// (all events when none are given) until ctx ends or the channel closes.
func Consume(ctx context.Context, ch <-chan Event, fn func(Event), prefixes ...string) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if matches(e.Type, prefixes) {
				fn(e)
			}
		}
	}
}

func matches(typ string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}
