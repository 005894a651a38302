package trigger

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"groupbot/internal/clock"
)

// Firing is one instant at which a trigger matched.
type Firing struct {
	Trigger string
	Seq     uint64    // 1-based within one range over Firings
	At      time.Time // scheduled instant, in the trigger's zone
	Woke    time.Time // clock reading when the sequence resumed
}

// MinuteKey is the firing's civil minute, e.g. "2025-01-01T06:32".
func (f Firing) MinuteKey() string { return f.At.Format("2006-01-02T15:04") }

type Trigger struct {
	name  string
	spec  Spec
	sched cron.Schedule
	clock clock.Zone
}

func New(name string, spec Spec, z clock.Zone) (*Trigger, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("trigger name required")
	}
	sched, err := spec.Schedule()
	if err != nil {
		return nil, err
	}
	return &Trigger{name: name, spec: spec, sched: sched, clock: z}, nil
}

func (t *Trigger) Name() string { return t.name }
func (t *Trigger) Spec() Spec   { return t.spec }

// Next returns the first instant strictly after from, or zero if none.
func (t *Trigger) Next(from time.Time) time.Time {
	return t.sched.Next(from.In(t.clock.Location()))
}

// Preview lists the next n instants from the clock's current time.
func (t *Trigger) Preview(n int) []time.Time {
	out := make([]time.Time, 0, max(n, 0))
	at := t.clock.Now()
	for i := 0; i < n; i++ {
		at = t.Next(at)
		if at.IsZero() {
			break
		}
		out = append(out, at)
	}
	return out
}

// Firings yields every future firing until ctx ends or the consumer stops.
//
// Nothing is computed until iteration starts. Firings missed while the consumer
// was busy are dropped rather than replayed.
func (t *Trigger) Firings(ctx context.Context) iter.Seq[Firing] {
	return func(yield func(Firing) bool) {
		var seq uint64
		next := t.Next(t.clock.Now())
		for !next.IsZero() {
			if err := t.clock.SleepUntil(ctx, next); err != nil {
				return
			}
			// The timer may fire early by the clock's resolution.
			if now := t.clock.Now(); now.Before(next) {
				continue
			}
			seq++
			if !yield(Firing{Trigger: t.name, Seq: seq, At: next, Woke: t.clock.Now()}) {
				return
			}
			after := t.Next(next)
			if now := t.clock.Now(); !after.IsZero() && !after.After(now) {
				after = t.Next(now)
			}
			next = after
		}
	}
}
