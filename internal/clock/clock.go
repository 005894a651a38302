// Package clock projects wall-clock time into the civil zone the bot runs in.
package clock

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
)

const DefaultZone = "Africa/Maputo"

// Zone is a clockwork.Clock bound to one *time.Location.
// Schedulers read time and suspend only through it.
type Zone struct {
	clockwork.Clock
	loc *time.Location
}

// New binds c to loc. A nil clock means the real clock; a nil loc means UTC.
func New(c clockwork.Clock, loc *time.Location) Zone {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return Zone{Clock: c, loc: loc}
}

// Load resolves an IANA zone name (empty means DefaultZone) and binds the real clock to it.
func Load(name string) (Zone, error) {
	loc, err := LoadLocation(name)
	if err != nil {
		return Zone{}, err
	}
	return New(nil, loc), nil
}

func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", name, err)
	}
	return loc, nil
}

func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

// Now returns the current instant expressed in the bound zone.
func (z Zone) Now() time.Time {
	if z.Clock == nil {
		return time.Now().In(z.Location())
	}
	return z.Clock.Now().In(z.Location())
}

// HourMinute returns the civil {hour, minute} of t in the bound zone.
func (z Zone) HourMinute(t time.Time) (int, int) {
	lt := t.In(z.Location())
	return lt.Hour(), lt.Minute()
}

// Sleep suspends for d or until ctx is done. d <= 0 returns immediately.
func (z Zone) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	c := z.Clock
	if c == nil {
		c = clockwork.NewRealClock()
	}
	t := c.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}

// SleepUntil suspends until the instant at (or ctx is done).
func (z Zone) SleepUntil(ctx context.Context, at time.Time) error {
	return z.Sleep(ctx, at.Sub(z.Now()))
}
