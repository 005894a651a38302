package scheduler

import (
	"context"
	"sync"
	"time"

	"groupbot/internal/task/engine"
	"groupbot/internal/task/trigger"
)

// Job handles one firing.
type Job func(ctx context.Context, f trigger.Firing) error

type Config struct {
	Enabled bool
}

type entry struct {
	name    string
	trig    *trigger.Trigger
	timeout time.Duration
	job     Job
	state   *engine.RunState
	cancel  context.CancelFunc

	mu   sync.Mutex
	prev time.Time
}

func (e *entry) setPrev(t time.Time) {
	e.mu.Lock()
	e.prev = t
	e.mu.Unlock()
}

func (e *entry) lastFired() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prev
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev,omitzero"`
	Running bool          `json:"running"`
}

type Snapshot struct {
	Enabled   bool            `json:"enabled"`
	Timezone  string          `json:"timezone"`
	Schedules []ScheduleInfo  `json:"schedules"`
	Engine    engine.Snapshot `json:"engine"`
}
