package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"groupbot/internal/clock"
	rtsup "groupbot/internal/runtime/supervisor"
	"groupbot/internal/task/engine"
	"groupbot/internal/task/trigger"
	logx "groupbot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	zone   clock.Zone
	engine *engine.Service

	sup     *rtsup.Supervisor
	entries map[string]*entry

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

func New(cfg Config, zone clock.Zone, eng *engine.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:         log.With(logx.String("comp", "scheduler")),
		cfg:         cfg,
		zone:        zone,
		engine:      eng,
		entries:     map[string]*entry{},
		lastEnqWarn: map[string]time.Time{},
	}
}

func (s *Service) Zone() clock.Zone {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zone
}

// Add registers (or replaces) the named trigger. When the service is running
// the trigger starts immediately; otherwise on Start.
func (s *Service) Add(name string, spec trigger.Spec, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tr, err := trigger.New(name, spec, s.zone)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.removeLocked(name)
	e := &entry{name: name, trig: tr, timeout: timeout, job: job, state: &engine.RunState{}}
	s.entries[name] = e
	if s.sup != nil {
		s.launchLocked(e)
	}
	s.log.Debug("schedule registered",
		logx.String("name", name),
		logx.String("spec", spec.String()),
		logx.Duration("timeout", timeout),
		logx.String("next", formatPreview(tr.Preview(3))),
	)
	return nil
}

// Remove unschedules name. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(strings.TrimSpace(name))
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// RemovePrefix unschedules every trigger whose name starts with prefix.
func (s *Service) RemovePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for name := range s.entries {
		if strings.HasPrefix(name, prefix) && s.removeLocked(name) {
			n++
		}
	}
	return n
}

func (s *Service) removeLocked(name string) bool {
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	delete(s.entries, name)
	return true
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.sup != nil {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	for _, e := range s.entries {
		s.launchLocked(e)
	}
	s.log.Info("scheduler started", logx.String("tz", s.zone.Location().String()), logx.Int("schedules", len(s.entries)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	for _, e := range s.entries {
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
	}
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("scheduler stop incomplete", logx.Err(err))
	}
}

// SetZone rebinds every trigger to z. Running loops restart so the next
// firing is recomputed in the new zone.
func (s *Service) SetZone(z clock.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.zone.Location().String() == z.Location().String() {
		return nil
	}
	s.zone = z
	for name, e := range s.entries {
		tr, err := trigger.New(name, e.trig.Spec(), z)
		if err != nil {
			return err
		}
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		e.trig = tr
		if s.sup != nil {
			s.launchLocked(e)
		}
	}
	s.log.Info("scheduler zone changed", logx.String("tz", z.Location().String()))
	return nil
}

func (s *Service) launchLocked(e *entry) {
	ctx, cancel := context.WithCancel(s.sup.Context())
	e.cancel = cancel
	tr := e.trig
	s.sup.GoRestart("trigger."+e.name, func(_ context.Context) error {
		for f := range tr.Firings(ctx) {
			e.setPrev(f.At)
			s.dispatch(e, f)
		}
		return ctx.Err()
	})
}

func (s *Service) dispatch(e *entry, f trigger.Firing) {
	if s.engine == nil {
		return
	}
	job := e.job
	err := s.engine.Enqueue(engine.Task{
		Name:     e.name,
		Schedule: e.name,
		Timeout:  e.timeout,
		State:    e.state,
		Overlap:  engine.OverlapSkipIfRunning,
		Run:      func(ctx context.Context) error { return job(ctx, f) },
	})
	s.reportEnqueueError(e.name, f, err)
}

func (s *Service) reportEnqueueError(name string, f trigger.Firing, err error) {
	if err == nil || errors.Is(err, engine.ErrAlreadyRunning) {
		return
	}
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()
	s.log.Warn("schedule failed to enqueue firing", logx.String("schedule", name), logx.Time("at", f.At), logx.Err(err))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.zone.Location().String()}
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	eng := s.engine
	s.mu.Unlock()

	for _, e := range entries {
		it := ScheduleInfo{
			Name:    e.name,
			Spec:    e.trig.Spec().String(),
			Timeout: e.timeout,
			Prev:    e.lastFired(),
			Running: e.state.Running(),
		}
		if next := e.trig.Preview(1); len(next) == 1 {
			it.Next = next[0]
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })
	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	return snap
}

func formatPreview(ts []time.Time) string {
	parts := make([]string, 0, len(ts))
	for _, t := range ts {
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}
