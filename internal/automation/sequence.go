package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"groupbot/internal/clock"
	"groupbot/internal/eventbus"
	"groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

// StepError reports the step that ended one group's broadcast.
type StepError struct {
	Group transport.GroupID
	Step  string
	Kind  FailureKind
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("broadcast %s: step %s: %v", e.Group, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// BroadcastReport summarizes one sequence run.
type BroadcastReport struct {
	Group    transport.GroupID
	Sends    int
	Skipped  int
	Duration time.Duration
	Err      error // nil or *StepError
}

type SequencerDeps struct {
	Transport transport.Transport
	Assets    AssetStore
	Zone      clock.Zone
	Log       logx.Logger
	Bus       eventbus.Bus
}

// Sequencer sends the broadcast plan to one group at a time.
type Sequencer struct {
	tr     transport.Transport
	assets AssetStore
	zone   clock.Zone
	log    logx.Logger
	bus    eventbus.Bus

	mu   sync.RWMutex
	plan Plan
}

func NewSequencer(deps SequencerDeps, plan Plan) *Sequencer {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Zone.Clock == nil {
		deps.Zone = clock.New(nil, deps.Zone.Location())
	}
	return &Sequencer{
		tr:     deps.Transport,
		assets: deps.Assets,
		zone:   deps.Zone,
		log:    log.With(logx.String("comp", "broadcast")),
		bus:    deps.Bus,
		plan:   plan,
	}
}

func (s *Sequencer) SetPlan(p Plan) {
	s.mu.Lock()
	s.plan = p
	s.mu.Unlock()
}

func (s *Sequencer) Plan() Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan
}

// Run executes the plan against group in order:
//
//  1. fetch metadata (the mention list);
//  2. up to MaxImageSteps image+caption sends, each followed by ImageDelay,
//     absent assets skipped without waiting;
//  3. payment text, then PaymentDelay;
//  4. link text mentioning every member.
//
// The first failing step ends the run for this group only.
func (s *Sequencer) Run(ctx context.Context, group transport.GroupID, trigger string) BroadcastReport {
	start := s.zone.Now()
	rep := BroadcastReport{Group: group}
	rep.Err = s.run(ctx, group, &rep)
	rep.Duration = s.zone.Since(start)
	s.report(trigger, rep)
	return rep
}

func (s *Sequencer) run(ctx context.Context, group transport.GroupID, rep *BroadcastReport) error {
	plan := s.Plan()
	fail := func(step string, kind FailureKind, err error) error {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			kind = FailureCanceled
		}
		return &StepError{Group: group, Step: step, Kind: kind, Err: err}
	}

	meta, err := s.tr.FetchGroupMetadata(ctx, group)
	if err != nil {
		return fail("metadata", FailureFetch, err)
	}

	images := plan.Images
	if len(images) > MaxImageSteps {
		images = images[:MaxImageSteps]
	}
	for i, step := range images {
		name := fmt.Sprintf("image[%d]", i)
		var data []byte
		var ok bool
		if s.assets != nil {
			data, ok, err = s.assets.Load(ctx, step.Asset)
			if err != nil {
				return fail(name, FailureAsset, err)
			}
		}
		if !ok {
			rep.Skipped++
			s.log.Debug("broadcast asset absent; step skipped",
				logx.Stringer("group", group), logx.String("asset", step.Asset))
			continue
		}
		if err := s.send(ctx, group, "image", func() error {
			return s.tr.SendImage(ctx, group, data, step.Caption)
		}); err != nil {
			return fail(name, FailureSend, err)
		}
		rep.Sends++
		if err := s.zone.Sleep(ctx, plan.ImageDelay); err != nil {
			return fail(name, FailureCanceled, err)
		}
	}

	if err := s.send(ctx, group, "text", func() error {
		return s.tr.SendText(ctx, group, plan.PaymentText, nil)
	}); err != nil {
		return fail("payment", FailureSend, err)
	}
	rep.Sends++
	if err := s.zone.Sleep(ctx, plan.PaymentDelay); err != nil {
		return fail("payment", FailureCanceled, err)
	}

	mentions := meta.MemberIDs()
	if err := s.send(ctx, group, "mention", func() error {
		return s.tr.SendText(ctx, group, plan.LinkText, mentions)
	}); err != nil {
		return fail("link", FailureSend, err)
	}
	rep.Sends++
	return nil
}

func (s *Sequencer) send(ctx context.Context, group transport.GroupID, kind string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := fn()
	publishSend(s.bus, group, kind, err)
	return err
}

func (s *Sequencer) report(trigger string, rep BroadcastReport) {
	ev := BroadcastEvent{
		Group:    rep.Group,
		Trigger:  trigger,
		Sends:    rep.Sends,
		Skipped:  rep.Skipped,
		Duration: rep.Duration,
	}
	log := s.log.With(
		logx.Stringer("group", rep.Group),
		logx.String("trigger", trigger),
		logx.Int("sends", rep.Sends),
		logx.Int("skipped", rep.Skipped),
		logx.Duration("took", rep.Duration),
	)
	if rep.Err != nil {
		var se *StepError
		if errors.As(rep.Err, &se) {
			ev.Failure = se.Kind
			log = log.With(logx.String("step", se.Step), logx.String("failure", string(se.Kind)))
		}
		ev.Error = rep.Err.Error()
		log.Warn("broadcast aborted for group", logx.Err(rep.Err))
	} else {
		log.Info("broadcast sent")
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeBroadcast, Data: ev})
	}
}
