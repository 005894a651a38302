package automation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"groupbot/internal/task/scheduler"
	"groupbot/internal/task/trigger"
	"groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

// PromotionSchedulePrefix prefixes every promotion trigger registered on the scheduler.
const PromotionSchedulePrefix = "promo."

// firingTTL covers the firing minute plus scheduler jitter.
const firingTTL = 2 * time.Hour

type PromotionConfig struct {
	Triggers []trigger.Spec
	Targets  []transport.GroupID
}

// FireReport summarizes one promotion firing.
type FireReport struct {
	Trigger   string
	Key       string
	Duplicate bool // key already claimed
	Groups    []BroadcastReport
}

// Err joins the per-group failures.
func (r FireReport) Err() error {
	var errs []error
	for _, g := range r.Groups {
		if g.Err != nil {
			errs = append(errs, g.Err)
		}
	}
	return errors.Join(errs...)
}

// Promotions fans each trigger firing out to the target groups, one group at a time.
type Promotions struct {
	seq    *Sequencer
	ledger Ledger
	log    logx.Logger

	mu  sync.RWMutex
	cfg PromotionConfig
}

func NewPromotions(cfg PromotionConfig, seq *Sequencer, ledger Ledger, log logx.Logger) *Promotions {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Promotions{seq: seq, ledger: ledger, log: log.With(logx.String("comp", "promotions"))}
	p.Update(cfg)
	return p
}

// Update swaps the configuration. Repeated triggers and targets past
// MaxPromotionTargets are dropped.
func (p *Promotions) Update(cfg PromotionConfig) {
	cfg.Triggers = p.uniqueTriggers(cfg.Triggers)
	cfg.Targets = slices.Clone(cfg.Targets)
	if n := len(cfg.Targets); n > MaxPromotionTargets {
		p.log.Warn("promotion targets over limit; extras ignored",
			logx.Int("configured", n),
			logx.Int("limit", MaxPromotionTargets),
			logx.Strings("ignored", groupStrings(cfg.Targets[MaxPromotionTargets:])),
		)
		cfg.Targets = cfg.Targets[:MaxPromotionTargets]
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

func (p *Promotions) uniqueTriggers(specs []trigger.Spec) []trigger.Spec {
	out := make([]trigger.Spec, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, sp := range specs {
		key := sp.String()
		if seen[key] {
			p.log.Warn("duplicate promotion trigger ignored", logx.String("trigger", key))
			continue
		}
		seen[key] = true
		out = append(out, sp)
	}
	return out
}

func (p *Promotions) Config() PromotionConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Fire runs the broadcast for every target. A firing whose schedule and
// minute were already claimed is skipped, whatever the trigger is called.
func (p *Promotions) Fire(ctx context.Context, spec trigger.Spec, f trigger.Firing) FireReport {
	rep := FireReport{Trigger: f.Trigger, Key: firingKey(spec, f)}
	log := p.log.With(logx.String("trigger", f.Trigger), logx.String("minute", f.MinuteKey()))

	if p.ledger != nil {
		ok, err := p.ledger.Claim(ctx, rep.Key, firingTTL)
		if err != nil {
			log.Warn("firing ledger unavailable; continuing", logx.Err(err))
		}
		if !ok {
			rep.Duplicate = true
			log.Info("promotion firing already handled; skipped")
			return rep
		}
	}

	targets := p.Config().Targets
	log.Info("promotion firing", logx.Int("targets", len(targets)))
	for _, g := range targets {
		if ctx.Err() != nil {
			break
		}
		rep.Groups = append(rep.Groups, p.seq.Run(ctx, g, f.Trigger))
	}
	return rep
}

// Register replaces every promotion trigger on s with the configured ones.
func (p *Promotions) Register(s *scheduler.Service, timeout time.Duration) error {
	s.RemovePrefix(PromotionSchedulePrefix)
	var errs []error
	for i, spec := range p.Config().Triggers {
		name := fmt.Sprintf("%s%d", PromotionSchedulePrefix, i+1)
		err := s.Add(name, spec, timeout, func(ctx context.Context, f trigger.Firing) error {
			return p.Fire(ctx, spec, f).Err()
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func firingKey(spec trigger.Spec, f trigger.Firing) string {
	return fmt.Sprintf("promo:%s:%s", spec.String(), f.MinuteKey())
}

// ParseTriggers parses each entry, naming the bad ones.
func ParseTriggers(raw []string) ([]trigger.Spec, error) {
	out := make([]trigger.Spec, 0, len(raw))
	var bad []string
	for _, r := range raw {
		spec, err := trigger.Parse(r)
		if err != nil {
			bad = append(bad, fmt.Sprintf("%q: %v", r, err))
			continue
		}
		out = append(out, spec)
	}
	if len(bad) > 0 {
		return out, fmt.Errorf("invalid promotion triggers: %s", strings.Join(bad, "; "))
	}
	return out, nil
}

func groupStrings(gs []transport.GroupID) []string {
	out := make([]string, len(gs))
	for i, g := range gs {
		out[i] = g.String()
	}
	return out
}
