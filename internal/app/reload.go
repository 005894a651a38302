package app

import (
	"context"
	"slices"
	"strings"

	"groupbot/internal/clock"
	"groupbot/internal/config"
	"groupbot/internal/eventbus"
	"groupbot/internal/task/trigger"
	logx "groupbot/pkg/logx"
)

// reloadLoop applies configs published by the manager. Bursts collapse to the
// newest config; a config that fails to resolve leaves the running settings
// untouched.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}

			sections, attrs, restart := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}

			s, err := config.Resolve(newCfg)
			if err != nil {
				a.log.Warn("config reload rejected; keeping previous settings", logx.Err(err))
				continue
			}
			a.apply(ctx, s)
			lastApplied = newCfg

			if len(restart) > 0 {
				a.log.Warn("some changes take effect after restart", logx.Strings("sections", restart))
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config applied", fields...)
			a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfig, Time: a.clock.Now(), Data: strings.Join(sections, ",")})
		}
	}
}

// apply pushes resolved settings into the running components.
func (a *App) apply(ctx context.Context, s *config.Settings) {
	prev := a.set

	a.logs.Apply(s.Log)
	a.engine.Apply(ctx, s.Engine)

	if s.Timezone != prev.Timezone {
		loc, err := clock.LoadLocation(s.Timezone)
		if err != nil {
			a.log.Warn("timezone not applied", logx.String("tz", s.Timezone), logx.Err(err))
			s.Timezone = prev.Timezone
		} else {
			zone := clock.New(a.clock, loc)
			if err := a.sched.SetZone(zone); err != nil {
				a.log.Warn("scheduler zone not applied", logx.Err(err))
			}
			a.daily.SetZone(zone)
			a.log.Info("timezone changed", logx.String("from", prev.Timezone), logx.String("to", s.Timezone))
		}
	}

	a.toggler.SetNotices(s.Notices)

	a.daily.Update(s.Daily)
	if s.Daily.PollEvery != prev.Daily.PollEvery || s.DailyTimeout != prev.DailyTimeout {
		if err := a.daily.Register(a.sched, s.DailyTimeout); err != nil {
			a.log.Warn("daily poll not rescheduled", logx.Err(err))
		}
	}

	a.seq.SetPlan(s.Plan)
	a.promos.Update(s.Promotions)
	if !sameTriggers(prev.Promotions.Triggers, s.Promotions.Triggers) || s.PromoTimeout != prev.PromoTimeout {
		if err := a.promos.Register(a.sched, s.PromoTimeout); err != nil {
			a.log.Warn("promotion triggers not rescheduled", logx.Err(err))
		}
	}

	a.gate.Update(s.Gatekeeper)
	a.manual.Store(s.ManualEnabled)

	a.http.Reconfigure(a.sup.Context(), s.HTTP)

	if s.Scheduler != prev.Scheduler {
		a.log.Warn("scheduler.enabled changes take effect after restart")
	}
	if s.AssetsDir != prev.AssetsDir {
		a.log.Warn("automation.assets changes take effect after restart")
	}
	for _, h := range config.Hazards(s) {
		a.log.Warn("configuration hazard", logx.String("hazard", h))
	}
	a.set = s
}

func sameTriggers(a, b []trigger.Spec) bool {
	return slices.EqualFunc(a, b, func(x, y trigger.Spec) bool { return x.String() == y.String() })
}
