package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"groupbot/internal/assets"
	"groupbot/internal/automation"
	"groupbot/internal/clock"
	"groupbot/internal/config"
	"groupbot/internal/dispatch"
	"groupbot/internal/eventbus"
	"groupbot/internal/metrics"
	"groupbot/internal/observability/httpserver"
	rtsup "groupbot/internal/runtime/supervisor"
	"groupbot/internal/storage"
	"groupbot/internal/task/engine"
	"groupbot/internal/task/scheduler"
	"groupbot/internal/transport"
	"groupbot/internal/transport/guard"
	"groupbot/internal/transport/telegram"
	logx "groupbot/pkg/logx"
)

// Options override what New would otherwise build from the config.
type Options struct {
	// Adapter replaces the Telegram adapter.
	Adapter transport.Adapter
	// Clock drives schedules and sequence delays; nil is the real clock.
	Clock clockwork.Clock
}

type App struct {
	cfgm *config.Manager
	set  *config.Settings
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	clock clockwork.Clock

	adapter transport.Adapter
	tr      transport.Transport

	toggler *automation.Toggler
	daily   *automation.Daily
	seq     *automation.Sequencer
	promos  *automation.Promotions
	gate    *automation.Gatekeeper
	manual  atomic.Bool

	engine  *engine.Service
	sched   *scheduler.Service
	disp    *dispatch.Dispatcher
	metrics *metrics.Recorder
	http    *httpserver.Service
	sd      *systemdNotifier

	started time.Time
	updates chan transport.Update
}

// New loads the config behind cfgm and wires every component. Nothing runs
// until Start.
func New(cfgm *config.Manager, opts Options) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	set, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(set.Log)
	log = log.With(logx.String("comp", "app"))

	c := opts.Clock
	if c == nil {
		c = clockwork.NewRealClock()
	}
	loc, err := clock.LoadLocation(set.Timezone)
	if err != nil {
		return nil, err
	}
	zone := clock.New(c, loc)

	store, err := storage.Open(set.Storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", set.Storage.Driver))
	}

	ad := opts.Adapter
	if ad == nil {
		var dir telegram.Directory
		if store != nil {
			dir = store
		}
		tg, err := telegram.New(set.Telegram, dir, log)
		if err != nil {
			closeStore(store)
			return nil, err
		}
		ad = tg
	}
	tr := guard.New(ad, set.Guard)

	bus := eventbus.New()
	var audit automation.Auditor
	var dedup automation.DedupStore
	if store != nil {
		audit, dedup = store, store
	}

	a := &App{
		cfgm:    cfgm,
		set:     set,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		clock:   c,
		adapter: ad,
		tr:      tr,
		updates: make(chan transport.Update, 256),
	}

	a.toggler = automation.NewToggler(automation.TogglerDeps{Transport: tr, Log: log, Bus: bus, Audit: audit}, set.Notices)
	a.daily = automation.NewDaily(set.Daily, a.toggler, zone, log)
	a.seq = automation.NewSequencer(automation.SequencerDeps{
		Transport: tr,
		Assets:    assets.NewDir(set.AssetsDir),
		Zone:      zone,
		Log:       log,
		Bus:       bus,
	}, set.Plan)
	a.promos = automation.NewPromotions(set.Promotions, a.seq, automation.NewFiringLedger(dedup, c), log)
	a.gate = automation.NewGatekeeper(set.Gatekeeper, tr, a.toggler, log)
	a.manual.Store(set.ManualEnabled)

	a.engine = engine.New(set.Engine, log.With(logx.String("comp", "taskengine")), bus)
	a.sched = scheduler.New(scheduler.Config{Enabled: set.Scheduler}, zone, a.engine, log)
	if err := a.daily.Register(a.sched, set.DailyTimeout); err != nil {
		closeStore(store)
		return nil, err
	}
	if err := a.promos.Register(a.sched, set.PromoTimeout); err != nil {
		closeStore(store)
		return nil, err
	}

	a.disp = dispatch.New(set.Dispatch, log, a.recordMember, a.handleCommand)
	a.metrics = metrics.New(bus)
	a.http = httpserver.New(set.HTTP, httpserver.Sources{
		Status:  func() any { return a.Status() },
		Metrics: a.metrics.Handler(),
	}, log)
	a.sd = newSystemdNotifier(log)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.started = a.clock.Now()
	run := a.sup.Context()
	set := a.set

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	for _, h := range config.Hazards(set) {
		a.log.Warn("configuration hazard", logx.String("hazard", h))
	}

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.logs.AttachSender(logSender{a.tr})

	a.sup.Go0("metrics", func(c context.Context) { a.metrics.Run(c, a.bus) })
	a.sup.Go0("eventbus.log", a.logEvents)

	a.engine.Start(run)
	a.sched.Start(run)
	a.http.Reconfigure(run, set.HTTP)

	a.sup.Go("updates.dispatch", func(c context.Context) error {
		return a.disp.Run(c, a.updates)
	})
	a.sup.Go0("groups.audit", a.auditGroups)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sd.Ready(a.sup)
	a.log.Info("app started",
		logx.String("tz", set.Timezone),
		logx.Strings("managed", groupStrings(set.Daily.Groups)),
		logx.Strings("promotion_targets", groupStrings(set.Promotions.Targets)),
		logx.Int("triggers", len(set.Promotions.Triggers)),
	)
	return nil
}

// Stop shuts components down in dependency order. Each step is bounded so a
// stuck component cannot hold the process.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		closeStore(a.store)
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		if err := a.stopStep(ctx, name, limit, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error { return closeStore(a.store) })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

func (a *App) stopStep(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return context.DeadlineExceeded
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			return err
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		return stepCtx.Err()
	}
}

// Status is the payload of GET /status.
type Status struct {
	Started     time.Time                 `json:"started"`
	Uptime      string                    `json:"uptime"`
	Timezone    string                    `json:"timezone"`
	Scheduler   scheduler.Snapshot        `json:"scheduler"`
	Supervisors map[string]rtsup.Counters `json:"supervisors"`
	Handled     uint64                    `json:"updates_handled"`
	Dropped     uint64                    `json:"updates_dropped"`
	BusDropped  uint64                    `json:"bus_dropped"`
}

func (a *App) Status() Status {
	st := Status{
		Started:     a.started,
		Uptime:      a.clock.Since(a.started).Truncate(time.Second).String(),
		Timezone:    a.sched.Zone().Location().String(),
		Scheduler:   a.sched.Snapshot(),
		Supervisors: map[string]rtsup.Counters{},
		Handled:     a.disp.Handled(),
		Dropped:     a.disp.Dropped(),
		BusDropped:  a.bus.Dropped(),
	}
	sups := map[string]*rtsup.Supervisor{
		"app":        a.sup,
		"dispatch":   a.disp.Supervisor(),
		"http":       a.http.Supervisor(),
		"taskengine": a.engine.Supervisor(),
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		sups["adapter"] = sp.Supervisor()
	}
	for name, s := range sups {
		if s != nil {
			st.Supervisors[name] = s.Counters()
		}
	}
	return st
}

// logEvents mirrors bus traffic at debug level.
func (a *App) logEvents(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(128)
	defer unsub()
	eventbus.Consume(ctx, ch, func(e eventbus.Event) {
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	})
}

func closeStore(s storage.Store) error {
	if s == nil {
		return nil
	}
	return s.Close()
}

func groupStrings(gs []transport.GroupID) []string {
	out := make([]string, 0, len(gs))
	for _, g := range gs {
		out = append(out, strings.TrimSpace(g.String()))
	}
	return out
}

// logSender feeds the chat log sink through the group transport.
type logSender struct{ tr transport.Transport }

func (s logSender) SendText(ctx context.Context, group, text string) error {
	return s.tr.SendText(ctx, transport.GroupID(group), text, nil)
}

var _ logx.ChatSender = logSender{}
