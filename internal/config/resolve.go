package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"groupbot/internal/automation"
	"groupbot/internal/clock"
	"groupbot/internal/dispatch"
	"groupbot/internal/observability/httpserver"
	"groupbot/internal/storage"
	"groupbot/internal/task/engine"
	"groupbot/internal/transport"
	"groupbot/internal/transport/guard"
	"groupbot/internal/transport/telegram"
	logx "groupbot/pkg/logx"
)

const (
	DefaultClose          = "06:30"
	DefaultOpen           = "22:30"
	DefaultCallTimeout    = 30 * time.Second
	DefaultPollTimeout    = 10 * time.Second
	DefaultTaskTimeout    = 10 * time.Minute
	DefaultHTTPAddr       = "127.0.0.1:8080"
	DefaultPprofPrefix    = "/debug/pprof/"
	DefaultAssetsDir      = "."
	defaultSendRatePerSec = 1.0
)

// Settings is a Config resolved into the types the components take.
type Settings struct {
	Timezone string

	Log       logx.Config
	Telegram  telegram.Config
	Dispatch  dispatch.Config
	HTTP      httpserver.Config
	Guard     guard.Config
	Storage   storage.Config
	Engine    engine.Config
	Scheduler bool

	AssetsDir string

	Daily        automation.DailyConfig
	DailyTimeout time.Duration
	Notices      automation.Notices

	ManualEnabled bool
	Gatekeeper    automation.GatekeeperConfig

	Promotions   automation.PromotionConfig
	PromoTimeout time.Duration
	Plan         automation.Plan
}

// Resolve applies defaults and parses every field. All problems are joined
// into the returned error.
func Resolve(cfg *Config) (*Settings, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := parseDuration(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	s := &Settings{Timezone: strings.TrimSpace(cfg.Automation.Timezone)}
	if s.Timezone == "" {
		s.Timezone = clock.DefaultZone
	}
	if _, err := clock.LoadLocation(s.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("automation.timezone: %w", err))
	}

	lg := cfg.Logging
	s.Log = logx.Config{
		Level:   lg.Level,
		Console: lg.Console,
		File:    logx.FileConfig{Enabled: lg.File.Enabled, Path: lg.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lg.Chat.Enabled,
			Group:      lg.Chat.Group,
			MinLevel:   lg.Chat.MinLevel,
			RatePerSec: lg.Chat.RatePerSec,
		},
	}

	callTimeout := dur("transport.call_timeout", cfg.Transport.CallTimeout, DefaultCallTimeout)
	rps := cfg.Transport.SendRatePerSec
	if rps < 0 {
		errs = append(errs, errors.New("transport.send_rate_per_sec: must be >= 0"))
	} else if rps == 0 {
		rps = defaultSendRatePerSec
	}
	s.Guard = guard.Config{CallTimeout: callTimeout, SendRatePerSec: rps, SendBurst: max(1, cfg.Transport.SendBurst)}

	s.Telegram = telegram.Config{
		Token:          strings.TrimSpace(cfg.Telegram.Token),
		APIURL:         strings.TrimSpace(cfg.Telegram.APIURL),
		PollTimeout:    dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, DefaultPollTimeout),
		RequestTimeout: callTimeout,
	}
	s.Dispatch = dispatch.Config{Workers: cfg.Telegram.UpdateWorkers}

	h := cfg.HTTP
	s.HTTP = httpserver.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		PprofPrefix:   strings.TrimSpace(h.PprofPrefix),
		ReadTimeout:   dur("http.read_timeout", h.ReadTimeout, 10*time.Second),
		WriteTimeout:  dur("http.write_timeout", h.WriteTimeout, 0),
		IdleTimeout:   dur("http.idle_timeout", h.IdleTimeout, 60*time.Second),
	}
	if s.HTTP.Addr == "" {
		s.HTTP.Addr = DefaultHTTPAddr
	}
	if s.HTTP.PprofPrefix == "" {
		s.HTTP.PprofPrefix = DefaultPprofPrefix
	}

	if st := cfg.Storage; st != nil {
		s.Storage = storage.Config{
			Driver:      strings.ToLower(strings.TrimSpace(st.Driver)),
			Path:        strings.TrimSpace(st.Path),
			BusyTimeout: dur("storage.busy_timeout", st.BusyTimeout, 0),
		}
		switch s.Storage.Driver {
		case "", "none", "file":
		case "sqlite":
			if s.Storage.Path == "" {
				errs = append(errs, errors.New("storage.path: required when storage.driver=sqlite"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
	}

	sc := cfg.Scheduler
	s.Scheduler = sc.Enabled == nil || *sc.Enabled
	if sc.Workers < 0 || sc.QueueSize < 0 || sc.HistorySize < 0 {
		errs = append(errs, errors.New("scheduler: workers, queue_size and history_size must be >= 0"))
	}
	s.Engine = engine.Config{
		Enabled:        s.Scheduler,
		Workers:        sc.Workers,
		QueueSize:      sc.QueueSize,
		DefaultTimeout: dur("scheduler.default_timeout", sc.DefaultTimeout, DefaultTaskTimeout),
		MaxQueueDelay:  dur("scheduler.max_queue_delay", sc.MaxQueueDelay, 0),
		HistorySize:    sc.HistorySize,
	}

	s.AssetsDir = strings.TrimSpace(cfg.Automation.Assets)
	if s.AssetsDir == "" {
		s.AssetsDir = DefaultAssetsDir
	}

	errs = append(errs, s.resolveGroups(cfg.Automation, dur)...)
	errs = append(errs, s.resolvePromotions(cfg.Automation.Promotions, dur)...)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

type durFunc func(path, raw string, def time.Duration) time.Duration

func (s *Settings) resolveGroups(a AutomationConfig, dur durFunc) []error {
	var errs []error
	g := a.Groups
	clockField := func(path, raw, def string) automation.TimeOfDay {
		if strings.TrimSpace(raw) == "" {
			raw = def
		}
		t, err := automation.ParseTimeOfDay(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
		return t
	}

	s.Daily = automation.DailyConfig{
		Close:     clockField("automation.groups.close", g.Close, DefaultClose),
		Open:      clockField("automation.groups.open", g.Open, DefaultOpen),
		Groups:    groupIDs(g.Managed),
		PollEvery: dur("automation.groups.poll_every", g.PollEvery, automation.DefaultPollEvery),
	}
	s.DailyTimeout = dur("automation.groups.timeout", g.Timeout, 0)

	s.Notices = automation.DefaultNotices()
	s.Notices.Restricted = orDefault(g.Notices.Restricted, s.Notices.Restricted)
	s.Notices.Open = orDefault(g.Notices.Open, s.Notices.Open)
	s.Notices.Contact = orDefault(g.Contact, s.Notices.Contact)

	m := a.Manual
	s.ManualEnabled = m.Enabled == nil || *m.Enabled
	allowed := s.Daily.Groups
	if m.Groups != nil {
		allowed = groupIDs(m.Groups)
	}
	texts := automation.DefaultManualTexts()
	mt := m.Texts
	texts.Closed = orDefault(mt.Closed, texts.Closed)
	texts.Opened = orDefault(mt.Opened, texts.Opened)
	texts.AlreadyClosed = orDefault(mt.AlreadyClosed, texts.AlreadyClosed)
	texts.AlreadyOpen = orDefault(mt.AlreadyOpen, texts.AlreadyOpen)
	texts.GroupOnly = orDefault(mt.GroupOnly, texts.GroupOnly)
	texts.NotAllowed = orDefault(mt.NotAllowed, texts.NotAllowed)
	texts.NoMetadata = orDefault(mt.NoMetadata, texts.NoMetadata)
	texts.AdminOnly = orDefault(mt.AdminOnly, texts.AdminOnly)
	texts.ChangeFailed = orDefault(mt.ChangeFailed, texts.ChangeFailed)
	s.Gatekeeper = automation.GatekeeperConfig{Groups: allowed, Texts: texts}
	return errs
}

func (s *Settings) resolvePromotions(p PromotionsConfig, dur durFunc) []error {
	var errs []error
	raw := p.Triggers
	if raw == nil {
		raw = automation.DefaultPromotionTriggers
	}
	specs, err := automation.ParseTriggers(raw)
	if err != nil {
		errs = append(errs, fmt.Errorf("automation.promotions.triggers: %w", err))
	}
	s.Promotions = automation.PromotionConfig{Triggers: specs, Targets: groupIDs(p.Targets)}
	s.PromoTimeout = dur("automation.promotions.timeout", p.Timeout, 0)

	plan := automation.DefaultPlan()
	plan.ImageDelay = dur("automation.promotions.image_delay", p.ImageDelay, plan.ImageDelay)
	plan.PaymentDelay = dur("automation.promotions.payment_delay", p.PaymentDelay, plan.PaymentDelay)
	plan.PaymentText = orDefault(p.PaymentText, plan.PaymentText)
	plan.LinkText = orDefault(p.LinkText, plan.LinkText)
	if p.Images != nil {
		plan.Images = make([]automation.ImageStep, 0, len(p.Images))
		for i, img := range p.Images {
			name := strings.TrimSpace(img.Asset)
			if name == "" {
				errs = append(errs, fmt.Errorf("automation.promotions.images[%d]: asset is required", i))
				continue
			}
			plan.Images = append(plan.Images, automation.ImageStep{Asset: name, Caption: img.Caption})
		}
	}
	s.Plan = plan
	return errs
}

func groupIDs(in []string) []transport.GroupID {
	out := make([]transport.GroupID, 0, len(in))
	for _, g := range in {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, transport.GroupID(g))
		}
	}
	return out
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
