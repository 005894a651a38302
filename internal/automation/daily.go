package automation

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"groupbot/internal/clock"
	"groupbot/internal/task/scheduler"
	"groupbot/internal/task/trigger"
	"groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

// DailyPollSchedule is the scheduler name of the minute poll.
const DailyPollSchedule = "daily.poll"

const DefaultPollEvery = 60 * time.Second

// TimeOfDay is a civil {hour, minute} in the bot's zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay reads "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, err := trigger.ParseClock(s)
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

type DailyConfig struct {
	Close     TimeOfDay
	Open      TimeOfDay
	Groups    []transport.GroupID
	PollEvery time.Duration
}

// TickReport describes one poll.
type TickReport struct {
	Key      string
	Skipped  bool                // same minute as the previous poll
	Action   transport.GroupMode // empty when neither time matched
	Outcomes []Outcome
}

// Daily closes and opens the managed groups at two times of day.
type Daily struct {
	toggler *Toggler
	zone    clock.Zone
	log     logx.Logger

	mu     sync.Mutex
	cfg    DailyConfig
	marker *TimeOfDay // last processed minute; nil until the first poll
}

func NewDaily(cfg DailyConfig, toggler *Toggler, zone clock.Zone, log logx.Logger) *Daily {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Daily{
		toggler: toggler,
		zone:    zone,
		log:     log.With(logx.String("comp", "daily")),
		cfg:     normalizeDaily(cfg),
	}
}

func normalizeDaily(cfg DailyConfig) DailyConfig {
	cfg.Groups = slices.Clone(cfg.Groups)
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = DefaultPollEvery
	}
	return cfg
}

// Update swaps the configuration. The minute marker is kept so a reload
// inside an already processed minute does not fire again.
func (d *Daily) Update(cfg DailyConfig) {
	d.mu.Lock()
	d.cfg = normalizeDaily(cfg)
	d.mu.Unlock()
}

func (d *Daily) Config() DailyConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// SetZone rebinds the zone used to derive the civil minute.
func (d *Daily) SetZone(z clock.Zone) {
	d.mu.Lock()
	d.zone = z
	d.mu.Unlock()
}

// Tick evaluates the minute containing now. A second call within the same
// minute is a no-op. CLOSE wins when both times are equal.
func (d *Daily) Tick(ctx context.Context, now time.Time) TickReport {
	d.mu.Lock()
	h, m := d.zone.HourMinute(now)
	cur := TimeOfDay{Hour: h, Minute: m}
	rep := TickReport{Key: cur.String()}
	if d.marker != nil && *d.marker == cur {
		d.mu.Unlock()
		rep.Skipped = true
		return rep
	}
	d.marker = &cur
	cfg := d.cfg
	d.mu.Unlock()

	switch cur {
	case cfg.Close:
		rep.Action = transport.ModeRestricted
	case cfg.Open:
		rep.Action = transport.ModeOpen
	default:
		return rep
	}

	d.log.Info("daily toggle firing",
		logx.String("minute", rep.Key),
		logx.String("desired", string(rep.Action)),
		logx.Int("groups", len(cfg.Groups)),
	)
	for _, g := range cfg.Groups {
		if ctx.Err() != nil {
			break
		}
		rep.Outcomes = append(rep.Outcomes, d.toggler.Apply(ctx, g, rep.Action, WithSource("daily")))
	}
	return rep
}

// Register installs the minute poll on s.
func (d *Daily) Register(s *scheduler.Service, timeout time.Duration) error {
	every := d.Config().PollEvery
	spec := trigger.Spec{Kind: trigger.KindInterval, Every: every, Source: "duration"}
	return s.Add(DailyPollSchedule, spec, timeout, func(ctx context.Context, f trigger.Firing) error {
		d.Tick(ctx, f.Woke)
		return nil
	})
}
