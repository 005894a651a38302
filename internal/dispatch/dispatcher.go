// Package dispatch fans inbound transport updates out to handlers on a
// bounded worker pool.
package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	rtsup "groupbot/internal/runtime/supervisor"
	"groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

type Config struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
	SlowThreshold  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = time.Minute
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = 750 * time.Millisecond
	}
	return c
}

// Dispatcher runs every handler, in order, for each update.
type Dispatcher struct {
	cfg      Config
	log      logx.Logger
	handlers []HandlerFunc

	runMu sync.Mutex
	sup   *rtsup.Supervisor

	handled atomic.Uint64
	dropped atomic.Uint64
}

func New(cfg Config, log logx.Logger, handlers ...HandlerFunc) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "dispatch"))
	cfg = cfg.withDefaults()
	d := &Dispatcher{cfg: cfg, log: log}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		d.handlers = append(d.handlers, Chain(h,
			MWPanicRecover(log),
			MWRequestLog(log, cfg.SlowThreshold),
			MWTimeout(cfg.HandlerTimeout),
		))
	}
	return d
}

func (d *Dispatcher) Supervisor() *rtsup.Supervisor {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return d.sup
}

// Handled counts updates that went through every handler.
func (d *Dispatcher) Handled() uint64 { return d.handled.Load() }

// Dropped counts updates refused because the queue was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Run consumes updates until ctx ends or the channel closes.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan transport.Update) error {
	jobs := make(chan transport.Update, d.cfg.QueueSize)
	sup := rtsup.New(ctx, rtsup.WithLogger(d.log), rtsup.WithCancelOnError(false))
	d.runMu.Lock()
	d.sup = sup
	d.runMu.Unlock()

	for i := 0; i < d.cfg.Workers; i++ {
		idx := i
		sup.GoRestart("dispatch.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case up, ok := <-jobs:
					if !ok {
						return nil
					}
					d.handle(c, idx, up)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}
	d.log.Info("update dispatcher started", logx.Int("workers", d.cfg.Workers), logx.Int("queue", d.cfg.QueueSize))

	defer func() {
		close(jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Debug("dispatcher workers did not drain", logx.Err(err))
		}
		cancel()
		d.runMu.Lock()
		d.sup = nil
		d.runMu.Unlock()
		d.log.Info("update dispatcher stopped", logx.Uint64("handled", d.Handled()), logx.Uint64("dropped", d.Dropped()))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case jobs <- up:
			default:
				if d.dropped.Add(1)%100 == 1 {
					d.log.Warn("update queue full; dropping", logx.Uint64("dropped_total", d.dropped.Load()))
				}
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, worker int, up transport.Update) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in dispatch worker", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	req := &Request{Update: up, ReqID: uuid.NewString()}
	req.Logger = d.log.With(logx.String("req_id", req.ReqID))
	for _, h := range d.handlers {
		if ctx.Err() != nil {
			return
		}
		_ = h(ctx, req)
	}
	d.handled.Add(1)
}
