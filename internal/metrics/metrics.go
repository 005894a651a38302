// Package metrics turns bus events into Prometheus series.
package metrics

import (
	"context"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"groupbot/internal/automation"
	"groupbot/internal/eventbus"
	"groupbot/internal/task/engine"
	"groupbot/internal/transport"
)

const namespace = "groupbot"

// Recorder owns the registry and the series fed from the bus.
type Recorder struct {
	reg *prom.Registry

	toggles    *prom.CounterVec
	broadcasts *prom.CounterVec
	sends      *prom.CounterVec
	firings    *prom.CounterVec
	firingDur  *prom.HistogramVec
	busDropped prom.GaugeFunc
}

// New registers every series on a fresh registry, plus the Go and process
// collectors. bus may be nil.
func New(bus eventbus.Bus) *Recorder {
	r := &Recorder{reg: prom.NewRegistry()}
	r.toggles = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "toggles_total",
		Help:      "Group mode decisions by action and result",
	}, []string{"action", "result"})
	r.broadcasts = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "broadcasts_total",
		Help:      "Per-group promotion sequences by result",
	}, []string{"result"})
	r.sends = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "sends_total",
		Help:      "Outbound messages by kind and result",
	}, []string{"kind", "result"})
	r.firings = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "firings_total",
		Help:      "Scheduled firings by schedule and result",
	}, []string{"schedule", "result"})
	r.firingDur = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "firing_duration_seconds",
		Help:      "Run time of scheduled firings",
		Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"schedule"})
	r.reg.MustRegister(r.toggles, r.broadcasts, r.sends, r.firings, r.firingDur,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if bus != nil {
		r.busDropped = prom.NewGaugeFunc(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_dropped_events",
			Help:      "Events lost to slow bus subscribers",
		}, func() float64 { return float64(bus.Dropped()) })
		r.reg.MustRegister(r.busDropped)
	}
	return r
}

func (r *Recorder) Registry() *prom.Registry { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Run records events from bus until ctx ends.
func (r *Recorder) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(512)
	defer unsub()
	eventbus.Consume(ctx, ch, r.Observe, "group.", "transport.", "task.")
}

// Observe records a single event. Unknown types are ignored.
func (r *Recorder) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeToggle:
		if ev, ok := e.Data.(automation.ToggleEvent); ok {
			r.toggles.WithLabelValues(toggleAction(ev.Desired), ev.Result).Inc()
		}
	case eventbus.TypeBroadcast:
		if ev, ok := e.Data.(automation.BroadcastEvent); ok {
			res := "ok"
			if ev.Failure != automation.FailureNone {
				res = string(ev.Failure)
			}
			r.broadcasts.WithLabelValues(res).Inc()
		}
	case eventbus.TypeSend:
		if ev, ok := e.Data.(automation.SendEvent); ok {
			res := "ok"
			if !ev.OK {
				res = "failed"
			}
			r.sends.WithLabelValues(ev.Kind, res).Inc()
		}
	case eventbus.TypeTaskDone, eventbus.TypeTaskFailed:
		if ev, ok := e.Data.(engine.TaskEvent); ok {
			res := "ok"
			if e.Type == eventbus.TypeTaskFailed {
				res = "failed"
			}
			r.firings.WithLabelValues(ev.Schedule, res).Inc()
			r.firingDur.WithLabelValues(ev.Schedule).Observe(ev.Duration.Seconds())
		}
	case eventbus.TypeTaskSkipped, eventbus.TypeTaskDropped:
		if ev, ok := e.Data.(engine.TaskEvent); ok {
			res := "skipped"
			if e.Type == eventbus.TypeTaskDropped {
				res = "dropped"
			}
			r.firings.WithLabelValues(ev.Schedule, res).Inc()
		}
	}
}

func toggleAction(m transport.GroupMode) string {
	if m == transport.ModeOpen {
		return "open"
	}
	return "restrict"
}
