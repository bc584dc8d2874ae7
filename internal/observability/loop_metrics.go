package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LoopCollector exposes scheduling-loop metrics. It implements
// timectrl.Metrics.
type LoopCollector struct {
	gatherer prometheus.Gatherer

	TickDuration   prometheus.Histogram
	TicksTotal     prometheus.Counter
	ListenerErrors prometheus.Counter
	Overruns       prometheus.Counter
}

// NewLoopCollector registers loop metrics against the provided registerer.
func NewLoopCollector(reg prometheus.Registerer) (*LoopCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tickHistogram, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridworld_loop_tick_duration_seconds",
		Help:    "Wall-clock time spent firing all listeners for one tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "gridworld_loop_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gridworld_loop_ticks_total",
		Help: "Cumulative number of ticks fired by the scheduling loop.",
	}), "gridworld_loop_ticks_total")
	if err != nil {
		return nil, err
	}

	listenerErrors, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gridworld_loop_listener_errors_total",
		Help: "Tick listeners that returned an error or panicked.",
	}), "gridworld_loop_listener_errors_total")
	if err != nil {
		return nil, err
	}

	overruns, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gridworld_loop_overruns_total",
		Help: "Ticks whose listeners took longer than the tick interval.",
	}), "gridworld_loop_overruns_total")
	if err != nil {
		return nil, err
	}

	return &LoopCollector{
		gatherer:       gatherer,
		TickDuration:   tickHistogram,
		TicksTotal:     ticks,
		ListenerErrors: listenerErrors,
		Overruns:       overruns,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *LoopCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick records one tick and how long its listeners took.
func (c *LoopCollector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	c.TicksTotal.Inc()
	c.TickDuration.Observe(d.Seconds())
}

// IncListenerError increments the listener failure counter.
func (c *LoopCollector) IncListenerError() {
	if c == nil {
		return
	}
	c.ListenerErrors.Inc()
}

// IncOverrun increments the overrun counter.
func (c *LoopCollector) IncOverrun() {
	if c == nil {
		return
	}
	c.Overruns.Inc()
}
