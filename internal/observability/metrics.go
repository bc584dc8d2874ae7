package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/gridworld-simulator/internal/sim/state"
)

// WorldCollector bundles Prometheus metrics for the simulated grid and the
// API surface. It implements state.MetricsRecorder.
type WorldCollector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
	RPCRequests   *prometheus.CounterVec

	Tick            prometheus.Gauge
	TotalDemand     prometheus.Gauge
	TotalSupply     prometheus.Gauge
	TotalShortfall  prometheus.Gauge
	EnergizedNodes  prometheus.Gauge
	FaultedSegments prometheus.Gauge
	NodeShortfall   *prometheus.GaugeVec
	NodeSupply      *prometheus.GaugeVec
	StepDuration    prometheus.Histogram
	Events          *prometheus.CounterVec
}

var _ state.MetricsRecorder = (*WorldCollector)(nil)

// NewWorldCollector registers grid metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewWorldCollector(reg prometheus.Registerer) (*WorldCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &WorldCollector{gatherer: gatherer}
	var err error

	if c.HTTPRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridworld_http_requests_total",
		Help: "Total number of handled HTTP requests, labeled by method, route, and status code.",
	}, []string{"method", "route", "code"}), "gridworld_http_requests_total"); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gridworld_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"}), "gridworld_http_request_duration_seconds"); err != nil {
		return nil, err
	}
	if c.RPCRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridworld_grpc_requests_total",
		Help: "Total number of handled gRPC calls, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "gridworld_grpc_requests_total"); err != nil {
		return nil, err
	}

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.Tick, "gridworld_tick", "Number of completed simulation steps."},
		{&c.TotalDemand, "gridworld_total_demand", "Aggregate demand across all nodes after the last step."},
		{&c.TotalSupply, "gridworld_total_supply", "Aggregate supply allocated on the last step."},
		{&c.TotalShortfall, "gridworld_total_shortfall", "Aggregate unmet demand after the last step."},
		{&c.EnergizedNodes, "gridworld_energized_nodes", "Nodes reachable over healthy segments on the last step."},
		{&c.FaultedSegments, "gridworld_faulted_segments", "Segments currently faulted."},
	}
	for _, g := range gauges {
		gauge, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name)
		if err != nil {
			return nil, err
		}
		*g.dst = gauge
	}

	if c.NodeShortfall, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridworld_node_shortfall",
		Help: "Unmet demand per node after the last step.",
	}, []string{"node"}), "gridworld_node_shortfall"); err != nil {
		return nil, err
	}
	if c.NodeSupply, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridworld_node_supply",
		Help: "Supply allocated per node on the last step.",
	}, []string{"node"}), "gridworld_node_supply"); err != nil {
		return nil, err
	}
	if c.StepDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridworld_step_duration_seconds",
		Help:    "Wall-clock time spent inside a single simulation step.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}), "gridworld_step_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Events, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridworld_events_total",
		Help: "Injected events, labeled by kind and outcome.",
	}, []string{"kind", "outcome"}), "gridworld_events_total"); err != nil {
		return nil, err
	}

	return c, nil
}

// RecordStep updates world gauges from a completed step.
func (c *WorldCollector) RecordStep(report state.StepReport, nodes []state.NodeState, faultedSegments int) {
	if c == nil {
		return
	}
	c.Tick.Set(float64(report.Tick))
	c.TotalDemand.Set(report.TotalDemand)
	c.TotalSupply.Set(report.TotalSupply)
	c.TotalShortfall.Set(report.TotalShortfall)
	c.EnergizedNodes.Set(float64(report.Energized))
	c.FaultedSegments.Set(float64(faultedSegments))
	c.StepDuration.Observe(report.Duration.Seconds())
	for _, n := range nodes {
		c.NodeShortfall.WithLabelValues(n.Name).Set(n.Shortfall)
		c.NodeSupply.WithLabelValues(n.Name).Set(n.Supply)
	}
}

// RecordEvent counts an injection attempt.
func (c *WorldCollector) RecordEvent(kind state.EventKind, outcome string) {
	if c == nil {
		return
	}
	c.Events.WithLabelValues(kind.String(), outcome).Inc()
}

// HTTPMiddleware records request counts and durations for next. route is
// used as the label so that path parameters cannot blow up cardinality.
func (c *WorldCollector) HTTPMiddleware(route string, next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(m.Code)).Inc()
		c.HTTPDurations.WithLabelValues(r.Method, route).Observe(m.Duration.Seconds())
	})
}

// UnaryServerInterceptor records request counts for unary RPCs.
func (c *WorldCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if c == nil || c.RPCRequests == nil {
			return resp, err
		}
		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *WorldCollector) Handler() http.Handler {
	return handlerFor(c.gatherer)
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *WorldCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func handlerFor(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register resolves AlreadyRegisteredError to the existing collector so
// that repeated construction against one registry is harmless.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	return register(reg, vec, name)
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	return register(reg, vec, name)
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	return register(reg, vec, name)
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	return register(reg, gauge, name)
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	return register(reg, hist, name)
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	return register(reg, counter, name)
}
