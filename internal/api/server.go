// Package api exposes the simulation world over HTTP and reports service
// health over gRPC.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/signalsfoundry/gridworld-simulator/internal/logging"
	"github.com/signalsfoundry/gridworld-simulator/internal/observability"
	"github.com/signalsfoundry/gridworld-simulator/internal/sim/state"
)

// LoopStatus reports whether the scheduling loop is running.
// timectrl.TimeController implements it.
type LoopStatus interface {
	Running() bool
}

// Server serves the HTTP surface for one World.
type Server struct {
	world   *state.World
	log     logging.Logger
	metrics *observability.WorldCollector
	loop    LoopStatus

	manualStep bool
	defaultDT  time.Duration
	now        func() time.Time
}

// Option customises a Server.
type Option func(*Server)

// WithMetrics records per-route request metrics.
func WithMetrics(c *observability.WorldCollector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithLoop reports the scheduling loop in /healthz.
func WithLoop(l LoopStatus) Option {
	return func(s *Server) { s.loop = l }
}

// WithManualStep enables POST /api/step; dt is used when the request does
// not carry one.
func WithManualStep(dt time.Duration) Option {
	return func(s *Server) {
		s.manualStep = true
		if dt > 0 {
			s.defaultDT = dt
		}
	}
}

// WithClock overrides the wall clock used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer builds a Server around world.
func NewServer(world *state.World, log logging.Logger, opts ...Option) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{
		world:     world,
		log:       log,
		defaultDT: time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, http.MethodGet, "/api/snapshot", s.handleSnapshot)
	s.handle(mux, http.MethodPost, "/api/event/demand_surge", s.handleDemandSurge)
	s.handle(mux, http.MethodPost, "/api/event/fault", s.handleFault)
	s.handle(mux, http.MethodPost, "/api/event/recover", s.handleRecover)
	s.handle(mux, http.MethodPost, "/api/step", s.handleStep)
	s.handle(mux, http.MethodGet, "/healthz", s.handleHealth)
	return mux
}

func (s *Server) handle(mux *http.ServeMux, method, route string, fn http.HandlerFunc) {
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			w.Header().Set("Allow", method)
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{
				Error: "method " + r.Method + " not allowed",
				Kind:  KindMethod,
			})
			return
		}
		fn(w, r)
	})
	h = withTracing(route, h)
	h = withRequestLogger(s.log, route, h)
	if s.metrics != nil {
		h = s.metrics.HTTPMiddleware(route, h)
	}
	mux.Handle(route, h)
}

type okResponse struct {
	OK   bool    `json:"ok"`
	Tick *uint64 `json:"tick,omitempty"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Tick    uint64 `json:"tick"`
	Running bool   `json:"running"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	doc := NewSnapshotDocument(s.world.Snapshot(), s.now())

	if acceptsProtobuf(r) {
		body, err := doc.MarshalProto()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", ContentTypeProtobuf)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDemandSurge(w http.ResponseWriter, r *http.Request) {
	var req DemandSurgeRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.world.InjectDemandSurge(r.Context(), req.NodeID, req.Fraction()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleFault(w http.ResponseWriter, r *http.Request) {
	var req FaultRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.world.InjectSegmentFault(r.Context(), req.SegID, req.ReasonOrDefault()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req RecoverRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.world.RecoverSegment(r.Context(), req.SegID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	if !s.manualStep {
		s.fail(w, r, ErrManualStepDisabled)
		return
	}
	var req StepRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}
	dt, err := req.Duration(s.defaultDT)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.world.Step(r.Context(), dt)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true, Tick: &report.Tick})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Tick: s.world.Tick()}
	if s.loop != nil {
		resp.Running = s.loop.Running()
		if !resp.Running && !s.manualStep {
			resp.Status = "stopped"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// fail writes an error body. Client errors are logged at debug, server
// errors at error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := StatusFor(err)
	ctx := r.Context()
	log := logging.LoggerFromContext(ctx, s.log)
	if status >= http.StatusInternalServerError {
		log.Error(ctx, "request failed", logging.Err(err), logging.String("kind", kind))
	} else {
		log.Debug(ctx, "request rejected", logging.Err(err), logging.String("kind", kind))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func acceptsProtobuf(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(strings.TrimSpace(mediaType), ContentTypeProtobuf) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
