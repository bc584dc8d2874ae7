package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/gridworld-simulator/internal/api"
	"github.com/signalsfoundry/gridworld-simulator/internal/config"
	"github.com/signalsfoundry/gridworld-simulator/internal/logging"
	"github.com/signalsfoundry/gridworld-simulator/internal/observability"
	"github.com/signalsfoundry/gridworld-simulator/internal/sim/state"
	"github.com/signalsfoundry/gridworld-simulator/timectrl"
)

const shutdownTimeout = 5 * time.Second

type serveFlags struct {
	world       worldFlags
	httpAddr    string
	grpcAddr    string
	metricsAddr string
	mode        string
	speed       float64
	manualStep  bool
}

func newServeCommand(root *rootOptions) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation loop and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := newLogger(cfg, cmd.ErrOrStderr())

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			svc, err := NewService(ctx, cfg, log)
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}

	d := config.Default()
	fs := cmd.Flags()
	f.world.register(fs)
	fs.StringVar(&f.httpAddr, "http-addr", d.HTTPAddr, "HTTP API listen address")
	fs.StringVar(&f.grpcAddr, "grpc-addr", d.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", d.MetricsAddr, "Prometheus /metrics listen address (empty disables)")
	fs.StringVar(&f.mode, "mode", d.TimeMode, "Time mode: realtime or accelerated")
	fs.Float64Var(&f.speed, "speed", d.Speed, "Speed-up factor in accelerated mode")
	fs.BoolVar(&f.manualStep, "manual-step", false, "Disable the tick loop and step only via POST /api/step")
	return cmd
}

func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	f.world.apply(fs, cfg)
	if fs.Changed("http-addr") {
		cfg.HTTPAddr = f.httpAddr
	}
	if fs.Changed("grpc-addr") {
		cfg.GRPCAddr = f.grpcAddr
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if fs.Changed("mode") {
		cfg.TimeMode = f.mode
	}
	if fs.Changed("speed") {
		cfg.Speed = f.speed
	}
	if fs.Changed("manual-step") {
		cfg.ManualStep = f.manualStep
	}
}

// Service is one running simulator process: the world, its tick loop and
// the network listeners in front of it.
type Service struct {
	cfg   config.Config
	log   logging.Logger
	world *state.World
	loop  *timectrl.TimeController

	httpSrv    *http.Server
	httpLis    net.Listener
	metricsSrv *http.Server
	metricsLis net.Listener
	health     *api.HealthServer
	grpcLis    net.Listener

	shutdownTracing func(context.Context) error
}

// NewService bootstraps the world and binds every listener. Bootstrap
// errors are returned before anything starts serving.
func NewService(ctx context.Context, cfg config.Config, log logging.Logger) (svc *Service, err error) {
	if log == nil {
		log = logging.Noop()
	}
	s := &Service{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			s.closeListeners()
			observability.ShutdownWithTimeout(context.Background(), s.shutdownTracing, log)
		}
	}()

	s.shutdownTracing, err = observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	worldMetrics, err := observability.NewWorldCollector(promReg)
	if err != nil {
		return nil, fmt.Errorf("init world metrics: %w", err)
	}
	loopMetrics, err := observability.NewLoopCollector(promReg)
	if err != nil {
		return nil, fmt.Errorf("init loop metrics: %w", err)
	}

	s.world, err = buildWorld(ctx, cfg, log.With(logging.Component("world")), state.WithMetricsRecorder(worldMetrics))
	if err != nil {
		return nil, err
	}

	s.loop = timectrl.NewTimeController(s.world.SimTime(), cfg.Tick, cfg.Mode(),
		timectrl.WithSpeed(cfg.Speed),
		timectrl.WithLogger(log.With(logging.Component("loop"))),
		timectrl.WithMetrics(loopMetrics),
	)
	world := s.world
	s.loop.AddListener(func(ctx context.Context, _ time.Time, dt time.Duration) error {
		_, err := world.Step(ctx, dt)
		return err
	})

	apiOpts := []api.Option{api.WithMetrics(worldMetrics), api.WithLoop(s.loop)}
	if cfg.ManualStep {
		apiOpts = append(apiOpts, api.WithManualStep(cfg.Tick))
	}
	s.httpSrv = &http.Server{
		Handler:           api.NewServer(s.world, log.With(logging.Component("http")), apiOpts...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if s.httpLis, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
		return nil, fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", worldMetrics.Handler())
		s.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		if s.metricsLis, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
			return nil, fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
		}
	}

	s.health = api.NewHealthServer(log.With(logging.Component("grpc")), worldMetrics)
	if cfg.GRPCAddr != "" {
		if s.grpcLis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			return nil, fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
		}
	}
	return s, nil
}

// World exposes the live world.
func (s *Service) World() *state.World { return s.world }

// HTTPAddr is the bound HTTP API address.
func (s *Service) HTTPAddr() string { return s.httpLis.Addr().String() }

// MetricsAddr is the bound metrics address, or "" when disabled.
func (s *Service) MetricsAddr() string {
	if s.metricsLis == nil {
		return ""
	}
	return s.metricsLis.Addr().String()
}

// GRPCAddr is the bound gRPC health address, or "" when disabled.
func (s *Service) GRPCAddr() string {
	if s.grpcLis == nil {
		return ""
	}
	return s.grpcLis.Addr().String()
}

// Run serves until ctx is cancelled or a component fails, then shuts every
// component down.
func (s *Service) Run(ctx context.Context) error {
	defer observability.ShutdownWithTimeout(context.Background(), s.shutdownTracing, s.log)

	g, gctx := errgroup.WithContext(ctx)

	if s.cfg.ManualStep {
		s.health.SetServing(true)
		s.log.Info(gctx, "manual stepping enabled; tick loop not started")
	} else {
		g.Go(func() error {
			s.health.SetServing(true)
			defer s.health.SetServing(false)
			return s.loop.Run(gctx)
		})
	}

	g.Go(func() error {
		s.log.Info(gctx, "serving HTTP API", logging.String("addr", s.HTTPAddr()))
		if err := s.httpSrv.Serve(s.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if s.metricsSrv != nil {
		g.Go(func() error {
			s.log.Info(gctx, "serving Prometheus metrics", logging.String("addr", s.MetricsAddr()))
			if err := s.metricsSrv.Serve(s.metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	if s.grpcLis != nil {
		g.Go(func() error {
			if err := s.health.Serve(s.grpcLis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info(context.Background(), "shutting down", logging.Uint64("tick", s.world.Tick()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if s.metricsSrv != nil {
			if err := s.metricsSrv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
			}
		}
		s.health.Stop()
		return errors.Join(errs...)
	})

	return g.Wait()
}

func (s *Service) closeListeners() {
	for _, lis := range []net.Listener{s.httpLis, s.metricsLis, s.grpcLis} {
		if lis != nil {
			_ = lis.Close()
		}
	}
}
