// Package timectrl drives the simulation clock: it fires registered
// listeners once per tick at a fixed wall-clock cadence.
package timectrl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/gridworld-simulator/internal/logging"
)

// Mode describes how the TimeController maps simulation time to wall time.
type Mode int

const (
	// RealTime fires one tick per Tick of wall-clock time.
	RealTime Mode = iota
	// Accelerated fires one tick per Tick/speed of wall-clock time.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// ParseMode maps "realtime" or "accelerated" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "realtime", "real-time":
		return RealTime, nil
	case "accelerated", "fast":
		return Accelerated, nil
	default:
		return RealTime, fmt.Errorf("unknown time mode %q", s)
	}
}

// DefaultSpeed is the Accelerated speed-up when none is configured.
const DefaultSpeed = 10.0

// minInterval keeps an extreme speed-up from spinning the ticker.
const minInterval = time.Millisecond

// ErrInvalidTick is returned by Run when the controller has no positive tick.
var ErrInvalidTick = errors.New("timectrl: tick must be positive")

// Listener is invoked once per tick with the new simulation time and the
// simulated time that elapsed since the previous tick.
type Listener func(ctx context.Context, simTime time.Time, dt time.Duration) error

// Metrics receives loop observations. observability.LoopCollector
// implements it.
type Metrics interface {
	ObserveTick(d time.Duration)
	IncListenerError()
	IncOverrun()
}

// TimeController owns the scheduling loop.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	speed       float64
	currentTime time.Time
	ticks       uint64
	running     bool

	listeners []Listener

	log     logging.Logger
	metrics Metrics
}

// Option customises a TimeController.
type Option func(*TimeController)

// WithSpeed sets the Accelerated speed-up factor.
func WithSpeed(speed float64) Option {
	return func(tc *TimeController) {
		if speed > 0 {
			tc.speed = speed
		}
	}
}

// WithLogger sets the logger used for listener failures.
func WithLogger(l logging.Logger) Option {
	return func(tc *TimeController) {
		if l != nil {
			tc.log = l
		}
	}
}

// WithMetrics attaches loop metrics.
func WithMetrics(m Metrics) Option {
	return func(tc *TimeController) {
		tc.metrics = m
	}
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode, opts ...Option) *TimeController {
	tc := &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		speed:       DefaultSpeed,
		currentTime: start,
		log:         logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(tc)
		}
	}
	return tc
}

// Interval is the wall-clock time between ticks.
func (tc *TimeController) Interval() time.Duration {
	if tc.Mode != Accelerated {
		return tc.Tick
	}
	d := time.Duration(float64(tc.Tick) / tc.speed)
	if d < minInterval {
		return minInterval
	}
	return d
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Ticks returns how many ticks have fired.
func (tc *TimeController) Ticks() uint64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.ticks
}

// Running reports whether the loop is currently active.
func (tc *TimeController) Running() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.running
}

// AddListener registers a callback invoked on every tick. Listeners run
// sequentially in registration order on the loop goroutine.
func (tc *TimeController) AddListener(fn Listener) {
	if fn == nil {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Run drives the loop until ctx is cancelled. A failing or panicking
// listener is logged and the loop carries on.
func (tc *TimeController) Run(ctx context.Context) error {
	return tc.run(ctx, 0)
}

// Start runs the loop in a separate goroutine until duration of simulation
// time has passed (zero means until ctx is cancelled). The returned channel
// is closed when the loop exits.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := tc.run(ctx, duration); err != nil {
			tc.log.Error(ctx, "time controller stopped", logging.Err(err))
		}
	}()
	return done
}

func (tc *TimeController) run(ctx context.Context, duration time.Duration) error {
	if tc.Tick <= 0 {
		return ErrInvalidTick
	}

	tc.mu.Lock()
	if tc.running {
		tc.mu.Unlock()
		return errors.New("timectrl: already running")
	}
	tc.running = true
	tc.currentTime = tc.StartTime
	tc.ticks = 0
	tc.mu.Unlock()

	defer func() {
		tc.mu.Lock()
		tc.running = false
		tc.mu.Unlock()
	}()

	interval := tc.Interval()
	tc.log.Info(ctx, "time controller started",
		logging.String("mode", tc.Mode.String()),
		logging.Duration("tick", tc.Tick),
		logging.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var elapsed time.Duration
	for {
		if duration > 0 && elapsed >= duration {
			return nil
		}
		select {
		case <-ctx.Done():
			tc.log.Info(ctx, "time controller stopping", logging.Uint64("ticks", tc.Ticks()))
			return nil
		case <-ticker.C:
		}

		elapsed += tc.Tick
		tc.advance(ctx, interval)
	}
}

// advance moves the clock one tick forward and fires listeners.
func (tc *TimeController) advance(ctx context.Context, interval time.Duration) {
	began := time.Now()

	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	tc.ticks++
	simTime := tc.currentTime
	listeners := append([]Listener(nil), tc.listeners...)
	tc.mu.Unlock()

	for i, fn := range listeners {
		if err := tc.fire(ctx, fn, simTime); err != nil {
			if tc.metrics != nil {
				tc.metrics.IncListenerError()
			}
			tc.log.Error(ctx, "tick listener failed",
				logging.Int("listener", i),
				logging.Any("sim_time", simTime),
				logging.Err(err),
			)
		}
	}

	took := time.Since(began)
	if tc.metrics != nil {
		tc.metrics.ObserveTick(took)
		if took > interval {
			tc.metrics.IncOverrun()
		}
	}
	if took > interval {
		tc.log.Warn(ctx, "tick overran its interval",
			logging.Duration("took", took),
			logging.Duration("interval", interval),
		)
	}
}

func (tc *TimeController) fire(ctx context.Context, fn Listener, simTime time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn(ctx, simTime, tc.Tick)
}
