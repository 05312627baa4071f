// Package engine is the host loop: it loads guest images, ticks them, hands
// their calls to a frontend and feeds input back in.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vg-engine/vg/frontend"
	"github.com/vg-engine/vg/protocol"
	"github.com/vg-engine/vg/runtime"
)

// Engine drives guests on one backend and one frontend.
type Engine struct {
	backend  runtime.Backend
	frontend frontend.Frontend
	cfg      Config
	logger   *zap.Logger
	metrics  *Metrics
	now      func() time.Time

	// present serializes frame submission, so sessions sharing a frontend
	// never mix their draws into one frame.
	present sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Guest logs go to its "guest" child.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the collectors the engine updates.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock sets the clock tick deltas are measured with.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine. The backend stays owned by the caller.
func New(backend runtime.Backend, fe frontend.Frontend, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}
	if cfg.Carry == "" {
		cfg.Carry = runtime.CarryIdentical
	}
	e := &Engine{
		backend:  backend,
		frontend: fe,
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e, nil
}

// Load instantiates image and returns a session for it.
func (e *Engine) Load(ctx context.Context, image []byte) (*Session, error) {
	inst, err := e.backend.Load(ctx, image)
	if err != nil {
		return nil, err
	}
	return e.Attach(inst), nil
}

// Attach returns a session driving inst. The session takes ownership of inst.
func (e *Engine) Attach(inst runtime.Instance) *Session {
	limit := rate.Inf
	if e.cfg.FPS > 0 {
		limit = rate.Limit(e.cfg.FPS)
	}
	s := &Session{
		engine:  e,
		inst:    inst,
		logger:  e.logger.With(zap.String("instance", inst.ID())),
		limiter: rate.NewLimiter(limit, 1),
	}
	s.guest = s.logger.Named("guest")
	if r, ok := inst.(runtime.StatsReporter); ok {
		s.malformed = r.Stats().Malformed
	}
	return s
}

// Run loads image and drives it while keepGoing returns true. The live
// session is returned so the caller can carry it into a reload; the caller
// must close it. On error nothing is returned and the instance is closed.
func (e *Engine) Run(ctx context.Context, image []byte, keepGoing func() bool) (*Session, error) {
	s, err := e.Load(ctx, image)
	if err != nil {
		return nil, err
	}
	if err := s.Drive(ctx, keepGoing); err != nil {
		_ = s.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return s, nil
}

// Session is one guest instance being driven. It is not safe for
// concurrent use.
type Session struct {
	engine  *Engine
	inst    runtime.Instance
	logger  *zap.Logger
	guest   *zap.Logger
	limiter *rate.Limiter

	ticks     uint64
	elapsed   time.Duration
	last      time.Time
	malformed uint64
	closed    bool

	// The frame being composed; it reaches the renderer on Present.
	clear *[4]float32
	draws []protocol.Draw
}

// Instance returns the driven instance.
func (s *Session) Instance() runtime.Instance { return s.inst }

// Ticks returns the number of ticks this session completed.
func (s *Session) Ticks() uint64 { return s.ticks }

// Drive steps the guest while keepGoing returns true, until MaxTicks is
// reached, the context ends or a step fails.
func (s *Session) Drive(ctx context.Context, keepGoing func() bool) error {
	for {
		if limit := s.engine.cfg.MaxTicks; limit > 0 && s.ticks >= limit {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !keepGoing() {
			return nil
		}
		if err := s.Step(ctx); err != nil {
			return err
		}
	}
}

// Step runs one iteration: pending input and the frame timing are sent to
// the guest, the guest is ticked and its calls are dispatched in order.
func (s *Session) Step(ctx context.Context) error {
	if s.closed {
		return runtime.ErrClosed
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	now := s.engine.now()
	var delta time.Duration
	if !s.last.IsZero() {
		delta = now.Sub(s.last)
	}
	s.last = now
	s.elapsed += delta

	for _, r := range s.engine.frontend.Poll() {
		if err := s.inst.Send(ctx, r); err != nil {
			return s.fail(err)
		}
	}
	timing := protocol.Timing{Delta: delta.Seconds(), Elapsed: s.elapsed.Seconds()}
	if err := s.inst.Send(ctx, timing); err != nil {
		return s.fail(err)
	}

	start := time.Now()
	calls, err := s.inst.RunTick(ctx, delta)
	s.engine.metrics.TickDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return s.fail(err)
	}
	s.ticks++
	s.engine.metrics.Ticks.Inc()
	s.countMalformed()

	for _, c := range calls {
		s.engine.metrics.Calls.WithLabelValues(c.Kind().String()).Inc()
		if err := s.dispatch(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) dispatch(c protocol.Call) error {
	fe := s.engine.frontend
	switch c := c.(type) {
	case protocol.Print:
		fe.Print(c.Text)
	case protocol.Present:
		if err := s.present(); err != nil {
			return fmt.Errorf("present: %w", err)
		}
	case protocol.Clear:
		color := c.Color
		s.clear = &color
	case protocol.Draw:
		s.draws = append(s.draws, c)
	case protocol.PlaySound:
		fe.Play(c.Name, c.Volume)
	case protocol.Log:
		logGuest(s.guest, c)
	}
	return nil
}

// present hands the composed frame to the renderer in one piece.
func (s *Session) present() error {
	e := s.engine
	e.present.Lock()
	defer e.present.Unlock()

	if s.clear != nil {
		e.frontend.Clear(*s.clear)
	}
	for _, d := range s.draws {
		e.frontend.Draw(d)
	}
	s.clear, s.draws = nil, s.draws[:0]
	return e.frontend.Present()
}

func (s *Session) countMalformed() {
	r, ok := s.inst.(runtime.StatsReporter)
	if !ok {
		return
	}
	if n := r.Stats().Malformed; n > s.malformed {
		s.engine.metrics.Malformed.Add(float64(n - s.malformed))
		s.malformed = n
	}
}

// fail records err. A trapped instance is poisoned, so it is released.
func (s *Session) fail(err error) error {
	if errors.Is(err, runtime.ErrExecutionTrap) {
		s.engine.metrics.Traps.Inc()
		s.logger.Error("guest trapped", zap.Uint64("tick", s.ticks), zap.Error(err))
		_ = s.Close(context.Background())
	}
	return err
}

// Close closes the instance. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.inst.Close(ctx)
}
