// Package supervisor keeps exactly one live pull-mode connection to the
// messaging platform and restarts it when the platform reports a competing
// consumer.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/promobot/internal/bounded"
	"github.com/memohai/promobot/internal/channel"
	"github.com/memohai/promobot/internal/periodic"
)

const (
	DefaultGrace           = 3 * time.Second
	DefaultConflictBackoff = 5 * time.Second
	DefaultCallTimeout     = 30 * time.Second
)

// State is the lifecycle state of the bot instance.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateLive     State = "live"
	StateStopping State = "stopping"
)

// Status is a snapshot of the bot instance.
type Status struct {
	State      State  `json:"state"`
	Generation string `json:"generation,omitempty"`
	Live       bool   `json:"live"`

	// Conflicts counts conflicts since the last received message.
	Conflicts      int       `json:"conflicts"`
	TotalConflicts int       `json:"total_conflicts"`
	Restarts       int       `json:"restarts"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// Options configures a Supervisor.
type Options struct {
	// Grace is waited after closing a live connection before opening the
	// next one, so the platform releases the receive slot.
	Grace time.Duration
	// ConflictBackoff is the fixed wait between a conflict and the restart.
	ConflictBackoff time.Duration
	// CallTimeout bounds ClearWebhook, Connect and Close.
	CallTimeout time.Duration
	Now         func() time.Time
}

type eventKind int

const (
	eventStart eventKind = iota
	eventStop
)

type event struct {
	kind eventKind
	ack  chan struct{}
}

// Supervisor owns the bot instance. All instance state is mutated by the
// Run loop only; other goroutines talk to it through events.
type Supervisor struct {
	platform channel.Platform
	handler  channel.InboundHandler
	opts     Options
	logger   *slog.Logger

	events   chan event
	starting atomic.Bool
	running  atomic.Bool
	done     chan struct{}

	mu     sync.RWMutex
	status Status

	// Owned by the Run loop.
	conn     channel.Connection
	everLive bool
	restart  *time.Timer
	handlers sync.WaitGroup
}

// New creates a Supervisor that hands every received message to handler.
func New(log *slog.Logger, platform channel.Platform, handler channel.InboundHandler, opts Options) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if opts.Grace < 0 {
		opts.Grace = 0
	}
	if opts.ConflictBackoff <= 0 {
		opts.ConflictBackoff = DefaultConflictBackoff
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Supervisor{
		platform: platform,
		handler:  handler,
		opts:     opts,
		logger:   log.With(slog.String("component", "supervisor")),
		events:   make(chan event, 4),
		done:     make(chan struct{}),
		status:   Status{State: StateIdle},
	}
}

// Status returns a copy of the current instance status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Supervisor) update(fn func(st *Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

// Start requests a (re)start of the instance and returns immediately. While
// a start is pending or in progress further calls are no-ops.
func (s *Supervisor) Start() {
	if !s.starting.CompareAndSwap(false, true) {
		s.logger.Debug("start already in progress")
		return
	}
	select {
	case s.events <- event{kind: eventStart}:
	default:
		s.starting.Store(false)
	}
}

// Stop closes the live connection and waits until the loop has done so.
// It is idempotent.
func (s *Supervisor) Stop(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case s.events <- event{kind: eventStop, ack: ack}:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the instance until ctx is done or a fatal error occurs. Fatal
// errors are credential failures and any connect failure before the first
// successful start. Run may be called once.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("supervisor: already running")
	}
	defer close(s.done)
	defer s.shutdown()

	for {
		var (
			updates <-chan channel.Message
			errs    <-chan error
			retry   <-chan time.Time
		)
		if s.conn != nil {
			updates = s.conn.Updates()
			errs = s.conn.Errors()
		}
		if s.restart != nil {
			retry = s.restart.C
		}

		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.events:
			switch ev.kind {
			case eventStart:
				if err := s.startCycle(ctx); err != nil {
					return err
				}
			case eventStop:
				s.stopCycle()
				close(ev.ack)
			}
		case <-retry:
			s.restart = nil
			if !s.starting.CompareAndSwap(false, true) {
				// A requested start is queued and will do the work.
				continue
			}
			if err := s.startCycle(ctx); err != nil {
				return err
			}
		case msg, ok := <-updates:
			if !ok {
				s.onConnectionClosed()
				continue
			}
			s.update(func(st *Status) { st.Conflicts = 0 })
			s.dispatch(ctx, msg)
		case err, ok := <-errs:
			if !ok {
				s.onConnectionClosed()
				continue
			}
			if fatal := s.onReceiveError(ctx, err); fatal != nil {
				return fatal
			}
		}
	}
}

func (s *Supervisor) dispatch(ctx context.Context, msg channel.Message) {
	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		if err := s.handler(ctx, msg); err != nil {
			s.logger.Error("handle message failed", slog.String("user_id", msg.UserID), slog.Any("error", err))
		}
	}()
}

// startCycle performs one start attempt. It always releases the starting
// guard.
func (s *Supervisor) startCycle(ctx context.Context) error {
	defer s.starting.Store(false)
	s.cancelRestart()
	s.update(func(st *Status) { st.State = StateStarting; st.Live = false })

	if s.conn != nil {
		s.closeConn()
		s.logger.Info("waiting for platform to release receive slot", slog.Duration("grace", s.opts.Grace))
		if !periodic.Sleep(ctx, s.opts.Grace) {
			return nil
		}
	}

	conn, err := s.connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.update(func(st *Status) { st.State = StateIdle; st.LastError = err.Error() })
		if errors.Is(err, channel.ErrUnauthorized) || !s.everLive {
			s.logger.Error("start failed", slog.Any("error", err))
			return fmt.Errorf("supervisor: start: %w", err)
		}
		s.logger.Warn("restart failed, retrying", slog.Duration("backoff", s.opts.ConflictBackoff), slog.Any("error", err))
		s.scheduleRestart()
		return nil
	}

	generation := uuid.NewString()
	restarted := s.everLive
	s.conn = conn
	s.everLive = true
	s.update(func(st *Status) {
		st.State = StateLive
		st.Live = true
		st.Generation = generation
		st.StartedAt = s.opts.Now()
		st.LastError = ""
		if restarted {
			st.Restarts++
		}
	})
	s.logger.Info("bot instance live", slog.String("generation", generation))
	return nil
}

func (s *Supervisor) connect(ctx context.Context) (channel.Connection, error) {
	if err := bounded.Call(ctx, s.opts.CallTimeout, s.platform.ClearWebhook); err != nil {
		return nil, fmt.Errorf("clear webhook: %w", err)
	}
	result := make(chan channel.Connection, 1)
	err := bounded.Call(ctx, s.opts.CallTimeout, func(ctx context.Context) error {
		conn, err := s.platform.Connect(ctx)
		result <- conn
		return err
	})
	if err != nil {
		go s.discardLate(result)
		return nil, fmt.Errorf("connect: %w", err)
	}
	return <-result, nil
}

// discardLate closes a connection that arrived after its connect call was
// abandoned.
func (s *Supervisor) discardLate(result <-chan channel.Connection) {
	conn := <-result
	if conn == nil {
		return
	}
	s.logger.Warn("closing connection that outlived its connect timeout")
	if err := bounded.Call(context.Background(), s.opts.CallTimeout, conn.Close); err != nil {
		s.logger.Warn("close late connection failed", slog.Any("error", err))
	}
}

// onConnectionClosed handles a connection whose channels were closed by the
// platform. The instance is restarted after the backoff.
func (s *Supervisor) onConnectionClosed() {
	s.closeConn()
	s.update(func(st *Status) {
		st.State = StateStarting
		st.Live = false
		st.LastError = "connection closed by platform"
	})
	s.logger.Warn("connection closed, restarting", slog.Duration("backoff", s.opts.ConflictBackoff))
	s.scheduleRestart()
}

func (s *Supervisor) onReceiveError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, channel.ErrConflict):
		s.closeConn()
		var count int
		s.update(func(st *Status) {
			st.Conflicts++
			st.TotalConflicts++
			st.State = StateStarting
			st.Live = false
			st.LastError = err.Error()
			count = st.Conflicts
		})
		s.logger.Warn("receive conflict, restarting",
			slog.Int("conflicts", count),
			slog.Duration("backoff", s.opts.ConflictBackoff))
		s.scheduleRestart()
		return nil
	case errors.Is(err, channel.ErrUnauthorized):
		s.closeConn()
		s.update(func(st *Status) { st.State = StateIdle; st.Live = false; st.LastError = err.Error() })
		s.logger.Error("credentials rejected while live", slog.Any("error", err))
		return fmt.Errorf("supervisor: receive: %w", err)
	default:
		s.update(func(st *Status) { st.LastError = err.Error() })
		s.logger.Warn("receive error", slog.Any("error", err))
		return nil
	}
}

func (s *Supervisor) stopCycle() {
	s.cancelRestart()
	if s.conn == nil {
		s.update(func(st *Status) { st.State = StateIdle; st.Live = false })
		return
	}
	s.update(func(st *Status) { st.State = StateStopping })
	s.closeConn()
	s.update(func(st *Status) { st.State = StateIdle; st.Live = false })
	s.logger.Info("bot instance stopped")
}

func (s *Supervisor) closeConn() {
	if s.conn == nil {
		return
	}
	if err := bounded.Call(context.Background(), s.opts.CallTimeout, s.conn.Close); err != nil {
		s.logger.Warn("close connection failed", slog.Any("error", err))
	}
	s.conn = nil
}

func (s *Supervisor) scheduleRestart() {
	s.cancelRestart()
	s.restart = time.NewTimer(s.opts.ConflictBackoff)
}

func (s *Supervisor) cancelRestart() {
	if s.restart != nil {
		s.restart.Stop()
		s.restart = nil
	}
}

func (s *Supervisor) shutdown() {
	s.cancelRestart()
	s.closeConn()
	s.update(func(st *Status) { st.State = StateIdle; st.Live = false })
	s.handlers.Wait()
	s.logger.Info("supervisor exited")
}
