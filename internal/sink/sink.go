package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/teleinfo/internal/observability"
	"github.com/danmuck/teleinfo/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected     = errors.New("sink: not connected")
	ErrDatabaseRequired = errors.New("sink: database name required")
	ErrBackendRequired  = errors.New("sink: backend required")
)

// Backend is the time-series store contract.
type Backend interface {
	DatabaseExists(ctx context.Context, name string) (bool, error)
	CreateDatabase(ctx context.Context, name string) error
	SelectDatabase(ctx context.Context, name string) error
	WriteBatch(ctx context.Context, points []Point) error
}

// Mirror receives every emitted frame after the backend write. Mirror
// failures are logged only.
type Mirror interface {
	Publish(ctx context.Context, f *frame.Frame, at time.Time) error
	Close() error
}

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// DefaultRetryInterval is the connect gate's wait between attempts.
const DefaultRetryInterval = 5 * time.Second

// Config configures the ingestion sink.
type Config struct {
	Database           string
	RetryInterval      time.Duration
	WriteTimeout       time.Duration
	ReconnectOnFailure bool
	Tags               Tags
}

func DefaultConfig() Config {
	return Config{
		Database:      "teleinfo",
		RetryInterval: DefaultRetryInterval,
		WriteTimeout:  10 * time.Second,
		Tags:          Tags{Host: "raspberry", Region: "linky"},
	}
}

// Sink wraps a Backend with the connect gate and frame conversion.
type Sink struct {
	backend Backend
	cfg     Config
	mirrors []Mirror
	state   atomic.Int32
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(backend Backend, cfg Config, mirrors ...Mirror) (*Sink, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, ErrDatabaseRequired
	}
	return &Sink{
		backend: backend,
		cfg:     cfg,
		mirrors: mirrors,
		sleep:   sleepContext,
	}, nil
}

func (s *Sink) State() State {
	return State(s.state.Load())
}

func (s *Sink) setState(st State) {
	s.state.Store(int32(st))
	observability.SetSinkState(int(st))
}

// Connect blocks until the database exists and is selected, retrying every
// failed attempt after the configured backoff. It only gives up when ctx is
// done.
func (s *Sink) Connect(ctx context.Context) error {
	s.setState(StateConnecting)
	for attempt := 1; ; attempt++ {
		err := s.establish(ctx)
		observability.RecordConnectAttempt(err == nil)
		if err == nil {
			s.setState(StateReady)
			log.Info().Str("database", s.cfg.Database).Int("attempt", attempt).Msg("sink.Connect connected")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.setState(StateDisconnected)
			return ctxErr
		}
		delay := s.retryInterval()
		log.Info().
			Err(err).
			Str("database", s.cfg.Database).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("sink.Connect not reachable, waiting to retry")
		if err := s.sleep(ctx, delay); err != nil {
			s.setState(StateDisconnected)
			return err
		}
	}
}

// retryInterval is fixed across attempts.
func (s *Sink) retryInterval() time.Duration {
	if s.cfg.RetryInterval <= 0 {
		return DefaultRetryInterval
	}
	return s.cfg.RetryInterval
}

func (s *Sink) establish(ctx context.Context) error {
	db := s.cfg.Database
	log.Info().Str("database", db).Msg("sink.Connect database exists?")
	exists, err := s.backend.DatabaseExists(ctx, db)
	if err != nil {
		return fmt.Errorf("sink: check database: %w", err)
	}
	if !exists {
		log.Info().Str("database", db).Msg("sink.Connect database creation")
		if err := s.backend.CreateDatabase(ctx, db); err != nil {
			return fmt.Errorf("sink: create database: %w", err)
		}
		log.Info().Str("database", db).Msg("sink.Connect database created")
	}
	if err := s.backend.SelectDatabase(ctx, db); err != nil {
		return fmt.Errorf("sink: select database: %w", err)
	}
	return nil
}

// Write converts f into one point per label and writes them as one batch.
// The frame is not retried on failure.
func (s *Sink) Write(ctx context.Context, f *frame.Frame, at time.Time) error {
	if s.State() != StateReady {
		if !s.cfg.ReconnectOnFailure {
			return ErrNotConnected
		}
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}

	points := BuildPoints(f, at, s.cfg.Tags)
	if len(points) > 0 {
		wctx := ctx
		if s.cfg.WriteTimeout > 0 {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(ctx, s.cfg.WriteTimeout)
			defer cancel()
		}
		if err := s.backend.WriteBatch(wctx, points); err != nil {
			observability.RecordSinkWrite(false)
			if s.cfg.ReconnectOnFailure {
				s.setState(StateDisconnected)
			}
			s.publishMirrors(ctx, f, at)
			return fmt.Errorf("sink: write batch: %w", err)
		}
		observability.RecordSinkWrite(true)
	}
	s.publishMirrors(ctx, f, at)
	return nil
}

func (s *Sink) publishMirrors(ctx context.Context, f *frame.Frame, at time.Time) {
	for _, m := range s.mirrors {
		if err := m.Publish(ctx, f, at); err != nil {
			log.Warn().Err(err).Msg("sink.Write mirror publish failed")
		}
	}
}

// Close releases the backend and mirrors.
func (s *Sink) Close() error {
	var errs []error
	for _, m := range s.mirrors {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c, ok := s.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.setState(StateDisconnected)
	return errors.Join(errs...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
