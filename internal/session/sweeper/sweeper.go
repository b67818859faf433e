// Package sweeper periodically hard-deletes expired refresh sessions.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"easybaby/backend/internal/telemetry"
)

// LockKey is the lease name shared by every sweeper replica.
const LockKey = "refresh-session-sweeper"

// Sweep results reported to metrics.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Cleaner deletes expired sessions. *service.Manager implements it.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Locker grants a lease so only one replica sweeps per interval.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// Sweeper runs Cleaner on a fixed interval.
type Sweeper struct {
	cleaner  Cleaner
	interval time.Duration
	locker   Locker
	lockTTL  time.Duration
	logger   *zap.Logger
	metrics  *telemetry.Metrics
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLocker makes every run take a lease for ttl first; runs that cannot get it are skipped.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Sweeper) {
		s.locker = l
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// New returns a Sweeper that calls cleaner every interval (one hour if interval <= 0).
func New(cleaner Cleaner, interval time.Duration, opts ...Option) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	s := &Sweeper{
		cleaner:  cleaner,
		interval: interval,
		lockTTL:  5 * time.Minute,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("sweeper: started", zap.Duration("interval", s.interval), zap.Bool("locked", s.locker != nil))
	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper: stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one sweep and returns its result and the number of deleted sessions.
func (s *Sweeper) RunOnce(ctx context.Context) (string, int64) {
	if ctx.Err() != nil {
		return ResultSkipped, 0
	}
	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, LockKey, s.lockTTL)
		if err != nil {
			s.logger.Warn("sweeper: lock failed", zap.Error(err))
			s.metrics.Sweep(ResultError)
			return ResultError, 0
		}
		if !ok {
			s.logger.Debug("sweeper: another replica holds the lock")
			s.metrics.Sweep(ResultSkipped)
			return ResultSkipped, 0
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("sweeper: unlock failed", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	n, err := s.cleaner.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("sweeper: cleanup failed", zap.Error(err))
		s.metrics.Sweep(ResultError)
		return ResultError, 0
	}
	s.logger.Info("sweeper: removed expired sessions", zap.Int64("deleted", n), zap.Duration("took", time.Since(start)))
	s.metrics.Sweep(ResultOK)
	return ResultOK, n
}
