package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"freshness-orders/internal/clock"
	"freshness-orders/internal/repository"
	"freshness-orders/internal/service"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const leaseName = "subscription-delivery"

type TickResult struct {
	Skipped bool                 `json:"skipped"`
	Reason  string               `json:"reason,omitempty"`
	Report  *service.CycleReport `json:"report,omitempty"`
}

// DeliveryScheduler drives subscription cycles on a cron schedule. Ticks never
// overlap: inside the process a mutex guards them, across processes a
// database lease does.
type DeliveryScheduler struct {
	subscriptions service.SubscriptionService
	leases        repository.LeaseRepository
	clock         clock.Clock
	logger        *zap.Logger

	spec     string
	leaseTTL time.Duration
	holder   string

	running sync.Mutex
	cron    *cron.Cron
}

func New(
	subscriptions service.SubscriptionService,
	leases repository.LeaseRepository,
	clk clock.Clock,
	spec string,
	leaseTTL time.Duration,
	logger *zap.Logger,
) *DeliveryScheduler {
	host, _ := os.Hostname()
	return &DeliveryScheduler{
		subscriptions: subscriptions,
		leases:        leases,
		clock:         clk,
		logger:        logger,
		spec:          spec,
		leaseTTL:      leaseTTL,
		holder:        fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8]),
	}
}

func (s *DeliveryScheduler) Start() error {
	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	_, err := c.AddFunc(s.spec, func() {
		if _, err := s.Tick(context.Background()); err != nil {
			s.logger.Error("delivery tick", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}

	s.cron = c
	c.Start()
	s.logger.Info("delivery scheduler started", zap.String("spec", s.spec), zap.String("holder", s.holder))
	return nil
}

// Stop halts the cron trigger and waits for a running tick to finish or ctx
// to expire.
func (s *DeliveryScheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs one delivery pass unless another one is in flight here or in
// another process.
func (s *DeliveryScheduler) Tick(ctx context.Context) (*TickResult, error) {
	return s.run(ctx, s.clock.Now())
}

// RunNow is the manual trigger used by operators.
func (s *DeliveryScheduler) RunNow(ctx context.Context) (*TickResult, error) {
	return s.Tick(ctx)
}

// RunAt delivers for the day of asOf. The lease is still timed by the
// scheduler clock, so a pass pinned to another day holds it no longer than a
// regular tick.
func (s *DeliveryScheduler) RunAt(ctx context.Context, asOf time.Time) (*TickResult, error) {
	return s.run(ctx, asOf)
}

func (s *DeliveryScheduler) run(ctx context.Context, asOf time.Time) (*TickResult, error) {
	if !s.running.TryLock() {
		s.logger.Info("delivery tick skipped, previous tick still running")
		return &TickResult{Skipped: true, Reason: "tick already running"}, nil
	}
	defer s.running.Unlock()

	acquired, err := s.leases.TryAcquire(ctx, leaseName, s.holder, s.clock.Now(), s.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire scheduler lease: %w", err)
	}
	if !acquired {
		s.logger.Info("delivery tick skipped, lease held elsewhere")
		return &TickResult{Skipped: true, Reason: "lease held by another process"}, nil
	}
	defer func() {
		if err := s.leases.Release(context.WithoutCancel(ctx), leaseName, s.holder); err != nil {
			s.logger.Warn("release scheduler lease", zap.Error(err))
		}
	}()

	report, err := s.subscriptions.RunDue(ctx, asOf)
	if err != nil {
		return &TickResult{Report: report}, err
	}

	s.logger.Info("delivery tick done",
		zap.Time("as_of", report.AsOf),
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return &TickResult{Report: report}, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
