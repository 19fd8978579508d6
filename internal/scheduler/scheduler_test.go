package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"freshness-orders/internal/clock"
	"freshness-orders/internal/model"
	"freshness-orders/internal/repository"
	"freshness-orders/internal/service"
	"freshness-orders/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSubscriptions only implements RunDue.
type fakeSubscriptions struct {
	service.SubscriptionService

	started chan struct{}
	release chan struct{}
	calls   int
	asOf    time.Time
}

func (f *fakeSubscriptions) RunDue(ctx context.Context, asOf time.Time) (*service.CycleReport, error) {
	f.calls++
	f.asOf = asOf
	if f.started != nil {
		close(f.started)
		<-f.release
	}
	return &service.CycleReport{AsOf: clock.Day(asOf), Processed: 2, OrderIDs: []string{"o-1", "o-2"}}, nil
}

var now = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T, subs service.SubscriptionService) (*DeliveryScheduler, repository.LeaseRepository) {
	t.Helper()
	leases := repository.NewLeaseRepository(testutil.NewDB(t))
	return New(subs, leases, clock.NewFake(now), "0 6 * * *", time.Minute, zap.NewNop()), leases
}

func TestTick_RunsDueAndReleasesLease(t *testing.T) {
	subs := &fakeSubscriptions{}
	s, leases := newScheduler(t, subs)

	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	require.NotNil(t, res.Report)
	assert.Equal(t, 2, res.Report.Processed)
	assert.Equal(t, 1, subs.calls)

	ok, err := leases.TryAcquire(context.Background(), leaseName, "someone-else", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lease is released after the tick")
}

func TestTick_SkipsWhileRunning(t *testing.T) {
	subs := &fakeSubscriptions{started: make(chan struct{}), release: make(chan struct{})}
	s, _ := newScheduler(t, subs)

	done := make(chan *TickResult)
	go func() {
		res, err := s.Tick(context.Background())
		assert.NoError(t, err)
		done <- res
	}()
	<-subs.started

	res, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "tick already running", res.Reason)

	close(subs.release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, subs.calls)
}

func TestTick_SkipsWhenLeaseHeldElsewhere(t *testing.T) {
	subs := &fakeSubscriptions{}
	s, leases := newScheduler(t, subs)

	ok, err := leases.TryAcquire(context.Background(), leaseName, "other-host-1", now, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, subs.calls)
}

func TestStart(t *testing.T) {
	s, _ := newScheduler(t, &fakeSubscriptions{})
	s.spec = "not a cron line"
	assert.Error(t, s.Start())

	s.spec = "@every 1h"
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestStop_NotStarted(t *testing.T) {
	s, _ := newScheduler(t, &fakeSubscriptions{})
	assert.NoError(t, s.Stop(context.Background()))
}

func TestRunAt_LeaseFollowsTheClockNotTheDeliveryDay(t *testing.T) {
	subs := &fakeSubscriptions{started: make(chan struct{}), release: make(chan struct{})}
	s, leases := newScheduler(t, subs)
	nextMonth := now.AddDate(0, 1, 0)

	done := make(chan *TickResult)
	go func() {
		res, err := s.RunAt(context.Background(), nextMonth)
		assert.NoError(t, err)
		done <- res
	}()
	<-subs.started

	// were the lease timed by the delivery day, it would block others for a month
	ok, err := leases.TryAcquire(context.Background(), leaseName, "api-host", now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lease expires one TTL after the clock")

	close(subs.release)
	res := <-done
	assert.False(t, res.Skipped)
	assert.True(t, nextMonth.Equal(subs.asOf))
}

// countingNotifier counts created orders across schedulers.
type countingNotifier struct {
	mu      sync.Mutex
	created int
}

func (n *countingNotifier) Notify(ctx context.Context, userID string, order *model.Order, kind model.OrderEventKind) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if kind == model.EventOrderCreated {
		n.created++
	}
	return nil
}

func TestTick_TwoSchedulersDeliverOncePerSubscription(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSeededDB(t)
	log := zap.NewNop()
	clk := clock.NewFake(now)
	notifier := &countingNotifier{}

	orderRepo := repository.NewOrderRepository(db)
	productRepo := repository.NewProductRepository(db)
	orders := service.NewOrderService(db, orderRepo, repository.NewLedgerRepository(db), productRepo, notifier, "EUR", log)
	subs := service.NewSubscriptionService(db, repository.NewSubscriptionRepository(db), orderRepo, productRepo, orders, clk, 2, "EUR", log)

	const plans = 5
	for range plans {
		_, err := subs.Create(ctx, service.CreateSubscriptionInput{
			UserID:    "user-1",
			ProductID: "meal_green_bowl",
			Frequency: model.FrequencyDaily,
		})
		require.NoError(t, err)
	}

	leases := repository.NewLeaseRepository(db)
	schedulers := []*DeliveryScheduler{
		New(subs, leases, clk, "0 6 * * *", time.Minute, log),
		New(subs, leases, clk, "0 6 * * *", time.Minute, log),
	}
	require.NotEqual(t, schedulers[0].holder, schedulers[1].holder)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, s := range schedulers {
		for range 3 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := s.Tick(ctx)
				assert.NoError(t, err)
			}()
		}
	}
	close(start)
	wg.Wait()

	var orderCount, recordCount int64
	require.NoError(t, db.Model(&model.Order{}).Count(&orderCount).Error)
	require.NoError(t, db.Model(&model.DeliveryRecord{}).Count(&recordCount).Error)
	assert.EqualValues(t, plans, orderCount)
	assert.EqualValues(t, plans, recordCount)
	assert.Equal(t, plans, notifier.created)

	// the next day is a new cycle
	clk.Advance(24 * time.Hour)
	res, err := schedulers[1].Tick(ctx)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	assert.Equal(t, plans, res.Report.Processed)
}
