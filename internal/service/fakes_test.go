package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"freshness-orders/internal/apperr"
	"freshness-orders/internal/client"
	"freshness-orders/internal/clock"
	"freshness-orders/internal/model"
	"freshness-orders/internal/repository"
	"freshness-orders/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// --- notifier ---

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.OrderEventKind
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, userID string, order *model.Order, kind model.OrderEventKind) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, kind)
	return n.err
}

func (n *recordingNotifier) kinds() []model.OrderEventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.OrderEventKind(nil), n.events...)
}

func (n *recordingNotifier) count(kind model.OrderEventKind) int {
	c := 0
	for _, k := range n.kinds() {
		if k == kind {
			c++
		}
	}
	return c
}

// --- gateway ---

type fakeGateway struct {
	provider string

	authorize func(ctx context.Context, req client.AuthorizeRequest) (*client.GatewayResult, error)
	capture   func(ctx context.Context, reference string) (*client.GatewayResult, error)
	refund    func(ctx context.Context, reference string, amount decimal.Decimal) (*client.GatewayResult, error)

	mu       sync.Mutex
	requests []client.AuthorizeRequest
}

func (g *fakeGateway) Provider() string { return g.provider }

func (g *fakeGateway) Authorize(ctx context.Context, req client.AuthorizeRequest) (*client.GatewayResult, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	return g.authorize(ctx, req)
}

func (g *fakeGateway) Capture(ctx context.Context, reference string) (*client.GatewayResult, error) {
	if g.capture == nil {
		return &client.GatewayResult{Success: true, ProviderReference: reference, RawStatus: "settled"}, nil
	}
	return g.capture(ctx, reference)
}

func (g *fakeGateway) Refund(ctx context.Context, reference string, amount decimal.Decimal) (*client.GatewayResult, error) {
	if g.refund == nil {
		return &client.GatewayResult{Success: true, ProviderReference: reference, RawAmount: amount, RawStatus: "refunded"}, nil
	}
	return g.refund(ctx, reference, amount)
}

func approvingGateway(provider, reference string) *fakeGateway {
	return &fakeGateway{
		provider: provider,
		authorize: func(ctx context.Context, req client.AuthorizeRequest) (*client.GatewayResult, error) {
			return &client.GatewayResult{Success: true, ProviderReference: reference, RawAmount: req.Amount, RawStatus: "authorized"}, nil
		},
	}
}

// --- webhook verifier ---

const fakeSignatureHeader = "X-Test-Signature"

// fakeVerifier accepts bodies signed with the "valid" header value and
// decodes them as a WebhookNotification in JSON.
type fakeVerifier struct {
	provider string
}

func (v *fakeVerifier) Provider() string { return v.provider }

func (v *fakeVerifier) VerifyAndParse(ctx context.Context, headers http.Header, body []byte) (*client.WebhookNotification, error) {
	if headers.Get(fakeSignatureHeader) != "valid" {
		return nil, &apperr.AuthenticityError{Provider: v.provider, Err: errors.New("bad signature")}
	}
	var n client.WebhookNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, err
	}
	n.Provider = v.provider
	n.Payload = body
	return &n, nil
}

func signedHeaders() http.Header {
	h := http.Header{}
	h.Set(fakeSignatureHeader, "valid")
	return h
}

func webhookBody(t *testing.T, n client.WebhookNotification) []byte {
	t.Helper()
	body, err := json.Marshal(n)
	require.NoError(t, err)
	return body
}

// --- environment ---

type testEnv struct {
	db       *gorm.DB
	clock    *clock.Fake
	notifier *recordingNotifier
	logger   *zap.Logger

	orderRepo    repository.OrderRepository
	productRepo  repository.ProductRepository
	ledgerRepo   repository.LedgerRepository
	conflictRepo repository.ConflictRepository
	subRepo      repository.SubscriptionRepository
	eventRepo    repository.WebhookEventRepository

	orders        OrderService
	ledger        LedgerService
	subscriptions SubscriptionService
}

// monday 2 March 2026, 09:00 UTC
var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewSeededDB(t)
	env := &testEnv{
		db:           db,
		clock:        clock.NewFake(testNow),
		notifier:     &recordingNotifier{},
		logger:       zap.NewNop(),
		orderRepo:    repository.NewOrderRepository(db),
		productRepo:  repository.NewProductRepository(db),
		ledgerRepo:   repository.NewLedgerRepository(db),
		conflictRepo: repository.NewConflictRepository(db),
		subRepo:      repository.NewSubscriptionRepository(db),
		eventRepo:    repository.NewWebhookEventRepository(db),
	}

	env.orders = NewOrderService(db, env.orderRepo, env.ledgerRepo, env.productRepo, env.notifier, "EUR", env.logger)
	env.ledger = NewLedgerService(db, env.ledgerRepo, env.conflictRepo, env.orders, env.clock, env.logger)
	env.subscriptions = NewSubscriptionService(db, env.subRepo, env.orderRepo, env.productRepo, env.orders, env.clock, 2, "EUR", env.logger)
	return env
}

func (e *testEnv) checkout(gateways ...*fakeGateway) CheckoutService {
	gws := client.NewGateways()
	methods := []string{client.MethodCard, client.MethodWallet, client.MethodBankTransfer}
	for i, gw := range gateways {
		gws.Register(methods[i], gw)
	}
	return NewCheckoutService(e.orders, e.ledger, gws, time.Second, e.logger)
}

func (e *testEnv) webhooks(providers ...string) WebhookService {
	verifiers := make([]client.WebhookVerifier, 0, len(providers))
	for _, p := range providers {
		verifiers = append(verifiers, &fakeVerifier{provider: p})
	}
	return NewWebhookService(verifiers, e.ledger, e.eventRepo, e.clock, e.logger)
}

func (e *testEnv) newOrder(t *testing.T, items ...OrderItemInput) *model.Order {
	t.Helper()
	if len(items) == 0 {
		items = []OrderItemInput{{ProductID: "meal_green_bowl", Quantity: 2}}
	}
	order, err := e.orders.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "user-1",
		Items:  items,
	})
	require.NoError(t, err)
	return order
}

func (e *testEnv) deactivate(t *testing.T, productID string) {
	t.Helper()
	require.NoError(t, e.db.Model(&model.Product{}).Where("id = ?", productID).Update("is_active", false).Error)
}

func (e *testEnv) countRows(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(m).Count(&n).Error)
	return n
}
