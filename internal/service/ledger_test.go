package service

import (
	"context"
	"sync"
	"testing"

	"freshness-orders/internal/apperr"
	"freshness-orders/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalize_ByReferenceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.newOrder(t)

	attemptID, err := env.ledger.InitiateAttempt(ctx, order.ID, "paypal", order.TotalPrice, "EUR")
	require.NoError(t, err)
	require.NoError(t, env.ledger.AttachReference(ctx, attemptID, "PP-1"))

	in := FinalizeInput{Provider: "paypal", ProviderReference: "PP-1", Outcome: model.LedgerSucceeded}
	first, err := env.ledger.Finalize(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, attemptID, first.ID)
	assert.Equal(t, model.LedgerSucceeded, first.Status)

	second, err := env.ledger.Finalize(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	assert.EqualValues(t, 1, env.countRows(t, &model.LedgerEntry{}))
	assert.Equal(t, 1, env.notifier.count(model.EventOrderPaid))
}

func TestFinalize_ByAttemptIDRecordsReference(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.newOrder(t)

	attemptID, err := env.ledger.InitiateAttempt(ctx, order.ID, "revolut", order.TotalPrice, "EUR")
	require.NoError(t, err)

	entry, err := env.ledger.Finalize(ctx, FinalizeInput{
		Provider:          "revolut",
		ProviderReference: "rev_ord_1",
		AttemptID:         attemptID,
		Outcome:           model.LedgerSucceeded,
	})
	require.NoError(t, err)
	assert.Equal(t, attemptID, entry.ID)
	assert.Equal(t, "rev_ord_1", entry.Reference())
}

func TestFinalize_AttemptIDOfAnotherProviderIsNotMatched(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.newOrder(t)

	attemptID, err := env.ledger.InitiateAttempt(ctx, order.ID, "revolut", order.TotalPrice, "EUR")
	require.NoError(t, err)

	_, err = env.ledger.Finalize(ctx, FinalizeInput{
		Provider:  "paypal",
		AttemptID: attemptID,
		Outcome:   model.LedgerSucceeded,
	})
	var nfErr *apperr.NotFoundError
	require.ErrorAs(t, err, &nfErr)

	entry, err := env.ledgerRepo.FindByID(ctx, nil, attemptID)
	require.NoError(t, err)
	assert.Equal(t, model.LedgerPending, entry.Status)
}

func TestFinalize_ContradictionIsRecordedNotApplied(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.newOrder(t)

	succeedAttempt(t, env, order, order.TotalPrice, "bt_1")

	in := FinalizeInput{
		Provider:          "braintree",
		ProviderReference: "bt_1",
		Outcome:           model.LedgerFailed,
		Payload:           []byte(`{"kind":"transaction_settlement_declined"}`),
	}
	entry, err := env.ledger.Finalize(ctx, in)

	var conflict *apperr.ReconciliationConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, string(model.LedgerSucceeded), conflict.Existing)
	assert.Equal(t, string(model.LedgerFailed), conflict.Attempted)
	require.NotNil(t, entry)
	assert.Equal(t, model.LedgerSucceeded, entry.Status)

	// the same contradiction again does not pile up review rows
	_, err = env.ledger.Finalize(ctx, in)
	require.ErrorAs(t, err, &conflict)

	conflicts, err := env.ledger.ListConflicts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, entry.ID, conflicts[0].LedgerEntryID)

	stored, err := env.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, stored.PaymentStatus)
	assert.Empty(t, stored.LastPaymentFailure)
}

func TestFinalize_OutOfBandConfirmation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.newOrder(t)

	entry, err := env.ledger.Finalize(ctx, FinalizeInput{
		Provider:          "braintree",
		ProviderReference: "bt_unseen",
		OrderID:           order.ID,
		Outcome:           model.LedgerSucceeded,
		Amount:            order.TotalPrice,
		Currency:          "EUR",
	})
	require.NoError(t, err)
	assert.Equal(t, model.LedgerSucceeded, entry.Status)
	assert.Equal(t, "bt_unseen", entry.Reference())

	stored, err := env.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, stored.PaymentStatus)
}

func TestFinalize_OutOfBandWithoutOrderIsKept(t *testing.T) {
	env := newTestEnv(t)

	entry, err := env.ledger.Finalize(context.Background(), FinalizeInput{
		Provider:          "revolut",
		ProviderReference: "rev_orphan",
		Outcome:           model.LedgerFailed,
		Amount:            decimal.RequireFromString("5"),
		Currency:          "EUR",
	})
	require.NoError(t, err)
	assert.Empty(t, entry.OrderID)
	assert.EqualValues(t, 1, env.countRows(t, &model.LedgerEntry{}))
}

func TestFinalize_UnknownAttemptWithoutReference(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.ledger.Finalize(context.Background(), FinalizeInput{
		Provider:  "revolut",
		AttemptID: "4b1d4f5c-1111-4c8e-9c37-000000000000",
		Outcome:   model.LedgerSucceeded,
	})
	var nfErr *apperr.NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Zero(t, env.countRows(t, &model.LedgerEntry{}))
}

func TestFinalize_RejectsNonFinalOutcome(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.ledger.Finalize(context.Background(), FinalizeInput{
		Provider:          "braintree",
		ProviderReference: "bt_1",
		Outcome:           model.LedgerPending,
	})
	var vErr *apperr.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestAttachReference_DifferentReferenceRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.newOrder(t)

	attemptID, err := env.ledger.InitiateAttempt(ctx, order.ID, "paypal", order.TotalPrice, "EUR")
	require.NoError(t, err)
	require.NoError(t, env.ledger.AttachReference(ctx, attemptID, "PP-1"))
	require.NoError(t, env.ledger.AttachReference(ctx, attemptID, "PP-1"))

	err = env.ledger.AttachReference(ctx, attemptID, "PP-2")
	var tErr *apperr.InvalidTransitionError
	require.ErrorAs(t, err, &tErr)
}

func TestFinalize_WebhookBeforeSynchronousAnswer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.newOrder(t)

	attemptID, err := env.ledger.InitiateAttempt(ctx, order.ID, "braintree", order.TotalPrice, "EUR")
	require.NoError(t, err)

	// the provider's confirmation arrives first and names neither the
	// attempt nor the order
	early, err := env.ledger.Finalize(ctx, FinalizeInput{
		Provider:          "braintree",
		ProviderReference: "bt_early",
		Outcome:           model.LedgerSucceeded,
	})
	require.NoError(t, err)
	assert.Empty(t, early.OrderID)

	entry, err := env.ledger.Finalize(ctx, FinalizeInput{
		Provider:          "braintree",
		ProviderReference: "bt_early",
		AttemptID:         attemptID,
		OrderID:           order.ID,
		Outcome:           model.LedgerSucceeded,
		Amount:            order.TotalPrice,
	})
	require.NoError(t, err)
	assert.Equal(t, early.ID, entry.ID)
	assert.Equal(t, order.ID, entry.OrderID)
	assert.True(t, order.TotalPrice.Equal(entry.Amount), "amount taken from the attempt")

	paid, err := env.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, model.OrderStatusProcessing, paid.Status)

	attempt, err := env.ledgerRepo.FindByID(ctx, nil, attemptID)
	require.NoError(t, err)
	assert.Equal(t, model.LedgerSucceeded, attempt.Status)
	require.NotNil(t, attempt.SupersededBy)
	assert.Equal(t, early.ID, *attempt.SupersededBy)
	assert.Empty(t, attempt.Reference())

	// only the confirmed entry counts toward the order and its refund
	refundable, err := env.ledger.RefundableEntries(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, refundable, 1)
	assert.Equal(t, early.ID, refundable[0].ID)

	// replays change nothing
	_, err = env.ledger.Finalize(ctx, FinalizeInput{
		Provider:          "braintree",
		ProviderReference: "bt_early",
		AttemptID:         attemptID,
		OrderID:           order.ID,
		Outcome:           model.LedgerSucceeded,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, env.notifier.count(model.EventOrderPaid))
	assert.EqualValues(t, 2, env.countRows(t, &model.LedgerEntry{}))
}

func TestFinalize_WebhookBeforeSynchronousContradiction(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.newOrder(t)

	attemptID, err := env.ledger.InitiateAttempt(ctx, order.ID, "braintree", order.TotalPrice, "EUR")
	require.NoError(t, err)

	_, err = env.ledger.Finalize(ctx, FinalizeInput{
		Provider:          "braintree",
		ProviderReference: "bt_early",
		Outcome:           model.LedgerSucceeded,
		Amount:            order.TotalPrice,
	})
	require.NoError(t, err)

	// the synchronous answer disagrees, the first recorded outcome stands
	_, err = env.ledger.Finalize(ctx, FinalizeInput{
		Provider:          "braintree",
		ProviderReference: "bt_early",
		AttemptID:         attemptID,
		OrderID:           order.ID,
		Outcome:           model.LedgerFailed,
	})
	var conflict *apperr.ReconciliationConflictError
	require.ErrorAs(t, err, &conflict)

	stored, err := env.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, stored.PaymentStatus)

	attempt, err := env.ledgerRepo.FindByID(ctx, nil, attemptID)
	require.NoError(t, err)
	assert.Equal(t, model.LedgerSucceeded, attempt.Status)
	assert.NotNil(t, attempt.SupersededBy)
}

func TestFinalize_ConcurrentCallsOnOneKey(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.newOrder(t)

	attemptID, err := env.ledger.InitiateAttempt(ctx, order.ID, "braintree", order.TotalPrice, "EUR")
	require.NoError(t, err)

	const callers = 8
	outcomes := make([]model.LedgerStatus, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range callers {
		outcome := model.LedgerSucceeded
		if i%2 == 1 {
			outcome = model.LedgerFailed
		}
		outcomes[i] = outcome

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = env.ledger.Finalize(ctx, FinalizeInput{
				Provider:          "braintree",
				ProviderReference: "bt_race",
				AttemptID:         attemptID,
				OrderID:           order.ID,
				Outcome:           outcome,
			})
		}()
	}
	close(start)
	wg.Wait()

	entry, err := env.ledgerRepo.FindByID(ctx, nil, attemptID)
	require.NoError(t, err)
	require.True(t, entry.Status.Final())

	// every caller that lost to the other outcome was told so
	for i, err := range errs {
		if outcomes[i] == entry.Status {
			assert.NoError(t, err, "caller %d", i)
			continue
		}
		var conflict *apperr.ReconciliationConflictError
		assert.ErrorAs(t, err, &conflict, "caller %d", i)
	}

	assert.EqualValues(t, 1, env.countRows(t, &model.LedgerEntry{}))
	assert.EqualValues(t, 1, env.countRows(t, &model.ReconciliationConflict{}))

	stored, err := env.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	if entry.Status == model.LedgerSucceeded {
		assert.Equal(t, model.PaymentStatusPaid, stored.PaymentStatus)
		assert.Equal(t, 1, env.notifier.count(model.EventOrderPaid))
		assert.Zero(t, env.notifier.count(model.EventOrderPaymentFailed))
	} else {
		assert.Equal(t, model.PaymentStatusUnpaid, stored.PaymentStatus)
		assert.Equal(t, 1, env.notifier.count(model.EventOrderPaymentFailed))
		assert.Zero(t, env.notifier.count(model.EventOrderPaid))
	}
}
