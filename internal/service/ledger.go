package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freshness-orders/internal/apperr"
	"freshness-orders/internal/clock"
	"freshness-orders/internal/model"
	"freshness-orders/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type FinalizeInput struct {
	Provider          string
	ProviderReference string
	AttemptID         string // our ledger entry id, when the provider echoed it
	OrderID           string
	Outcome           model.LedgerStatus
	Amount            decimal.Decimal
	Currency          string
	Payload           []byte
}

type LedgerService interface {
	InitiateAttempt(ctx context.Context, orderID, provider string, amount decimal.Decimal, currency string) (string, error)
	AttachReference(ctx context.Context, entryID, reference string) error
	// Finalize records the provider's outcome for an attempt at most once and
	// folds it into the order in the same transaction.
	Finalize(ctx context.Context, in FinalizeInput) (*model.LedgerEntry, error)
	FindByReference(ctx context.Context, provider, reference string) (*model.LedgerEntry, error)
	// RefundableEntries lists the succeeded entries of an order whose money
	// has not been returned yet.
	RefundableEntries(ctx context.Context, orderID string) ([]*model.LedgerEntry, error)
	RecordRefund(ctx context.Context, entryID, reference string) error
	ListConflicts(ctx context.Context, limit int) ([]*model.ReconciliationConflict, error)
}

type ledgerServiceImpl struct {
	db           *gorm.DB
	ledgerRepo   repository.LedgerRepository
	conflictRepo repository.ConflictRepository
	orders       OrderService
	clock        clock.Clock
	logger       *zap.Logger
}

func NewLedgerService(
	db *gorm.DB,
	ledgerRepo repository.LedgerRepository,
	conflictRepo repository.ConflictRepository,
	orders OrderService,
	clk clock.Clock,
	logger *zap.Logger,
) LedgerService {
	return &ledgerServiceImpl{
		db:           db,
		ledgerRepo:   ledgerRepo,
		conflictRepo: conflictRepo,
		orders:       orders,
		clock:        clk,
		logger:       logger,
	}
}

func (s *ledgerServiceImpl) InitiateAttempt(ctx context.Context, orderID, provider string, amount decimal.Decimal, currency string) (string, error) {
	entry := &model.LedgerEntry{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Provider:    provider,
		Amount:      amount,
		Currency:    currency,
		Status:      model.LedgerPending,
		InitiatedAt: s.clock.Now(),
	}
	if err := s.ledgerRepo.Create(ctx, nil, entry); err != nil {
		return "", fmt.Errorf("store ledger entry: %w", err)
	}
	return entry.ID, nil
}

func (s *ledgerServiceImpl) AttachReference(ctx context.Context, entryID, reference string) error {
	ok, err := s.ledgerRepo.AttachReference(ctx, nil, entryID, reference)
	if err != nil {
		return fmt.Errorf("attach provider reference: %w", err)
	}
	if ok {
		return nil
	}

	// already attached or finalized, fine as long as it is the same reference
	entry, err := s.ledgerRepo.FindByID(ctx, nil, entryID)
	if repository.IsNotFound(err) {
		return apperr.NotFound("ledger entry", entryID)
	}
	if err != nil {
		return fmt.Errorf("get ledger entry: %w", err)
	}
	if entry.Reference() != reference {
		return &apperr.InvalidTransitionError{Entity: "ledger entry", ID: entryID, From: string(entry.Status), Action: "attach reference " + reference}
	}
	return nil
}

func (s *ledgerServiceImpl) Finalize(ctx context.Context, in FinalizeInput) (*model.LedgerEntry, error) {
	if !in.Outcome.Final() {
		return nil, apperr.Validation("outcome", "must be succeeded or failed, got %q", in.Outcome)
	}
	if in.ProviderReference == "" && in.AttemptID == "" {
		return nil, apperr.Validation("provider_reference", "or attempt id is required")
	}

	var (
		entry    *model.LedgerEntry
		event    *OrderEvent
		conflict *apperr.ReconciliationConflictError
	)
	err := retryOnStale(ctx, func() error {
		event, conflict = nil, nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			entry, event, conflict, err = s.finalizeTx(ctx, tx, in)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.orders.Emit(ctx, event)
	if conflict != nil {
		return entry, conflict
	}
	return entry, nil
}

// finalizeTx returns a conflict instead of failing so the review record it
// wrote commits with the transaction.
func (s *ledgerServiceImpl) finalizeTx(ctx context.Context, tx *gorm.DB, in FinalizeInput) (*model.LedgerEntry, *OrderEvent, *apperr.ReconciliationConflictError, error) {
	now := s.clock.Now()
	payload := datatypes.JSON(in.Payload)

	entry, err := s.locate(ctx, tx, in)
	if err != nil {
		return nil, nil, nil, err
	}

	if entry == nil {
		if in.ProviderReference == "" {
			return nil, nil, nil, apperr.NotFound("ledger entry", in.AttemptID)
		}
		entry = &model.LedgerEntry{
			ID:                uuid.NewString(),
			OrderID:           in.OrderID,
			Provider:          in.Provider,
			ProviderReference: &in.ProviderReference,
			Amount:            in.Amount,
			Currency:          in.Currency,
			Status:            in.Outcome,
			InitiatedAt:       now,
			FinalizedAt:       &now,
			Payload:           payload,
		}
		created, err := s.ledgerRepo.CreateIfAbsent(ctx, tx, entry)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store out-of-band ledger entry: %w", err)
		}
		if created {
			s.logger.Warn("out-of-band payment confirmation",
				zap.String("provider", in.Provider),
				zap.String("provider_reference", in.ProviderReference),
				zap.String("outcome", string(in.Outcome)),
			)
			event, err := s.applyToOrder(ctx, tx, entry)
			return entry, event, nil, err
		}

		// lost the insert race, fall through to the existing row
		if entry, err = s.ledgerRepo.FindByReference(ctx, tx, in.Provider, in.ProviderReference); err != nil {
			return nil, nil, nil, fmt.Errorf("reload ledger entry: %w", err)
		}
	}

	adopted := false
	if entry.Status.Final() {
		if entry, adopted, err = s.adopt(ctx, tx, entry, in, now); err != nil {
			return nil, nil, nil, err
		}
	}

	if entry.Status == model.LedgerPending {
		ok, err := s.ledgerRepo.Finalize(ctx, tx, entry.ID, in.Outcome, in.ProviderReference, payload, now)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("finalize ledger entry: %w", err)
		}
		if entry, err = s.ledgerRepo.FindByID(ctx, tx, entry.ID); err != nil {
			return nil, nil, nil, fmt.Errorf("reload ledger entry: %w", err)
		}
		if ok {
			if !in.Amount.IsZero() && !in.Amount.Equal(entry.Amount) {
				s.logger.Warn("provider amount differs from attempt",
					zap.String("entry_id", entry.ID),
					zap.String("expected", entry.Amount.String()),
					zap.String("reported", in.Amount.String()),
				)
			}
			event, err := s.applyToOrder(ctx, tx, entry)
			return entry, event, nil, err
		}
		// another finalizer won, judge against its outcome below
	}

	if entry.Status != in.Outcome {
		conflict := &apperr.ReconciliationConflictError{
			Provider:  entry.Provider,
			Reference: entry.Reference(),
			Existing:  string(entry.Status),
			Attempted: string(in.Outcome),
		}
		err := s.conflictRepo.Record(ctx, tx, &model.ReconciliationConflict{
			LedgerEntryID:     entry.ID,
			Provider:          entry.Provider,
			ProviderReference: entry.Reference(),
			ExistingStatus:    entry.Status,
			AttemptedStatus:   in.Outcome,
			Payload:           payload,
			DetectedAt:        now,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("record reconciliation conflict: %w", err)
		}
		s.logger.Error("reconciliation conflict",
			zap.String("entry_id", entry.ID),
			zap.String("provider", entry.Provider),
			zap.String("provider_reference", entry.Reference()),
			zap.String("existing", string(entry.Status)),
			zap.String("attempted", string(in.Outcome)),
		)

		// the recorded outcome still stands for the order it was just tied to
		var event *OrderEvent
		if adopted {
			if event, err = s.applyToOrder(ctx, tx, entry); err != nil {
				return nil, nil, nil, err
			}
		}
		return entry, event, conflict, nil
	}

	// duplicate confirmation: re-apply so a crash between ledger and order
	// writes heals, the order side is a no-op otherwise
	event, err := s.applyToOrder(ctx, tx, entry)
	return entry, event, nil, err
}

// locate finds the attempt by provider reference, then by our attempt id.
func (s *ledgerServiceImpl) locate(ctx context.Context, tx *gorm.DB, in FinalizeInput) (*model.LedgerEntry, error) {
	if in.ProviderReference != "" {
		entry, err := s.ledgerRepo.FindByReference(ctx, tx, in.Provider, in.ProviderReference)
		if err == nil {
			return entry, nil
		}
		if !repository.IsNotFound(err) {
			return nil, fmt.Errorf("get ledger entry by reference: %w", err)
		}
	}

	return s.findAttempt(ctx, tx, in.Provider, in.AttemptID)
}

// findAttempt returns nil when attemptID is not one of ours for provider.
func (s *ledgerServiceImpl) findAttempt(ctx context.Context, tx *gorm.DB, provider, attemptID string) (*model.LedgerEntry, error) {
	if attemptID == "" {
		return nil, nil
	}
	if _, err := uuid.Parse(attemptID); err != nil {
		return nil, nil
	}

	entry, err := s.ledgerRepo.FindByID(ctx, tx, attemptID)
	if repository.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry by attempt: %w", err)
	}
	if entry.Provider != provider {
		return nil, nil
	}
	return entry, nil
}

// adopt handles a confirmation that names our attempt or order for a
// reference already recorded under another entry, which happens when the
// provider's webhook lands before the synchronous call returns. The recorded
// entry takes the order if it had none, and the pending attempt is closed as
// superseded by it. It reports whether the entry was newly tied to an order.
func (s *ledgerServiceImpl) adopt(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry, in FinalizeInput, now time.Time) (*model.LedgerEntry, bool, error) {
	var attempt *model.LedgerEntry
	if in.AttemptID != entry.ID {
		var err error
		if attempt, err = s.findAttempt(ctx, tx, entry.Provider, in.AttemptID); err != nil {
			return nil, false, err
		}
	}

	orderID, amount, currency := in.OrderID, in.Amount, in.Currency
	if attempt != nil {
		if orderID == "" {
			orderID = attempt.OrderID
		}
		amount, currency = attempt.Amount, attempt.Currency
	}

	adopted := false
	if entry.OrderID == "" && orderID != "" {
		ok, err := s.ledgerRepo.ClaimOrder(ctx, tx, entry.ID, orderID, amount, currency)
		if err != nil {
			return nil, false, fmt.Errorf("attach order to ledger entry: %w", err)
		}
		if entry, err = s.ledgerRepo.FindByID(ctx, tx, entry.ID); err != nil {
			return nil, false, fmt.Errorf("reload ledger entry: %w", err)
		}
		if ok {
			adopted = true
			s.logger.Info("out-of-band entry tied to order",
				zap.String("entry_id", entry.ID),
				zap.String("order_id", orderID),
			)
		}
	}

	if attempt != nil && attempt.Status == model.LedgerPending && attempt.OrderID == entry.OrderID {
		if _, err := s.ledgerRepo.Supersede(ctx, tx, attempt.ID, entry.Status, entry.ID, now); err != nil {
			return nil, false, fmt.Errorf("supersede ledger entry: %w", err)
		}
	}
	return entry, adopted, nil
}

func (s *ledgerServiceImpl) applyToOrder(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) (*OrderEvent, error) {
	if entry.OrderID == "" {
		return nil, nil
	}

	_, event, err := s.orders.ApplyPaymentResultTx(ctx, tx, entry.OrderID, entry)
	if err != nil {
		var notFound *apperr.NotFoundError
		if errors.As(err, &notFound) {
			s.logger.Warn("ledger entry for unknown order",
				zap.String("entry_id", entry.ID),
				zap.String("order_id", entry.OrderID),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("apply payment result: %w", err)
	}
	return event, nil
}

func (s *ledgerServiceImpl) FindByReference(ctx context.Context, provider, reference string) (*model.LedgerEntry, error) {
	entry, err := s.ledgerRepo.FindByReference(ctx, nil, provider, reference)
	if repository.IsNotFound(err) {
		return nil, apperr.NotFound("payment", reference)
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return entry, nil
}

func (s *ledgerServiceImpl) RefundableEntries(ctx context.Context, orderID string) ([]*model.LedgerEntry, error) {
	entries, err := s.ledgerRepo.ListByOrder(ctx, nil, orderID, model.LedgerSucceeded)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, apperr.NotFound("succeeded payment for order", orderID)
	}

	refundable := entries[:0]
	for _, e := range entries {
		if e.Refundable() {
			refundable = append(refundable, e)
		}
	}
	return refundable, nil
}

func (s *ledgerServiceImpl) RecordRefund(ctx context.Context, entryID, reference string) error {
	ok, err := s.ledgerRepo.RecordRefund(ctx, nil, entryID, reference, s.clock.Now())
	if err != nil {
		return fmt.Errorf("record refund: %w", err)
	}
	if ok {
		return nil
	}

	entry, err := s.ledgerRepo.FindByID(ctx, nil, entryID)
	if repository.IsNotFound(err) {
		return apperr.NotFound("ledger entry", entryID)
	}
	if err != nil {
		return fmt.Errorf("get ledger entry: %w", err)
	}
	if entry.RefundedAt != nil {
		return nil
	}
	return &apperr.InvalidTransitionError{Entity: "ledger entry", ID: entryID, From: string(entry.Status), Action: "refund"}
}

func (s *ledgerServiceImpl) ListConflicts(ctx context.Context, limit int) ([]*model.ReconciliationConflict, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	conflicts, err := s.conflictRepo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation conflicts: %w", err)
	}
	return conflicts, nil
}
