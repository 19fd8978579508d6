package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"freshness-orders/internal/apperr"
	"freshness-orders/internal/client"
	"freshness-orders/internal/clock"
	"freshness-orders/internal/model"
	"freshness-orders/internal/repository"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type WebhookStatus string

const (
	WebhookProcessed WebhookStatus = "processed"
	WebhookDuplicate WebhookStatus = "duplicate"
	WebhookIgnored   WebhookStatus = "ignored"
	WebhookConflict  WebhookStatus = "conflict_recorded"
)

type WebhookResult struct {
	Status  WebhookStatus
	EventID string
	Entry   *model.LedgerEntry
}

type WebhookService interface {
	// Handle authenticates a provider callback before anything is read or
	// written, then applies it to the ledger at most once.
	Handle(ctx context.Context, provider string, headers http.Header, body []byte) (*WebhookResult, error)
}

type webhookServiceImpl struct {
	verifiers        map[string]client.WebhookVerifier
	ledger           LedgerService
	webhookEventRepo repository.WebhookEventRepository
	clock            clock.Clock
	logger           *zap.Logger
}

func NewWebhookService(
	verifiers []client.WebhookVerifier,
	ledger LedgerService,
	webhookEventRepo repository.WebhookEventRepository,
	clk clock.Clock,
	logger *zap.Logger,
) WebhookService {
	byProvider := make(map[string]client.WebhookVerifier, len(verifiers))
	for _, v := range verifiers {
		byProvider[v.Provider()] = v
	}

	return &webhookServiceImpl{
		verifiers:        byProvider,
		ledger:           ledger,
		webhookEventRepo: webhookEventRepo,
		clock:            clk,
		logger:           logger,
	}
}

func (s *webhookServiceImpl) Handle(ctx context.Context, provider string, headers http.Header, body []byte) (*WebhookResult, error) {
	verifier, ok := s.verifiers[provider]
	if !ok {
		return nil, apperr.NotFound("webhook provider", provider)
	}

	n, err := verifier.VerifyAndParse(ctx, headers, body)
	if err != nil {
		var authErr *apperr.AuthenticityError
		if errors.As(err, &authErr) {
			s.logger.Warn("rejected webhook", zap.String("provider", provider), zap.Error(err))
			return nil, err
		}
		return nil, apperr.Validation("body", "%v", err)
	}

	result := &WebhookResult{EventID: n.EventID}

	seen, err := s.webhookEventRepo.Exists(ctx, nil, provider, n.EventID)
	if err != nil {
		return nil, fmt.Errorf("check webhook event: %w", err)
	}
	if seen {
		result.Status = WebhookDuplicate
		return result, nil
	}

	if n.Outcome == "" {
		result.Status = WebhookIgnored
		return result, s.markProcessed(ctx, n)
	}

	entry, err := s.ledger.Finalize(ctx, FinalizeInput{
		Provider:          provider,
		ProviderReference: n.ProviderReference,
		AttemptID:         n.AttemptID,
		Outcome:           n.Outcome,
		Amount:            n.Amount,
		Currency:          n.Currency,
		Payload:           n.Payload,
	})
	var conflict *apperr.ReconciliationConflictError
	switch {
	case errors.As(err, &conflict):
		// recorded for review, a redelivery cannot change the outcome
		result.Status = WebhookConflict
		result.Entry = entry
		if merr := s.markProcessed(ctx, n); merr != nil {
			return nil, merr
		}
		return result, err
	case err != nil:
		return nil, err
	}

	// Finalize is idempotent, so a crash before this write only costs a
	// no-op redelivery
	if err := s.markProcessed(ctx, n); err != nil {
		return nil, err
	}

	result.Status = WebhookProcessed
	result.Entry = entry
	return result, nil
}

func (s *webhookServiceImpl) markProcessed(ctx context.Context, n *client.WebhookNotification) error {
	err := s.webhookEventRepo.MarkProcessed(ctx, nil, &model.WebhookEvent{
		Provider:    n.Provider,
		EventID:     n.EventID,
		EventType:   n.EventType,
		Payload:     datatypes.JSON(n.Payload),
		ProcessedAt: s.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("mark webhook processed: %w", err)
	}
	return nil
}
