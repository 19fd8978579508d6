package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"freshness-orders/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of the SQS client used here, so tests can fake it.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type orderMessage struct {
	Kind          model.OrderEventKind `json:"kind"`
	UserID        string               `json:"user_id"`
	OrderID       string               `json:"order_id"`
	Status        model.OrderStatus    `json:"status"`
	PaymentStatus model.PaymentStatus  `json:"payment_status"`
	Total         string               `json:"total"`
	Currency      string               `json:"currency"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// SQSNotifier publishes lifecycle events to a queue consumed by the
// customer messaging worker.
type SQSNotifier struct {
	sqs      SQSAPI
	queueURL string
	now      func() time.Time
}

func NewSQSNotifier(client SQSAPI, queueURL string) *SQSNotifier {
	return &SQSNotifier{
		sqs:      client,
		queueURL: queueURL,
		now:      time.Now,
	}
}

// NewSQSNotifierFromEnv loads the default AWS credential chain for region.
func NewSQSNotifierFromEnv(ctx context.Context, region, queueURL string) (*SQSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSQSNotifier(sqs.NewFromConfig(cfg), queueURL), nil
}

func (n *SQSNotifier) Notify(ctx context.Context, userID string, order *model.Order, kind model.OrderEventKind) error {
	body, err := json.Marshal(orderMessage{
		Kind:          kind,
		UserID:        userID,
		OrderID:       order.ID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Total:         order.TotalPrice.StringFixed(2),
		Currency:      order.Currency,
		OccurredAt:    n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal order message: %w", err)
	}

	_, err = n.sqs.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(kind)),
			},
			"user_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(userID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
