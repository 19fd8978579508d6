package dto

import (
	"time"

	"freshness-orders/internal/model"
	"freshness-orders/internal/service"

	"github.com/shopspring/decimal"
)

type Item struct {
	ProductID      string            `json:"product_id" validate:"required"`
	Quantity       int32             `json:"quantity" validate:"required,min=1"`
	Customizations map[string]string `json:"customizations,omitempty"`
}

type DeliverySchedule struct {
	StartDate time.Time `json:"start_date"`
	Days      []string  `json:"days,omitempty"`
}

type CheckoutRequest struct {
	Items            []*Item           `json:"items" validate:"required,min=1,dive"`
	DeliveryType     string            `json:"delivery_type" validate:"required,oneof=one-time daily weekly"`
	DeliverySchedule *DeliverySchedule `json:"delivery_schedule,omitempty"`
	PaymentMethod    string            `json:"payment_method" validate:"required,oneof=card wallet bank_transfer"`
	PaymentToken     string            `json:"payment_token,omitempty"`
	Currency         string            `json:"currency,omitempty" validate:"omitempty,len=3"`
}

type CheckoutResponse struct {
	Order            *OrderResponse `json:"order"`
	AttemptID        string         `json:"attempt_id"`
	PaymentStatus    string         `json:"payment_status"`
	OrderApprovalURL string         `json:"order_approval_url,omitempty"`
}

type OrderItemResponse struct {
	ProductID      string            `json:"product_id"`
	Quantity       int32             `json:"quantity"`
	UnitPrice      decimal.Decimal   `json:"unit_price"`
	Customizations map[string]string `json:"customizations,omitempty"`
}

type OrderResponse struct {
	ID                 string                  `json:"id"`
	UserID             string                  `json:"user_id"`
	Items              []*OrderItemResponse    `json:"items"`
	TotalPrice         decimal.Decimal         `json:"total_price"`
	Currency           string                  `json:"currency"`
	Status             string                  `json:"status"`
	PaymentStatus      string                  `json:"payment_status"`
	DeliveryType       string                  `json:"delivery_type"`
	DeliverySchedule   *model.DeliverySchedule `json:"delivery_schedule,omitempty"`
	SubscriptionID     *string                 `json:"subscription_id,omitempty"`
	LastPaymentFailure string                  `json:"last_payment_failure,omitempty"`
	CreatedAt          time.Time               `json:"created_at"`
	UpdatedAt          time.Time               `json:"updated_at"`
}

type CreateSubscriptionRequest struct {
	ProductID           string     `json:"product_id" validate:"required"`
	Quantity            int32      `json:"quantity" validate:"omitempty,min=1"`
	Frequency           string     `json:"frequency" validate:"required,oneof=daily weekly"`
	DeliveryDays        []string   `json:"delivery_days,omitempty" validate:"required_if=Frequency weekly"`
	StartDate           *time.Time `json:"start_date,omitempty"`
	RemainingDeliveries *int       `json:"remaining_deliveries,omitempty" validate:"omitempty,min=1"`
	PaymentMethod       string     `json:"payment_method,omitempty" validate:"omitempty,oneof=card wallet bank_transfer"`
	Currency            string     `json:"currency,omitempty" validate:"omitempty,len=3"`
}

type DeliveryRecordResponse struct {
	DeliveryDate time.Time `json:"delivery_date"`
	OrderID      string    `json:"order_id"`
	Outcome      string    `json:"outcome"`
}

type SubscriptionResponse struct {
	ID                  string                    `json:"id"`
	UserID              string                    `json:"user_id"`
	ProductID           string                    `json:"product_id"`
	Quantity            int32                     `json:"quantity"`
	Frequency           string                    `json:"frequency"`
	DeliveryDays        []string                  `json:"delivery_days,omitempty"`
	NextDeliveryDate    time.Time                 `json:"next_delivery_date"`
	RemainingDeliveries *int                      `json:"remaining_deliveries,omitempty"`
	Status              string                    `json:"status"`
	History             []*DeliveryRecordResponse `json:"history"`
}

type WebhookResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func ToCheckoutInput(userID string, req *CheckoutRequest) service.CheckoutInput {
	in := service.CheckoutInput{
		UserID:        userID,
		DeliveryType:  model.DeliveryType(req.DeliveryType),
		PaymentMethod: req.PaymentMethod,
		PaymentToken:  req.PaymentToken,
		Currency:      req.Currency,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.OrderItemInput{
			ProductID:      it.ProductID,
			Quantity:       it.Quantity,
			Customizations: it.Customizations,
		})
	}
	if req.DeliverySchedule != nil {
		in.DeliverySchedule = &model.DeliverySchedule{
			StartDate: req.DeliverySchedule.StartDate,
			Days:      req.DeliverySchedule.Days,
		}
	}
	return in
}

func ToSubscriptionInput(userID string, req *CreateSubscriptionRequest) service.CreateSubscriptionInput {
	return service.CreateSubscriptionInput{
		UserID:              userID,
		ProductID:           req.ProductID,
		Quantity:            req.Quantity,
		Frequency:           model.Frequency(req.Frequency),
		DeliveryDays:        req.DeliveryDays,
		StartDate:           req.StartDate,
		RemainingDeliveries: req.RemainingDeliveries,
		PaymentMethod:       req.PaymentMethod,
		Currency:            req.Currency,
	}
}

func FromOrder(o *model.Order) *OrderResponse {
	resp := &OrderResponse{
		ID:                 o.ID,
		UserID:             o.UserID,
		Items:              make([]*OrderItemResponse, 0, len(o.Items)),
		TotalPrice:         o.TotalPrice,
		Currency:           o.Currency,
		Status:             string(o.Status),
		PaymentStatus:      string(o.PaymentStatus),
		DeliveryType:       string(o.DeliveryType),
		DeliverySchedule:   o.DeliverySchedule,
		SubscriptionID:     o.SubscriptionID,
		LastPaymentFailure: o.LastPaymentFailure,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, &OrderItemResponse{
			ProductID:      it.ProductID,
			Quantity:       it.Quantity,
			UnitPrice:      it.UnitPrice,
			Customizations: it.Customizations,
		})
	}
	return resp
}

func FromOrders(orders []*model.Order) []*OrderResponse {
	out := make([]*OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, FromOrder(o))
	}
	return out
}

func FromSubscription(s *model.Subscription) *SubscriptionResponse {
	resp := &SubscriptionResponse{
		ID:                  s.ID,
		UserID:              s.UserID,
		ProductID:           s.ProductID,
		Quantity:            s.Quantity,
		Frequency:           string(s.Frequency),
		DeliveryDays:        s.DeliveryDays,
		NextDeliveryDate:    s.NextDeliveryDate,
		RemainingDeliveries: s.RemainingDeliveries,
		Status:              string(s.Status),
		History:             make([]*DeliveryRecordResponse, 0, len(s.History)),
	}
	for _, h := range s.History {
		resp.History = append(resp.History, &DeliveryRecordResponse{
			DeliveryDate: h.DeliveryDate,
			OrderID:      h.OrderID,
			Outcome:      h.Outcome,
		})
	}
	return resp
}
