package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"freshness-orders/internal/apperr"
	"freshness-orders/internal/config"
	"freshness-orders/internal/model"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const ProviderPaypal = "paypal"

const (
	paypalCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	paypalCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
	paypalCaptureDeclined  = "PAYMENT.CAPTURE.DECLINED"
)

type paypalLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalCapture struct {
	ID     string        `json:"id"`
	Status string        `json:"status"`
	Amount *paypalAmount `json:"amount"`
}

type paypalOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		Amount   *paypalAmount `json:"amount"`
		Payments struct {
			Captures []paypalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type paypalWebhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string        `json:"id"`
		Status            string        `json:"status"`
		CustomID          string        `json:"custom_id"`
		Amount            *paypalAmount `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// paypalGateway is the wallet gateway. Payments go through the PayPal
// approval redirect, so Authorize always returns RequiresAction.
type paypalGateway struct {
	http         *resty.Client
	clientID     string
	clientSecret string
	webhookID    string
	returnURL    string
	cancelURL    string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewPaypalGateway(cfg *config.Paypal, serviceBaseURL string) WebhookGateway {
	return newPaypalGateway(cfg, serviceBaseURL)
}

func newPaypalGateway(cfg *config.Paypal, serviceBaseURL string) *paypalGateway {
	returnURL := cfg.RedirectURL
	if returnURL == "" {
		returnURL = serviceBaseURL + "/api/payments/paypal/success"
	}

	return &paypalGateway{
		http: resty.New().
			SetBaseURL(cfg.BaseApiURL).
			SetTimeout(30 * time.Second),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		webhookID:    cfg.WebhookID,
		returnURL:    returnURL,
		cancelURL:    serviceBaseURL, // if user cancel during paypal payment, return to our homepage
	}
}

func (c *paypalGateway) Provider() string { return ProviderPaypal }

func (c *paypalGateway) getAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var res struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.clientID, c.clientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&res).
		Post("/v1/oauth2/token")
	if err != nil {
		return "", fmt.Errorf("paypal oauth: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("paypal oauth %d: %s", resp.StatusCode(), resp.String())
	}

	c.token = res.AccessToken
	// refresh a minute early
	c.tokenExpiry = time.Now().Add(time.Duration(res.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}

func (c *paypalGateway) authed(ctx context.Context) (*resty.Request, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json"), nil
}

func (c *paypalGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*GatewayResult, error) {
	returnURL, cancelURL := c.returnURL, c.cancelURL
	if req.ReturnURL != "" {
		returnURL = req.ReturnURL
	}
	if req.CancelURL != "" {
		cancelURL = req.CancelURL
	}

	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"reference_id": req.OrderID,
				"custom_id":    req.AttemptID,
				"amount": paypalAmount{
					CurrencyCode: req.Currency,
					Value:        req.Amount.StringFixed(2),
				},
			},
		},
		"application_context": map[string]string{
			"return_url": returnURL,
			"cancel_url": cancelURL,
		},
	}

	r, err := c.authed(ctx)
	if err != nil {
		return nil, c.fail("create order", err)
	}

	var order paypalOrder
	resp, err := r.SetBody(payload).SetResult(&order).Post("/v2/checkout/orders")
	if err != nil {
		return nil, c.fail("create order", err)
	}
	if resp.IsError() {
		return nil, c.fail("create order", fmt.Errorf("status=%d body=%s", resp.StatusCode(), resp.String()))
	}

	return &GatewayResult{
		ProviderReference: order.ID,
		RawAmount:         req.Amount,
		RawStatus:         order.Status,
		RequiresAction:    true,
		ApprovalURL:       extractApproveURL(order.Links),
	}, nil
}

func (c *paypalGateway) Capture(ctx context.Context, reference string) (*GatewayResult, error) {
	r, err := c.authed(ctx)
	if err != nil {
		return nil, c.fail("capture", err)
	}

	var order paypalOrder
	resp, err := r.SetResult(&order).Post(fmt.Sprintf("/v2/checkout/orders/%s/capture", reference))
	if err != nil {
		return nil, c.fail("capture", err)
	}
	if resp.IsError() {
		return nil, c.fail("capture", fmt.Errorf("status=%d body=%s", resp.StatusCode(), resp.String()))
	}

	res := &GatewayResult{
		ProviderReference: order.ID,
		RawStatus:         order.Status,
	}
	if capture := firstCapture(&order); capture != nil {
		res.RawStatus = capture.Status
		res.Success = capture.Status == "COMPLETED"
		if capture.Amount != nil {
			res.RawAmount, _ = decimal.NewFromString(capture.Amount.Value)
		}
	}
	return res, nil
}

func (c *paypalGateway) Refund(ctx context.Context, reference string, amount decimal.Decimal) (*GatewayResult, error) {
	r, err := c.authed(ctx)
	if err != nil {
		return nil, c.fail("refund", err)
	}

	var order paypalOrder
	resp, err := r.SetResult(&order).Get("/v2/checkout/orders/" + reference)
	if err != nil {
		return nil, c.fail("refund", err)
	}
	if resp.IsError() {
		return nil, c.fail("refund", fmt.Errorf("status=%d body=%s", resp.StatusCode(), resp.String()))
	}

	capture := firstCapture(&order)
	if capture == nil {
		return nil, c.fail("refund", fmt.Errorf("order %s has no capture", reference))
	}
	currency := ""
	if capture.Amount != nil {
		currency = capture.Amount.CurrencyCode
	}

	r, err = c.authed(ctx)
	if err != nil {
		return nil, c.fail("refund", err)
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	resp, err = r.
		SetBody(map[string]interface{}{
			"amount": paypalAmount{CurrencyCode: currency, Value: amount.StringFixed(2)},
		}).
		SetResult(&refund).
		Post(fmt.Sprintf("/v2/payments/captures/%s/refund", capture.ID))
	if err != nil {
		return nil, c.fail("refund", err)
	}
	if resp.IsError() {
		return nil, c.fail("refund", fmt.Errorf("status=%d body=%s", resp.StatusCode(), resp.String()))
	}

	return &GatewayResult{
		Success:           refund.Status == "COMPLETED" || refund.Status == "PENDING",
		ProviderReference: reference,
		RawAmount:         amount,
		RawStatus:         refund.Status,
	}, nil
}

func (c *paypalGateway) fail(op string, err error) error {
	return &apperr.GatewayError{Provider: ProviderPaypal, Op: op, Err: err}
}

// VerifyAndParse asks PayPal to verify the transmission signature before the
// event body is trusted.
func (c *paypalGateway) VerifyAndParse(ctx context.Context, headers http.Header, body []byte) (*WebhookNotification, error) {
	if err := c.verifyWebhookSignature(ctx, headers, body); err != nil {
		return nil, &apperr.AuthenticityError{Provider: ProviderPaypal, Err: err}
	}

	var event paypalWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode paypal webhook payload: %w", err)
	}

	n := &WebhookNotification{
		Provider:          ProviderPaypal,
		EventID:           event.ID,
		EventType:         event.EventType,
		ProviderReference: event.Resource.SupplementaryData.RelatedIDs.OrderID,
		AttemptID:         event.Resource.CustomID,
		Payload:           body,
	}
	if n.ProviderReference == "" {
		n.ProviderReference = event.Resource.ID
	}
	if event.Resource.Amount != nil {
		n.Currency = event.Resource.Amount.CurrencyCode
		n.Amount, _ = decimal.NewFromString(event.Resource.Amount.Value)
	}

	switch event.EventType {
	case paypalCaptureCompleted:
		n.Outcome = model.LedgerSucceeded
	case paypalCaptureDenied, paypalCaptureDeclined:
		n.Outcome = model.LedgerFailed
	}
	return n, nil
}

func (c *paypalGateway) verifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error {
	if c.webhookID == "" {
		return fmt.Errorf("webhook id not configured")
	}
	if headers.Get("PAYPAL-TRANSMISSION-SIG") == "" {
		return fmt.Errorf("missing transmission signature")
	}

	r, err := c.authed(ctx)
	if err != nil {
		return err
	}

	var res struct {
		VerificationStatus string `json:"verification_status"`
	}
	resp, err := r.
		SetBody(map[string]interface{}{
			"auth_algo":         headers.Get("PAYPAL-AUTH-ALGO"),
			"cert_url":          headers.Get("PAYPAL-CERT-URL"),
			"transmission_id":   headers.Get("PAYPAL-TRANSMISSION-ID"),
			"transmission_sig":  headers.Get("PAYPAL-TRANSMISSION-SIG"),
			"transmission_time": headers.Get("PAYPAL-TRANSMISSION-TIME"),
			"webhook_id":        c.webhookID,
			"webhook_event":     json.RawMessage(body),
		}).
		SetResult(&res).
		Post("/v1/notifications/verify-webhook-signature")
	if err != nil {
		return fmt.Errorf("verify request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("verify status=%d", resp.StatusCode())
	}
	if res.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("verification status %q", res.VerificationStatus)
	}
	return nil
}

func firstCapture(order *paypalOrder) *paypalCapture {
	for _, unit := range order.PurchaseUnits {
		if len(unit.Payments.Captures) > 0 {
			return &unit.Payments.Captures[0]
		}
	}
	return nil
}

func extractApproveURL(links []paypalLink) string {
	for _, link := range links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}
