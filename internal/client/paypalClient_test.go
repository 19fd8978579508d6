package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"freshness-orders/internal/apperr"
	"freshness-orders/internal/config"
	"freshness-orders/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePaypal struct {
	verification string
	tokenCalls   atomic.Int32
	lastOrder    map[string]interface{}
}

func (f *fakePaypal) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client-id", user)
		assert.Equal(t, "client-secret", pass)
		writeJSON(w, map[string]interface{}{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("POST /v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastOrder))
		writeJSON(w, map[string]interface{}{
			"id":     "PP-ORDER-1",
			"status": "CREATED",
			"links": []map[string]string{
				{"rel": "self", "href": "https://paypal.test/self"},
				{"rel": "approve", "href": "https://paypal.test/approve?token=PP-ORDER-1"},
			},
		})
	})
	mux.HandleFunc("POST /v2/checkout/orders/PP-ORDER-1/capture", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"id":     "PP-ORDER-1",
			"status": "COMPLETED",
			"purchase_units": []map[string]interface{}{{
				"payments": map[string]interface{}{
					"captures": []map[string]interface{}{{
						"id":     "CAP-1",
						"status": "COMPLETED",
						"amount": map[string]string{"currency_code": "EUR", "value": "23.00"},
					}},
				},
			}},
		})
	})
	mux.HandleFunc("POST /v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"verification_status": f.verification})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestPaypal(t *testing.T, fake *fakePaypal) *paypalGateway {
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	return newPaypalGateway(&config.Paypal{
		BaseApiURL:   srv.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		WebhookID:    "WH-1",
	}, "https://shop.test")
}

func TestPaypalAuthorize_ReturnsApprovalURL(t *testing.T) {
	fake := &fakePaypal{}
	gw := newTestPaypal(t, fake)

	res, err := gw.Authorize(context.Background(), AuthorizeRequest{
		Amount:    decimal.RequireFromString("23"),
		Currency:  "EUR",
		AttemptID: "attempt-1",
		OrderID:   "order-1",
	})
	require.NoError(t, err)

	assert.True(t, res.RequiresAction)
	assert.Equal(t, "PP-ORDER-1", res.ProviderReference)
	assert.Equal(t, "https://paypal.test/approve?token=PP-ORDER-1", res.ApprovalURL)

	units := fake.lastOrder["purchase_units"].([]interface{})
	unit := units[0].(map[string]interface{})
	assert.Equal(t, "attempt-1", unit["custom_id"])
	assert.Equal(t, "order-1", unit["reference_id"])
	assert.Equal(t, "23.00", unit["amount"].(map[string]interface{})["value"])

	appCtx := fake.lastOrder["application_context"].(map[string]interface{})
	assert.Equal(t, "https://shop.test/api/payments/paypal/success", appCtx["return_url"])
}

func TestPaypalCapture_CachesToken(t *testing.T) {
	fake := &fakePaypal{}
	gw := newTestPaypal(t, fake)

	res, err := gw.Capture(context.Background(), "PP-ORDER-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "COMPLETED", res.RawStatus)
	assert.True(t, decimal.RequireFromString("23").Equal(res.RawAmount))

	_, err = gw.Capture(context.Background(), "PP-ORDER-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, fake.tokenCalls.Load())
}

func TestPaypalCapture_ProviderErrorIsGatewayError(t *testing.T) {
	fake := &fakePaypal{}
	gw := newTestPaypal(t, fake)

	_, err := gw.Capture(context.Background(), "UNKNOWN")

	var gwErr *apperr.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, ProviderPaypal, gwErr.Provider)
}

func TestPaypalVerifyAndParse(t *testing.T) {
	body := []byte(`{
		"id": "WH-EVT-1",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"id": "CAP-1",
			"status": "COMPLETED",
			"custom_id": "attempt-1",
			"amount": {"currency_code": "EUR", "value": "23.00"},
			"supplementary_data": {"related_ids": {"order_id": "PP-ORDER-1"}}
		}
	}`)
	headers := http.Header{}
	headers.Set("PAYPAL-TRANSMISSION-SIG", "sig")

	t.Run("verified", func(t *testing.T) {
		gw := newTestPaypal(t, &fakePaypal{verification: "SUCCESS"})

		n, err := gw.VerifyAndParse(context.Background(), headers, body)
		require.NoError(t, err)
		assert.Equal(t, "WH-EVT-1", n.EventID)
		assert.Equal(t, "PP-ORDER-1", n.ProviderReference)
		assert.Equal(t, "attempt-1", n.AttemptID)
		assert.Equal(t, model.LedgerSucceeded, n.Outcome)
		assert.Equal(t, "EUR", n.Currency)
	})

	t.Run("rejected by paypal", func(t *testing.T) {
		gw := newTestPaypal(t, &fakePaypal{verification: "FAILURE"})

		_, err := gw.VerifyAndParse(context.Background(), headers, body)
		var authErr *apperr.AuthenticityError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("unsigned", func(t *testing.T) {
		gw := newTestPaypal(t, &fakePaypal{verification: "SUCCESS"})

		_, err := gw.VerifyAndParse(context.Background(), http.Header{}, body)
		var authErr *apperr.AuthenticityError
		require.ErrorAs(t, err, &authErr)
	})
}
