package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"freshness-orders/internal/apperr"
	"freshness-orders/internal/config"
	"freshness-orders/internal/model"

	"github.com/braintree-go/braintree-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBraintree(privateKey string) (*braintreeGateway, *braintree.WebhookTestingGateway) {
	bt := braintree.New(braintree.Sandbox, "merchant-id", "public-key", privateKey)
	return newBraintreeGateway(bt), bt.WebhookTesting()
}

// signedForm returns a sandbox notification of kind for transaction id,
// encoded the way Braintree posts it.
func signedForm(t *testing.T, signer *braintree.WebhookTestingGateway, kind, id string) (signature, payload string) {
	t.Helper()
	payload = signer.SamplePayload(kind, id)
	signature, err := signer.SignPayload(payload)
	require.NoError(t, err)
	return signature, payload
}

func formBody(signature, payload string) []byte {
	form := url.Values{}
	form.Set("bt_signature", signature)
	form.Set("bt_payload", payload)
	return []byte(form.Encode())
}

func jsonBody(t *testing.T, signature, payload string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]string{"bt_signature": signature, "bt_payload": payload})
	require.NoError(t, err)
	return body
}

func TestBraintreeVerifyAndParse(t *testing.T) {
	gw, signer := newTestBraintree("private-key")

	tests := []struct {
		name    string
		kind    string
		outcome model.LedgerStatus
		asJSON  bool
	}{
		{name: "settled as form", kind: braintree.TransactionSettledWebhook, outcome: model.LedgerSucceeded},
		{name: "settled as json", kind: braintree.TransactionSettledWebhook, outcome: model.LedgerSucceeded, asJSON: true},
		{name: "settlement declined", kind: braintree.TransactionSettlementDeclinedWebhook, outcome: model.LedgerFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signature, payload := signedForm(t, signer, tt.kind, "bt_tx_42")
			body := formBody(signature, payload)
			if tt.asJSON {
				body = jsonBody(t, signature, payload)
			}

			n, err := gw.VerifyAndParse(context.Background(), http.Header{}, body)
			require.NoError(t, err)

			assert.Equal(t, ProviderBraintree, n.Provider)
			assert.Equal(t, tt.kind, n.EventType)
			assert.Equal(t, tt.kind+":bt_tx_42", n.EventID)
			assert.Equal(t, "bt_tx_42", n.ProviderReference)
			assert.Equal(t, tt.outcome, n.Outcome)
			assert.Equal(t, "USD", n.Currency)
			assert.True(t, decimal.RequireFromString("100.00").Equal(n.Amount), n.Amount.String())
			assert.Empty(t, n.AttemptID, "sandbox samples carry no order id")

			var digest map[string]string
			require.NoError(t, json.Unmarshal(n.Payload, &digest))
			assert.Equal(t, "bt_tx_42", digest["transaction_id"])
		})
	}
}

func TestBraintreeVerifyAndParse_NonTransactionKindHasNoOutcome(t *testing.T) {
	gw, signer := newTestBraintree("private-key")
	signature, payload := signedForm(t, signer, braintree.CheckWebhook, "")

	n, err := gw.VerifyAndParse(context.Background(), http.Header{}, formBody(signature, payload))
	require.NoError(t, err)

	assert.Equal(t, braintree.CheckWebhook, n.EventType)
	assert.Empty(t, n.Outcome)
	assert.Empty(t, n.ProviderReference)
	assert.Contains(t, n.EventID, braintree.CheckWebhook+":")
}

func TestBraintreeVerifyAndParse_RejectsForgeries(t *testing.T) {
	gw, signer := newTestBraintree("private-key")
	_, forger := newTestBraintree("someone-elses-key")

	signature, payload := signedForm(t, signer, braintree.TransactionSettledWebhook, "bt_tx_42")
	forgedSig, forgedPayload := signedForm(t, forger, braintree.TransactionSettledWebhook, "bt_tx_42")
	_, otherPayload := signedForm(t, signer, braintree.TransactionSettledWebhook, "bt_tx_999")

	tests := []struct {
		name string
		body []byte
	}{
		{name: "unsigned", body: []byte(`{}`)},
		{name: "signed with another key", body: formBody(forgedSig, forgedPayload)},
		{name: "payload swapped", body: formBody(signature, otherPayload)},
		{name: "signature without key pair", body: formBody("deadbeef", payload)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gw.VerifyAndParse(context.Background(), http.Header{}, tt.body)

			var authErr *apperr.AuthenticityError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, ProviderBraintree, authErr.Provider)
		})
	}
}

func TestBraintreeTransactionResult(t *testing.T) {
	tests := []struct {
		status  braintree.TransactionStatus
		success bool
	}{
		{braintree.TransactionStatusAuthorized, true},
		{braintree.TransactionStatusSubmittedForSettlement, true},
		{braintree.TransactionStatusSettling, true},
		{braintree.TransactionStatusSettled, true},
		{braintree.TransactionStatusAuthorizing, false},
		{braintree.TransactionStatusProcessorDeclined, false},
		{braintree.TransactionStatusGatewayRejected, false},
		{braintree.TransactionStatusSettlementDeclined, false},
		{braintree.TransactionStatusFailed, false},
		{braintree.TransactionStatusVoided, false},
		{braintree.TransactionStatusAuthorizationExpired, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			res := transactionResult(&braintree.Transaction{
				Id:     "bt_tx_1",
				Status: tt.status,
				Amount: braintree.NewDecimal(2350, 2),
			})

			assert.Equal(t, tt.success, res.Success)
			assert.Equal(t, "bt_tx_1", res.ProviderReference)
			assert.Equal(t, string(tt.status), res.RawStatus)
			assert.True(t, decimal.RequireFromString("23.50").Equal(res.RawAmount))
		})
	}

	res := transactionResult(&braintree.Transaction{Id: "bt_tx_2", Status: braintree.TransactionStatusSettled})
	assert.True(t, res.RawAmount.IsZero(), "a missing amount stays zero")
}

func TestBraintreeDecimalRoundTrip(t *testing.T) {
	tests := []struct {
		in       string
		unscaled int64
	}{
		{"0.01", 1},
		{"9.99", 999},
		{"23", 2300},
		{"1234.5", 123450},
		{"10.005", 1001},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			bt := toBraintreeDecimal(decimal.RequireFromString(tt.in))
			assert.Equal(t, tt.unscaled, bt.Unscaled)
			assert.Equal(t, 2, bt.Scale)

			back := fromBraintreeDecimal(bt)
			assert.True(t, decimal.RequireFromString(tt.in).Round(2).Equal(back), back.String())
		})
	}

	// the SDK parses "100.00" as unscaled 10000 at scale 2
	assert.True(t, decimal.RequireFromString("100").Equal(fromBraintreeDecimal(braintree.NewDecimal(10000, 2))))
}

func TestGatewayConstructorsServeWebhooks(t *testing.T) {
	verifiers := []WebhookVerifier{
		NewBraintreeGateway(&config.Braintree{MerchantID: "m", PublicKey: "pub", PrivateKey: "priv"}),
		NewPaypalGateway(&config.Paypal{}, "http://localhost"),
		NewRevolutGateway(&config.Revolut{}),
	}

	providers := make([]string, 0, len(verifiers))
	for _, v := range verifiers {
		providers = append(providers, v.Provider())
	}
	assert.Equal(t, []string{ProviderBraintree, ProviderPaypal, ProviderRevolut}, providers)
}
