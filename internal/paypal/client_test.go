package paypal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"rental-order-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var studioWithCredentials = &models.Studio{
	ID:              3,
	CurrencyCode:    "EUR",
	PaypalUsername:  "studio_api1.example.com",
	PaypalPassword:  "studio-pwd",
	PaypalSignature: "studio-sig",
}

// nvpServer answers every request with body and records the last form
func nvpServer(t *testing.T, body string) (*httptest.Server, *url.Values) {
	t.Helper()
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func testConfig(endpoint, environment string) Config {
	return Config{
		Environment: environment,
		APIVersion:  "78.0",
		Credentials: Credentials{Username: "merchant_api1.example.com", Password: "pwd", Signature: "sig"},
		Currency:    "USD",
		Endpoint:    endpoint,
	}
}

func TestSetExpressCheckout(t *testing.T) {
	srv, got := nvpServer(t, "ACK=Success&TOKEN=EC-123&CORRELATIONID=abc")
	client := NewClient(testConfig(srv.URL, EnvironmentSandbox))

	token, err := client.SetExpressCheckout(context.Background(), &models.CheckoutRequest{
		Studio:      studioWithCredentials,
		Item:        models.SeriesItem(9),
		Title:       "Season One",
		PurchaserID: 42,
		ItemAmount:  decimal.RequireFromString("9.99"),
		Tax:         decimal.RequireFromString("0.51"),
		ReturnURL:   "https://rentals.example.com/api/paypal/return",
		CancelURL:   "https://rentals.example.com/api/paypal/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "EC-123", token)

	form := *got
	assert.Equal(t, "SetExpressCheckout", form.Get("METHOD"))
	assert.Equal(t, "78.0", form.Get("VERSION"))
	// sandbox never uses studio credentials
	assert.Equal(t, "merchant_api1.example.com", form.Get("USER"))
	assert.Equal(t, "10.50", form.Get("PAYMENTREQUEST_0_AMT"))
	assert.Equal(t, "9.99", form.Get("PAYMENTREQUEST_0_ITEMAMT"))
	assert.Equal(t, "0.51", form.Get("PAYMENTREQUEST_0_TAXAMT"))
	assert.Equal(t, "EUR", form.Get("PAYMENTREQUEST_0_CURRENCYCODE"))
	assert.Equal(t, "42", form.Get("PAYMENTREQUEST_0_CUSTOM"))
	assert.Equal(t, "series:9", form.Get("L_PAYMENTREQUEST_0_NUMBER0"))
}

func TestProductionPrefersStudioCredentials(t *testing.T) {
	srv, got := nvpServer(t, "ACK=Success&TOKEN=EC-9")
	client := NewClient(testConfig(srv.URL, EnvironmentProduction))

	_, err := client.CheckoutDetails(context.Background(), studioWithCredentials, "EC-9")
	require.NoError(t, err)
	assert.Equal(t, "studio_api1.example.com", (*got).Get("USER"))
	assert.Equal(t, "studio-sig", (*got).Get("SIGNATURE"))

	_, err = client.CheckoutDetails(context.Background(), &models.Studio{ID: 4}, "EC-9")
	require.NoError(t, err)
	assert.Equal(t, "merchant_api1.example.com", (*got).Get("USER"))
}

func TestCheckoutDetails(t *testing.T) {
	srv, _ := nvpServer(t, "ACK=Success&PAYERID=PAYER1&PAYMENTREQUEST_0_CUSTOM=42"+
		"&L_PAYMENTREQUEST_0_NUMBER0=bundle%3A5&PAYMENTREQUEST_0_TAXAMT=0.51")
	client := NewClient(testConfig(srv.URL, EnvironmentSandbox))

	details, err := client.CheckoutDetails(context.Background(), nil, "EC-1")
	require.NoError(t, err)
	assert.Equal(t, "EC-1", details.Token)
	assert.Equal(t, "PAYER1", details.PayerID)
	assert.Equal(t, int64(42), details.PurchaserID)
	assert.Equal(t, "bundle:5", details.ItemNumber)
	assert.Equal(t, "0.51", details.Tax.StringFixed(2))
}

func TestCheckoutDetailsRejectsBadTax(t *testing.T) {
	srv, _ := nvpServer(t, "ACK=Success&PAYMENTREQUEST_0_TAXAMT=abc")
	client := NewClient(testConfig(srv.URL, EnvironmentSandbox))

	_, err := client.CheckoutDetails(context.Background(), nil, "EC-1")
	assert.Error(t, err)
}

func TestChargeSuccess(t *testing.T) {
	srv, got := nvpServer(t, "ACK=Success&TOKEN=EC-1&CORRELATIONID=corr-7"+
		"&PAYMENTINFO_0_TRANSACTIONID=TXN-55&PAYMENTINFO_0_PAYMENTSTATUS=Completed")
	client := NewClient(testConfig(srv.URL, EnvironmentSandbox))

	result, err := client.Charge(context.Background(), &models.ChargeRequest{
		Token:   "EC-1",
		PayerID: "PAYER1",
		Order: &models.Order{
			ID:           10,
			MovieID:      77,
			TotalPrice:   decimal.RequireFromString("8.50"),
			TaxCollected: decimal.RequireFromString("1.00"),
			Currency:     "USD",
		},
		Title:       "Heist",
		PurchaserID: 42,
	})
	require.NoError(t, err)
	assert.True(t, result.Succeeded)
	assert.Equal(t, "TXN-55", result.ProviderTxnID)
	assert.Equal(t, "corr-7", result.CorrelationID)
	assert.Equal(t, "Completed", result.PaymentStatus)

	form := *got
	assert.Equal(t, "DoExpressCheckoutPayment", form.Get("METHOD"))
	assert.Equal(t, "PAYER1", form.Get("PAYERID"))
	assert.Equal(t, "7.50", form.Get("PAYMENTREQUEST_0_ITEMAMT"))
	assert.Equal(t, "8.50", form.Get("PAYMENTREQUEST_0_AMT"))
}

func TestChargeDeclinedIsAVerdict(t *testing.T) {
	srv, _ := nvpServer(t, "ACK=Failure&L_ERRORCODE0=10417&L_LONGMESSAGE0=Instruct+the+customer+to+retry")
	client := NewClient(testConfig(srv.URL, EnvironmentSandbox))

	result, err := client.Charge(context.Background(), &models.ChargeRequest{
		Token: "EC-1",
		Order: &models.Order{ID: 10},
	})
	require.NoError(t, err)
	assert.False(t, result.Succeeded)
	assert.Equal(t, "Instruct the customer to retry", result.FailureReason)
}

func TestRefund(t *testing.T) {
	srv, got := nvpServer(t, "ACK=Success&REFUNDTRANSACTIONID=R-1")
	client := NewClient(testConfig(srv.URL, EnvironmentSandbox))

	require.NoError(t, client.Refund(context.Background(), &models.RefundRequest{
		ProviderTxnID: "TXN-55",
		Amount:        decimal.RequireFromString("9.99"),
	}))
	form := *got
	assert.Equal(t, "RefundTransaction", form.Get("METHOD"))
	assert.Equal(t, "TXN-55", form.Get("TRANSACTIONID"))
	assert.Equal(t, "Partial", form.Get("REFUNDTYPE"))
	assert.Equal(t, "9.99", form.Get("AMT"))
	assert.Equal(t, "USD", form.Get("CURRENCYCODE"))
}

func TestRefundFailure(t *testing.T) {
	srv, _ := nvpServer(t, "ACK=Failure&L_ERRORCODE0=10009&L_LONGMESSAGE0=Transaction+refused")
	client := NewClient(testConfig(srv.URL, EnvironmentSandbox))

	amount := decimal.RequireFromString("4.50")
	err := client.Refund(context.Background(), &models.RefundRequest{ProviderTxnID: "TXN-55", Amount: amount})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "10009", apiErr.Code)

	assert.Error(t, client.Refund(context.Background(), &models.RefundRequest{Amount: amount}))
	assert.Error(t, client.Refund(context.Background(), &models.RefundRequest{ProviderTxnID: "TXN-55"}))
}

func TestHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	client := NewClient(testConfig(srv.URL, EnvironmentSandbox))

	_, err := client.CheckoutDetails(context.Background(), nil, "EC-1")
	assert.ErrorContains(t, err, "paypal error 503")
}

func TestInContextURL(t *testing.T) {
	sandbox := NewClient(testConfig("", EnvironmentSandbox))
	assert.Equal(t, "https://www.sandbox.paypal.com/incontext?token=EC-1", sandbox.InContextURL("EC-1"))

	live := NewClient(testConfig("", EnvironmentProduction))
	assert.Equal(t, "https://www.paypal.com/incontext?token=EC-1", live.InContextURL("EC-1"))
	assert.Equal(t, "https://api-3t.paypal.com/nvp", live.endpoint)
}
