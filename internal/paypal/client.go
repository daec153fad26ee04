package paypal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rental-order-service/internal/models"
	"rental-order-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

var endpoints = map[string]string{
	EnvironmentProduction: "https://api-3t.paypal.com/nvp",
	EnvironmentSandbox:    "https://api-3t.sandbox.paypal.com/nvp",
}

var incontextEndpoints = map[string]string{
	EnvironmentProduction: "https://www.paypal.com/incontext",
	EnvironmentSandbox:    "https://www.sandbox.paypal.com/incontext",
}

// Credentials are the NVP API signature credentials of a merchant account
type Credentials struct {
	Username  string
	Password  string
	Signature string
}

// Config is everything the client needs; nothing is read from globals
type Config struct {
	Environment string
	APIVersion  string
	Credentials Credentials
	Currency    string
	Timeout     time.Duration
	// Endpoint overrides the environment's NVP URL when set
	Endpoint string
}

// Sandboxed reports whether requests go to the PayPal sandbox
func (c Config) Sandboxed() bool {
	return c.Environment != EnvironmentProduction
}

// APIError is a non-success ACK returned by the NVP API
type APIError struct {
	Method  string
	Ack     string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal %s failed: ack=%s code=%s: %s", e.Method, e.Ack, e.Code, e.Message)
}

// Client talks to the PayPal Express Checkout NVP API
type Client struct {
	cfg        Config
	httpClient *http.Client
	endpoint   string
	logger     *zap.Logger
}

// NewClient creates a new PayPal client
func NewClient(cfg Config) *Client {
	if cfg.Environment == "" {
		cfg.Environment = EnvironmentSandbox
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = endpoints[EnvironmentSandbox]
		if !cfg.Sandboxed() {
			endpoint = endpoints[EnvironmentProduction]
		}
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		endpoint:   endpoint,
		logger:     util.GetLogger(),
	}
}

// InContextURL is where the buyer approves the payment for a token
func (c *Client) InContextURL(token string) string {
	base := incontextEndpoints[EnvironmentSandbox]
	if !c.cfg.Sandboxed() {
		base = incontextEndpoints[EnvironmentProduction]
	}
	return base + "?" + url.Values{"token": {token}}.Encode()
}

// SetExpressCheckout starts a checkout and returns its token
func (c *Client) SetExpressCheckout(ctx context.Context, req *models.CheckoutRequest) (string, error) {
	ctx, span := util.StartSpan(ctx, "PaypalClient.SetExpressCheckout")
	defer span.End()

	params := url.Values{}
	params.Set("RETURNURL", req.ReturnURL)
	params.Set("CANCELURL", req.CancelURL)
	c.orderParams(params, req.Title, req.Item.String(), req.PurchaserID,
		req.ItemAmount, req.Tax, c.currency(req.Studio, ""))

	resp, err := c.call(ctx, "SetExpressCheckout", req.Studio, params)
	if err != nil {
		return "", err
	}

	token := resp.Get("TOKEN")
	if token == "" {
		return "", fmt.Errorf("paypal SetExpressCheckout returned no token")
	}
	return token, nil
}

// CheckoutDetails reads back what PayPal knows about an approved token
func (c *Client) CheckoutDetails(ctx context.Context, studio *models.Studio, token string) (*models.CheckoutDetails, error) {
	ctx, span := util.StartSpan(ctx, "PaypalClient.CheckoutDetails")
	defer span.End()

	resp, err := c.call(ctx, "GetExpressCheckoutDetails", studio, url.Values{"TOKEN": {token}})
	if err != nil {
		return nil, err
	}

	details := &models.CheckoutDetails{
		Token:      token,
		PayerID:    resp.Get("PAYERID"),
		ItemNumber: resp.Get("L_PAYMENTREQUEST_0_NUMBER0"),
	}
	if custom := resp.Get("PAYMENTREQUEST_0_CUSTOM"); custom != "" {
		details.PurchaserID, err = strconv.ParseInt(custom, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid purchaser id %q in checkout details: %w", custom, err)
		}
	}
	if tax := resp.Get("PAYMENTREQUEST_0_TAXAMT"); tax != "" {
		details.Tax, err = decimal.NewFromString(tax)
		if err != nil {
			return nil, fmt.Errorf("invalid tax amount %q in checkout details: %w", tax, err)
		}
	}
	return details, nil
}

// Charge captures the payment for a token. A declined payment is a result
// with Succeeded false, not an error.
func (c *Client) Charge(ctx context.Context, req *models.ChargeRequest) (*models.ChargeResult, error) {
	ctx, span := util.StartSpan(ctx, "PaypalClient.Charge")
	defer span.End()

	order := req.Order
	params := url.Values{}
	params.Set("TOKEN", req.Token)
	params.Set("PAYERID", req.PayerID)
	c.orderParams(params, req.Title, strconv.FormatInt(order.MovieID, 10), req.PurchaserID,
		order.TotalPrice.Sub(order.TaxCollected), order.TaxCollected, c.currency(req.Studio, order.Currency))

	resp, err := c.call(ctx, "DoExpressCheckoutPayment", req.Studio, params)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		c.logger.Warn("PayPal declined charge",
			zap.Int64("order_id", order.ID),
			zap.String("code", apiErr.Code),
			zap.String("message", apiErr.Message))
		return &models.ChargeResult{Succeeded: false, Token: req.Token, FailureReason: apiErr.Message}, nil
	}
	if err != nil {
		return nil, err
	}

	return &models.ChargeResult{
		Succeeded:     true,
		ProviderTxnID: resp.Get("PAYMENTINFO_0_TRANSACTIONID"),
		CorrelationID: resp.Get("CORRELATIONID"),
		Token:         resp.Get("TOKEN"),
		PaymentStatus: resp.Get("PAYMENTINFO_0_PAYMENTSTATUS"),
	}, nil
}

// Refund returns req.Amount of a captured transaction. One capture can pay
// for several orders, so refunds are always partial.
func (c *Client) Refund(ctx context.Context, req *models.RefundRequest) error {
	ctx, span := util.StartSpan(ctx, "PaypalClient.Refund")
	defer span.End()

	if req.ProviderTxnID == "" {
		return fmt.Errorf("paypal refund: missing transaction id")
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("paypal refund: amount must be positive, got %s", req.Amount)
	}

	_, err := c.call(ctx, "RefundTransaction", nil, url.Values{
		"TRANSACTIONID": {req.ProviderTxnID},
		"REFUNDTYPE":    {"Partial"},
		"AMT":           {req.Amount.StringFixed(2)},
		"CURRENCYCODE":  {c.currency(nil, req.Currency)},
	})
	return err
}

// credentials picks the merchant account: sandbox always uses the configured
// account, production prefers the studio's own credentials.
func (c *Client) credentials(studio *models.Studio) Credentials {
	if !c.cfg.Sandboxed() && studio != nil && studio.HasPaypalCredentials() {
		return Credentials{
			Username:  studio.PaypalUsername,
			Password:  studio.PaypalPassword,
			Signature: studio.PaypalSignature,
		}
	}
	return c.cfg.Credentials
}

func (c *Client) currency(studio *models.Studio, orderCurrency string) string {
	if orderCurrency != "" {
		return orderCurrency
	}
	if studio != nil && studio.CurrencyCode != "" {
		return studio.CurrencyCode
	}
	return c.cfg.Currency
}

func (c *Client) orderParams(params url.Values, title, itemNumber string, purchaserID int64, itemAmount, tax decimal.Decimal, currency string) {
	total := itemAmount.Add(tax)

	params.Set("PAYMENTREQUEST_0_DESC", title)
	params.Set("PAYMENTREQUEST_0_AMT", total.StringFixed(2))
	params.Set("PAYMENTREQUEST_0_ITEMAMT", itemAmount.StringFixed(2))
	params.Set("PAYMENTREQUEST_0_TAXAMT", tax.StringFixed(2))
	params.Set("PAYMENTREQUEST_0_PAYMENTACTION", "Sale")
	params.Set("PAYMENTREQUEST_0_CURRENCYCODE", currency)
	params.Set("PAYMENTREQUEST_0_CUSTOM", strconv.FormatInt(purchaserID, 10))
	params.Set("REQCONFIRMSHIPPING", "0")
	params.Set("NOSHIPPING", "1")
	params.Set("L_PAYMENTREQUEST_0_AMT0", itemAmount.StringFixed(2))
	params.Set("L_PAYMENTREQUEST_0_NAME0", title)
	params.Set("L_PAYMENTREQUEST_0_NUMBER0", itemNumber)
	params.Set("L_PAYMENTREQUEST_0_ITEMCATEGORY0", "Digital")
}

// call posts one NVP request and returns the decoded response.
// Non-success ACKs come back as *APIError.
func (c *Client) call(ctx context.Context, method string, studio *models.Studio, params url.Values) (url.Values, error) {
	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	creds := c.credentials(studio)
	params.Set("METHOD", method)
	params.Set("VERSION", c.cfg.APIVersion)
	params.Set("USER", creds.Username)
	params.Set("PWD", creds.Password)
	params.Set("SIGNATURE", creds.Signature)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paypal %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read paypal response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("paypal error %d: %s", resp.StatusCode, string(body))
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("decode paypal response: %w", err)
	}

	ack := values.Get("ACK")
	if !strings.HasPrefix(ack, "Success") {
		return nil, &APIError{
			Method:  method,
			Ack:     ack,
			Code:    values.Get("L_ERRORCODE0"),
			Message: values.Get("L_LONGMESSAGE0"),
		}
	}

	c.logger.Debug("PayPal call succeeded",
		zap.String("method", method),
		zap.String("correlation_id", values.Get("CORRELATIONID")))
	return values, nil
}
