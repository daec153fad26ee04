package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rental-order-service/internal/models"
	"rental-order-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockOrders struct {
	mock.Mock
}

func (m *mockOrders) CreateOrder(ctx context.Context, req *service.CreateOrderRequest) (*service.CreateOrderResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*service.CreateOrderResult)
	return res, args.Error(1)
}

func (m *mockOrders) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderReference, error) {
	args := m.Called(ctx, orderID)
	order, _ := args.Get(0).(*models.Order)
	refs, _ := args.Get(1).([]models.OrderReference)
	return order, refs, args.Error(2)
}

func (m *mockOrders) MarkPending(ctx context.Context, orderID int64, token string) (*models.Order, error) {
	args := m.Called(ctx, orderID, token)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

func (m *mockOrders) Dispute(ctx context.Context, orderID int64, coupon *models.Coupon) (*models.Order, error) {
	args := m.Called(ctx, orderID, coupon)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

func (m *mockOrders) Refund(ctx context.Context, orderID int64) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

func (m *mockOrders) IsExpired(ctx context.Context, orderID int64) (bool, error) {
	args := m.Called(ctx, orderID)
	return args.Bool(0), args.Error(1)
}

type mockCheckout struct {
	mock.Mock
}

func (m *mockCheckout) Begin(ctx context.Context, req *service.BeginCheckoutRequest) (*service.BeginCheckoutResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*service.BeginCheckoutResponse)
	return resp, args.Error(1)
}

func (m *mockCheckout) CompleteReturn(ctx context.Context, req *service.CompleteCheckoutRequest) (*models.Order, error) {
	args := m.Called(ctx, req)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

type mockCallbacks struct {
	mock.Mock
}

func (m *mockCallbacks) HandleCallback(ctx context.Context, cb *models.GatewayCallback) error {
	return m.Called(ctx, cb).Error(0)
}

type mockReports struct {
	mock.Mock
}

func (m *mockReports) ListReportRows(ctx context.Context, from, to time.Time) ([]models.ReportRow, error) {
	args := m.Called(ctx, from, to)
	rows, _ := args.Get(0).([]models.ReportRow)
	return rows, args.Error(1)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fixture struct {
	orders    *mockOrders
	checkout  *mockCheckout
	callbacks *mockCallbacks
	reports   *mockReports
	router    *gin.Engine
}

func newFixture(probes ...Pinger) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		orders:    new(mockOrders),
		checkout:  new(mockCheckout),
		callbacks: new(mockCallbacks),
		reports:   new(mockReports),
		router:    gin.New(),
	}
	NewHandler(f.orders, f.checkout, f.callbacks, f.reports, probes...).SetupRoutes(f.router)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCreateOrder(t *testing.T) {
	f := newFixture()

	root := &models.Order{ID: 1, MovieID: 10, Status: models.OrderStatusPlaced}
	f.orders.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req *service.CreateOrderRequest) bool {
		return req.PurchaserID == 42 && req.Item == models.SeriesItem(9) && req.CouponCode == "SPRING25"
	})).Return(&service.CreateOrderResult{Root: root, Siblings: []models.Order{{ID: 2}, {ID: 3}}}, nil)

	w := f.do(http.MethodPost, "/api/v1/orders",
		`{"purchaser_id":42,"item":{"kind":"series","id":9},"payment_method":"paypal","coupon_code":"SPRING25","tax":"1.00"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"siblings"`)
	f.orders.AssertExpectations(t)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodPost, "/api/v1/orders", `{"item":{"kind":"box-set","id":9}}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: 5", service.ErrOrderNotFound), http.StatusNotFound},
		{&service.TransitionError{OrderID: 5, Op: "dispute", From: models.OrderStatusPlaced}, http.StatusConflict},
		{service.ErrCatalogResolution, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: declined", service.ErrGatewayRefund), http.StatusBadGateway},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		f := newFixture()
		f.orders.On("Dispute", mock.Anything, int64(5), (*models.Coupon)(nil)).Return(nil, tc.err)

		w := f.do(http.MethodPost, "/api/v1/orders/5/dispute", "")
		assert.Equal(t, tc.code, w.Code, tc.err.Error())
	}
}

func TestMarkPending(t *testing.T) {
	f := newFixture()
	f.orders.On("MarkPending", mock.Anything, int64(4), "EC-7").
		Return(&models.Order{ID: 4, Status: models.OrderStatusPending, ProviderOrderID: "EC-7"}, nil)

	w := f.do(http.MethodPost, "/api/v1/orders/4/pending", `{"token":"EC-7"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	f.orders.AssertExpectations(t)

	w = f.do(http.MethodPost, "/api/v1/orders/4/pending", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarkPendingConflict(t *testing.T) {
	f := newFixture()
	f.orders.On("MarkPending", mock.Anything, int64(4), "EC-7").
		Return(nil, &service.TransitionError{OrderID: 4, Op: "mark pending", From: models.OrderStatusSettled})

	w := f.do(http.MethodPost, "/api/v1/orders/4/pending", `{"token":"EC-7"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetOrderBadID(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodGet, "/api/v1/orders/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefundConflict(t *testing.T) {
	f := newFixture()
	f.orders.On("Refund", mock.Anything, int64(7)).Return(nil, service.ErrRefundNotPermitted)

	w := f.do(http.MethodPost, "/api/v1/orders/7/refund", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOrderExpired(t *testing.T) {
	f := newFixture()
	f.orders.On("IsExpired", mock.Anything, int64(7)).Return(true, nil)

	w := f.do(http.MethodGet, "/api/v1/orders/7/expired", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"order_id":7,"expired":true}`, w.Body.String())
}

func TestGatewayCallback(t *testing.T) {
	f := newFixture()
	f.callbacks.On("HandleCallback", mock.Anything, mock.MatchedBy(func(cb *models.GatewayCallback) bool {
		return cb.DedupeKey() == "fb-100:settled" && cb.EventType == models.EventTypeGatewayCallback
	})).Return(nil)

	w := f.do(http.MethodPost, "/api/v1/callbacks", `{"status":"settled","order_id":"fb-100","buyer":42}`)

	assert.Equal(t, http.StatusOK, w.Code)
	f.callbacks.AssertExpectations(t)
}

func TestGatewayCallbackUnknownOrder(t *testing.T) {
	f := newFixture()
	f.callbacks.On("HandleCallback", mock.Anything, mock.Anything).Return(service.ErrOrderNotFound)

	w := f.do(http.MethodPost, "/api/v1/callbacks", `{"status":"disputed","order_id":"fb-404"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaypalReturn(t *testing.T) {
	f := newFixture()
	f.checkout.On("CompleteReturn", mock.Anything, &service.CompleteCheckoutRequest{
		Token:   "EC-1",
		PayerID: "PAYER1",
		Item:    models.BundleItem(5),
	}).Return(&models.Order{ID: 1, FlashKey: "flash-1", Status: models.OrderStatusSettled}, nil)

	w := f.do(http.MethodGet, "/api/paypal/return?token=EC-1&PayerID=PAYER1&ref=bundle&ref_id=5", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"flash_key":"flash-1"`)
}

func TestPaypalReturnDeclined(t *testing.T) {
	f := newFixture()
	f.checkout.On("CompleteReturn", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: declined", service.ErrGatewayCharge))

	w := f.do(http.MethodGet, "/api/paypal/return?token=EC-1&ref_id=5", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestExportOrders(t *testing.T) {
	f := newFixture()
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	f.reports.On("ListReportRows", mock.Anything, from, to).Return([]models.ReportRow{
		{PurchaserName: "Ada", ProviderOrderID: "fb-1", Status: models.OrderStatusDisputed},
	}, nil)

	w := f.do(http.MethodGet, "/api/v1/reports/orders.csv?from=2024-03-01&to=2024-03-31", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "Refund")
}

func TestReadiness(t *testing.T) {
	healthy := newFixture(pingFunc(func(ctx context.Context) error { return nil }))
	assert.Equal(t, http.StatusOK, healthy.do(http.MethodGet, "/ready", "").Code)

	down := newFixture(pingFunc(func(ctx context.Context) error { return errors.New("redis down") }))
	assert.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/ready", "").Code)
}
