package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"rental-order-service/internal/models"
	"rental-order-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CheckoutGateway is the express checkout side of the payment gateway
type CheckoutGateway interface {
	SetExpressCheckout(ctx context.Context, req *models.CheckoutRequest) (string, error)
	InContextURL(token string) string
	CheckoutDetails(ctx context.Context, studio *models.Studio, token string) (*models.CheckoutDetails, error)
	Charge(ctx context.Context, req *models.ChargeRequest) (*models.ChargeResult, error)
}

// StudioStore looks up studios for their merchant credentials
type StudioStore interface {
	GetStudioByID(ctx context.Context, id int64) (*models.Studio, error)
}

// CheckoutEngine is the part of OrderService a checkout drives
type CheckoutEngine interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResult, error)
	Settle(ctx context.Context, orderID int64, opts SettleOptions) (*models.Order, error)
	RejectPending(ctx context.Context, orderID int64) (*models.Order, error)
}

// CheckoutService runs the PayPal express checkout round trip
type CheckoutService struct {
	engine  CheckoutEngine
	catalog Catalog
	studios StudioStore
	gateway CheckoutGateway
	baseURL string
	logger  *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	engine CheckoutEngine,
	catalog Catalog,
	studios StudioStore,
	gateway CheckoutGateway,
	baseURL string,
) *CheckoutService {
	return &CheckoutService{
		engine:  engine,
		catalog: catalog,
		studios: studios,
		gateway: gateway,
		baseURL: baseURL,
		logger:  util.GetLogger(),
	}
}

// BeginCheckoutRequest starts a payment for one purchasable item
type BeginCheckoutRequest struct {
	PurchaserID int64                  `json:"purchaser_id" binding:"required"`
	Item        models.PurchasableItem `json:"item" binding:"required"`
	Tax         decimal.Decimal        `json:"tax"`
	CouponPrice *decimal.Decimal       `json:"coupon_price,omitempty"`
}

// BeginCheckoutResponse tells the buyer where to approve the payment
type BeginCheckoutResponse struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// CompleteCheckoutRequest is the buyer returning from PayPal
type CompleteCheckoutRequest struct {
	Token   string
	PayerID string
	Item    models.PurchasableItem
}

// Begin asks the gateway for a checkout token
func (cs *CheckoutService) Begin(ctx context.Context, req *BeginCheckoutRequest) (*BeginCheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Begin")
	defer span.End()

	res, studio, err := cs.resolve(ctx, req.Item)
	if err != nil {
		return nil, err
	}

	price := res.UnitPrice
	if req.CouponPrice != nil {
		price = *req.CouponPrice
	}
	if err := validatePrices(price, price.Add(req.Tax)); err != nil {
		return nil, err
	}

	token, err := cs.gateway.SetExpressCheckout(ctx, &models.CheckoutRequest{
		Studio:      studio,
		Item:        req.Item,
		Title:       res.Title,
		PurchaserID: req.PurchaserID,
		ItemAmount:  price,
		Tax:         req.Tax,
		ReturnURL:   cs.returnURL("return", req.Item),
		CancelURL:   cs.returnURL("cancel", req.Item),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayCharge, err)
	}

	cs.logger.Info("Checkout started",
		zap.String("item", req.Item.String()),
		zap.Int64("purchaser_id", req.PurchaserID))

	return &BeginCheckoutResponse{Token: token, RedirectURL: cs.gateway.InContextURL(token)}, nil
}

// CompleteReturn creates the pending orders for an approved token and charges
// them. A declined charge rejects every order of the purchase.
func (cs *CheckoutService) CompleteReturn(ctx context.Context, req *CompleteCheckoutRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CompleteReturn")
	defer span.End()

	res, studio, err := cs.resolve(ctx, req.Item)
	if err != nil {
		return nil, err
	}

	details, err := cs.gateway.CheckoutDetails(ctx, studio, req.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayCharge, err)
	}
	// the return query names the item; the token is what the buyer approved
	if details.ItemNumber != req.Item.String() {
		cs.logger.Warn("Checkout return does not match approved item",
			zap.String("token", req.Token),
			zap.String("approved", details.ItemNumber),
			zap.String("returned", req.Item.String()))
		return nil, fmt.Errorf("%w: token %s was approved for %q, not %s",
			ErrGatewayCharge, req.Token, details.ItemNumber, req.Item)
	}

	created, err := cs.engine.CreateOrder(ctx, &CreateOrderRequest{
		PurchaserID:   details.PurchaserID,
		Item:          req.Item,
		PaymentMethod: models.PaymentMethodPaypal,
		Tax:           details.Tax,
		InitialStatus: models.OrderStatusPending,
		GatewayToken:  req.Token,
	})
	if err != nil {
		return nil, err
	}

	orders := created.Orders()
	root := created.Root

	result, err := cs.gateway.Charge(ctx, &models.ChargeRequest{
		Studio:      studio,
		Token:       req.Token,
		PayerID:     req.PayerID,
		Order:       root,
		Title:       res.Title,
		PurchaserID: details.PurchaserID,
	})
	if err != nil {
		// the charge outcome is unknown; a gateway callback settles or the order stays pending
		cs.logger.Error("Charge request failed",
			zap.Int64("order_id", root.ID),
			zap.String("token", req.Token),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGatewayCharge, err)
	}

	if !result.Succeeded {
		for _, order := range orders {
			if _, err := cs.engine.RejectPending(ctx, order.ID); err != nil && !errors.Is(err, ErrInvalidTransition) {
				cs.logger.Error("Failed to reject order", zap.Int64("order_id", order.ID), zap.Error(err))
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrGatewayCharge, result.FailureReason)
	}

	return cs.engine.Settle(ctx, root.ID, SettleOptions{
		References:      chargeReferences(req.PayerID, result),
		GroupReferences: captureReferences(result),
	})
}

func (cs *CheckoutService) resolve(ctx context.Context, item models.PurchasableItem) (*models.Resolution, *models.Studio, error) {
	res, err := cs.catalog.Resolve(ctx, item)
	if err != nil {
		return nil, nil, err
	}

	studio, err := cs.studios.GetStudioByID(ctx, res.StudioID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get studio %d: %w", res.StudioID, err)
	}
	return res, studio, nil
}

func (cs *CheckoutService) returnURL(action string, item models.PurchasableItem) string {
	query := url.Values{
		"ref":    {string(item.Kind)},
		"ref_id": {strconv.FormatInt(item.ID, 10)},
	}
	return cs.baseURL + "/api/paypal/" + action + "?" + query.Encode()
}

func chargeReferences(payerID string, result *models.ChargeResult) []models.OrderReference {
	return []models.OrderReference{
		{Kind: models.ReferenceToken, Value: result.Token},
		{Kind: models.ReferenceCorrelationID, Value: result.CorrelationID},
		{Kind: models.ReferencePayerID, Value: payerID},
		{Kind: models.ReferencePaymentStatus, Value: result.PaymentStatus},
	}
}

// captureReferences go on every order the charge pays for, so any of them can be refunded
func captureReferences(result *models.ChargeResult) []models.OrderReference {
	if result.ProviderTxnID == "" {
		return nil
	}
	return []models.OrderReference{{Kind: models.ReferenceTransactionID, Value: result.ProviderTxnID}}
}
