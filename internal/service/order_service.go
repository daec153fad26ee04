package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"rental-order-service/internal/models"
	"rental-order-service/internal/store"
	"rental-order-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderStore is the persistence the lifecycle engine needs
type OrderStore interface {
	InTx(ctx context.Context, fn func(q store.Querier) error) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetReferencesByOrderID(ctx context.Context, orderID int64) ([]models.OrderReference, error)
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
}

// Catalog resolves purchasable items to titles and prices
type Catalog interface {
	Resolve(ctx context.Context, item models.PurchasableItem) (*models.Resolution, error)
}

// RefundGateway returns money for a captured transaction
type RefundGateway interface {
	Refund(ctx context.Context, req *models.RefundRequest) error
}

// EventPublisher receives notifications about committed order changes
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// OrderService owns the order state machine
type OrderService struct {
	store           OrderStore
	catalog         Catalog
	refunds         RefundGateways
	eventPublisher  EventPublisher
	defaultCurrency string
	logger          *zap.Logger
	now             func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(
	store OrderStore,
	catalog Catalog,
	refunds RefundGateways,
	eventPublisher EventPublisher,
	defaultCurrency string,
) *OrderService {
	return &OrderService{
		store:           store,
		catalog:         catalog,
		refunds:         refunds,
		eventPublisher:  eventPublisher,
		defaultCurrency: defaultCurrency,
		logger:          util.GetLogger(),
		now:             time.Now,
	}
}

// CreateOrderRequest represents a request to create the orders of one purchase
type CreateOrderRequest struct {
	PurchaserID     int64                  `json:"purchaser_id" binding:"required"`
	Item            models.PurchasableItem `json:"item" binding:"required"`
	PaymentMethod   models.PaymentMethod   `json:"payment_method" binding:"required"`
	PriceOverride   *decimal.Decimal       `json:"price_override,omitempty"`
	CouponCode      string                 `json:"coupon_code,omitempty"`
	Tax             decimal.Decimal        `json:"tax"`
	ZipCode         string                 `json:"zip_code,omitempty"`
	TotalCredits    int64                  `json:"total_credits,omitempty"`
	ProviderOrderID string                 `json:"provider_order_id,omitempty"`

	// InitialStatus is placed unless a gateway round trip is already under
	// way, in which case the orders start pending with GatewayToken recorded.
	InitialStatus models.OrderStatus `json:"-"`
	GatewayToken  string             `json:"-"`
}

// CreateOrderResult holds the root order and its fan-out siblings
type CreateOrderResult struct {
	Root     *models.Order  `json:"root"`
	Siblings []models.Order `json:"siblings"`
}

// Orders returns the root followed by its siblings
func (r *CreateOrderResult) Orders() []models.Order {
	orders := make([]models.Order, 0, len(r.Siblings)+1)
	orders = append(orders, *r.Root)
	return append(orders, r.Siblings...)
}

// SettleOptions carries the extra writes applied when a settlement happens
type SettleOptions struct {
	Coupon *models.Coupon
	// References are written to the target order only
	References []models.OrderReference
	// GroupReferences are written to the target and to every cascaded sibling
	GroupReferences []models.OrderReference
}

// statusChange is one committed transition waiting to be announced
type statusChange struct {
	order    models.Order
	from     models.OrderStatus
	cascaded bool
}

// CreateOrder creates one order per title of the purchased item inside a single transaction
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	res, err := s.catalog.Resolve(ctx, req.Item)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("catalog").Inc()
		if errors.Is(err, ErrCatalogResolution) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCatalogResolution, req.Item, err)
	}
	if len(res.TitleIDs) == 0 {
		util.OrdersFailedTotal.WithLabelValues("catalog").Inc()
		return nil, fmt.Errorf("%w: %s has no titles", ErrCatalogResolution, req.Item)
	}

	coupon, err := s.ResolveCoupon(ctx, req.CouponCode)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("coupon").Inc()
		return nil, err
	}

	unitPrice := res.UnitPrice
	if req.PriceOverride != nil {
		unitPrice = *req.PriceOverride
	}
	total := TotalPrice(unitPrice, coupon, req.Tax)
	if err := validatePrices(unitPrice, total); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_price").Inc()
		return nil, err
	}

	build, err := variantFor(req.PaymentMethod)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("payment_method").Inc()
		return nil, err
	}

	status, err := initialStatus(req)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("initial_status").Inc()
		return nil, err
	}

	group := &models.PurchaseGroup{
		ID:          uuid.New().String(),
		PurchaserID: req.PurchaserID,
		RootKind:    req.Item.Kind,
		RootID:      req.Item.ID,
		CreatedAt:   s.now().UTC(),
	}

	orders := make([]models.Order, 0, len(res.TitleIDs))
	for i, titleID := range res.TitleIDs {
		order := models.Order{
			PurchaserID:     req.PurchaserID,
			MovieID:         titleID,
			BundleID:        res.BundleID,
			SeriesID:        res.SeriesID,
			GroupID:         group.ID,
			PaymentMethod:   req.PaymentMethod,
			Status:          status,
			UnitPrice:       unitPrice,
			TotalPrice:      total,
			TaxCollected:    req.Tax,
			ZipCode:         req.ZipCode,
			ProviderOrderID: req.ProviderOrderID,
		}
		if coupon != nil {
			order.CouponID = &coupon.ID
		}
		if status == models.OrderStatusPending {
			order.ProviderOrderID = req.GatewayToken
		}
		if i == 0 {
			order.FlashKey = uuid.New().String()
		}
		build(&order, req, s.defaultCurrency)
		orders = append(orders, order)
	}

	err = s.store.InTx(ctx, func(q store.Querier) error {
		if err := q.CreatePurchaseGroup(ctx, group); err != nil {
			return fmt.Errorf("failed to create purchase group: %w", err)
		}
		for i := range orders {
			if err := q.CreateOrder(ctx, &orders[i]); err != nil {
				return fmt.Errorf("failed to create order for movie %d: %w", orders[i].MovieID, err)
			}
			if status != models.OrderStatusPending {
				continue
			}
			if err := q.AddReference(ctx, &models.OrderReference{
				OrderID: orders[i].ID,
				Kind:    models.ReferenceToken,
				Value:   req.GatewayToken,
			}); err != nil {
				return fmt.Errorf("failed to add reference: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, err
	}

	util.OrdersCreatedTotal.WithLabelValues(string(req.Item.Kind)).Add(float64(len(orders)))
	s.logger.Info("Orders created",
		zap.String("group_id", group.ID),
		zap.String("item", req.Item.String()),
		zap.Int64("purchaser_id", req.PurchaserID),
		zap.String("status", string(status)),
		zap.Int("count", len(orders)))

	for i := range orders {
		s.publishCreated(ctx, &orders[i])
	}

	return &CreateOrderResult{Root: &orders[0], Siblings: orders[1:]}, nil
}

// ResolveCoupon looks up a coupon by code. An empty code means no coupon.
func (s *OrderService) ResolveCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	if code == "" {
		return nil, nil
	}
	coupon, err := s.store.GetCouponByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown coupon %q", ErrCatalogResolution, code)
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return coupon, nil
}

// GetOrder retrieves an order and its references
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderReference, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	refs, err := s.store.GetReferencesByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get references: %w", err)
	}

	return order, refs, nil
}

// MarkPending moves a placed order to pending and records the gateway token
func (s *OrderService) MarkPending(ctx context.Context, orderID int64, token string) (*models.Order, error) {
	ctx, span := util.StartOrderSpan(ctx, "OrderService.MarkPending", orderID)

	order, err := s.transition(ctx, orderID, "mark pending", models.OrderStatusPending,
		func(from models.OrderStatus) bool { return from == models.OrderStatusPlaced },
		func(q store.Querier, order *models.Order) error {
			order.ProviderOrderID = token
			return q.AddReference(ctx, &models.OrderReference{
				OrderID: order.ID,
				Kind:    models.ReferenceToken,
				Value:   token,
			})
		})
	util.EndSpan(span, err)
	return order, err
}

// Settle marks an order settled and cascades the settlement to its open
// siblings of the same bundle or series. Settling a settled order is a no-op.
func (s *OrderService) Settle(ctx context.Context, orderID int64, opts SettleOptions) (_ *models.Order, err error) {
	ctx, span := util.StartOrderSpan(ctx, "OrderService.Settle", orderID)
	defer func() { util.EndSpan(span, err) }()

	current, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var settled models.Order
	var changes []statusChange

	err = s.store.InTx(ctx, func(q store.Querier) error {
		group, err := q.LockGroup(ctx, current.GroupID)
		if err != nil {
			return fmt.Errorf("failed to lock purchase group: %w", err)
		}

		target := findOrder(group, orderID)
		if target == nil {
			return fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
		}
		if target.Status == models.OrderStatusSettled {
			settled = *target
			return nil
		}
		if !target.Status.Open() {
			return &TransitionError{OrderID: orderID, Op: "settle", From: target.Status}
		}

		rentedAt := s.now().UTC()
		if opts.Coupon != nil {
			total := TotalPrice(target.UnitPrice, opts.Coupon, target.TaxCollected)
			if err := validatePrices(target.UnitPrice, total); err != nil {
				return err
			}
			target.CouponID = &opts.Coupon.ID
			target.TotalPrice = total
		}

		from := target.Status
		if err := s.settleOne(ctx, q, target, rentedAt); err != nil {
			return err
		}
		if err := addReferences(ctx, q, target.ID, opts.References); err != nil {
			return err
		}
		if err := addReferences(ctx, q, target.ID, opts.GroupReferences); err != nil {
			return err
		}
		changes = append(changes, statusChange{order: *target, from: from})

		for i := range group {
			sibling := &group[i]
			if !isSibling(target, sibling) {
				continue
			}
			from := sibling.Status
			if err := s.settleOne(ctx, q, sibling, rentedAt); err != nil {
				return err
			}
			if err := addReferences(ctx, q, sibling.ID, opts.GroupReferences); err != nil {
				return err
			}
			changes = append(changes, statusChange{order: *sibling, from: from, cascaded: true})
		}

		settled = *target
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			util.OrderTransitionsRejected.WithLabelValues("settle").Inc()
			s.logger.Warn("Settle refused", zap.Int64("order_id", orderID), zap.Error(err))
		}
		return nil, err
	}

	if len(changes) == 0 {
		s.logger.Info("Order already settled", zap.Int64("order_id", orderID))
		return &settled, nil
	}

	util.CascadeSize.Observe(float64(len(changes) - 1))
	s.logger.Info("Order settled",
		append(util.OrderFields(ctx, settled.ID, settled.GroupID, settled.PurchaserID),
			zap.Int("cascaded", len(changes)-1))...)
	s.announce(ctx, changes)

	return &settled, nil
}

// Dispute moves a settled order to disputed. Siblings are left untouched.
// A non-nil coupon is applied to the disputed order's price.
func (s *OrderService) Dispute(ctx context.Context, orderID int64, coupon *models.Coupon) (*models.Order, error) {
	ctx, span := util.StartOrderSpan(ctx, "OrderService.Dispute", orderID)

	var applyCoupon func(q store.Querier, order *models.Order) error
	if coupon != nil {
		applyCoupon = func(_ store.Querier, order *models.Order) error {
			total := TotalPrice(order.UnitPrice, coupon, order.TaxCollected)
			if err := validatePrices(order.UnitPrice, total); err != nil {
				return err
			}
			order.CouponID = &coupon.ID
			order.TotalPrice = total
			return nil
		}
	}

	order, err := s.transition(ctx, orderID, "dispute", models.OrderStatusDisputed,
		func(from models.OrderStatus) bool { return from == models.OrderStatusSettled },
		applyCoupon)
	util.EndSpan(span, err)
	return order, err
}

// RejectPending moves a pending order to rejected after a failed charge
func (s *OrderService) RejectPending(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartOrderSpan(ctx, "OrderService.RejectPending", orderID)

	order, err := s.transition(ctx, orderID, "reject", models.OrderStatusRejected,
		func(from models.OrderStatus) bool { return from == models.OrderStatusPending },
		nil)
	util.EndSpan(span, err)
	return order, err
}

// Refund returns the order's own total through the gateway of its payment
// method. The order stays disputed when the gateway refuses.
func (s *OrderService) Refund(ctx context.Context, orderID int64) (_ *models.Order, err error) {
	ctx, span := util.StartOrderSpan(ctx, "OrderService.Refund", orderID)
	defer func() { util.EndSpan(span, err) }()

	order, refs, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusDisputed {
		util.OrderTransitionsRejected.WithLabelValues("refund").Inc()
		return nil, fmt.Errorf("%w: order %d is %s", ErrRefundNotPermitted, orderID, order.Status)
	}

	gateway, err := s.refunds.For(order.PaymentMethod)
	if err != nil {
		return nil, err
	}

	txnID := capturedTxnID(refs)
	if txnID == "" {
		return nil, fmt.Errorf("%w: order %d has no captured transaction", ErrGatewayRefund, orderID)
	}

	if err := gateway.Refund(ctx, &models.RefundRequest{
		ProviderTxnID: txnID,
		Amount:        order.TotalPrice,
		Currency:      order.Currency,
	}); err != nil {
		s.logger.Error("Gateway refused refund",
			zap.Int64("order_id", orderID),
			zap.String("txn_id", txnID),
			zap.String("amount", order.TotalPrice.StringFixed(2)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGatewayRefund, err)
	}

	var refunded models.Order
	err = s.store.InTx(ctx, func(q store.Querier) error {
		locked, err := q.LockOrder(ctx, orderID)
		if err != nil {
			return s.mapNotFound(err, orderID)
		}
		if locked.Status != models.OrderStatusDisputed {
			return fmt.Errorf("%w: order %d is %s", ErrRefundNotPermitted, orderID, locked.Status)
		}

		locked.Status = models.OrderStatusRefunded
		if err := q.UpdateOrder(ctx, locked); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if err := q.AddReference(ctx, &models.OrderReference{
			OrderID: orderID,
			Kind:    models.ReferenceRefund,
			Value:   txnID,
		}); err != nil {
			return fmt.Errorf("failed to add reference: %w", err)
		}
		refunded = *locked
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRefundNotPermitted) {
			s.logger.Error("Order changed while refund was in flight",
				zap.Int64("order_id", orderID), zap.String("txn_id", txnID))
		}
		return nil, err
	}

	s.logger.Info("Order refunded", util.OrderFields(ctx, refunded.ID, refunded.GroupID, refunded.PurchaserID)...)
	s.announce(ctx, []statusChange{{order: refunded, from: models.OrderStatusDisputed}})
	return &refunded, nil
}

// IsExpired reports whether a settled order's rental window has passed
func (s *OrderService) IsExpired(ctx context.Context, orderID int64) (bool, error) {
	ctx, span := util.StartOrderSpan(ctx, "OrderService.IsExpired", orderID)
	defer span.End()

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order.Status != models.OrderStatusSettled {
		return false, nil
	}

	res, err := s.catalog.Resolve(ctx, models.SingleItem(order.MovieID))
	if err != nil {
		return false, fmt.Errorf("failed to resolve movie %d: %w", order.MovieID, err)
	}

	return IsExpired(order, res.RentalLength, s.now()), nil
}

// IsExpired is false unless the order is settled and has a rental window,
// and true once now is past rentedAt plus the window.
func IsExpired(order *models.Order, rentalLength time.Duration, now time.Time) bool {
	if order.Status != models.OrderStatusSettled {
		return false
	}
	if rentalLength <= 0 || order.RentedAt == nil {
		return false
	}
	return now.After(order.RentedAt.Add(rentalLength))
}

// transition applies a single-order status change under the order's row lock
func (s *OrderService) transition(
	ctx context.Context,
	orderID int64,
	op string,
	to models.OrderStatus,
	allowed func(from models.OrderStatus) bool,
	mutate func(q store.Querier, order *models.Order) error,
) (*models.Order, error) {
	var updated models.Order
	var from models.OrderStatus

	err := s.store.InTx(ctx, func(q store.Querier) error {
		order, err := q.LockOrder(ctx, orderID)
		if err != nil {
			return s.mapNotFound(err, orderID)
		}
		if !allowed(order.Status) {
			return &TransitionError{OrderID: orderID, Op: op, From: order.Status}
		}

		from = order.Status
		order.Status = to
		if mutate != nil {
			if err := mutate(q, order); err != nil {
				return err
			}
		}
		if err := q.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		updated = *order
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			util.OrderTransitionsRejected.WithLabelValues(op).Inc()
			s.logger.Warn("Transition refused", zap.Int64("order_id", orderID), zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("Order transitioned",
		append(util.OrderFields(ctx, updated.ID, updated.GroupID, updated.PurchaserID),
			zap.String("from", string(from)),
			zap.String("to", string(to)))...)
	s.announce(ctx, []statusChange{{order: updated, from: from}})
	return &updated, nil
}

func (s *OrderService) settleOne(ctx context.Context, q store.Querier, order *models.Order, rentedAt time.Time) error {
	order.Status = models.OrderStatusSettled
	order.RentedAt = &rentedAt
	if err := q.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to settle order %d: %w", order.ID, err)
	}
	return nil
}

func (s *OrderService) getOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, s.mapNotFound(err, orderID)
	}
	return order, nil
}

func (s *OrderService) mapNotFound(err error, orderID int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	return fmt.Errorf("failed to get order %d: %w", orderID, err)
}

func (s *OrderService) publishCreated(ctx context.Context, order *models.Order) {
	if s.eventPublisher == nil {
		return
	}
	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: s.now(),
		},
		OrderID:     order.ID,
		GroupID:     order.GroupID,
		PurchaserID: order.PurchaserID,
		MovieID:     order.MovieID,
		TotalPrice:  order.TotalPrice,
	}
	if err := s.eventPublisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

// announce records metrics and publishes committed transitions
func (s *OrderService) announce(ctx context.Context, changes []statusChange) {
	for _, c := range changes {
		util.OrderTransitionsTotal.WithLabelValues(string(c.order.Status), strconv.FormatBool(c.cascaded)).Inc()
		if s.eventPublisher == nil {
			continue
		}
		event := &models.OrderStatusChangedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderStatusChanged,
				Timestamp: s.now(),
			},
			OrderID:     c.order.ID,
			GroupID:     c.order.GroupID,
			PurchaserID: c.order.PurchaserID,
			From:        c.from,
			To:          c.order.Status,
			Cascaded:    c.cascaded,
		}
		if err := s.eventPublisher.PublishOrderStatusChanged(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderStatusChanged event",
				zap.Int64("order_id", c.order.ID), zap.Error(err))
		}
	}
}

func findOrder(orders []models.Order, id int64) *models.Order {
	for i := range orders {
		if orders[i].ID == id {
			return &orders[i]
		}
	}
	return nil
}

// isSibling reports whether candidate settles together with target: same
// purchaser, same bundle or series, still waiting for payment.
func isSibling(target, candidate *models.Order) bool {
	if candidate.ID == target.ID || candidate.PurchaserID != target.PurchaserID {
		return false
	}
	if !candidate.Status.Open() {
		return false
	}
	return sameID(target.BundleID, candidate.BundleID) || sameID(target.SeriesID, candidate.SeriesID)
}

func sameID(a, b *int64) bool {
	return a != nil && b != nil && *a == *b
}

// capturedTxnID is the latest transaction id recorded on the order, or ""
func capturedTxnID(refs []models.OrderReference) string {
	for i := len(refs) - 1; i >= 0; i-- {
		if refs[i].Kind == models.ReferenceTransactionID && refs[i].Value != "" {
			return refs[i].Value
		}
	}
	return ""
}

func addReferences(ctx context.Context, q store.Querier, orderID int64, refs []models.OrderReference) error {
	for _, ref := range refs {
		ref.OrderID = orderID
		if err := q.AddReference(ctx, &ref); err != nil {
			return fmt.Errorf("failed to add reference: %w", err)
		}
	}
	return nil
}
