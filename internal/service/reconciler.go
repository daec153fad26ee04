package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental-order-service/internal/models"
	"rental-order-service/internal/store"
	"rental-order-service/internal/util"

	"go.uber.org/zap"
)

// ErrCallbackInFlight means another delivery of the same callback holds the lock
var ErrCallbackInFlight = errors.New("callback is being processed by another delivery")

// LifecycleEngine is the part of OrderService the reconciler drives
type LifecycleEngine interface {
	Settle(ctx context.Context, orderID int64, opts SettleOptions) (*models.Order, error)
	Dispute(ctx context.Context, orderID int64, coupon *models.Coupon) (*models.Order, error)
	ResolveCoupon(ctx context.Context, code string) (*models.Coupon, error)
}

// CallbackStore holds the callback ledger and provider order lookups
type CallbackStore interface {
	GetOrderByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Order, error)
	CreateCreditCharge(ctx context.Context, charge *models.CreditCharge) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Locker is a distributed mutex keyed by string
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// Reconciler maps gateway callbacks onto order transitions, applying each
// (provider order, event type) pair at most once.
type Reconciler struct {
	engine  LifecycleEngine
	store   CallbackStore
	locker  Locker
	lockTTL time.Duration
	logger  *zap.Logger
}

// NewReconciler creates a new reconciler. locker may be nil.
func NewReconciler(engine LifecycleEngine, store CallbackStore, locker Locker, lockTTL time.Duration) *Reconciler {
	return &Reconciler{
		engine:  engine,
		store:   store,
		locker:  locker,
		lockTTL: lockTTL,
		logger:  util.GetLogger(),
	}
}

// HandleCallback applies one gateway callback delivery
func (r *Reconciler) HandleCallback(ctx context.Context, cb *models.GatewayCallback) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleCallback")
	defer span.End()

	key := cb.DedupeKey()

	if r.locker != nil {
		token, err := r.locker.AcquireLock(ctx, key, r.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire callback lock: %w", err)
		}
		if token == "" {
			util.CallbacksTotal.WithLabelValues(cb.CallbackType, "in_flight").Inc()
			return fmt.Errorf("%w: %s", ErrCallbackInFlight, key)
		}
		defer func() {
			if err := r.locker.ReleaseLock(context.Background(), key, token); err != nil {
				r.logger.Warn("Failed to release callback lock", zap.String("key", key), zap.Error(err))
			}
		}()
	}

	processed, err := r.store.IsEventProcessed(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		util.CallbacksTotal.WithLabelValues(cb.CallbackType, "duplicate").Inc()
		r.logger.Info("Callback already processed", zap.String("key", key))
		return nil
	}

	r.logger.Info("Handling gateway callback",
		zap.String("type", cb.CallbackType),
		zap.String("provider_order_id", cb.ProviderOrderID))

	switch cb.CallbackType {
	case models.CallbackPlaced:
		err = r.handlePlaced(ctx, cb)
	case models.CallbackSettled:
		err = r.handleSettled(ctx, cb)
	case models.CallbackDisputed:
		err = r.handleDisputed(ctx, cb)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCallback, cb.CallbackType)
	}
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrOrderNotFound) {
			outcome = "not_found"
			r.logger.Error("Callback for unknown order",
				zap.String("key", key),
				zap.Error(err))
		}
		util.CallbacksTotal.WithLabelValues(cb.CallbackType, outcome).Inc()
		return err
	}

	if err := r.store.MarkEventProcessed(ctx, key, cb.CallbackType); err != nil {
		r.logger.Error("Failed to mark event processed", zap.String("key", key), zap.Error(err))
	}

	util.CallbacksTotal.WithLabelValues(cb.CallbackType, "applied").Inc()
	return nil
}

// handlePlaced records a credit charge awaiting confirmation
func (r *Reconciler) handlePlaced(ctx context.Context, cb *models.GatewayCallback) error {
	coupon, err := r.engine.ResolveCoupon(ctx, cb.CouponCode)
	if err != nil {
		return err
	}

	charge := &models.CreditCharge{
		ProviderOrderID: cb.ProviderOrderID,
		PurchaserID:     cb.PurchaserID,
		MovieID:         cb.MovieID,
		TotalCredits:    cb.Amount.IntPart(),
		TaxCollected:    cb.Tax,
		ZipCode:         cb.ZipCode,
		Status:          models.CallbackPlaced,
	}
	if coupon != nil {
		charge.CouponID = &coupon.ID
	}

	if err := r.store.CreateCreditCharge(ctx, charge); err != nil {
		return fmt.Errorf("failed to create credit charge: %w", err)
	}
	return nil
}

func (r *Reconciler) handleSettled(ctx context.Context, cb *models.GatewayCallback) error {
	order, err := r.lookup(ctx, cb.ProviderOrderID)
	if err != nil {
		return err
	}

	coupon, err := r.engine.ResolveCoupon(ctx, cb.CouponCode)
	if err != nil {
		return err
	}

	_, err = r.engine.Settle(ctx, order.ID, SettleOptions{
		Coupon: coupon,
		References: []models.OrderReference{
			{Kind: models.ReferenceCallback, Value: cb.DedupeKey()},
		},
	})
	return err
}

func (r *Reconciler) handleDisputed(ctx context.Context, cb *models.GatewayCallback) error {
	order, err := r.lookup(ctx, cb.ProviderOrderID)
	if err != nil {
		return err
	}

	// a dispute that already landed is a redelivery
	if order.Status == models.OrderStatusDisputed || order.Status == models.OrderStatusRefunded {
		r.logger.Info("Order already disputed", zap.Int64("order_id", order.ID))
		return nil
	}

	coupon, err := r.engine.ResolveCoupon(ctx, cb.CouponCode)
	if err != nil {
		return err
	}

	_, err = r.engine.Dispute(ctx, order.ID, coupon)
	return err
}

func (r *Reconciler) lookup(ctx context.Context, providerOrderID string) (*models.Order, error) {
	order, err := r.store.GetOrderByProviderOrderID(ctx, providerOrderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: provider order %q", ErrOrderNotFound, providerOrderID)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}
