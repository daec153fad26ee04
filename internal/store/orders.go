package store

import (
	"context"
	"time"

	"rental-order-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, purchaser_id, movie_id, bundle_id, series_id, coupon_id, group_id,
	payment_method, status, unit_price, total_price, tax_collected, total_credits, currency,
	zip_code, provider_order_id, redeemed, flash_key, rented_at, created_at, updated_at`

// Querier is the set of order writes that must run inside a transaction
type Querier interface {
	CreatePurchaseGroup(ctx context.Context, group *models.PurchaseGroup) error
	CreateOrder(ctx context.Context, order *models.Order) error
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	LockGroup(ctx context.Context, groupID string) ([]models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	AddReference(ctx context.Context, ref *models.OrderReference) error
}

type txQuerier struct {
	tx *sqlx.Tx
}

// CreatePurchaseGroup inserts the correlation row shared by a fan-out
func (q *txQuerier) CreatePurchaseGroup(ctx context.Context, group *models.PurchaseGroup) error {
	_, err := q.tx.ExecContext(ctx,
		`INSERT INTO purchase_groups (id, purchaser_id, root_kind, root_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		group.ID, group.PurchaserID, group.RootKind, group.RootID, group.CreatedAt)
	return err
}

// CreateOrder creates a new order
func (q *txQuerier) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (purchaser_id, movie_id, bundle_id, series_id, coupon_id, group_id,
			payment_method, status, unit_price, total_price, tax_collected, total_credits,
			currency, zip_code, provider_order_id, flash_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at, updated_at`

	return q.tx.GetContext(ctx, order, query,
		order.PurchaserID, order.MovieID, order.BundleID, order.SeriesID, order.CouponID,
		order.GroupID, order.PaymentMethod, order.Status, order.UnitPrice, order.TotalPrice,
		order.TaxCollected, order.TotalCredits, order.Currency, order.ZipCode,
		order.ProviderOrderID, order.FlashKey)
}

// LockOrder reads an order and holds its row lock until the transaction ends
func (q *txQuerier) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := q.tx.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return &order, nil
}

// LockGroup locks every order of a purchase group. Rows are locked in id
// order so concurrent cascades over the same group cannot deadlock.
func (q *txQuerier) LockGroup(ctx context.Context, groupID string) ([]models.Order, error) {
	var orders []models.Order
	err := q.tx.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE group_id = $1 ORDER BY id FOR UPDATE", groupID)
	return orders, err
}

// UpdateOrder writes the mutable fields of an order
func (q *txQuerier) UpdateOrder(ctx context.Context, order *models.Order) error {
	return q.tx.GetContext(ctx, &order.UpdatedAt,
		`UPDATE orders
		 SET status = $1, rented_at = $2, coupon_id = $3, total_price = $4,
		     provider_order_id = $5, updated_at = NOW()
		 WHERE id = $6
		 RETURNING updated_at`,
		order.Status, order.RentedAt, order.CouponID, order.TotalPrice,
		order.ProviderOrderID, order.ID)
}

// AddReference appends an audit reference
func (q *txQuerier) AddReference(ctx context.Context, ref *models.OrderReference) error {
	return q.tx.GetContext(ctx, ref,
		`INSERT INTO order_references (order_id, kind, value)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		ref.OrderID, ref.Kind, ref.Value)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return &order, nil
}

// GetOrderByProviderOrderID retrieves the earliest order carrying a gateway order id
func (s *Store) GetOrderByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE provider_order_id = $1 ORDER BY id LIMIT 1",
		providerOrderID)
	if err != nil {
		return nil, notFound(err, "order with provider id", providerOrderID)
	}
	return &order, nil
}

// GetOrdersByGroupID retrieves every order of a purchase group
func (s *Store) GetOrdersByGroupID(ctx context.Context, groupID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE group_id = $1 ORDER BY id", groupID)
	return orders, err
}

// GetReferencesByOrderID retrieves the audit trail of an order
func (s *Store) GetReferencesByOrderID(ctx context.Context, orderID int64) ([]models.OrderReference, error) {
	var refs []models.OrderReference
	err := s.db.SelectContext(ctx, &refs,
		"SELECT id, order_id, kind, value, created_at FROM order_references WHERE order_id = $1 ORDER BY id",
		orderID)
	return refs, err
}

// CreateCreditCharge records a social-platform charge awaiting settlement
func (s *Store) CreateCreditCharge(ctx context.Context, charge *models.CreditCharge) error {
	query := `
		INSERT INTO credit_charges (provider_order_id, purchaser_id, movie_id, total_credits,
			tax_collected, zip_code, coupon_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, charge, query,
		charge.ProviderOrderID, charge.PurchaserID, charge.MovieID, charge.TotalCredits,
		charge.TaxCollected, charge.ZipCode, charge.CouponID, charge.Status)
}

// ListReportRows retrieves export rows for orders created in [from, to)
func (s *Store) ListReportRows(ctx context.Context, from, to time.Time) ([]models.ReportRow, error) {
	var rows []models.ReportRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT o.rented_at, COALESCE(p.name, '') AS purchaser_name, o.provider_order_id,
		        o.status, o.total_credits, o.total_price, o.tax_collected, o.zip_code
		 FROM orders o
		 LEFT JOIN purchasers p ON p.id = o.purchaser_id
		 WHERE o.created_at >= $1 AND o.created_at < $2
		 ORDER BY o.created_at, o.id`, from, to)
	return rows, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
