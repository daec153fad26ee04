package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rental-order-service/internal/models"
	"rental-order-service/internal/store"

	"github.com/shopspring/decimal"
)

// memStore keeps orders in memory. A transaction holds the store mutex for
// its whole duration and restores a snapshot when fn fails.
type memStore struct {
	mu      sync.Mutex
	groups  map[string]models.PurchaseGroup
	orders  map[int64]models.Order
	refs    []models.OrderReference
	coupons map[string]models.Coupon
	nextID  int64

	// failInsertAt makes the n-th CreateOrder of a transaction fail
	failInsertAt int
	inserts      int
}

func newMemStore() *memStore {
	return &memStore{
		groups:  map[string]models.PurchaseGroup{},
		orders:  map[int64]models.Order{},
		coupons: map[string]models.Coupon{},
	}
}

func (s *memStore) InTx(ctx context.Context, fn func(q store.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make(map[string]models.PurchaseGroup, len(s.groups))
	for k, v := range s.groups {
		groups[k] = v
	}
	orders := make(map[int64]models.Order, len(s.orders))
	for k, v := range s.orders {
		orders[k] = v
	}
	refs := append([]models.OrderReference(nil), s.refs...)
	nextID := s.nextID

	s.inserts = 0
	if err := fn(&memTx{s: s}); err != nil {
		s.groups, s.orders, s.refs, s.nextID = groups, orders, refs, nextID
		return err
	}
	return nil
}

func (s *memStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	return &order, nil
}

func (s *memStore) GetReferencesByOrderID(ctx context.Context, orderID int64) ([]models.OrderReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var refs []models.OrderReference
	for _, ref := range s.refs {
		if ref.OrderID == orderID {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func (s *memStore) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coupon, ok := s.coupons[code]
	if !ok {
		return nil, fmt.Errorf("coupon %s: %w", code, store.ErrNotFound)
	}
	return &coupon, nil
}

func (s *memStore) order(id int64) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memStore) setStatus(id int64, status models.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order := s.orders[id]
	order.Status = status
	s.orders[id] = order
}

func (s *memStore) count() (orders, groups, refs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders), len(s.groups), len(s.refs)
}

// memTx runs with the store mutex already held
type memTx struct {
	s *memStore
}

func (q *memTx) CreatePurchaseGroup(ctx context.Context, group *models.PurchaseGroup) error {
	q.s.groups[group.ID] = *group
	return nil
}

func (q *memTx) CreateOrder(ctx context.Context, order *models.Order) error {
	q.s.inserts++
	if q.s.failInsertAt > 0 && q.s.inserts == q.s.failInsertAt {
		return errors.New("insert failed")
	}
	q.s.nextID++
	order.ID = q.s.nextID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	q.s.orders[order.ID] = *order
	return nil
}

func (q *memTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	order, ok := q.s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	return &order, nil
}

func (q *memTx) LockGroup(ctx context.Context, groupID string) ([]models.Order, error) {
	var orders []models.Order
	for id := int64(1); id <= q.s.nextID; id++ {
		if order, ok := q.s.orders[id]; ok && order.GroupID == groupID {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (q *memTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	if _, ok := q.s.orders[order.ID]; !ok {
		return fmt.Errorf("order %d: %w", order.ID, store.ErrNotFound)
	}
	order.UpdatedAt = time.Now()
	q.s.orders[order.ID] = *order
	return nil
}

func (q *memTx) AddReference(ctx context.Context, ref *models.OrderReference) error {
	ref.ID = int64(len(q.s.refs) + 1)
	q.s.refs = append(q.s.refs, *ref)
	return nil
}

type fakeCatalog struct {
	items map[models.PurchasableItem]*models.Resolution
}

func (c *fakeCatalog) Resolve(ctx context.Context, item models.PurchasableItem) (*models.Resolution, error) {
	res, ok := c.items[item]
	if !ok {
		return nil, fmt.Errorf("%s: %w", item, store.ErrNotFound)
	}
	return res, nil
}

type fakeRefunds struct {
	mu    sync.Mutex
	err   error
	calls []models.RefundRequest
}

func (g *fakeRefunds) Refund(ctx context.Context, req *models.RefundRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, *req)
	return g.err
}

func (g *fakeRefunds) txnIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []string
	for _, call := range g.calls {
		ids = append(ids, call.ProviderTxnID)
	}
	return ids
}

type recordingPublisher struct {
	mu      sync.Mutex
	created []*models.OrderCreatedEvent
	changed []*models.OrderStatusChangedEvent
}

func (p *recordingPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, event)
	return nil
}

func (p *recordingPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, event)
	return nil
}

func (p *recordingPublisher) changes() []*models.OrderStatusChangedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.OrderStatusChangedEvent(nil), p.changed...)
}

var (
	seriesID     int64 = 9
	bundleID     int64 = 5
	rentalWindow       = 48 * time.Hour
	fixedNow           = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func testCatalog() *fakeCatalog {
	return &fakeCatalog{items: map[models.PurchasableItem]*models.Resolution{
		models.SingleItem(101): {
			Item: models.SingleItem(101), TitleIDs: []int64{101},
			UnitPrice: decimal.RequireFromString("10.00"), RentalLength: rentalWindow, StudioID: 1, Title: "Heist",
		},
		models.SingleItem(150): {
			Item: models.SingleItem(150), TitleIDs: []int64{150},
			UnitPrice: decimal.RequireFromString("0.00"), StudioID: 1, Title: "Trailer",
		},
		models.SeriesItem(seriesID): {
			Item: models.SeriesItem(seriesID), TitleIDs: []int64{101, 102, 103},
			UnitPrice: decimal.RequireFromString("9.99"), RentalLength: rentalWindow,
			SeriesID: &seriesID, StudioID: 1, Title: "Season One",
		},
		models.BundleItem(bundleID): {
			Item: models.BundleItem(bundleID), TitleIDs: []int64{201, 202},
			UnitPrice: decimal.RequireFromString("4.50"), RentalLength: rentalWindow,
			BundleID: &bundleID, StudioID: 1, Title: "Noir Pack",
		},
	}}
}

type testEnv struct {
	svc       *OrderService
	store     *memStore
	catalog   *fakeCatalog
	refunds   *fakeRefunds
	publisher *recordingPublisher
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:     newMemStore(),
		catalog:   testCatalog(),
		refunds:   &fakeRefunds{},
		publisher: &recordingPublisher{},
	}
	env.store.coupons["SPRING25"] = models.Coupon{ID: 3, Code: "SPRING25", Percent: 25}
	refunds := RefundGateways{models.PaymentMethodPaypal: env.refunds}
	env.svc = NewOrderService(env.store, env.catalog, refunds, env.publisher, "USD")
	env.svc.now = func() time.Time { return fixedNow }
	return env
}
