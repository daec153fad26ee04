package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of a rental order
type OrderStatus string

// Order statuses
const (
	OrderStatusPlaced   OrderStatus = "placed"
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusSettled  OrderStatus = "settled"
	OrderStatusDisputed OrderStatus = "disputed"
	OrderStatusRefunded OrderStatus = "refunded"
	OrderStatusRejected OrderStatus = "rejected"
)

// Open reports whether the order is still waiting for payment confirmation
func (s OrderStatus) Open() bool {
	return s == OrderStatusPlaced || s == OrderStatusPending
}

// PaymentMethod identifies how an order is paid for
type PaymentMethod string

const (
	PaymentMethodPaypal          PaymentMethod = "paypal"
	PaymentMethodFacebookCredits PaymentMethod = "facebook_credits"
)

// Order represents a rental of exactly one title
type Order struct {
	ID              int64           `db:"id" json:"id"`
	PurchaserID     int64           `db:"purchaser_id" json:"purchaser_id"`
	MovieID         int64           `db:"movie_id" json:"movie_id"`
	BundleID        *int64          `db:"bundle_id" json:"bundle_id,omitempty"`
	SeriesID        *int64          `db:"series_id" json:"series_id,omitempty"`
	CouponID        *int64          `db:"coupon_id" json:"coupon_id,omitempty"`
	GroupID         string          `db:"group_id" json:"group_id"`
	PaymentMethod   PaymentMethod   `db:"payment_method" json:"payment_method"`
	Status          OrderStatus     `db:"status" json:"status"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice      decimal.Decimal `db:"total_price" json:"total_price"`
	TaxCollected    decimal.Decimal `db:"tax_collected" json:"tax_collected"`
	TotalCredits    int64           `db:"total_credits" json:"total_credits"`
	Currency        string          `db:"currency" json:"currency"`
	ZipCode         string          `db:"zip_code" json:"zip_code,omitempty"`
	ProviderOrderID string          `db:"provider_order_id" json:"provider_order_id,omitempty"`
	Redeemed        bool            `db:"redeemed" json:"redeemed"`
	FlashKey        string          `db:"flash_key" json:"flash_key,omitempty"`
	RentedAt        *time.Time      `db:"rented_at" json:"rented_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// PurchaseGroup links every order created by one bundle or series purchase
type PurchaseGroup struct {
	ID          string       `db:"id" json:"id"`
	PurchaserID int64        `db:"purchaser_id" json:"purchaser_id"`
	RootKind    PurchaseKind `db:"root_kind" json:"root_kind"`
	RootID      int64        `db:"root_id" json:"root_id"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// Reference kinds recorded from gateway responses
const (
	ReferenceToken         = "token"
	ReferenceCorrelationID = "correlationid"
	ReferencePayerID       = "payerid"
	ReferencePaymentStatus = "paymentstatus"
	ReferenceCallback      = "callback"
	ReferenceRefund        = "refund"
)

// OrderReference is an append-only audit record of a gateway token
type OrderReference struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	Kind      string    `db:"kind" json:"kind"`
	Value     string    `db:"value" json:"value"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Coupon is a percentage discount applied to an order's unit price
type Coupon struct {
	ID      int64  `db:"id" json:"id"`
	Code    string `db:"code" json:"code"`
	Percent int    `db:"percent" json:"percent"`
}

// CreditCharge is a social-platform credit purchase awaiting confirmation
type CreditCharge struct {
	ID              int64           `db:"id" json:"id"`
	ProviderOrderID string          `db:"provider_order_id" json:"provider_order_id"`
	PurchaserID     int64           `db:"purchaser_id" json:"purchaser_id"`
	MovieID         int64           `db:"movie_id" json:"movie_id"`
	TotalCredits    int64           `db:"total_credits" json:"total_credits"`
	TaxCollected    decimal.Decimal `db:"tax_collected" json:"tax_collected"`
	ZipCode         string          `db:"zip_code" json:"zip_code"`
	CouponID        *int64          `db:"coupon_id" json:"coupon_id,omitempty"`
	Status          string          `db:"status" json:"status"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Movie is a single rentable title
type Movie struct {
	ID                  int64           `db:"id" json:"id"`
	Title               string          `db:"title" json:"title"`
	StudioID            int64           `db:"studio_id" json:"studio_id"`
	Price               decimal.Decimal `db:"price" json:"price"`
	RentalLengthSeconds int64           `db:"rental_length_seconds" json:"rental_length_seconds"`
	BundleID            *int64          `db:"bundle_id" json:"bundle_id,omitempty"`
	SeriesID            *int64          `db:"series_id" json:"series_id,omitempty"`
}

// Collection is a bundle or a series of titles sold together
type Collection struct {
	ID       int64           `db:"id" json:"id"`
	Title    string          `db:"title" json:"title"`
	StudioID int64           `db:"studio_id" json:"studio_id"`
	Price    decimal.Decimal `db:"price" json:"price"`
}

// Studio owns titles and may carry its own PayPal merchant credentials
type Studio struct {
	ID              int64  `db:"id" json:"id"`
	Name            string `db:"name" json:"name"`
	CurrencyCode    string `db:"currency_code" json:"currency_code"`
	PaypalUsername  string `db:"paypal_username" json:"-"`
	PaypalPassword  string `db:"paypal_password" json:"-"`
	PaypalSignature string `db:"paypal_signature" json:"-"`
}

// HasPaypalCredentials reports whether the studio overrides the default merchant account
func (s *Studio) HasPaypalCredentials() bool {
	return s.PaypalUsername != "" && s.PaypalPassword != "" && s.PaypalSignature != ""
}

// ReportRow is one line of the order export
type ReportRow struct {
	RentedAt        *time.Time      `db:"rented_at"`
	PurchaserName   string          `db:"purchaser_name"`
	ProviderOrderID string          `db:"provider_order_id"`
	Status          OrderStatus     `db:"status"`
	TotalCredits    int64           `db:"total_credits"`
	TotalPrice      decimal.Decimal `db:"total_price"`
	TaxCollected    decimal.Decimal `db:"tax_collected"`
	ZipCode         string          `db:"zip_code"`
}
