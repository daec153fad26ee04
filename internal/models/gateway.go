package models

import "github.com/shopspring/decimal"

// Reference kind for the captured gateway transaction
const ReferenceTransactionID = "transactionid"

// CheckoutRequest asks the gateway for a payment token for one purchase
type CheckoutRequest struct {
	Studio      *Studio
	Item        PurchasableItem
	Title       string
	PurchaserID int64
	ItemAmount  decimal.Decimal
	Tax         decimal.Decimal
	ReturnURL   string
	CancelURL   string
}

// CheckoutDetails is what the gateway remembers about an approved token
type CheckoutDetails struct {
	Token       string
	PayerID     string
	PurchaserID int64
	// ItemNumber is the purchasable item the buyer approved, as sent by Begin
	ItemNumber string
	Tax        decimal.Decimal
}

// ChargeRequest captures the payment approved for a token
type ChargeRequest struct {
	Studio      *Studio
	Token       string
	PayerID     string
	Order       *Order
	Title       string
	PurchaserID int64
}

// ChargeResult is the gateway verdict for a charge
type ChargeResult struct {
	Succeeded     bool
	ProviderTxnID string
	CorrelationID string
	Token         string
	PaymentStatus string
	FailureReason string
}

// RefundRequest returns part of a captured transaction
type RefundRequest struct {
	ProviderTxnID string
	Amount        decimal.Decimal
	Currency      string
}
