package service

import (
	"rental-order-service/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// TotalPrice applies the coupon discount to the unit price, then adds tax.
// The result is rounded to cents.
func TotalPrice(unitPrice decimal.Decimal, coupon *models.Coupon, tax decimal.Decimal) decimal.Decimal {
	total := unitPrice
	if coupon != nil && coupon.Percent > 0 {
		keep := hundred.Sub(decimal.NewFromInt(int64(coupon.Percent))).Div(hundred)
		total = total.Mul(keep)
	}
	return total.Add(tax).Round(2)
}

// validatePrices rejects negative unit or total prices
func validatePrices(unitPrice, total decimal.Decimal) error {
	if unitPrice.IsNegative() || total.IsNegative() {
		return ErrInvalidPrice
	}
	return nil
}
