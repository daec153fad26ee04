package service

import (
	"errors"
	"fmt"

	"rental-order-service/internal/models"
)

var (
	ErrCatalogResolution  = errors.New("purchasable item could not be resolved")
	ErrInvalidPrice       = errors.New("computed price is negative")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrRefundNotPermitted = errors.New("only disputed orders can be refunded")
	ErrGatewayRefund      = errors.New("payment gateway refused the refund")
	ErrGatewayCharge      = errors.New("payment gateway refused the charge")
	ErrOrderNotFound      = errors.New("order not found")
	ErrUnknownCallback    = errors.New("unknown callback event type")

	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
)

// TransitionError reports an operation the order's current status does not allow.
// It matches ErrInvalidTransition with errors.Is.
type TransitionError struct {
	OrderID int64
	Op      string
	From    models.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s order %d in status %q", e.Op, e.OrderID, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
