package service

import (
	"fmt"

	"rental-order-service/internal/models"
)

// creditsCurrency marks orders paid in social-platform credits
const creditsCurrency = "CREDITS"

// orderVariant fills in the payment-method specific fields of a new order
type orderVariant func(order *models.Order, req *CreateOrderRequest, defaultCurrency string)

var orderVariants = map[models.PaymentMethod]orderVariant{
	models.PaymentMethodPaypal:          paypalOrder,
	models.PaymentMethodFacebookCredits: creditsOrder,
}

func variantFor(method models.PaymentMethod) (orderVariant, error) {
	build, ok := orderVariants[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPaymentMethod, method)
	}
	return build, nil
}

func paypalOrder(order *models.Order, _ *CreateOrderRequest, defaultCurrency string) {
	order.Currency = defaultCurrency
	order.TotalCredits = 0
}

// Credit purchases are priced in credits; the gateway order id arrives with the request.
func creditsOrder(order *models.Order, req *CreateOrderRequest, _ string) {
	order.Currency = creditsCurrency
	order.TotalCredits = req.TotalCredits
}

// RefundGateways routes a refund to the gateway that took the payment
type RefundGateways map[models.PaymentMethod]RefundGateway

// For returns the refund gateway of a payment method
func (g RefundGateways) For(method models.PaymentMethod) (RefundGateway, error) {
	gateway, ok := g[method]
	if !ok || gateway == nil {
		return nil, fmt.Errorf("%w: no refund gateway for %q", ErrUnsupportedPaymentMethod, method)
	}
	return gateway, nil
}

// initialStatus is placed by default; pending needs the gateway token it waits on
func initialStatus(req *CreateOrderRequest) (models.OrderStatus, error) {
	switch req.InitialStatus {
	case "", models.OrderStatusPlaced:
		return models.OrderStatusPlaced, nil
	case models.OrderStatusPending:
		if req.GatewayToken == "" {
			return "", fmt.Errorf("%w: pending orders need a gateway token", ErrInvalidTransition)
		}
		return models.OrderStatusPending, nil
	default:
		return "", fmt.Errorf("%w: orders cannot be created %s", ErrInvalidTransition, req.InitialStatus)
	}
}
