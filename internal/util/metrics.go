package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_orders_created_total",
		Help: "Total number of rental orders created, by purchase kind",
	}, []string{"kind"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_order_transitions_total",
		Help: "Total number of committed order status transitions",
	}, []string{"to", "cascaded"})

	OrderTransitionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_order_transitions_rejected_total",
		Help: "Total number of transition attempts refused by the state machine",
	}, []string{"op"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_orders_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	CascadeSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rental_settle_cascade_size",
		Help:    "Number of sibling orders settled by one settlement",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})

	CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Total number of gateway callbacks, by event type and outcome",
	}, []string{"event_type", "outcome"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
