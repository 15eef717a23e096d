package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of order status transitions",
	}, []string{"status"})

	OrderTransitionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_transitions_rejected_total",
		Help: "Total number of rejected status transitions",
	})

	PaymentAuthorizeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_authorize_total",
		Help: "Total number of payment authorization attempts",
	})

	PaymentAuthorizeFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_authorize_failed_total",
		Help: "Total number of failed payment authorizations",
	})

	PaymentCaptureTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_capture_total",
		Help: "Total number of payment capture attempts",
	})

	PaymentCaptureFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_capture_failed_total",
		Help: "Total number of failed payment captures",
	})

	PaymentCancelTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_cancel_total",
		Help: "Total number of payment cancel attempts",
	})

	PaymentCancelFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_cancel_failed_total",
		Help: "Total number of failed payment cancels",
	})

	// PaymentDivergenceTotal counts orders whose status reached a terminal
	// state while the gateway call to settle the payment failed, leaving
	// payment_status behind. These rows need an operator sweep.
	PaymentDivergenceTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_divergence_total",
		Help: "Orders in a terminal status with an unsettled payment",
	})

	PaymentGatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections",
		Help: "Number of active websocket subscribers",
	})

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
