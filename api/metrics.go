/*
metrics.go - Prometheus metrics for the credit and generation paths

PURPOSE:
  Counters for everything that moves money or credits, exposed on
  /metrics. The webhook duplicate counter is the operational signal that
  the idempotency guard is actually being exercised in production.
*/
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricGenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fichflow_generations_total",
		Help: "Product sheet generations by outcome.",
	}, []string{"outcome"}) // ok, insufficient_credits, failed

	metricGenerationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fichflow_generation_duration_seconds",
		Help:    "End-to-end duration of a generation request.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	metricCreditsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fichflow_credits_granted_total",
		Help: "Credits granted (signup bonus, admin bonus, refunds).",
	})

	metricCreditsPurchased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fichflow_credits_purchased_total",
		Help: "Credits credited through settled purchases.",
	})

	metricWebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fichflow_webhook_events_total",
		Help: "Payment webhook deliveries by outcome.",
	}, []string{"outcome"}) // credited, duplicate, ignored, rejected
)
