// Package metrics holds the prometheus collectors shared by both services.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fulfillment_orders"

type Metrics struct {
	OrdersPlaced        *prometheus.CounterVec
	TasksAssigned       *prometheus.CounterVec
	TaskUpdates         *prometheus.CounterVec
	Sweeps              *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "PlaceOrder calls by outcome (created, replayed, conflict, rejected, error).",
		}, []string{"outcome"}),
		TasksAssigned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_tasks_assigned_total",
			Help:      "AssignTask calls by outcome.",
		}, []string{"outcome"}),
		TaskUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_task_updates_total",
			Help:      "Committed task status updates by new status.",
		}, []string{"status"}),
		Sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_sweeps_total",
			Help:      "Background sweep runs by result.",
		}, []string{"result"}),
		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Fire-and-forget notifications that could not be handed to the broker.",
		}, []string{"kind"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
	if reg != nil {
		reg.MustRegister(m.OrdersPlaced, m.TasksAssigned, m.TaskUpdates, m.Sweeps, m.NotificationsFailed, m.HTTPDuration)
	}
	return m
}

// Nop returns unregistered collectors. Components accept a nil *Metrics and
// use this instead.
func Nop() *Metrics { return New(nil) }

func OrNop(m *Metrics) *Metrics {
	if m == nil {
		return Nop()
	}
	return m
}

func (m *Metrics) ObserveHTTP(route, code string, since time.Time) {
	m.HTTPDuration.WithLabelValues(route, code).Observe(time.Since(since).Seconds())
}
