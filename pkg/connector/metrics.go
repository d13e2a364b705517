// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	events      *prometheus.CounterVec
	attachments *prometheus.CounterVec
	control     *prometheus.CounterVec
	operator    *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cwtg",
			Name:      "chatwoot_events_total",
			Help:      "Chatwoot webhook events by result.",
		}, []string{"result"}),
		attachments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cwtg",
			Name:      "attachments_total",
			Help:      "Attachment transfers by terminal outcome.",
		}, []string{"outcome"}),
		control: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cwtg",
			Name:      "control_actions_total",
			Help:      "Resolve and reopen actions by result.",
		}, []string{"action", "result"}),
		operator: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cwtg",
			Name:      "operator_messages_total",
			Help:      "Telegram operator messages by result.",
		}, []string{"result"}),
	}
}

// RegisterMetrics registers the connector counters with reg.
func (c *Connector) RegisterMetrics(reg prometheus.Registerer) error {
	var errs []error
	for _, collector := range []prometheus.Collector{
		c.metrics.events,
		c.metrics.attachments,
		c.metrics.control,
		c.metrics.operator,
	} {
		errs = append(errs, reg.Register(collector))
	}
	return errors.Join(errs...)
}
