package internal

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

// Metrics counts deliveries per mailer and transport.
type Metrics struct {
	sent     *prometheus.CounterVec
	failed   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the mail metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	labels := []string{"mailer", "transport"}
	sent, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailkit",
		Name:      "mail_sent_total",
		Help:      "Messages accepted by a transport.",
	}, labels))
	if err != nil {
		return nil, err
	}
	failed, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailkit",
		Name:      "mail_failed_total",
		Help:      "Messages a transport failed to deliver.",
	}, labels))
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mailkit",
		Name:      "mail_send_duration_seconds",
		Help:      "Time spent in transport Send.",
		Buckets:   prometheus.DefBuckets,
	}, labels))
	if err != nil {
		return nil, err
	}
	return &Metrics{sent: sent, failed: failed, duration: duration}, nil
}

// register returns the collector already registered under the same descriptor, if any.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, err
}

// Observe records one delivery attempt. It has the signature of a mailer after-send hook.
func (m *Metrics) Observe(_ context.Context, event mailer.SendEvent) {
	m.duration.WithLabelValues(event.Mailer, event.Transport).Observe(event.Duration.Seconds())
	if event.Err != nil {
		m.failed.WithLabelValues(event.Mailer, event.Transport).Inc()
		return
	}
	m.sent.WithLabelValues(event.Mailer, event.Transport).Inc()
}
