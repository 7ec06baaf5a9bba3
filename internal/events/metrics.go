package events

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsSink counts events by name and level.
type MetricsSink struct {
	total *prometheus.CounterVec
}

func NewMetricsSink(reg prometheus.Registerer, namespace string) *MetricsSink {
	factory := promauto.With(reg)
	return &MetricsSink{
		total: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of operational events by name and level.",
		}, []string{"name", "level"}),
	}
}

func (s *MetricsSink) Emit(_ context.Context, ev Event) error {
	s.total.WithLabelValues(ev.Name, strings.ToLower(ev.Level.String())).Inc()
	return nil
}
