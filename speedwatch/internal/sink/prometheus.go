package sink

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hazyhaar/vscd/speedwatch/event"
)

// Prometheus turns events into metrics on the given registerer.
type Prometheus struct {
	rates    *prometheus.CounterVec
	speeds   prometheus.Histogram
	attached *prometheus.CounterVec
	detached *prometheus.CounterVec
	active   *prometheus.GaugeVec
}

// NewPrometheus registers the speedwatch metrics on reg. A nil reg uses
// the default registerer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Prometheus{
		rates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "speedwatch",
			Name:      "rate_changes_total",
			Help:      "Playback rate writes by source",
		}, []string{"source"}),
		speeds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "speedwatch",
			Name:      "speed",
			Help:      "Playback rates written",
			Buckets:   []float64{0.5, 0.75, 1, 1.25, 1.5, 1.75, 2, 2.5, 3, 4, 8, 16},
		}),
		attached: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "speedwatch",
			Name:      "controllers_attached_total",
			Help:      "Controllers attached by media tag",
		}, []string{"tag"}),
		detached: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "speedwatch",
			Name:      "controllers_detached_total",
			Help:      "Controllers removed by media tag",
		}, []string{"tag"}),
		active: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "speedwatch",
			Name:      "controllers",
			Help:      "Controllers currently attached per page",
		}, []string{"page"}),
	}
}

func (p *Prometheus) Send(_ context.Context, ev event.RateChange) error {
	switch ev.Kind {
	case event.KindRate:
		src := string(ev.Source)
		if src == "" {
			src = "unknown"
		}
		p.rates.WithLabelValues(src).Inc()
		p.speeds.Observe(ev.Speed)
	case event.KindAttach:
		p.attached.WithLabelValues(ev.Tag).Inc()
		p.active.WithLabelValues(ev.PageID).Inc()
	case event.KindDetach:
		p.detached.WithLabelValues(ev.Tag).Inc()
		p.active.WithLabelValues(ev.PageID).Dec()
	}
	return nil
}

func (p *Prometheus) Close() error { return nil }
