package distribute

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PromSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saleops_distribution_submitted_total",
			Help: "Transactions submitted by distribution jobs",
		},
		[]string{"job"},
	)
	PromConfirmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saleops_distribution_confirmed_total",
			Help: "Distribution transactions confirmed on chain",
		},
		[]string{"job"},
	)
	PromSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saleops_distribution_skipped_total",
			Help: "Plan rows skipped because they were already applied",
		},
		[]string{"job"},
	)
	PromReverted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saleops_distribution_reverted_total",
			Help: "Distribution transactions that reverted",
		},
		[]string{"job"},
	)
)

// metricLabeler records distribution progress for one job.
type metricLabeler struct {
	job string
}

func (m metricLabeler) submitted() { PromSubmitted.WithLabelValues(m.job).Inc() }
func (m metricLabeler) confirmed() { PromConfirmed.WithLabelValues(m.job).Inc() }
func (m metricLabeler) skipped()   { PromSkipped.WithLabelValues(m.job).Inc() }
func (m metricLabeler) reverted()  { PromReverted.WithLabelValues(m.job).Inc() }
