package financial

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	calculationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_calculations_total",
			Help: "Total number of claim financial-responsibility calculations",
		},
		[]string{"category", "outcome"},
	)

	memberShareRatio = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claim_member_share_ratio",
			Help:    "Member responsibility as a fraction of the allowed amount",
			Buckets: []float64{0, .05, .1, .2, .3, .5, .75, 1},
		},
		[]string{"category"},
	)

	complianceIssuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_compliance_issues_total",
			Help: "Total number of advisory compliance issues raised",
		},
		[]string{"category"},
	)

	outOfPocketMaxReached = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claim_out_of_pocket_max_reached_total",
			Help: "Total number of calculations that reached the annual out-of-pocket maximum",
		},
	)
)

// Category labels must already be bounded by Service.metricCategory.
func recordOutcome(category, outcome string) {
	if category == "" {
		category = "unknown"
	}
	calculationsTotal.WithLabelValues(category, outcome).Inc()
}

func recordResult(category string, r *CalculationResult) {
	calculationsTotal.WithLabelValues(category, "ok").Inc()
	if r.AllowedAmount > 0 {
		memberShareRatio.WithLabelValues(category).Observe(r.MemberResponsibility / r.AllowedAmount)
	}
	if n := len(r.Compliance.Issues); n > 0 {
		complianceIssuesTotal.WithLabelValues(category).Add(float64(n))
	}
	if r.OutOfPocket.MaximumMet {
		outOfPocketMaxReached.Inc()
	}
}
