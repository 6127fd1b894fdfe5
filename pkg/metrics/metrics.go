package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CasesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "linelist", Name: "cases_created_total", Help: "Number of case records created."},
	)
	CasesDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "linelist", Name: "cases_deleted_total", Help: "Number of case records deleted."},
	)
	Exports = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "linelist", Name: "exports_total", Help: "Number of completed case exports by format."},
		[]string{"format"},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "linelist", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "linelist", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(CasesCreated, CasesDeleted, Exports, RateLimitAllowed, RateLimitRejected)
}
