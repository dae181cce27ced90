package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	submissionsAdmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corrigo_submissions_admitted_total",
			Help: "Total number of submissions admitted.",
		},
	)

	submissionsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corrigo_submissions_completed_total",
			Help: "Total number of completed submissions by status and outcome.",
		},
		[]string{"status", "result"},
	)

	submissionsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corrigo_submissions_evicted_total",
			Help: "Total number of submissions evicted by retention pruning.",
		},
	)

	submissionsRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corrigo_submissions_recovered_total",
			Help: "Total number of orphaned submissions reclaimed at startup.",
		},
	)

	submissionsReplayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corrigo_submissions_replayed_total",
			Help: "Total number of replayed submissions by mode.",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(submissionsAdmitted)
	prometheus.MustRegister(submissionsCompleted)
	prometheus.MustRegister(submissionsEvicted)
	prometheus.MustRegister(submissionsRecovered)
	prometheus.MustRegister(submissionsReplayed)
}
