package reputation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var reputationEventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_reputation_events_recorded",
	Help: "Number of reputation ledger events recorded",
}, []string{"kind"})

var reputationScoresCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardrail_reputation_scores_created",
	Help: "Number of reputation score rows created",
})
