package restriction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var restrictionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_restrictions_applied",
	Help: "Number of restrictions applied",
}, []string{"mode"})

var restrictionsRevoked = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_restrictions_revoked",
	Help: "Number of restrictions revoked",
}, []string{"mode"})
