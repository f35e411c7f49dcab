package enforcer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var enforcerActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_enforcer_actions",
	Help: "Number of audit actions persisted",
}, []string{"action"})

var enforcerHookFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_enforcer_hook_failures",
	Help: "Number of collaborator hook failures (audit row still written)",
}, []string{"action"})
