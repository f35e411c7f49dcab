package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_gate_decisions",
	Help: "Write gate decisions by surface and outcome",
}, []string{"surface", "outcome"})

var gateCounterFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardrail_gate_counter_failures",
	Help: "Velocity counter failures handled by the conservative default",
})
