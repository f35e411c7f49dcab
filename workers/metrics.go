package workers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var workerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_worker_entries_total",
	Help: "Number of stream entries handled, by worker and outcome.",
}, []string{"worker", "outcome"})

var workerReadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_worker_read_failures_total",
	Help: "Number of failed stream reads, by worker.",
}, []string{"worker"})

var deadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_worker_dead_lettered_total",
	Help: "Number of entries routed to the dead-letter stream, by worker.",
}, []string{"worker"})

var ingressSignals = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_ingress_signals_total",
	Help: "Number of times each ingress signal fired.",
}, []string{"signal"})

var hookRedrives = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_hook_redrives_total",
	Help: "Number of dead-lettered enforcement hooks re-driven, by outcome.",
}, []string{"outcome"})
