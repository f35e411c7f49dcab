package cases

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var reportsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_reports_submitted_total",
	Help: "Number of user reports accepted, by subject type.",
}, []string{"subject_type"})

var reportsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_reports_rejected_total",
	Help: "Number of user reports rejected before persistence.",
}, []string{"reason"})

var caseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_case_transitions_total",
	Help: "Number of case status transitions, by resulting status.",
}, []string{"status"})

var appealsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardrail_appeals_submitted_total",
	Help: "Number of appeals opened.",
})

var appealsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_appeals_resolved_total",
	Help: "Number of appeals resolved, by outcome.",
}, []string{"status"})
