package admin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var catalogVersionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_catalog_versions_created_total",
	Help: "Number of catalog versions appended, by kind.",
}, []string{"kind"})

var batchJobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_batch_jobs_started_total",
	Help: "Number of batch jobs started, by kind.",
}, []string{"kind"})

var batchJobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_batch_jobs_finished_total",
	Help: "Number of batch jobs finished, by kind and final status.",
}, []string{"kind", "status"})

var bundleImports = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardrail_bundle_imports_total",
	Help: "Number of catalog bundles imported.",
})

var macroSteps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_macro_steps_total",
	Help: "Number of macro steps executed, by action and outcome.",
}, []string{"action", "outcome"})

var revertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardrail_reverts_total",
	Help: "Number of revert operations, by action and outcome.",
}, []string{"action", "outcome"})
