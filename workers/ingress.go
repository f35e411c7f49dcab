package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haven-social/guardrail/cases"
	"github.com/haven-social/guardrail/countstore"
	"github.com/haven-social/guardrail/eventlog"
	"github.com/haven-social/guardrail/helpers"
	"github.com/haven-social/guardrail/linkage"
	"github.com/haven-social/guardrail/policy"
	"github.com/haven-social/guardrail/reputation"
	"github.com/haven-social/guardrail/setstore"
)

type IngressConfig struct {
	// identical text seen more than this many times within the hour counts
	// as duplicated
	DupTextThreshold int
	// per-minute writes above this counts as a burst (read from the same
	// counters the gate increments)
	BurstThreshold int
	// linked accounts at or above this cluster size count as coordinated
	ClusterSizeThreshold int
	ProfanitySet         string
	LinkAllowlistSet     string
}

func DefaultIngressConfig() IngressConfig {
	return IngressConfig{
		DupTextThreshold:     3,
		BurstThreshold:       12,
		ClusterSizeThreshold: 5,
		ProfanitySet:         "profanity-high",
		LinkAllowlistSet:     "link-allowlist",
	}
}

// Ingress turns raw write events into boolean signals, evaluates the active
// policy, and hands any resulting decision to the case service. It runs
// off the hot path: the gate already made its millisecond-budget call, this
// pass does the slower content analysis.
type Ingress struct {
	policy   *policy.Policy
	counters countstore.CountStore
	sets     setstore.SetStore
	rep      *reputation.Service
	linkage  *linkage.Service
	cases    *cases.Service
	config   IngressConfig
	logger   *slog.Logger
}

func NewIngress(pol *policy.Policy, counters countstore.CountStore, sets setstore.SetStore, rep *reputation.Service, lk *linkage.Service, cs *cases.Service, config IngressConfig, logger *slog.Logger) *Ingress {
	return &Ingress{
		policy:   pol,
		counters: counters,
		sets:     sets,
		rep:      rep,
		linkage:  lk,
		cases:    cs,
		config:   config,
		logger:   logger.With("system", "workers"),
	}
}

// NewIngressWorker binds the detector pipeline to the ingress stream.
func NewIngressWorker(in *Ingress, log eventlog.EventLog, cursors eventlog.CursorStore, logger *slog.Logger) *Worker {
	return New("ingress", eventlog.StreamIngress, log, cursors, in.Handle, logger)
}

func (in *Ingress) Handle(ctx context.Context, entry eventlog.Entry) error {
	userID := entry.Fields["user_id"]
	subjectType := entry.Fields["subject_type"]
	subjectID := entry.Fields["subject_id"]
	if userID == "" || subjectType == "" || subjectID == "" {
		return fmt.Errorf("ingress entry %s missing identity fields", entry.ID)
	}
	text := entry.Fields["text"]

	signals, err := in.buildSignals(ctx, userID, subjectType, text, entry.Fields["honeypot"] == "true")
	if err != nil {
		return err
	}

	score, err := in.rep.GetOrCreate(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading reputation for %s: %w", userID, err)
	}

	dec := policy.Evaluate(in.policy, signals, score.Score)
	if dec.Action == policy.ActionNone {
		return nil
	}
	in.logger.Info("ingress decision", "action", dec.Action, "subjectType", subjectType, "subjectID", subjectID, "reasons", dec.Reasons)

	// hook failures are dead-lettered by the case service; not this entry's
	// problem anymore
	if _, err := in.cases.ApplyDecision(ctx, subjectType, subjectID, nil, dec); err != nil {
		in.logger.Warn("decision applied with hook failure", "err", err, "subjectType", subjectType, "subjectID", subjectID)
	}
	return nil
}

func (in *Ingress) buildSignals(ctx context.Context, userID, surface, text string, honeypot bool) (map[string]bool, error) {
	signals := map[string]bool{
		"honeypot_trip": honeypot,
	}

	if text != "" {
		hash := helpers.HashOfString(text)
		count, err := in.counters.Increment(ctx, "dup-text", hash, countstore.WindowHour)
		if err != nil {
			return nil, fmt.Errorf("dup-text counter: %w", err)
		}
		signals["dup_text_5m"] = count > in.config.DupTextThreshold

		signals["profanity_high"] = in.hasProfanity(ctx, text)
		signals["link_not_allowlisted"] = in.hasOffListLink(ctx, text)
	}

	// reads the same bucket the gate increments on the write path
	burst, err := in.counters.GetCount(ctx, "write/"+surface, userID, countstore.WindowMinute)
	if err != nil {
		return nil, fmt.Errorf("burst counter: %w", err)
	}
	signals["post_burst_1m"] = burst > in.config.BurstThreshold

	clusterSize, err := in.linkage.LargestClusterSize(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("linkage lookup: %w", err)
	}
	signals["linked_cluster_large"] = clusterSize >= in.config.ClusterSizeThreshold

	for name, fired := range signals {
		if fired {
			ingressSignals.WithLabelValues(name).Inc()
		}
	}
	return signals, nil
}

func (in *Ingress) hasProfanity(ctx context.Context, text string) bool {
	if in.config.ProfanitySet == "" {
		return false
	}
	for _, tok := range helpers.TokenizeText(text) {
		if ok, err := in.sets.InSet(ctx, in.config.ProfanitySet, tok); err == nil && ok {
			return true
		}
	}
	return false
}

func (in *Ingress) hasOffListLink(ctx context.Context, text string) bool {
	for _, u := range helpers.DedupeStrings(helpers.ExtractTextURLs(text)) {
		domain := helpers.URLDomain(u)
		if in.config.LinkAllowlistSet != "" {
			if ok, err := in.sets.InSet(ctx, in.config.LinkAllowlistSet, domain); err == nil && ok {
				continue
			}
		}
		return true
	}
	return false
}
