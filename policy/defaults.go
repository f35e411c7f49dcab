package policy

// DefaultPolicy is the shipped baseline. Deployments load their own policy
// JSON; this one exists so the daemon enforces something sane out of the box.
func DefaultPolicy() *Policy {
	return &Policy{
		ID:            "baseline-v1",
		DefaultAction: ActionNone,
		Rules: []PolicyRule{
			{
				When:     Signal("honeypot_trip"),
				Action:   ActionEscalate,
				Severity: SeverityHigh,
				Reason:   "honeypot decoy tripped",
			},
			{
				When:     AllOf(Signal("dup_text_5m"), Signal("post_burst_1m")),
				Action:   ActionShadowHide,
				Severity: SeverityMedium,
				Reason:   "burst of repeated text",
			},
			{
				When:     AllOf(Signal("dup_text_5m"), TrustBelow(20)),
				Action:   ActionShadowHide,
				Severity: SeverityMedium,
				Reason:   "repeated text from low-trust account",
			},
			{
				When:     AllOf(Signal("profanity_high"), TrustBelow(20)),
				Action:   ActionRemove,
				Severity: SeverityHigh,
				Reason:   "profanity from low-trust account",
			},
			{
				When:     AllOf(Signal("link_not_allowlisted"), TrustBelow(20)),
				Action:   ActionStripLinks,
				Severity: SeverityLow,
				Reason:   "off-allowlist link from low-trust account",
			},
			{
				When:     AllOf(Signal("linked_cluster_large"), Signal("dup_text_5m")),
				Action:   ActionEscalate,
				Severity: SeverityHigh,
				Reason:   "coordinated repeated text",
			},
		},
	}
}
