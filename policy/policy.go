// Package policy implements pure, ordered rule evaluation over a bundle of
// named boolean signals plus the actor's trust score. Rule order is itself
// policy: the first rule whose predicate matches wins, and nothing after it
// is evaluated.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Enforcement actions a rule may produce.
const (
	ActionNone           = "none"
	ActionWarn           = "warn"
	ActionStripLinks     = "strip_links"
	ActionShadowHide     = "shadow_hide"
	ActionRemove         = "remove"
	ActionTombstone      = "tombstone"
	ActionMute           = "mute"
	ActionBan            = "ban"
	ActionRestrictCreate = "restrict_create"
	ActionEscalate       = "escalate"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

type PolicyRule struct {
	When     Predicate         `json:"when"`
	Action   string            `json:"action"`
	Severity string            `json:"severity,omitempty"`
	Payload  map[string]string `json:"payload,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

type Policy struct {
	ID            string       `json:"id"`
	DefaultAction string       `json:"default_action"`
	Rules         []PolicyRule `json:"rules"`
}

// Decision is the outcome of evaluating one policy against one signal bundle.
type Decision struct {
	Action   string            `json:"action"`
	Severity string            `json:"severity,omitempty"`
	Reasons  []string          `json:"reasons,omitempty"`
	Payload  map[string]string `json:"payload,omitempty"`
	PolicyID string            `json:"policy_id,omitempty"`
}

// Evaluate walks rules in order and returns the decision of the first rule
// whose predicate holds. If none match, the policy's default action applies
// (with no reasons).
func Evaluate(p *Policy, signals map[string]bool, trustScore int) Decision {
	for _, rule := range p.Rules {
		if rule.When.Eval(signals, trustScore) {
			return Decision{
				Action:   rule.Action,
				Severity: rule.Severity,
				Reasons:  []string{rule.Reason},
				Payload:  rule.Payload,
				PolicyID: p.ID,
			}
		}
	}
	action := p.DefaultAction
	if action == "" {
		action = ActionNone
	}
	return Decision{Action: action, PolicyID: p.ID}
}

// LoadPolicy parses and validates a policy document, JSON or YAML. YAML
// documents round-trip through JSON internally so predicate parsing has a
// single code path. Unknown predicate kinds are rejected here, at load time,
// never at evaluation time.
func LoadPolicy(raw []byte) (*Policy, error) {
	enc := raw
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parsing policy: %w", err)
		}
		var err error
		enc, err = json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("parsing policy: %w", err)
		}
	}
	var p Policy
	if err := json.Unmarshal(enc, &p); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("policy missing id")
	}
	for i, rule := range p.Rules {
		if rule.Action == "" {
			return nil, fmt.Errorf("policy %s rule %d: missing action", p.ID, i)
		}
		if !ValidAction(rule.Action) {
			return nil, fmt.Errorf("policy %s rule %d: unknown action %q", p.ID, i, rule.Action)
		}
	}
	if p.DefaultAction != "" && !ValidAction(p.DefaultAction) {
		return nil, fmt.Errorf("policy %s: unknown default action %q", p.ID, p.DefaultAction)
	}
	return &p, nil
}

// ValidAction reports whether the string names a known enforcement action.
func ValidAction(action string) bool {
	switch action {
	case ActionNone, ActionWarn, ActionStripLinks, ActionShadowHide, ActionRemove,
		ActionTombstone, ActionMute, ActionBan, ActionRestrictCreate, ActionEscalate:
		return true
	}
	return false
}
