package admin

import (
	"encoding/json"
	"fmt"
	"time"
)

// GuardContext is the resolved state a guard evaluates against. Resolution
// happens once per (macro, target); guards themselves never touch storage.
type GuardContext struct {
	SubjectType      string
	SubjectID        string
	OwnerID          string
	Band             string
	CaseStatus       string
	IsPublic         bool
	Shadowed         bool
	SubjectCreatedAt time.Time
	Now              time.Time
}

// Guard is a closed union of per-target conditions on macro steps. Unknown
// guard names are rejected when the spec is parsed, never at run time.
type Guard struct {
	kind     string
	values   []string
	boolArg  bool
	hoursArg float64
	child    *Guard
}

const (
	guardUserBandIn      = "user.band_in"
	guardCaseStatusIn    = "case.status_in"
	guardSubjectPublic   = "subject.is_public"
	guardSubjectShadowed = "subject.shadowed"
	guardCreatedWithin   = "subject.created_within_hours"
	guardSubjectTypeIn   = "subject.type_in"
	guardNot             = "not"
)

func GuardUserBandIn(bands ...string) Guard {
	return Guard{kind: guardUserBandIn, values: bands}
}

func GuardCaseStatusIn(statuses ...string) Guard {
	return Guard{kind: guardCaseStatusIn, values: statuses}
}

func GuardSubjectPublic(want bool) Guard {
	return Guard{kind: guardSubjectPublic, boolArg: want}
}

func GuardSubjectShadowed(want bool) Guard {
	return Guard{kind: guardSubjectShadowed, boolArg: want}
}

func GuardCreatedWithinHours(hours float64) Guard {
	return Guard{kind: guardCreatedWithin, hoursArg: hours}
}

func GuardSubjectTypeIn(types ...string) Guard {
	return Guard{kind: guardSubjectTypeIn, values: types}
}

func GuardNot(g Guard) Guard {
	return Guard{kind: guardNot, child: &g}
}

// Eval is pure: same context, same answer. A guard never mutates anything.
func (g Guard) Eval(gc GuardContext) bool {
	switch g.kind {
	case guardUserBandIn:
		return containsString(g.values, gc.Band)
	case guardCaseStatusIn:
		return containsString(g.values, gc.CaseStatus)
	case guardSubjectPublic:
		return gc.IsPublic == g.boolArg
	case guardSubjectShadowed:
		return gc.Shadowed == g.boolArg
	case guardCreatedWithin:
		if gc.SubjectCreatedAt.IsZero() {
			return false
		}
		return gc.Now.Sub(gc.SubjectCreatedAt) <= time.Duration(g.hoursArg*float64(time.Hour))
	case guardSubjectTypeIn:
		return containsString(g.values, gc.SubjectType)
	case guardNot:
		return !g.child.Eval(gc)
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

type guardJSON struct {
	UserBandIn      []string `json:"user.band_in,omitempty"`
	CaseStatusIn    []string `json:"case.status_in,omitempty"`
	SubjectPublic   *bool    `json:"subject.is_public,omitempty"`
	SubjectShadowed *bool    `json:"subject.shadowed,omitempty"`
	CreatedWithin   *float64 `json:"subject.created_within_hours,omitempty"`
	SubjectTypeIn   []string `json:"subject.type_in,omitempty"`
	Not             *Guard   `json:"not,omitempty"`
}

func (g Guard) MarshalJSON() ([]byte, error) {
	var out guardJSON
	switch g.kind {
	case guardUserBandIn:
		out.UserBandIn = g.values
	case guardCaseStatusIn:
		out.CaseStatusIn = g.values
	case guardSubjectPublic:
		v := g.boolArg
		out.SubjectPublic = &v
	case guardSubjectShadowed:
		v := g.boolArg
		out.SubjectShadowed = &v
	case guardCreatedWithin:
		v := g.hoursArg
		out.CreatedWithin = &v
	case guardSubjectTypeIn:
		out.SubjectTypeIn = g.values
	case guardNot:
		out.Not = g.child
	default:
		return nil, fmt.Errorf("cannot marshal empty guard")
	}
	return json.Marshal(out)
}

func (g *Guard) UnmarshalJSON(raw []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return err
	}
	if len(keys) != 1 {
		return fmt.Errorf("guard must have exactly one condition, got %d", len(keys))
	}
	var in guardJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}
	switch {
	case in.UserBandIn != nil:
		*g = GuardUserBandIn(in.UserBandIn...)
	case in.CaseStatusIn != nil:
		*g = GuardCaseStatusIn(in.CaseStatusIn...)
	case in.SubjectPublic != nil:
		*g = GuardSubjectPublic(*in.SubjectPublic)
	case in.SubjectShadowed != nil:
		*g = GuardSubjectShadowed(*in.SubjectShadowed)
	case in.CreatedWithin != nil:
		*g = GuardCreatedWithinHours(*in.CreatedWithin)
	case in.SubjectTypeIn != nil:
		*g = GuardSubjectTypeIn(in.SubjectTypeIn...)
	case in.Not != nil:
		*g = GuardNot(*in.Not)
	default:
		for k := range keys {
			return fmt.Errorf("unknown guard %q", k)
		}
	}
	return nil
}

// evalGuards is AND semantics: every guard must hold for the step to apply.
func evalGuards(guards []Guard, gc GuardContext) bool {
	for _, g := range guards {
		if !g.Eval(gc) {
			return false
		}
	}
	return true
}
