package policy

import (
	"encoding/json"
	"fmt"
)

type predicateKind int

const (
	predSignal predicateKind = iota
	predTrustBelow
	predAnyOf
	predAllOf
	predNot
)

// Predicate is a closed union over the boolean-predicate DSL:
//
//	{"signal": "dup_text_5m"}
//	{"trust_below": 20}
//	{"any_of": [...]}, {"all_of": [...]}
//	{"not": {...}}
//
// Construction goes through UnmarshalJSON (or the helper constructors), which
// reject unknown predicate shapes.
type Predicate struct {
	kind       predicateKind
	signal     string
	trustBelow int
	children   []Predicate
}

func Signal(name string) Predicate {
	return Predicate{kind: predSignal, signal: name}
}

func TrustBelow(n int) Predicate {
	return Predicate{kind: predTrustBelow, trustBelow: n}
}

func AnyOf(preds ...Predicate) Predicate {
	return Predicate{kind: predAnyOf, children: preds}
}

func AllOf(preds ...Predicate) Predicate {
	return Predicate{kind: predAllOf, children: preds}
}

func Not(pred Predicate) Predicate {
	return Predicate{kind: predNot, children: []Predicate{pred}}
}

// Eval never mutates state. Absent signals are simply false.
func (p Predicate) Eval(signals map[string]bool, trustScore int) bool {
	switch p.kind {
	case predSignal:
		return signals[p.signal]
	case predTrustBelow:
		return trustScore < p.trustBelow
	case predAnyOf:
		for _, c := range p.children {
			if c.Eval(signals, trustScore) {
				return true
			}
		}
		return false
	case predAllOf:
		for _, c := range p.children {
			if !c.Eval(signals, trustScore) {
				return false
			}
		}
		return true
	case predNot:
		return !p.children[0].Eval(signals, trustScore)
	}
	return false
}

type predicateJSON struct {
	Signal     *string     `json:"signal,omitempty"`
	TrustBelow *int        `json:"trust_below,omitempty"`
	AnyOf      []Predicate `json:"any_of,omitempty"`
	AllOf      []Predicate `json:"all_of,omitempty"`
	Not        *Predicate  `json:"not,omitempty"`
}

func (p *Predicate) UnmarshalJSON(raw []byte) error {
	// reject unknown keys so a typo'd predicate fails at load time
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return err
	}
	for k := range keys {
		switch k {
		case "signal", "trust_below", "any_of", "all_of", "not":
		default:
			return fmt.Errorf("unknown predicate kind: %q", k)
		}
	}
	if len(keys) != 1 {
		return fmt.Errorf("predicate must have exactly one kind, got %d", len(keys))
	}
	var kind string
	for k := range keys {
		kind = k
	}

	var pj predicateJSON
	if err := json.Unmarshal(raw, &pj); err != nil {
		return err
	}
	switch {
	case pj.Signal != nil:
		if *pj.Signal == "" {
			return fmt.Errorf("empty signal name")
		}
		*p = Signal(*pj.Signal)
	case pj.TrustBelow != nil:
		*p = TrustBelow(*pj.TrustBelow)
	case pj.AnyOf != nil:
		if len(pj.AnyOf) == 0 {
			return fmt.Errorf("any_of requires at least one predicate")
		}
		*p = AnyOf(pj.AnyOf...)
	case pj.AllOf != nil:
		if len(pj.AllOf) == 0 {
			return fmt.Errorf("all_of requires at least one predicate")
		}
		*p = AllOf(pj.AllOf...)
	case pj.Not != nil:
		*p = Not(*pj.Not)
	default:
		// the kind key was present but its value was null
		return fmt.Errorf("predicate %q requires a value", kind)
	}
	return nil
}

func (p Predicate) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case predSignal:
		return json.Marshal(predicateJSON{Signal: &p.signal})
	case predTrustBelow:
		return json.Marshal(predicateJSON{TrustBelow: &p.trustBelow})
	case predAnyOf:
		return json.Marshal(predicateJSON{AnyOf: p.children})
	case predAllOf:
		return json.Marshal(predicateJSON{AllOf: p.children})
	case predNot:
		return json.Marshal(predicateJSON{Not: &p.children[0]})
	}
	return nil, fmt.Errorf("invalid predicate")
}
