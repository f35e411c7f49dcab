package admin

import (
	"fmt"
	"regexp"
	"strings"
)

var tmplKeyPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_.-]+)\}\}`)

// Interpolate substitutes every {{key}} placeholder from vars. An unresolved
// key is an error; silently passing a literal "{{ttl}}" into an enforcement
// payload would be worse than failing the step.
func Interpolate(s string, vars map[string]string) (string, error) {
	var missing []string
	out := tmplKeyPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := tmplKeyPattern.FindStringSubmatch(m)[1]
		val, ok := vars[key]
		if !ok {
			missing = append(missing, key)
			return m
		}
		return val
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved template keys: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// InterpolatePayload applies Interpolate to every value of a payload map.
func InterpolatePayload(payload, vars map[string]string) (map[string]string, error) {
	if payload == nil {
		return nil, nil
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		iv, err := Interpolate(v, vars)
		if err != nil {
			return nil, fmt.Errorf("payload key %q: %w", k, err)
		}
		out[k] = iv
	}
	return out, nil
}
