package hparams

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseOverride splits "key=value" and resolves value with YAML scalar rules:
// "0.1" is a float, "true" a bool, "[0.08, 1.0]" a list, anything else a string.
// An empty value is the empty string.
func ParseOverride(raw string) (string, Value, error) {
	key, rawValue, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", Value{}, fmt.Errorf("%w: %q", ErrInvalidOverride, raw)
	}

	rawValue = strings.TrimSpace(rawValue)
	if rawValue == "" {
		return key, String(""), nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(rawValue), &node); err != nil {
		return "", Value{}, fmt.Errorf("%w: %s: %v", ErrInvalidOverride, key, err)
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return key, String(rawValue), nil
	}

	value, err := valueFromNode(node.Content[0], true)
	if err != nil {
		return "", Value{}, fmt.Errorf("%w: %s: %v", ErrInvalidOverride, key, err)
	}
	return key, value, nil
}

// ApplyOverrides returns a copy of doc with each "key=value" override applied
// in order. doc is left untouched.
func ApplyOverrides(doc *Document, overrides []string) (*Document, error) {
	out := doc.Clone()
	for _, raw := range overrides {
		key, value, err := ParseOverride(raw)
		if err != nil {
			return nil, err
		}
		out.Set(key, value)
	}
	return out, nil
}
