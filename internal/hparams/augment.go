package hparams

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidAugmentPolicy is returned for malformed auto_augment strings.
var ErrInvalidAugmentPolicy = errors.New("invalid auto augment policy")

// AugmentPolicy is a parsed auto_augment string such as "randaug-m9-mstd0.5-inc1".
type AugmentPolicy struct {
	Name         string
	Magnitude    int
	MagnitudeStd float64
	MagnitudeMax int
	NumOps       int
	Increasing   bool
	Width        int
	Depth        int
	Alpha        float64
}

var augmentPolicies = map[string]bool{
	"randaug":        true,
	"autoaug":        true,
	"autoaugr":       true,
	"3a":             true,
	"trivialaugwide": false,
	"augmix":         true,
}

// option prefixes, longest first so "mstd" wins over "m".
var augmentOptions = []string{"mstd", "mmax", "inc", "m", "n", "w", "d", "a"}

// ParseAugmentPolicy parses an auto_augment policy string.
func ParseAugmentPolicy(s string) (AugmentPolicy, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	name := parts[0]
	acceptsOptions, ok := augmentPolicies[name]
	if !ok {
		return AugmentPolicy{}, fmt.Errorf("%w: unknown policy %q", ErrInvalidAugmentPolicy, name)
	}
	if !acceptsOptions && len(parts) > 1 {
		return AugmentPolicy{}, fmt.Errorf("%w: %s takes no options", ErrInvalidAugmentPolicy, name)
	}

	policy := AugmentPolicy{Name: name, Magnitude: 10, MagnitudeMax: 10, NumOps: 2, Width: 3, Depth: -1, Alpha: 1}
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts[1:] {
		opt, raw := splitAugmentOption(part)
		if opt == "" || raw == "" {
			return AugmentPolicy{}, fmt.Errorf("%w: malformed option %q", ErrInvalidAugmentPolicy, part)
		}
		if _, dup := seen[opt]; dup {
			return AugmentPolicy{}, fmt.Errorf("%w: option %q repeated", ErrInvalidAugmentPolicy, opt)
		}
		seen[opt] = struct{}{}

		if err := policy.apply(opt, raw); err != nil {
			return AugmentPolicy{}, fmt.Errorf("%w: option %q: %v", ErrInvalidAugmentPolicy, part, err)
		}
	}

	if policy.Magnitude > policy.MagnitudeMax {
		return AugmentPolicy{}, fmt.Errorf("%w: magnitude %d exceeds max %d", ErrInvalidAugmentPolicy, policy.Magnitude, policy.MagnitudeMax)
	}
	return policy, nil
}

func splitAugmentOption(part string) (string, string) {
	for _, opt := range augmentOptions {
		if strings.HasPrefix(part, opt) {
			return opt, part[len(opt):]
		}
	}
	return "", ""
}

func (p *AugmentPolicy) apply(opt, raw string) error {
	if opt == "mstd" || opt == "a" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		if f < 0 {
			return fmt.Errorf("must be non-negative")
		}
		if opt == "mstd" {
			p.MagnitudeStd = f
		} else {
			p.Alpha = f
		}
		return nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return err
	}
	switch opt {
	case "m":
		if n < 0 {
			return fmt.Errorf("must be non-negative")
		}
		p.Magnitude = n
	case "mmax":
		if n <= 0 {
			return fmt.Errorf("must be positive")
		}
		p.MagnitudeMax = n
	case "inc":
		if n != 0 && n != 1 {
			return fmt.Errorf("must be 0 or 1")
		}
		p.Increasing = n == 1
	case "n":
		if n <= 0 {
			return fmt.Errorf("must be positive")
		}
		p.NumOps = n
	case "w":
		if n <= 0 {
			return fmt.Errorf("must be positive")
		}
		p.Width = n
	case "d":
		p.Depth = n
	}
	return nil
}

func checkAugmentPolicy(v Value) error {
	s, ok := v.AsString()
	if !ok || s == "" {
		return nil
	}
	_, err := ParseAugmentPolicy(s)
	return err
}
