package hparams

import (
	"errors"
	"testing"
)

func TestParseOverride(t *testing.T) {
	testCases := []struct {
		raw   string
		key   string
		value Value
	}{
		{raw: "lr=0.1", key: "lr", value: Float(0.1)},
		{raw: "batch_size=64", key: "batch_size", value: Int(64)},
		{raw: "distribute=true", key: "distribute", value: Bool(true)},
		{raw: "opt=adamw", key: "opt", value: String("adamw")},
		{raw: "auto_augment=null", key: "auto_augment", value: Null()},
		{raw: "scale=[0.08, 1.0]", key: "scale", value: Floats(0.08, 1)},
		{raw: " ckpt_path = ", key: "ckpt_path", value: String("")},
		{raw: "data_dir=/data/a=b", key: "data_dir", value: String("/data/a=b")},
	}

	for _, tc := range testCases {
		key, value, err := ParseOverride(tc.raw)
		if err != nil {
			t.Fatalf("ParseOverride(%q) returned error: %v", tc.raw, err)
		}
		if key != tc.key {
			t.Fatalf("ParseOverride(%q) key = %q, want %q", tc.raw, key, tc.key)
		}
		if value.Kind() != tc.value.Kind() || !value.Equal(tc.value) {
			t.Fatalf("ParseOverride(%q) value = %v (%s), want %v (%s)", tc.raw, value, value.Kind(), tc.value, tc.value.Kind())
		}
	}
}

func TestParseOverrideErrors(t *testing.T) {
	for _, raw := range []string{"lr", "=0.1", "scale=[[1]]", "opt={a: b}"} {
		if _, _, err := ParseOverride(raw); !errors.Is(err, ErrInvalidOverride) {
			t.Fatalf("ParseOverride(%q) expected ErrInvalidOverride, got %v", raw, err)
		}
	}
}

func TestApplyOverridesLeavesInputUntouched(t *testing.T) {
	doc := mustParse(t, "model: visformer_tiny\nlr: 0.1\n")

	updated, err := ApplyOverrides(doc, []string{"lr=0.2", "seed=3", "lr=0.3"})
	if err != nil {
		t.Fatalf("ApplyOverrides returned error: %v", err)
	}

	if v, _ := updated.Get("lr"); !v.Equal(Float(0.3)) {
		t.Fatalf("expected last override to win, got %v", v)
	}
	if got := updated.Keys(); len(got) != 3 || got[2] != "seed" {
		t.Fatalf("expected new key appended, got %v", got)
	}
	if v, _ := doc.Get("lr"); !v.Equal(Float(0.1)) {
		t.Fatalf("expected original document untouched, got %v", v)
	}

	if _, err := ApplyOverrides(doc, []string{"lr=0.2", "broken"}); !errors.Is(err, ErrInvalidOverride) {
		t.Fatalf("expected ErrInvalidOverride, got %v", err)
	}
}
