package hparams

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/multierr"

	"github.com/eugenenazirov/trainconf/internal/models"
)

// Severity ranks an Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Key      string   `json:"key"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Line     int      `json:"line,omitempty"`
	Value    *Value   `json:"value,omitempty"`
}

func (i Issue) Error() string {
	if i.Key == "" {
		return i.Message
	}
	return i.Key + ": " + i.Message
}

// Report collects every issue found in a document.
type Report struct {
	Issues []Issue `json:"issues"`
}

// Valid reports whether the report holds no errors. Warnings do not count.
func (r Report) Valid() bool {
	return len(r.Errors()) == 0
}

// Errors returns the error-severity issues.
func (r Report) Errors() []Issue {
	return r.filter(SeverityError)
}

// Warnings returns the warning-severity issues.
func (r Report) Warnings() []Issue {
	return r.filter(SeverityWarning)
}

func (r Report) filter(sev Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == sev {
			out = append(out, issue)
		}
	}
	return out
}

// Err combines the error-severity issues into a single error, or nil.
func (r Report) Err() error {
	var err error
	for _, issue := range r.Errors() {
		err = multierr.Append(err, issue)
	}
	return err
}

// Options tune Validate.
type Options struct {
	// Strict turns unknown keys into errors.
	Strict bool
}

type validator struct {
	doc    *Document
	report Report
}

func (v *validator) add(sev Severity, key, format string, args ...any) {
	issue := Issue{
		Key:      key,
		Severity: sev,
		Message:  fmt.Sprintf(format, args...),
		Line:     v.doc.Line(key),
	}
	if val, ok := v.doc.Get(key); ok {
		issue.Value = &val
	}
	v.report.Issues = append(v.report.Issues, issue)
}

func (v *validator) errorf(key, format string, args ...any) {
	v.add(SeverityError, key, format, args...)
}

func (v *validator) warnf(key, format string, args ...any) {
	v.add(SeverityWarning, key, format, args...)
}

// Validate checks doc against the registry: types, ranges, allowed values,
// required keys and the rules that span several keys. It never stops at the
// first problem.
func Validate(doc *Document, opts Options) Report {
	v := &validator{doc: doc}
	reg := DefaultRegistry()

	for _, e := range doc.Entries() {
		f, ok := reg.Lookup(e.Key)
		if !ok {
			if opts.Strict {
				v.errorf(e.Key, "unknown option")
			} else {
				v.warnf(e.Key, "unknown option")
			}
			continue
		}
		v.checkField(f, e.Value)
	}

	for _, f := range reg.Fields() {
		if f.Required && !doc.Has(f.Key) {
			v.errorf(f.Key, "required option is missing")
		}
	}

	// Cross-key rules need well-typed values.
	if len(v.report.Errors()) == 0 {
		cfg, err := Decode(doc)
		if err != nil {
			v.errorf("", "%v", err)
		} else {
			v.checkRelations(cfg)
			v.checkModel(cfg)
		}
	}

	return v.report
}

func (v *validator) checkField(f Field, val Value) {
	if val.IsNull() {
		if !f.Nullable {
			v.errorf(f.Key, "must not be null")
		}
		return
	}

	if f.Kind == KindList {
		v.checkList(f, val)
		return
	}
	if err := checkKind(f, val); err != nil {
		v.errorf(f.Key, "%v", err)
		return
	}

	if val.IsNumber() {
		n, _ := val.AsFloat()
		v.checkNumber(f, n)
	}

	if s, ok := val.AsString(); ok && len(f.Enum) > 0 && !inEnum(f.Enum, s) {
		v.errorf(f.Key, "must be one of %s, got %q", strings.Join(f.Enum, ", "), s)
	}

	if f.Check != nil {
		if err := f.Check(val); err != nil {
			v.errorf(f.Key, "%v", err)
		}
	}
}

// checkKind reports a scalar value whose type the field does not accept.
// Ints are accepted where floats are expected, never the other way round.
func checkKind(f Field, val Value) error {
	if val.IsNull() {
		if !f.Nullable {
			return fmt.Errorf("must not be null")
		}
		return nil
	}
	switch f.Kind {
	case KindFloat:
		if !val.IsNumber() {
			return fmt.Errorf("expected float, got %s", val.Kind())
		}
	case KindList:
		if val.Kind() != KindList && !(f.AllowScalar && val.IsNumber()) {
			return fmt.Errorf("expected list, got %s", val.Kind())
		}
	default:
		if val.Kind() != f.Kind {
			return fmt.Errorf("expected %s, got %s", f.Kind, val.Kind())
		}
	}
	return nil
}

func (v *validator) checkNumber(f Field, n float64) bool {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		v.errorf(f.Key, "must be finite")
		return false
	}
	if f.Bounds != nil && !f.Bounds.Contains(n) {
		v.errorf(f.Key, "%s out of range %s", formatFloat(n), f.Bounds)
		return false
	}
	return true
}

func (v *validator) checkList(f Field, val Value) {
	if f.AllowScalar && val.IsNumber() {
		n, _ := val.AsFloat()
		v.checkNumber(f, n)
		return
	}
	items, ok := val.AsList()
	if !ok {
		v.errorf(f.Key, "expected list, got %s", val.Kind())
		return
	}
	if len(items) < f.MinItems || (f.MaxItems > 0 && len(items) > f.MaxItems) {
		if f.MinItems == f.MaxItems {
			v.errorf(f.Key, "expected %d items, got %d", f.MinItems, len(items))
		} else {
			v.errorf(f.Key, "expected %d to %d items, got %d", f.MinItems, f.MaxItems, len(items))
		}
		return
	}

	prev := math.Inf(-1)
	for i, item := range items {
		n, ok := item.AsFloat()
		if !ok {
			v.errorf(f.Key, "item %d: expected number, got %s", i, item.Kind())
			return
		}
		if !v.checkNumber(f, n) {
			return
		}
		if f.Ascending && n < prev {
			v.errorf(f.Key, "items must be in ascending order")
			return
		}
		prev = n
	}
}

func (v *validator) checkRelations(cfg TrainConfig) {
	if cfg.MinLR > cfg.LR {
		v.errorf("min_lr", "min_lr (%s) must not exceed lr (%s)", formatFloat(cfg.MinLR), formatFloat(cfg.LR))
	}
	if cfg.WarmupEpochs > cfg.EpochSize {
		v.errorf("warmup_epochs", "warmup_epochs (%d) exceeds epoch_size (%d)", cfg.WarmupEpochs, cfg.EpochSize)
	} else if cfg.WarmupEpochs+cfg.DecayEpochs > cfg.EpochSize {
		v.warnf("decay_epochs", "warmup_epochs + decay_epochs (%d) exceeds epoch_size (%d); the schedule is cut short",
			cfg.WarmupEpochs+cfg.DecayEpochs, cfg.EpochSize)
	}
	if cfg.UseNesterov {
		if opt := strings.ToLower(cfg.Opt); opt != "sgd" && opt != "momentum" {
			v.warnf("use_nesterov", "has no effect with optimizer %q", cfg.Opt)
		}
	}
	if (strings.EqualFold(cfg.AmpLevel, "O2") || strings.EqualFold(cfg.AmpLevel, "O3")) && cfg.LossScale <= 1 {
		v.warnf("loss_scale", "amp_level %s usually needs loss_scale > 1", cfg.AmpLevel)
	}
	if cfg.Pretrained && cfg.CkptPath != "" {
		v.warnf("ckpt_path", "both pretrained and ckpt_path are set; ckpt_path weights are loaded last")
	}
	if strings.EqualFold(cfg.Scheduler, "step_decay") && cfg.DecayEpochs == 0 {
		v.errorf("decay_epochs", "step_decay needs decay_epochs > 0")
	}
}

func (v *validator) checkModel(cfg TrainConfig) {
	arch, err := models.Lookup(cfg.Model)
	if err != nil {
		v.warnf("model", "%q is not in the model catalogue", cfg.Model)
		return
	}
	if cfg.Pretrained && !arch.HasPretrained() {
		v.warnf("pretrained", "no pretrained weights are published for %s", arch.Name)
	}
	if cfg.ImageResize != arch.ImageSize {
		v.warnf("image_resize", "%s is designed for %dx%d input, got %d", arch.Name, arch.ImageSize, arch.ImageSize, cfg.ImageResize)
	}
	if cfg.Pretrained && cfg.NumClasses != arch.NumClasses {
		v.warnf("num_classes", "differs from pretrained head (%d); the classifier is re-initialized", arch.NumClasses)
	}
	if cfg.InChannels != arch.InChannels && cfg.Pretrained {
		v.warnf("in_channels", "differs from pretrained stem (%d)", arch.InChannels)
	}
}

func inEnum(enum []string, s string) bool {
	for _, allowed := range enum {
		if strings.EqualFold(allowed, s) {
			return true
		}
	}
	return false
}

// String renders the bounds in interval notation.
func (b Bounds) String() string {
	lo, hi := "[", "]"
	if b.MinExclusive {
		lo = "("
	}
	if b.MaxExclusive {
		hi = ")"
	}
	upper := formatFloat(b.Max)
	if b.Max == math.MaxFloat64 {
		upper, hi = "inf", ")"
	}
	return lo + formatFloat(b.Min) + ", " + upper + hi
}
