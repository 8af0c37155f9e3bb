package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/eugenenazirov/trainconf/internal/hparams"
)

func TestObserveReport(t *testing.T) {
	valid := ValidationsTotal.WithLabelValues("test", "valid")
	invalid := ValidationsTotal.WithLabelValues("test", "invalid")
	errorsSeen := ValidationIssuesTotal.WithLabelValues(string(hparams.SeverityError))
	warningsSeen := ValidationIssuesTotal.WithLabelValues(string(hparams.SeverityWarning))

	beforeValid, beforeInvalid := testutil.ToFloat64(valid), testutil.ToFloat64(invalid)
	beforeErrors, beforeWarnings := testutil.ToFloat64(errorsSeen), testutil.ToFloat64(warningsSeen)

	ObserveReport("test", hparams.Report{Issues: []hparams.Issue{
		{Key: "my_flag", Severity: hparams.SeverityWarning},
	}})
	ObserveReport("test", hparams.Report{Issues: []hparams.Issue{
		{Key: "lr", Severity: hparams.SeverityError},
		{Key: "batch_size", Severity: hparams.SeverityError},
	}})

	if got := testutil.ToFloat64(valid) - beforeValid; got != 1 {
		t.Fatalf("expected 1 valid observation, got %v", got)
	}
	if got := testutil.ToFloat64(invalid) - beforeInvalid; got != 1 {
		t.Fatalf("expected 1 invalid observation, got %v", got)
	}
	if got := testutil.ToFloat64(errorsSeen) - beforeErrors; got != 2 {
		t.Fatalf("expected 2 error issues, got %v", got)
	}
	if got := testutil.ToFloat64(warningsSeen) - beforeWarnings; got != 1 {
		t.Fatalf("expected 1 warning issue, got %v", got)
	}
}
