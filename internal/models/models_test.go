package models

import (
	"errors"
	"testing"
)

func TestRiskScoreMappingIsTotal(t *testing.T) {
	cases := []struct {
		severity Severity
		want     float64
	}{
		{SeverityLow, 0.2},
		{SeverityMedium, 0.5},
		{SeverityHigh, 0.8},
		{SeverityCritical, 1.0},
		{"unknown", 0.5},
	}
	for _, c := range cases {
		if got := RiskScore(c.severity); got != c.want {
			t.Errorf("RiskScore(%q) = %v, want %v", c.severity, got, c.want)
		}
	}
}

func TestIsValidSeverity(t *testing.T) {
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if !IsValidSeverity(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range []Severity{"", "urgent", "LOW"} {
		if IsValidSeverity(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestClinicalInsightValidate(t *testing.T) {
	valid := ClinicalInsight{
		PatientID:  "p1",
		SourceType: SourceTrendAnalysis,
		Text:       "worth reviewing",
		Severity:   SeverityMedium,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid insight, got %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*ClinicalInsight)
		wantErr error
	}{
		{"missing patient", func(c *ClinicalInsight) { c.PatientID = "" }, ErrEmptyPatientID},
		{"missing source type", func(c *ClinicalInsight) { c.SourceType = "" }, ErrEmptyInsightSource},
		{"missing text", func(c *ClinicalInsight) { c.Text = "" }, ErrEmptyInsightText},
		{"bad severity", func(c *ClinicalInsight) { c.Severity = "enormous" }, ErrInvalidSeverity},
	}
	for _, c := range cases {
		in := valid
		c.mutate(&in)
		if err := in.Validate(); !errors.Is(err, c.wantErr) {
			t.Errorf("%s: expected %v, got %v", c.name, c.wantErr, err)
		}
	}

	// Severity is optional; an empty one passes.
	in := valid
	in.Severity = ""
	if err := in.Validate(); err != nil {
		t.Errorf("expected empty severity to be accepted, got %v", err)
	}
}
