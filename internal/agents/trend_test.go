package agents

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/store"
)

func proSeries(patientID, questionID string, values ...float64) []models.PROResponse {
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	out := make([]models.PROResponse, 0, len(values))
	for i, v := range values {
		out = append(out, models.PROResponse{
			ID:         fmt.Sprintf("%s-%d", questionID, i),
			PatientID:  patientID,
			SessionID:  "s1",
			QuestionID: questionID,
			Value:      strconv.FormatFloat(v, 'f', -1, 64),
			ValueType:  models.ResponseTypeNumeric,
			Timestamp:  base.Add(time.Duration(i) * 24 * time.Hour),
		})
	}
	return out
}

func TestAnalyze_EmptyDataIsTerminal(t *testing.T) {
	agent := NewTrendMonitoringAgent(store.NewInMemoryStore())
	patient := &models.Patient{ID: "p1", Condition: "diabetes"}

	analysis, err := agent.Analyze(context.Background(), patient, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.RiskScore != nil {
		t.Errorf("expected nil risk score, got %v", *analysis.RiskScore)
	}
	if analysis.DataPoints != 0 {
		t.Errorf("expected 0 data points, got %d", analysis.DataPoints)
	}
	if len(analysis.Recommendations) != 1 || analysis.Recommendations[0] != insufficientDataNote {
		t.Errorf("expected the insufficient-data recommendation, got %v", analysis.Recommendations)
	}
	if len(analysis.Alerts) != 0 {
		t.Errorf("expected no alerts, got %d", len(analysis.Alerts))
	}
}

func TestAnalyze_DiabetesBreachIsMediumOverallRisk(t *testing.T) {
	st := store.NewInMemoryStore()
	agent := NewTrendMonitoringAgent(st)
	patient := &models.Patient{ID: "p1", Condition: "diabetes"}
	if err := st.CreatePatient(*patient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := proSeries("p1", "blood_sugar", 190, 195, 200, 205, 210)

	analysis, err := agent.Analyze(context.Background(), patient, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Risk == nil {
		t.Fatal("expected a risk assessment")
	}
	if got := analysis.Risk.RiskFactors["blood_sugar"]; got != models.SeverityHigh {
		t.Errorf("expected high blood_sugar risk factor, got %q", got)
	}
	if analysis.Risk.OverallRisk != models.SeverityMedium {
		t.Errorf("expected medium overall risk, got %q", analysis.Risk.OverallRisk)
	}
	if analysis.RiskScore == nil || *analysis.RiskScore != 0.5 {
		t.Errorf("expected risk score 0.5, got %v", analysis.RiskScore)
	}
	// Medium overall risk does not raise a risk threshold alert.
	for _, alert := range analysis.Alerts {
		if alert.Type == models.AlertRiskThresholdExceeded {
			t.Errorf("unexpected risk threshold alert: %+v", alert)
		}
	}
}

func TestAnalyze_DiastolicBreachIsHighRiskFactor(t *testing.T) {
	st := store.NewInMemoryStore()
	agent := NewTrendMonitoringAgent(st)
	patient := &models.Patient{ID: "p1", Condition: "hypertension"}
	if err := st.CreatePatient(*patient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := proSeries("p1", "blood_pressure_diastolic", 95, 96, 98)

	analysis, err := agent.Analyze(context.Background(), patient, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Risk == nil {
		t.Fatal("expected a risk assessment")
	}
	if got := analysis.Risk.RiskFactors["blood_pressure_diastolic"]; got != models.SeverityHigh {
		t.Errorf("expected high diastolic risk factor, got %q", got)
	}
}

func TestAnalyze_HighRiskRaisesAndPersistsAlert(t *testing.T) {
	st := store.NewInMemoryStore()
	agent := NewTrendMonitoringAgent(st)
	patient := &models.Patient{ID: "p1", Condition: "hypertension"}
	if err := st.CreatePatient(*patient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Both tracked metrics breach: blood pressure mean above 140 and stress
	// mean above 7 score 2 each, landing on high overall risk.
	data := append(
		proSeries("p1", "blood_pressure", 150, 152, 155, 158),
		proSeries("p1", "stress", 8, 8, 9, 9)...,
	)

	analysis, err := agent.Analyze(context.Background(), patient, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Risk.OverallRisk != models.SeverityHigh {
		t.Fatalf("expected high overall risk, got %q", analysis.Risk.OverallRisk)
	}

	var found bool
	for _, alert := range analysis.Alerts {
		if alert.Type == models.AlertRiskThresholdExceeded {
			found = true
			if alert.Severity != models.SeverityHigh {
				t.Errorf("expected high alert severity, got %q", alert.Severity)
			}
			if alert.Description != "Patient has high overall risk level" {
				t.Errorf("unexpected alert description: %q", alert.Description)
			}
		}
	}
	if !found {
		t.Fatal("expected a risk threshold alert")
	}

	persisted, err := st.ListTrendAlertsByPatient("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(persisted) != len(analysis.Alerts) {
		t.Errorf("expected %d persisted alerts, got %d", len(analysis.Alerts), len(persisted))
	}
}

func TestAnalyze_WorseningTrendWithoutBreach(t *testing.T) {
	st := store.NewInMemoryStore()
	agent := NewTrendMonitoringAgent(st)
	patient := &models.Patient{ID: "p1", Condition: "diabetes"}
	if err := st.CreatePatient(*patient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Rising but mean stays inside 70-180.
	data := proSeries("p1", "blood_sugar", 120, 130, 140, 150, 160)

	analysis, err := agent.Analyze(context.Background(), patient, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := analysis.Risk.RiskFactors["blood_sugar"]; got != models.SeverityMedium {
		t.Errorf("expected medium risk factor for worsening trend, got %q", got)
	}
	if analysis.Risk.OverallRisk != models.SeverityMedium {
		t.Errorf("expected medium overall risk, got %q", analysis.Risk.OverallRisk)
	}

	if len(analysis.Trends) != 1 {
		t.Fatalf("expected 1 trend, got %d", len(analysis.Trends))
	}
	trend := analysis.Trends[0]
	if trend.Direction != models.TrendIncreasing {
		t.Errorf("expected increasing trend, got %q", trend.Direction)
	}
	if trend.Significance.Recommendation != "Consider medication adjustment" {
		t.Errorf("unexpected recommendation: %q", trend.Significance.Recommendation)
	}
}

func TestAnalyze_DepressionLowerIsWorse(t *testing.T) {
	st := store.NewInMemoryStore()
	agent := NewTrendMonitoringAgent(st)
	patient := &models.Patient{ID: "p1", Condition: "depression"}
	if err := st.CreatePatient(*patient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Mood declining but mean still above the low threshold of 4.
	data := proSeries("p1", "mood", 8, 7, 6, 5)

	analysis, err := agent.Analyze(context.Background(), patient, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := analysis.Risk.RiskFactors["mood"]; got != models.SeverityMedium {
		t.Errorf("expected medium mood risk factor, got %q", got)
	}
	if analysis.Trends[0].Direction != models.TrendDecreasing {
		t.Errorf("expected decreasing trend, got %q", analysis.Trends[0].Direction)
	}
}

func TestSummarizeSeries_Statistics(t *testing.T) {
	obs := []observation{{Value: 100}, {Value: 110}, {Value: 120}, {Value: 130}}
	summary := summarizeSeries("blood_sugar", obs, questionThreshold{High: limit(180), Low: limit(70)})

	if summary.Mean != 115 {
		t.Errorf("expected mean 115, got %v", summary.Mean)
	}
	if summary.Min != 100 || summary.Max != 130 {
		t.Errorf("expected min/max 100/130, got %v/%v", summary.Min, summary.Max)
	}
	if math.Abs(summary.Slope-10) > 1e-9 {
		t.Errorf("expected slope 10, got %v", summary.Slope)
	}
	if math.Abs(summary.RateOfChange-30) > 1e-9 {
		t.Errorf("expected rate of change 30, got %v", summary.RateOfChange)
	}
	if summary.DataPoints != 4 {
		t.Errorf("expected 4 data points, got %d", summary.DataPoints)
	}
}

func TestSummarizeSeries_StableBand(t *testing.T) {
	obs := []observation{{Value: 100}, {Value: 100.05}, {Value: 100.1}}
	summary := summarizeSeries("blood_sugar", obs, questionThreshold{High: limit(180)})
	if summary.Direction != models.TrendStable {
		t.Errorf("expected stable trend inside the slope band, got %q", summary.Direction)
	}
	if summary.Significance.Significance != models.SeverityLow {
		t.Errorf("expected low significance, got %q", summary.Significance.Significance)
	}
	if summary.Significance.Recommendation != "Continue current management" {
		t.Errorf("unexpected recommendation: %q", summary.Significance.Recommendation)
	}
}

func TestDetectAnomalies(t *testing.T) {
	// One far outlier in an otherwise tight series.
	obs := []observation{
		{Value: 100}, {Value: 101}, {Value: 99}, {Value: 100},
		{Value: 100}, {Value: 101}, {Value: 99}, {Value: 100},
		{Value: 140},
	}
	anomalies := detectAnomalies("blood_sugar", obs)
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(anomalies))
	}
	if anomalies[0].Value != 140 {
		t.Errorf("expected the outlier flagged, got %v", anomalies[0].Value)
	}
	if anomalies[0].Severity == "" {
		t.Error("expected a severity")
	}

	flat := []observation{{Value: 5}, {Value: 5}, {Value: 5}}
	if got := detectAnomalies("mood", flat); len(got) != 0 {
		t.Errorf("expected no anomalies in flat series, got %d", len(got))
	}
}

func TestBuildRecommendations(t *testing.T) {
	critical := buildRecommendations("diabetes", models.RiskAssessment{OverallRisk: models.SeverityCritical})
	if critical[0] != "Immediate clinical attention recommended" {
		t.Errorf("expected critical tier first, got %v", critical)
	}

	high := buildRecommendations("diabetes", models.RiskAssessment{OverallRisk: models.SeverityHigh})
	seen := make(map[string]bool)
	for _, r := range high {
		if seen[r] {
			t.Errorf("duplicate recommendation %q", r)
		}
		seen[r] = true
	}
	if !seen["Monitor blood sugar levels more closely"] {
		t.Errorf("expected condition recommendations, got %v", high)
	}

	unknown := buildRecommendations("asthma", models.RiskAssessment{OverallRisk: models.SeverityLow})
	if len(unknown) != 1 || unknown[0] != "Continue monitoring asthma symptoms" {
		t.Errorf("expected generic condition recommendation, got %v", unknown)
	}
}

func TestGroupObservations_SkipsNonNumeric(t *testing.T) {
	data := []models.PROResponse{
		{QuestionID: "blood_sugar", Value: "180", Timestamp: time.Now()},
		{QuestionID: "symptoms", Value: "Fatigue", Timestamp: time.Now()},
	}
	series := groupObservations(data)
	if len(series) != 1 {
		t.Fatalf("expected 1 numeric series, got %d", len(series))
	}
	if _, ok := series["blood_sugar"]; !ok {
		t.Error("expected blood_sugar series")
	}
}
