package agents

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/store"
	"github.com/CareLoop/CareLoop/internal/util"
)

// TrendAgentName identifies the trend monitoring agent in responses.
const TrendAgentName = "trend_monitoring"

const (
	// stableSlopeBand is the |slope| below which a series counts as stable.
	stableSlopeBand = 0.1
	// anomalyZThreshold flags observations this many standard deviations out.
	anomalyZThreshold = 2.0
	// anomalySevereZThreshold upgrades an anomaly to high severity.
	anomalySevereZThreshold = 3.0
)

// insufficientDataNote is the single recommendation of an empty analysis.
const insufficientDataNote = "Insufficient data for trend analysis"

// observation is one numeric PRO data point in timestamp order.
type observation struct {
	Value     float64
	Timestamp time.Time
}

// TrendMonitoringAgent analyzes PRO time series for trends, anomalies, and
// condition-specific risk, raising alerts for patterns that need clinical
// attention.
type TrendMonitoringAgent struct {
	store store.Store
}

// NewTrendMonitoringAgent creates a trend agent backed by the given store.
func NewTrendMonitoringAgent(s store.Store) *TrendMonitoringAgent {
	return &TrendMonitoringAgent{store: s}
}

// Analyze runs a full trend analysis over the patient's PRO data. Raised
// alerts are persisted before the analysis is returned. An empty series
// yields a terminal analysis with a nil risk score.
func (a *TrendMonitoringAgent) Analyze(ctx context.Context, patient *models.Patient, proData []models.PROResponse) (*models.TrendAnalysis, error) {
	if len(proData) == 0 {
		return &models.TrendAnalysis{
			PatientID:       patient.ID,
			AnalyzedAt:      time.Now(),
			Trends:          []models.TrendSummary{},
			Alerts:          []models.TrendAlert{},
			Recommendations: []string{insufficientDataNote},
			RiskScore:       nil,
			DataPoints:      0,
		}, nil
	}

	condition := strings.ToLower(strings.TrimSpace(patient.Condition))
	thresholds := thresholdsForCondition(condition)
	series := groupObservations(proData)

	var trends []models.TrendSummary
	var anomalies []models.Anomaly
	for _, questionID := range sortedKeys(series) {
		obs := series[questionID]
		summary := summarizeSeries(questionID, obs, thresholds[questionID])
		trends = append(trends, summary)
		anomalies = append(anomalies, detectAnomalies(questionID, obs)...)
	}

	risk := assessRisk(condition, trends, thresholds)
	alerts := buildAlerts(patient.ID, trends, anomalies, risk)
	recommendations := buildRecommendations(condition, risk)
	score := models.RiskScore(risk.OverallRisk)

	for _, alert := range alerts {
		if err := a.store.AddTrendAlert(alert); err != nil {
			slog.Error("TrendMonitoringAgent failed to persist alert", "patientID", patient.ID, "alertType", alert.Type, "error", err)
			return nil, fmt.Errorf("failed to persist trend alert: %w", err)
		}
	}

	slog.Debug("TrendMonitoringAgent Analyze completed",
		"patientID", patient.ID,
		"condition", condition,
		"dataPoints", len(proData),
		"trends", len(trends),
		"anomalies", len(anomalies),
		"alerts", len(alerts),
		"overallRisk", risk.OverallRisk)

	return &models.TrendAnalysis{
		PatientID:       patient.ID,
		AnalyzedAt:      time.Now(),
		Trends:          trends,
		Anomalies:       anomalies,
		Risk:            &risk,
		Alerts:          alerts,
		Recommendations: recommendations,
		RiskScore:       &score,
		DataPoints:      len(proData),
	}, nil
}

// groupObservations buckets numeric PRO values by question id in timestamp
// order. Non-numeric values are skipped; they carry no trend signal.
func groupObservations(proData []models.PROResponse) map[string][]observation {
	series := make(map[string][]observation)
	for _, r := range proData {
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
		if err != nil {
			continue
		}
		series[r.QuestionID] = append(series[r.QuestionID], observation{Value: v, Timestamp: r.Timestamp})
	}
	for _, obs := range series {
		sort.Slice(obs, func(i, j int) bool { return obs[i].Timestamp.Before(obs[j].Timestamp) })
	}
	return series
}

func sortedKeys(m map[string][]observation) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// summarizeSeries computes the descriptive statistics, slope, and clinical
// significance of one question's series.
func summarizeSeries(questionID string, obs []observation, th questionThreshold) models.TrendSummary {
	mean, std := meanStd(obs)
	min, max := minMax(obs)
	slope := leastSquaresSlope(obs)

	direction := models.TrendStable
	switch {
	case slope > stableSlopeBand:
		direction = models.TrendIncreasing
	case slope < -stableSlopeBand:
		direction = models.TrendDecreasing
	}

	breached := isBreached(mean, th)
	worsening := isWorsening(direction, th)

	var sig models.ClinicalSignificance
	switch {
	case breached:
		urgency := models.SeverityMedium
		if worsening {
			urgency = models.SeverityHigh
		}
		sig = models.ClinicalSignificance{
			Significance:   models.SeverityHigh,
			ClinicalImpact: fmt.Sprintf("%s values are outside the expected clinical range", questionID),
			Urgency:        urgency,
			Recommendation: "Schedule follow-up appointment",
		}
	case worsening:
		sig = models.ClinicalSignificance{
			Significance:   models.SeverityMedium,
			ClinicalImpact: fmt.Sprintf("%s is trending in a concerning direction", questionID),
			Urgency:        models.SeverityMedium,
			Recommendation: "Consider medication adjustment",
		}
	default:
		sig = models.ClinicalSignificance{
			Significance:   models.SeverityLow,
			ClinicalImpact: fmt.Sprintf("%s is well controlled", questionID),
			Urgency:        models.SeverityLow,
			Recommendation: "Continue current management",
		}
	}

	return models.TrendSummary{
		QuestionID:   questionID,
		Direction:    direction,
		RateOfChange: slope * float64(len(obs)-1),
		Mean:         mean,
		Std:          std,
		Min:          min,
		Max:          max,
		DataPoints:   len(obs),
		Slope:        slope,
		Significance: sig,
	}
}

// meanStd returns the mean and population standard deviation of a series.
func meanStd(obs []observation) (float64, float64) {
	if len(obs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, o := range obs {
		sum += o.Value
	}
	mean := sum / float64(len(obs))

	var sq float64
	for _, o := range obs {
		d := o.Value - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(obs)))
}

func minMax(obs []observation) (float64, float64) {
	min, max := obs[0].Value, obs[0].Value
	for _, o := range obs[1:] {
		if o.Value < min {
			min = o.Value
		}
		if o.Value > max {
			max = o.Value
		}
	}
	return min, max
}

// leastSquaresSlope fits value against observation index. Series shorter
// than two points have no slope.
func leastSquaresSlope(obs []observation) float64 {
	n := float64(len(obs))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, o := range obs {
		x := float64(i)
		sumX += x
		sumY += o.Value
		sumXY += x * o.Value
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// detectAnomalies flags observations whose z-score exceeds the detection
// threshold. A flat series has no anomalies.
func detectAnomalies(questionID string, obs []observation) []models.Anomaly {
	mean, std := meanStd(obs)
	if std == 0 {
		return nil
	}
	var anomalies []models.Anomaly
	for _, o := range obs {
		z := (o.Value - mean) / std
		if math.Abs(z) <= anomalyZThreshold {
			continue
		}
		severity := models.SeverityMedium
		if math.Abs(z) > anomalySevereZThreshold {
			severity = models.SeverityHigh
		}
		anomalies = append(anomalies, models.Anomaly{
			QuestionID: questionID,
			Timestamp:  o.Timestamp,
			Value:      o.Value,
			ZScore:     z,
			Severity:   severity,
		})
	}
	return anomalies
}

func isBreached(mean float64, th questionThreshold) bool {
	if th.High != nil && mean > *th.High {
		return true
	}
	if th.Low != nil && mean < *th.Low {
		return true
	}
	return false
}

// isWorsening reports whether the trend direction is the concerning one for
// this metric.
func isWorsening(direction models.TrendDirection, th questionThreshold) bool {
	if th.LowerIsWorse {
		return direction == models.TrendDecreasing
	}
	return direction == models.TrendIncreasing
}

// assessRisk scores threshold breaches and worsening trends into an overall
// risk level. A breach marks the factor high and scores 2; a worsening trend
// without a breach marks it medium and scores 1.
func assessRisk(condition string, trends []models.TrendSummary, thresholds map[string]questionThreshold) models.RiskAssessment {
	factors := make(map[string]models.Severity)
	score := 0
	for _, t := range trends {
		th, tracked := thresholds[t.QuestionID]
		if !tracked {
			continue
		}
		switch {
		case isBreached(t.Mean, th):
			factors[t.QuestionID] = models.SeverityHigh
			score += 2
		case isWorsening(t.Direction, th):
			factors[t.QuestionID] = models.SeverityMedium
			score++
		}
	}

	var overall models.Severity
	switch {
	case score == 0:
		overall = models.SeverityLow
	case score <= 2:
		overall = models.SeverityMedium
	case score <= 4:
		overall = models.SeverityHigh
	default:
		overall = models.SeverityCritical
	}

	return models.RiskAssessment{
		OverallRisk: overall,
		RiskFactors: factors,
		Condition:   condition,
		AssessedAt:  time.Now(),
	}
}

// buildAlerts raises alerts for high overall risk, clinically significant
// trends, and severe anomalies.
func buildAlerts(patientID string, trends []models.TrendSummary, anomalies []models.Anomaly, risk models.RiskAssessment) []models.TrendAlert {
	now := time.Now()
	alerts := []models.TrendAlert{}

	if risk.OverallRisk == models.SeverityHigh || risk.OverallRisk == models.SeverityCritical {
		alerts = append(alerts, models.TrendAlert{
			ID:          util.NewID(),
			PatientID:   patientID,
			Type:        models.AlertRiskThresholdExceeded,
			Severity:    risk.OverallRisk,
			Description: fmt.Sprintf("Patient has %s overall risk level", risk.OverallRisk),
			TriggeredAt: now,
			Status:      models.AlertActive,
		})
	}

	for _, t := range trends {
		if t.Significance.Significance != models.SeverityHigh {
			continue
		}
		alerts = append(alerts, models.TrendAlert{
			ID:          util.NewID(),
			PatientID:   patientID,
			Type:        models.AlertTrendDeterioration,
			Severity:    t.Significance.Urgency,
			Description: fmt.Sprintf("Significant %s trend detected in %s", t.Direction, t.QuestionID),
			TriggeredAt: now,
			Status:      models.AlertActive,
		})
	}

	for _, an := range anomalies {
		if an.Severity != models.SeverityHigh {
			continue
		}
		alerts = append(alerts, models.TrendAlert{
			ID:          util.NewID(),
			PatientID:   patientID,
			Type:        models.AlertSuddenChange,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("Unusual value detected in %s: %s", an.QuestionID, strconv.FormatFloat(an.Value, 'f', -1, 64)),
			TriggeredAt: now,
			Status:      models.AlertActive,
		})
	}

	return alerts
}

// buildRecommendations combines risk-tier guidance with condition-specific
// guidance, deduplicated in first-seen order.
func buildRecommendations(condition string, risk models.RiskAssessment) []string {
	var recs []string
	switch risk.OverallRisk {
	case models.SeverityCritical:
		recs = append(recs,
			"Immediate clinical attention recommended",
			"Consider urgent care or emergency evaluation")
	case models.SeverityHigh:
		recs = append(recs,
			"Schedule follow-up appointment within 1 week",
			"Consider medication adjustment")
	}

	if specific, ok := conditionRecommendations[condition]; ok {
		recs = append(recs, specific...)
	} else {
		recs = append(recs, fmt.Sprintf("Continue monitoring %s symptoms", condition))
	}

	seen := make(map[string]bool, len(recs))
	deduped := recs[:0]
	for _, r := range recs {
		if seen[r] {
			continue
		}
		seen[r] = true
		deduped = append(deduped, r)
	}
	return deduped
}
