// Package models defines the core data structures for CareLoop.
//
// It includes patients, conversation sessions, interactions, PRO responses,
// clinical insights, and trend alerts, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// Severity ranks the clinical urgency of insights, alerts, and risk levels.
type Severity string

const (
	// SeverityLow indicates a finding that needs no immediate action.
	SeverityLow Severity = "low"
	// SeverityMedium indicates a finding that should be reviewed soon.
	SeverityMedium Severity = "medium"
	// SeverityHigh indicates a finding that needs prompt clinical review.
	SeverityHigh Severity = "high"
	// SeverityCritical indicates a finding that needs immediate attention.
	SeverityCritical Severity = "critical"
)

// IsValidSeverity checks if the given severity is supported.
func IsValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// RiskScore maps a risk level to its numeric score. The mapping is total and
// deterministic: low=0.2, medium=0.5, high=0.8, critical=1.0.
func RiskScore(s Severity) float64 {
	switch s {
	case SeverityLow:
		return 0.2
	case SeverityMedium:
		return 0.5
	case SeverityHigh:
		return 0.8
	case SeverityCritical:
		return 1.0
	default:
		return 0.5
	}
}

// Patient represents an enrolled patient. Immutable except via explicit
// update; referenced by ID everywhere else.
type Patient struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name,omitempty"`
	Condition          string    `json:"condition"`
	MedicalHistory     string    `json:"medical_history,omitempty"`
	PreferredLanguage  string    `json:"preferred_language,omitempty"`
	AccessibilityNeeds string    `json:"accessibility_needs,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// SessionStatus represents the lifecycle state of a conversation session.
type SessionStatus string

const (
	// SessionActive indicates an in-progress conversation.
	SessionActive SessionStatus = "active"
	// SessionCompleted indicates a conversation that ended normally.
	SessionCompleted SessionStatus = "completed"
	// SessionAbandoned indicates a conversation the patient walked away from.
	SessionAbandoned SessionStatus = "abandoned"
)

// IsValidSessionStatus checks if the given session status is supported.
func IsValidSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionActive, SessionCompleted, SessionAbandoned:
		return true
	default:
		return false
	}
}

// ConversationSession groups the interactions of one conversation. Many
// historical sessions may exist per patient; at most one is active at a time
// from the orchestrator's point of view.
type ConversationSession struct {
	ID        string        `json:"id"`
	PatientID string        `json:"patient_id"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Status    SessionStatus `json:"status"`
}

// InteractionKind distinguishes free-text messages from structured answers.
type InteractionKind string

const (
	// InteractionMessage is a free-text patient message.
	InteractionMessage InteractionKind = "message"
	// InteractionAnswer is a reply inside a questionnaire flow.
	InteractionAnswer InteractionKind = "answer"
)

// Interaction is one inbound message or answer event attributable to a
// session. Append-only; never mutated after creation. Interactions are the
// unit of work that flows through the event bus.
type Interaction struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	PatientID string          `json:"patient_id"`
	Kind      InteractionKind `json:"kind"`
	Payload   string          `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Level grades comprehension and engagement classifications.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Complexity grades how question phrasing is adapted.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// AdaptiveState is the per-patient questionnaire personalization record.
// It is deliberately not persisted: restarts reset personalization.
type AdaptiveState struct {
	ComprehensionLevel Level      `json:"comprehension_level"`
	EngagementLevel    Level      `json:"engagement_level"`
	ResponseComplexity Complexity `json:"response_complexity"`
	QuestionCount      int        `json:"question_count"`
	LastResponseTime   time.Time  `json:"last_response_time"`
}

// ResponseType defines how a question expects to be answered.
type ResponseType string

const (
	ResponseTypeText           ResponseType = "text"
	ResponseTypeNumeric        ResponseType = "numeric"
	ResponseTypeScale          ResponseType = "scale"
	ResponseTypeMultipleChoice ResponseType = "multiple_choice"
	ResponseTypeBoolean        ResponseType = "boolean"
)

// PROResponse is one patient-reported-outcome data point. Append-only time
// series; the substrate the trend monitoring agent reads.
type PROResponse struct {
	ID         string       `json:"id"`
	PatientID  string       `json:"patient_id"`
	SessionID  string       `json:"session_id"`
	QuestionID string       `json:"question_id"`
	Value      string       `json:"value"`
	ValueType  ResponseType `json:"value_type"`
	Timestamp  time.Time    `json:"timestamp"`
}

// InsightSource identifies what kind of analysis produced an insight.
type InsightSource string

const (
	// SourceMessageAnalysis marks insights derived from a single message.
	SourceMessageAnalysis InsightSource = "message_analysis"
	// SourceQuestionnaireSummary marks insights derived from a questionnaire run.
	SourceQuestionnaireSummary InsightSource = "questionnaire_summary"
	// SourceTrendAnalysis marks insights derived from PRO trend analysis.
	SourceTrendAnalysis InsightSource = "trend_analysis"
)

// ClinicalInsight is a derived, persisted judgment about a patient.
// Created once per triggering event, never mutated. The (SourceType,
// SourceID) pair is the idempotency key for at-least-once redelivery.
type ClinicalInsight struct {
	ID              string        `json:"id"`
	PatientID       string        `json:"patient_id"`
	SourceType      InsightSource `json:"source_type"`
	SourceID        string        `json:"source_id,omitempty"`
	Text            string        `json:"insight_text"`
	Severity        Severity      `json:"severity"`
	Recommendations []string      `json:"recommendations,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// AlertType names the kinds of trend alerts the monitoring agent can raise.
type AlertType string

const (
	AlertRiskThresholdExceeded AlertType = "risk_threshold_exceeded"
	AlertTrendDeterioration    AlertType = "trend_deterioration"
	AlertSuddenChange          AlertType = "sudden_change"
	AlertEngagementDecline     AlertType = "engagement_decline"
	AlertMedicationAdherence   AlertType = "medication_non_adherence"
	AlertSymptomIncrease       AlertType = "symptom_increase"
	AlertCriticalValue         AlertType = "critical_value"
)

// AlertStatus represents the lifecycle state of a trend alert.
type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
)

// TrendAlert is a flagged, severity-ranked concern derived from PRO
// time-series analysis.
type TrendAlert struct {
	ID          string      `json:"id"`
	PatientID   string      `json:"patient_id"`
	Type        AlertType   `json:"alert_type"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
	TriggeredAt time.Time   `json:"triggered_at"`
	ResolvedAt  *time.Time  `json:"resolved_at,omitempty"`
	Status      AlertStatus `json:"status"`
}

// TrendDirection classifies the slope of a PRO series.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// ClinicalSignificance is the judgment attached to a per-question trend.
type ClinicalSignificance struct {
	Significance   Severity `json:"significance"`
	ClinicalImpact string   `json:"clinical_impact"`
	Urgency        Severity `json:"urgency"`
	Recommendation string   `json:"recommendation"`
}

// TrendSummary describes one tracked question's series over the analysis window.
type TrendSummary struct {
	QuestionID   string               `json:"question_id"`
	Direction    TrendDirection       `json:"trend_direction"`
	RateOfChange float64              `json:"rate_of_change"`
	Mean         float64              `json:"mean_value"`
	Std          float64              `json:"std_value"`
	Min          float64              `json:"min_value"`
	Max          float64              `json:"max_value"`
	DataPoints   int                  `json:"data_points"`
	Slope        float64              `json:"slope"`
	Significance ClinicalSignificance `json:"clinical_significance"`
}

// Anomaly flags a single data point whose z-score exceeds the detection threshold.
type Anomaly struct {
	QuestionID string    `json:"question_id"`
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
	ZScore     float64   `json:"z_score"`
	Severity   Severity  `json:"severity"`
}

// RiskAssessment combines condition-specific threshold breaches into an
// overall risk level plus the signals that contributed.
type RiskAssessment struct {
	OverallRisk Severity            `json:"overall_risk"`
	RiskFactors map[string]Severity `json:"risk_factors"`
	Condition   string              `json:"condition"`
	AssessedAt  time.Time           `json:"assessment_date"`
}

// TrendAnalysis is the full output of one trend monitoring run.
// RiskScore is nil when there was insufficient data to assess.
type TrendAnalysis struct {
	PatientID       string          `json:"patient_id"`
	AnalyzedAt      time.Time       `json:"analysis_date"`
	Trends          []TrendSummary  `json:"trends"`
	Anomalies       []Anomaly       `json:"anomalies,omitempty"`
	Risk            *RiskAssessment `json:"risk_assessment,omitempty"`
	Alerts          []TrendAlert    `json:"alerts"`
	Recommendations []string        `json:"recommendations"`
	RiskScore       *float64        `json:"risk_score"`
	DataPoints      int             `json:"data_points"`
}

// InteractionType selects which agent handles an interaction request.
type InteractionType string

const (
	// InteractionCheckin routes to the companion agent. It is also the
	// fallback for empty or unrecognized interaction types.
	InteractionCheckin InteractionType = "checkin"
	// InteractionQuestionnaire routes to the adaptive questionnaire agent.
	InteractionQuestionnaire InteractionType = "questionnaire"
	// InteractionTrendAnalysis routes to the trend monitoring agent.
	InteractionTrendAnalysis InteractionType = "trend_analysis"
)

// AgentResponse is the normalized envelope every agent returns.
type AgentResponse struct {
	Agent        string         `json:"agent"`
	Reply        string         `json:"reply"`
	ResponseType ResponseType   `json:"response_type,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EmotionalAssessment is the companion agent's classification of a message.
type EmotionalAssessment struct {
	State       string   `json:"emotional_state"`
	Confidence  float64  `json:"confidence"`
	KeyEmotions []string `json:"key_emotions"`
	Urgency     Severity `json:"urgency_level"`
	Tone        string   `json:"tone"`
}

// Validation error variables for better error handling and testability.
var (
	ErrEmptyPatientID     = errors.New("patient id cannot be empty")
	ErrEmptySessionID     = errors.New("session id cannot be empty")
	ErrEmptyQuestionID    = errors.New("question id cannot be empty")
	ErrInvalidSeverity    = errors.New("invalid severity")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrEmptyInsightText   = errors.New("insight text cannot be empty")
	ErrEmptyInsightSource = errors.New("insight source type cannot be empty")
)

// Validate performs validation on an Interaction before it is persisted.
func (i *Interaction) Validate() error {
	if i.PatientID == "" {
		return ErrEmptyPatientID
	}
	if i.SessionID == "" {
		return ErrEmptySessionID
	}
	return nil
}

// Validate performs validation on a PROResponse before it is persisted.
func (r *PROResponse) Validate() error {
	if r.PatientID == "" {
		return ErrEmptyPatientID
	}
	if r.QuestionID == "" {
		return ErrEmptyQuestionID
	}
	return nil
}

// Validate performs validation on a ClinicalInsight before it is persisted.
func (c *ClinicalInsight) Validate() error {
	if c.PatientID == "" {
		return ErrEmptyPatientID
	}
	if c.SourceType == "" {
		return ErrEmptyInsightSource
	}
	if c.Text == "" {
		return ErrEmptyInsightText
	}
	if c.Severity != "" && !IsValidSeverity(c.Severity) {
		return ErrInvalidSeverity
	}
	return nil
}

// Validate performs validation on a TrendAlert before it is persisted.
func (a *TrendAlert) Validate() error {
	if a.PatientID == "" {
		return ErrEmptyPatientID
	}
	if !IsValidSeverity(a.Severity) {
		return ErrInvalidSeverity
	}
	return nil
}
