package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/CareLoop/CareLoop/internal/models"
)

// rowScanner abstracts *sql.Row and *sql.Rows for the shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// marshalRecommendations encodes a recommendation list as JSON text for storage.
func marshalRecommendations(recs []string) (any, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recommendations: %w", err)
	}
	return string(b), nil
}

func scanPatient(row rowScanner) (models.Patient, error) {
	var p models.Patient
	var name, history, language, accessibility sql.NullString
	err := row.Scan(&p.ID, &name, &p.Condition, &history, &language, &accessibility, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	p.Name = name.String
	p.MedicalHistory = history.String
	p.PreferredLanguage = language.String
	p.AccessibilityNeeds = accessibility.String
	return p, nil
}

func scanSession(row rowScanner) (models.ConversationSession, error) {
	var s models.ConversationSession
	var endedAt sql.NullTime
	err := row.Scan(&s.ID, &s.PatientID, &s.StartedAt, &endedAt, &s.Status)
	if err != nil {
		return s, err
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	return s, nil
}

func scanInteraction(row rowScanner) (models.Interaction, error) {
	var i models.Interaction
	err := row.Scan(&i.ID, &i.SessionID, &i.PatientID, &i.Kind, &i.Payload, &i.Timestamp)
	return i, err
}

func scanPROResponse(row rowScanner) (models.PROResponse, error) {
	var r models.PROResponse
	var sessionID sql.NullString
	err := row.Scan(&r.ID, &r.PatientID, &sessionID, &r.QuestionID, &r.Value, &r.ValueType, &r.Timestamp)
	if err != nil {
		return r, err
	}
	r.SessionID = sessionID.String
	return r, nil
}

func scanInsight(row rowScanner) (models.ClinicalInsight, error) {
	var in models.ClinicalInsight
	var sourceID, recsJSON sql.NullString
	err := row.Scan(&in.ID, &in.PatientID, &in.SourceType, &sourceID, &in.Text, &in.Severity, &recsJSON, &in.CreatedAt)
	if err != nil {
		return in, err
	}
	in.SourceID = sourceID.String
	if recsJSON.Valid && recsJSON.String != "" {
		if err := json.Unmarshal([]byte(recsJSON.String), &in.Recommendations); err != nil {
			return in, fmt.Errorf("failed to decode recommendations: %w", err)
		}
	}
	return in, nil
}

func scanTrendAlert(row rowScanner) (models.TrendAlert, error) {
	var a models.TrendAlert
	var resolvedAt sql.NullTime
	err := row.Scan(&a.ID, &a.PatientID, &a.Type, &a.Severity, &a.Description, &a.TriggeredAt, &resolvedAt, &a.Status)
	if err != nil {
		return a, err
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	return a, nil
}
