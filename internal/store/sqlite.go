// Package store provides storage backends for CareLoop.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/CareLoop/CareLoop/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists all entities in a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// The _foreign_keys parameter applies to every pooled connection; a
	// one-off PRAGMA would only cover the connection that ran it.
	openDSN := dsn
	if !strings.HasPrefix(openDSN, "file:") {
		openDSN = "file:" + openDSN
	}
	if !strings.Contains(openDSN, "?") {
		openDSN += "?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", openDSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreatePatient(p models.Patient) error {
	if p.ID == "" {
		return models.ErrEmptyPatientID
	}
	_, err := s.db.Exec(
		`INSERT INTO patients (id, name, condition, medical_history, preferred_language, accessibility_needs, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, nilIfEmpty(p.Name), p.Condition, nilIfEmpty(p.MedicalHistory),
		nilIfEmpty(p.PreferredLanguage), nilIfEmpty(p.AccessibilityNeeds), p.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreatePatient failed", "error", err, "patientID", p.ID)
		return fmt.Errorf("failed to insert patient %s: %w", p.ID, err)
	}
	slog.Debug("SQLiteStore CreatePatient succeeded", "patientID", p.ID)
	return nil
}

func (s *SQLiteStore) GetPatient(id string) (*models.Patient, error) {
	row := s.db.QueryRow(
		`SELECT id, name, condition, medical_history, preferred_language, accessibility_needs, created_at
		 FROM patients WHERE id = ?`, id)
	p, err := scanPatient(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetPatient failed", "error", err, "patientID", id)
		return nil, fmt.Errorf("failed to get patient %s: %w", id, err)
	}
	return &p, nil
}

func (s *SQLiteStore) ListPatients() ([]models.Patient, error) {
	rows, err := s.db.Query(
		`SELECT id, name, condition, medical_history, preferred_language, accessibility_needs, created_at
		 FROM patients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()

	var patients []models.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan patient row: %w", err)
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func (s *SQLiteStore) CreateSession(sess models.ConversationSession) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, patient_id, started_at, ended_at, status) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.PatientID, sess.StartedAt, sess.EndedAt, sess.Status)
	if err != nil {
		slog.Error("SQLiteStore CreateSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(id string) (*models.ConversationSession, error) {
	row := s.db.QueryRow(`SELECT id, patient_id, started_at, ended_at, status FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) CurrentSession(patientID string) (*models.ConversationSession, error) {
	row := s.db.QueryRow(
		`SELECT id, patient_id, started_at, ended_at, status FROM sessions
		 WHERE patient_id = ? AND status = ? ORDER BY started_at DESC LIMIT 1`,
		patientID, models.SessionActive)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current session for %s: %w", patientID, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) UpdateSessionStatus(id string, status models.SessionStatus, endedAt *time.Time) error {
	if !models.IsValidSessionStatus(status) {
		return models.ErrInvalidStatus
	}
	res, err := s.db.Exec(`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`, status, endedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AddInteraction(i models.Interaction) error {
	if err := i.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO interactions (id, session_id, patient_id, kind, payload, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		i.ID, i.SessionID, i.PatientID, i.Kind, i.Payload, i.Timestamp)
	if err != nil {
		slog.Error("SQLiteStore AddInteraction failed", "error", err, "interactionID", i.ID)
		return fmt.Errorf("failed to insert interaction %s: %w", i.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListInteractionsBySession(sessionID string) ([]models.Interaction, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, patient_id, kind, payload, timestamp FROM interactions
		 WHERE session_id = ? ORDER BY timestamp`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var interactions []models.Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction row: %w", err)
		}
		interactions = append(interactions, i)
	}
	return interactions, rows.Err()
}

func (s *SQLiteStore) AddPROResponse(r models.PROResponse) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO pro_responses (id, patient_id, session_id, question_id, value, value_type, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PatientID, nilIfEmpty(r.SessionID), r.QuestionID, r.Value, r.ValueType, r.Timestamp)
	if err != nil {
		slog.Error("SQLiteStore AddPROResponse failed", "error", err, "patientID", r.PatientID, "questionID", r.QuestionID)
		return fmt.Errorf("failed to insert PRO response for %s: %w", r.PatientID, err)
	}
	return nil
}

func (s *SQLiteStore) ListPROResponsesByPatient(patientID string) ([]models.PROResponse, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, session_id, question_id, value, value_type, timestamp FROM pro_responses
		 WHERE patient_id = ? ORDER BY timestamp`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query PRO responses: %w", err)
	}
	defer rows.Close()

	var responses []models.PROResponse
	for rows.Next() {
		r, err := scanPROResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan PRO response row: %w", err)
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

func (s *SQLiteStore) AddInsight(in models.ClinicalInsight) error {
	if err := in.Validate(); err != nil {
		return err
	}
	recs, err := marshalRecommendations(in.Recommendations)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO clinical_insights (id, patient_id, source_type, source_id, insight_text, severity, recommendations, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.PatientID, in.SourceType, nilIfEmpty(in.SourceID), in.Text, in.Severity, recs, in.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddInsight failed", "error", err, "insightID", in.ID)
		return fmt.Errorf("failed to insert insight %s: %w", in.ID, err)
	}
	return nil
}

func (s *SQLiteStore) FindInsightBySource(sourceType models.InsightSource, sourceID string) (*models.ClinicalInsight, error) {
	if sourceID == "" {
		return nil, nil
	}
	row := s.db.QueryRow(
		`SELECT id, patient_id, source_type, source_id, insight_text, severity, recommendations, created_at
		 FROM clinical_insights WHERE source_type = ? AND source_id = ?`, sourceType, sourceID)
	in, err := scanInsight(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find insight by source: %w", err)
	}
	return &in, nil
}

func (s *SQLiteStore) ListInsightsByPatient(patientID string) ([]models.ClinicalInsight, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, source_type, source_id, insight_text, severity, recommendations, created_at
		 FROM clinical_insights WHERE patient_id = ? ORDER BY created_at`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()

	var insights []models.ClinicalInsight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan insight row: %w", err)
		}
		insights = append(insights, in)
	}
	return insights, rows.Err()
}

func (s *SQLiteStore) AddTrendAlert(a models.TrendAlert) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO trend_alerts (id, patient_id, alert_type, severity, description, triggered_at, resolved_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PatientID, a.Type, a.Severity, a.Description, a.TriggeredAt, a.ResolvedAt, a.Status)
	if err != nil {
		slog.Error("SQLiteStore AddTrendAlert failed", "error", err, "alertID", a.ID)
		return fmt.Errorf("failed to insert trend alert %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListTrendAlertsByPatient(patientID string) ([]models.TrendAlert, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, alert_type, severity, description, triggered_at, resolved_at, status
		 FROM trend_alerts WHERE patient_id = ? ORDER BY triggered_at`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trend alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.TrendAlert
	for rows.Next() {
		a, err := scanTrendAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trend alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
