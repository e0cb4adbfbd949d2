// Package store provides storage backends for CareLoop.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/CareLoop/CareLoop/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists all entities in a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreatePatient(p models.Patient) error {
	if p.ID == "" {
		return models.ErrEmptyPatientID
	}
	_, err := s.db.Exec(
		`INSERT INTO patients (id, name, condition, medical_history, preferred_language, accessibility_needs, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, nilIfEmpty(p.Name), p.Condition, nilIfEmpty(p.MedicalHistory),
		nilIfEmpty(p.PreferredLanguage), nilIfEmpty(p.AccessibilityNeeds), p.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreatePatient failed", "error", err, "patientID", p.ID)
		return fmt.Errorf("failed to insert patient %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetPatient(id string) (*models.Patient, error) {
	row := s.db.QueryRow(
		`SELECT id, name, condition, medical_history, preferred_language, accessibility_needs, created_at
		 FROM patients WHERE id = $1`, id)
	p, err := scanPatient(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient %s: %w", id, err)
	}
	return &p, nil
}

func (s *PostgresStore) ListPatients() ([]models.Patient, error) {
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

func (s *PostgresStore) CreateSession(sess models.ConversationSession) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, patient_id, started_at, ended_at, status) VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.PatientID, sess.StartedAt, sess.EndedAt, sess.Status)
	if err != nil {
		slog.Error("PostgresStore CreateSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetSession(id string) (*models.ConversationSession, error) {
	row := s.db.QueryRow(`SELECT id, patient_id, started_at, ended_at, status FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *PostgresStore) CurrentSession(patientID string) (*models.ConversationSession, error) {
	row := s.db.QueryRow(
		`SELECT id, patient_id, started_at, ended_at, status FROM sessions
		 WHERE patient_id = $1 AND status = $2 ORDER BY started_at DESC LIMIT 1`,
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

func (s *PostgresStore) UpdateSessionStatus(id string, status models.SessionStatus, endedAt *time.Time) error {
	if !models.IsValidSessionStatus(status) {
		return models.ErrInvalidStatus
	}
	res, err := s.db.Exec(`UPDATE sessions SET status = $1, ended_at = $2 WHERE id = $3`, status, endedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddInteraction(i models.Interaction) error {
	if err := i.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO interactions (id, session_id, patient_id, kind, payload, timestamp) VALUES ($1, $2, $3, $4, $5, $6)`,
		i.ID, i.SessionID, i.PatientID, i.Kind, i.Payload, i.Timestamp)
	if err != nil {
		slog.Error("PostgresStore AddInteraction failed", "error", err, "interactionID", i.ID)
		return fmt.Errorf("failed to insert interaction %s: %w", i.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListInteractionsBySession(sessionID string) ([]models.Interaction, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, patient_id, kind, payload, timestamp FROM interactions
		 WHERE session_id = $1 ORDER BY timestamp`, sessionID)
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

func (s *PostgresStore) AddPROResponse(r models.PROResponse) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO pro_responses (id, patient_id, session_id, question_id, value, value_type, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.PatientID, nilIfEmpty(r.SessionID), r.QuestionID, r.Value, r.ValueType, r.Timestamp)
	if err != nil {
		slog.Error("PostgresStore AddPROResponse failed", "error", err, "patientID", r.PatientID, "questionID", r.QuestionID)
		return fmt.Errorf("failed to insert PRO response for %s: %w", r.PatientID, err)
	}
	return nil
}

func (s *PostgresStore) ListPROResponsesByPatient(patientID string) ([]models.PROResponse, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, session_id, question_id, value, value_type, timestamp FROM pro_responses
		 WHERE patient_id = $1 ORDER BY timestamp`, patientID)
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

func (s *PostgresStore) AddInsight(in models.ClinicalInsight) error {
	if err := in.Validate(); err != nil {
		return err
	}
	recs, err := marshalRecommendations(in.Recommendations)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO clinical_insights (id, patient_id, source_type, source_id, insight_text, severity, recommendations, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		in.ID, in.PatientID, in.SourceType, nilIfEmpty(in.SourceID), in.Text, in.Severity, recs, in.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddInsight failed", "error", err, "insightID", in.ID)
		return fmt.Errorf("failed to insert insight %s: %w", in.ID, err)
	}
	return nil
}

func (s *PostgresStore) FindInsightBySource(sourceType models.InsightSource, sourceID string) (*models.ClinicalInsight, error) {
	if sourceID == "" {
		return nil, nil
	}
	row := s.db.QueryRow(
		`SELECT id, patient_id, source_type, source_id, insight_text, severity, recommendations, created_at
		 FROM clinical_insights WHERE source_type = $1 AND source_id = $2`, sourceType, sourceID)
	in, err := scanInsight(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find insight by source: %w", err)
	}
	return &in, nil
}

func (s *PostgresStore) ListInsightsByPatient(patientID string) ([]models.ClinicalInsight, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, source_type, source_id, insight_text, severity, recommendations, created_at
		 FROM clinical_insights WHERE patient_id = $1 ORDER BY created_at`, patientID)
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

func (s *PostgresStore) AddTrendAlert(a models.TrendAlert) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO trend_alerts (id, patient_id, alert_type, severity, description, triggered_at, resolved_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.PatientID, a.Type, a.Severity, a.Description, a.TriggeredAt, a.ResolvedAt, a.Status)
	if err != nil {
		slog.Error("PostgresStore AddTrendAlert failed", "error", err, "alertID", a.ID)
		return fmt.Errorf("failed to insert trend alert %s: %w", a.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListTrendAlertsByPatient(patientID string) ([]models.TrendAlert, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, alert_type, severity, description, triggered_at, resolved_at, status
		 FROM trend_alerts WHERE patient_id = $1 ORDER BY triggered_at`, patientID)
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
func (s *PostgresStore) Close() error { return s.db.Close() }
