// Package store provides storage backends for CareLoop.
//
// It includes an in-memory store used by tests and development mode, plus
// SQLite and PostgreSQL backed stores for persistent deployments. The store
// is the single source of truth for sessions, interactions, PRO responses,
// insights, and alerts; adaptive questionnaire state is deliberately not
// persisted here.
package store

import (
	"errors"
	"strings"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
)

// Opts holds configuration options for store construction.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithDSN sets the database connection string (file path for SQLite,
// connection URL for Postgres).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". Postgres DSNs
// use URL or key=value form; anything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Sentinel errors shared by all backends.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrUnknownSession is returned when an interaction references a
	// session that was never created.
	ErrUnknownSession = errors.New("interaction references unknown session")
	// ErrUnknownPatient is returned when a session, insight, or alert
	// references a patient that was never created.
	ErrUnknownPatient = errors.New("record references unknown patient")
)

// Store is the persistence collaborator used by agents and the event
// pipeline. All operations are synchronous with single-row atomicity; no
// transaction semantics beyond that are assumed.
type Store interface {
	CreatePatient(p models.Patient) error
	GetPatient(id string) (*models.Patient, error)
	ListPatients() ([]models.Patient, error)

	CreateSession(s models.ConversationSession) error
	GetSession(id string) (*models.ConversationSession, error)
	// CurrentSession returns the most recently started active session for a
	// patient, or nil when none is active.
	CurrentSession(patientID string) (*models.ConversationSession, error)
	UpdateSessionStatus(id string, status models.SessionStatus, endedAt *time.Time) error

	AddInteraction(i models.Interaction) error
	ListInteractionsBySession(sessionID string) ([]models.Interaction, error)

	AddPROResponse(r models.PROResponse) error
	ListPROResponsesByPatient(patientID string) ([]models.PROResponse, error)

	AddInsight(in models.ClinicalInsight) error
	// FindInsightBySource looks up an insight by its idempotency key.
	// Returns (nil, nil) when no insight matches.
	FindInsightBySource(sourceType models.InsightSource, sourceID string) (*models.ClinicalInsight, error)
	ListInsightsByPatient(patientID string) ([]models.ClinicalInsight, error)

	AddTrendAlert(a models.TrendAlert) error
	ListTrendAlertsByPatient(patientID string) ([]models.TrendAlert, error)

	Close() error
}
