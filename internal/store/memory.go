// Package store provides storage backends for CareLoop.
//
// This file implements the in-memory store.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
)

// InMemoryStore is a mutex-guarded in-memory store. It is the default for
// tests and local development and enforces the same referential invariants
// as the persistent backends.
type InMemoryStore struct {
	mu           sync.RWMutex
	patients     map[string]models.Patient
	sessions     map[string]models.ConversationSession
	interactions []models.Interaction
	proResponses []models.PROResponse
	insights     []models.ClinicalInsight
	alerts       []models.TrendAlert
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		patients: make(map[string]models.Patient),
		sessions: make(map[string]models.ConversationSession),
	}
}

func (s *InMemoryStore) CreatePatient(p models.Patient) error {
	if p.ID == "" {
		return models.ErrEmptyPatientID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
	return nil
}

func (s *InMemoryStore) GetPatient(id string) (*models.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *InMemoryStore) ListPatients() ([]models.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) CreateSession(sess models.ConversationSession) error {
	if sess.PatientID == "" {
		return models.ErrEmptyPatientID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[sess.PatientID]; !ok {
		return ErrUnknownPatient
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *InMemoryStore) GetSession(id string) (*models.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *InMemoryStore) CurrentSession(patientID string) (*models.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var current *models.ConversationSession
	for id := range s.sessions {
		sess := s.sessions[id]
		if sess.PatientID != patientID || sess.Status != models.SessionActive {
			continue
		}
		if current == nil || sess.StartedAt.After(current.StartedAt) {
			current = &sess
		}
	}
	return current, nil
}

func (s *InMemoryStore) UpdateSessionStatus(id string, status models.SessionStatus, endedAt *time.Time) error {
	if !models.IsValidSessionStatus(status) {
		return models.ErrInvalidStatus
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Status = status
	sess.EndedAt = endedAt
	s.sessions[id] = sess
	return nil
}

func (s *InMemoryStore) AddInteraction(i models.Interaction) error {
	if err := i.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[i.SessionID]; !ok {
		return ErrUnknownSession
	}
	s.interactions = append(s.interactions, i)
	return nil
}

func (s *InMemoryStore) ListInteractionsBySession(sessionID string) ([]models.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Interaction
	for _, i := range s.interactions {
		if i.SessionID == sessionID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddPROResponse(r models.PROResponse) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proResponses = append(s.proResponses, r)
	return nil
}

func (s *InMemoryStore) ListPROResponsesByPatient(patientID string) ([]models.PROResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PROResponse
	for _, r := range s.proResponses {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddInsight(in models.ClinicalInsight) error {
	if err := in.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[in.PatientID]; !ok {
		return ErrUnknownPatient
	}
	s.insights = append(s.insights, in)
	return nil
}

func (s *InMemoryStore) FindInsightBySource(sourceType models.InsightSource, sourceID string) (*models.ClinicalInsight, error) {
	if sourceID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for idx := range s.insights {
		in := s.insights[idx]
		if in.SourceType == sourceType && in.SourceID == sourceID {
			return &in, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListInsightsByPatient(patientID string) ([]models.ClinicalInsight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ClinicalInsight
	for _, in := range s.insights {
		if in.PatientID == patientID {
			out = append(out, in)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddTrendAlert(a models.TrendAlert) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *InMemoryStore) ListTrendAlertsByPatient(patientID string) ([]models.TrendAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TrendAlert
	for _, a := range s.alerts {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
