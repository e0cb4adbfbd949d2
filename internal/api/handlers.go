package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/CareLoop/CareLoop/internal/bus"
	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/store"
	"github.com/CareLoop/CareLoop/internal/util"
)

func (s *Server) createPatientHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var p models.Patient
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		slog.Warn("Server.createPatientHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if p.Condition == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("condition is required"))
		return
	}
	if p.ID == "" {
		p.ID = util.NewID()
	}
	p.CreatedAt = time.Now()

	if err := s.store.CreatePatient(p); err != nil {
		slog.Error("Server.createPatientHandler: failed to create patient", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create patient"))
		return
	}
	slog.Info("Server.createPatientHandler: patient enrolled", "patientID", p.ID, "condition", p.Condition)
	writeJSONResponse(w, http.StatusCreated, models.Success(p))
}

func (s *Server) getPatientHandler(w http.ResponseWriter, r *http.Request) {
	patient, err := s.store.GetPatient(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Patient not found"))
			return
		}
		slog.Error("Server.getPatientHandler: failed to load patient", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load patient"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(patient))
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req struct {
		PatientID string `json:"patient_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.PatientID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("patient_id is required"))
		return
	}

	session := models.ConversationSession{
		ID:        util.NewID(),
		PatientID: req.PatientID,
		StartedAt: time.Now(),
		Status:    models.SessionActive,
	}
	if err := s.store.CreateSession(session); err != nil {
		if errors.Is(err, store.ErrUnknownPatient) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Patient not found"))
			return
		}
		slog.Error("Server.createSessionHandler: failed to create session", "patientID", req.PatientID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create session"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(session))
}

func (s *Server) completeSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	now := time.Now()
	if err := s.store.UpdateSessionStatus(id, models.SessionCompleted, &now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
			return
		}
		slog.Error("Server.completeSessionHandler: failed to complete session", "sessionID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to complete session"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session completed", nil))
}

// interactionHandler runs one patient turn: resolve the patient, ensure an
// active session, route through the orchestrator, record the turn, and emit
// the matching pipeline event.
func (s *Server) interactionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.InteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.interactionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.PatientID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("patient_id is required"))
		return
	}

	patient, err := s.resolvePatient(req)
	if err != nil {
		slog.Error("Server.interactionHandler: failed to resolve patient", "patientID", req.PatientID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to resolve patient"))
		return
	}

	session, err := s.ensureSession(patient.ID)
	if err != nil {
		slog.Error("Server.interactionHandler: failed to ensure session", "patientID", patient.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to open session"))
		return
	}

	result, err := s.orch.Route(r.Context(), patient, req.InteractionType, session.ID, req.UserMessage)
	if err != nil {
		slog.Error("Server.interactionHandler: orchestrator error", "patientID", patient.ID, "interactionType", req.InteractionType, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}

	if req.UserMessage != "" {
		s.recordAndPublish(r.Context(), patient.ID, session.ID, req)
	}

	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// resolvePatient loads the patient, enrolling them on the fly when the
// request carries patient data. An unknown patient without data gets a
// minimal persisted record so a conversation can still proceed and the
// session's patient reference holds on every backend.
func (s *Server) resolvePatient(req models.InteractionRequest) (*models.Patient, error) {
	patient, err := s.store.GetPatient(req.PatientID)
	if err == nil {
		return patient, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	p := models.Patient{ID: req.PatientID, CreatedAt: time.Now()}
	if req.PatientData != nil {
		p = *req.PatientData
		p.ID = req.PatientID
		p.CreatedAt = time.Now()
	}
	if err := s.store.CreatePatient(p); err != nil {
		return nil, err
	}
	slog.Info("Server.resolvePatient: patient enrolled from interaction", "patientID", p.ID, "condition", p.Condition)
	return &p, nil
}

// ensureSession returns the patient's active session, creating one when none
// exists.
func (s *Server) ensureSession(patientID string) (*models.ConversationSession, error) {
	session, err := s.store.CurrentSession(patientID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	fresh := models.ConversationSession{
		ID:        util.NewID(),
		PatientID: patientID,
		StartedAt: time.Now(),
		Status:    models.SessionActive,
	}
	if err := s.store.CreateSession(fresh); err != nil {
		return nil, err
	}
	return &fresh, nil
}

// recordAndPublish persists the patient's turn and emits its pipeline event.
// Failures here are logged, never surfaced: the patient already has their
// reply and the pipeline work is best-effort from the request's perspective.
func (s *Server) recordAndPublish(ctx context.Context, patientID, sessionID string, req models.InteractionRequest) {
	kind := models.InteractionMessage
	if req.InteractionType == models.InteractionQuestionnaire {
		kind = models.InteractionAnswer
	}

	interaction := models.Interaction{
		ID:        util.NewID(),
		SessionID: sessionID,
		PatientID: patientID,
		Kind:      kind,
		Payload:   req.UserMessage,
		Timestamp: time.Now(),
	}
	if err := s.store.AddInteraction(interaction); err != nil {
		slog.Error("Server.recordAndPublish: failed to record interaction", "patientID", patientID, "error", err)
		return
	}

	if s.bus == nil {
		return
	}

	if kind == models.InteractionAnswer {
		trigger := models.PROResponse{
			ID:        interaction.ID,
			PatientID: patientID,
			SessionID: sessionID,
			Value:     req.UserMessage,
			ValueType: models.ResponseTypeText,
			Timestamp: interaction.Timestamp,
		}
		payload, err := json.Marshal(trigger)
		if err != nil {
			slog.Error("Server.recordAndPublish: failed to encode answer event", "error", err)
			return
		}
		if err := s.bus.Publish(ctx, bus.TopicNewAnswer, payload); err != nil {
			slog.Warn("Server.recordAndPublish: failed to publish answer event", "patientID", patientID, "error", err)
		}
		return
	}

	payload, err := json.Marshal(interaction)
	if err != nil {
		slog.Error("Server.recordAndPublish: failed to encode message event", "error", err)
		return
	}
	if err := s.bus.Publish(ctx, bus.TopicNewMessage, payload); err != nil {
		slog.Warn("Server.recordAndPublish: failed to publish message event", "patientID", patientID, "error", err)
	}
}

func (s *Server) listInsightsHandler(w http.ResponseWriter, r *http.Request) {
	insights, err := s.store.ListInsightsByPatient(r.PathValue("id"))
	if err != nil {
		slog.Error("Server.listInsightsHandler: failed to list insights", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list insights"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(insights))
}

func (s *Server) listAlertsHandler(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.ListTrendAlertsByPatient(r.PathValue("id"))
	if err != nil {
		slog.Error("Server.listAlertsHandler: failed to list alerts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list alerts"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(alerts))
}

// websocketHandler upgrades the connection and parks it in the patient's
// notification room until the peer goes away.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	patientID := r.URL.Query().Get("patient_id")
	if patientID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("patient_id is required"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Server.websocketHandler: upgrade failed", "patientID", patientID, "error", err)
		return
	}
	s.hub.Register(patientID, conn)

	// Reads are discarded; the socket exists for server push. The read loop
	// notices the peer closing.
	go func() {
		defer s.hub.Unregister(patientID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
