package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/CareLoop/CareLoop/internal/agents"
	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/notify"
	"github.com/CareLoop/CareLoop/internal/store"
	"github.com/CareLoop/CareLoop/internal/util"
)

type apiFixture struct {
	store   store.Store
	handler http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	return newAPIFixtureWithStore(t, store.NewInMemoryStore())
}

func newAPIFixtureWithStore(t *testing.T, st store.Store) *apiFixture {
	t.Helper()
	rng := util.NewRand(11)
	companion := agents.NewCompanionAgent(rng)
	questionnaire := agents.NewAdaptiveQuestionnaireAgent(st, rng)
	trends := agents.NewTrendMonitoringAgent(st)
	orch := agents.NewOrchestrator(st, companion, questionnaire, trends)
	srv := NewServer(st, orch, nil, notify.NewHub())
	return &apiFixture{store: st, handler: srv.Handler()}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestCreatePatient(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/patients", models.Patient{Name: "Alex", Condition: "diabetes"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	created, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected patient in result, got %+v", resp.Result)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("expected a generated patient id")
	}

	stored, err := f.store.GetPatient(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Condition != "diabetes" {
		t.Errorf("expected condition diabetes, got %q", stored.Condition)
	}
}

func TestCreatePatient_MissingCondition(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/patients", models.Patient{Name: "Alex"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestGetPatient_NotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/patients/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Status != "error" {
		t.Errorf("expected error status, got %q", resp.Status)
	}
}

func TestInteraction_MissingPatientID(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/interactions", models.InteractionRequest{UserMessage: "hello"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestInteraction_CheckinFlow(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.store.CreatePatient(models.Patient{ID: "p1", Condition: "hypertension"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/interactions", models.InteractionRequest{
		PatientID:       "p1",
		InteractionType: models.InteractionCheckin,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected interaction result, got %+v", resp.Result)
	}
	agentResp, _ := result["agent_response"].(map[string]any)
	reply, _ := agentResp["reply"].(string)
	if reply == "" {
		t.Errorf("expected a non-empty companion reply, got %+v", result)
	}

	// An empty opening turn is not recorded as an interaction.
	session, err := f.store.CurrentSession("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session == nil {
		t.Fatal("expected an active session to be created")
	}
	stored, _ := f.store.ListInteractionsBySession(session.ID)
	if len(stored) != 0 {
		t.Errorf("expected no recorded interactions for an empty message, got %d", len(stored))
	}
}

func TestInteraction_MessageIsRecorded(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.store.CreatePatient(models.Patient{ID: "p1", Condition: "depression"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/interactions", models.InteractionRequest{
		PatientID:       "p1",
		InteractionType: models.InteractionCheckin,
		UserMessage:     "feeling tired and drained",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	session, err := f.store.CurrentSession("p1")
	if err != nil || session == nil {
		t.Fatalf("expected an active session, got %+v (%v)", session, err)
	}
	stored, _ := f.store.ListInteractionsBySession(session.ID)
	if len(stored) != 1 {
		t.Fatalf("expected one recorded interaction, got %d", len(stored))
	}
	if stored[0].Kind != models.InteractionMessage {
		t.Errorf("expected kind message, got %q", stored[0].Kind)
	}
	if stored[0].Payload != "feeling tired and drained" {
		t.Errorf("unexpected payload %q", stored[0].Payload)
	}
}

func TestInteraction_QuestionnaireRecordsAnswer(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.store.CreatePatient(models.Patient{ID: "p1", Condition: "diabetes"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/interactions", models.InteractionRequest{
		PatientID:       "p1",
		InteractionType: models.InteractionQuestionnaire,
		UserMessage:     "my blood sugar was 145 this morning",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	session, _ := f.store.CurrentSession("p1")
	if session == nil {
		t.Fatal("expected an active session")
	}
	stored, _ := f.store.ListInteractionsBySession(session.ID)
	if len(stored) != 1 || stored[0].Kind != models.InteractionAnswer {
		t.Errorf("expected one recorded answer, got %+v", stored)
	}
}

// A turn for an unknown patient without inline data must still succeed on
// the SQL backends: the handler enrolls a minimal patient row so the
// session's patient reference holds.
func TestInteraction_UnknownPatientEnrolledOnSQLite(t *testing.T) {
	st, err := store.NewSQLiteStore(store.WithDSN(filepath.Join(t.TempDir(), "api_test.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	f := newAPIFixtureWithStore(t, st)

	rec := f.do(t, http.MethodPost, "/interactions", models.InteractionRequest{
		PatientID:       "ghost",
		InteractionType: models.InteractionCheckin,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	enrolled, err := f.store.GetPatient("ghost")
	if err != nil {
		t.Fatalf("expected a persisted minimal patient, got %v", err)
	}
	if enrolled.Condition != "" {
		t.Errorf("expected empty condition on minimal enrollment, got %q", enrolled.Condition)
	}
	session, err := f.store.CurrentSession("ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session == nil {
		t.Error("expected an active session for the enrolled patient")
	}
}

func TestSession_UnknownPatientRejected(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/sessions", map[string]string{"patient_id": "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestInteraction_EnrollsFromPatientData(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/interactions", models.InteractionRequest{
		PatientID:       "p-new",
		InteractionType: models.InteractionCheckin,
		PatientData:     &models.Patient{Name: "Sam", Condition: "chronic_pain"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stored, err := f.store.GetPatient("p-new")
	if err != nil {
		t.Fatalf("expected the patient to be enrolled, got %v", err)
	}
	if stored.Condition != "chronic_pain" {
		t.Errorf("expected condition chronic_pain, got %q", stored.Condition)
	}
}

func TestInteraction_ReusesActiveSession(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.store.CreatePatient(models.Patient{ID: "p1", Condition: "diabetes"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, msg := range []string{"first message today", "second message today"} {
		rec := f.do(t, http.MethodPost, "/interactions", models.InteractionRequest{
			PatientID:       "p1",
			InteractionType: models.InteractionCheckin,
			UserMessage:     msg,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	}

	session, _ := f.store.CurrentSession("p1")
	if session == nil {
		t.Fatal("expected an active session")
	}
	stored, _ := f.store.ListInteractionsBySession(session.ID)
	if len(stored) != 2 {
		t.Errorf("expected both turns in one session, got %d", len(stored))
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.store.CreatePatient(models.Patient{ID: "p1", Condition: "diabetes"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/sessions", map[string]string{"patient_id": "p1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	created, _ := resp.Result.(map[string]any)
	sessionID, _ := created["id"].(string)
	if sessionID == "" {
		t.Fatal("expected a session id")
	}

	rec = f.do(t, http.MethodPost, "/sessions/"+sessionID+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	session, err := f.store.GetSession(sessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Status != models.SessionCompleted {
		t.Errorf("expected completed session, got %q", session.Status)
	}

	rec = f.do(t, http.MethodPost, "/sessions/missing/complete", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestListInsightsAndAlerts(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.store.CreatePatient(models.Patient{ID: "p1", Condition: "diabetes"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := f.store.AddInsight(models.ClinicalInsight{
		ID:         "in1",
		PatientID:  "p1",
		SourceType: models.SourceTrendAnalysis,
		Text:       "worth reviewing",
		Severity:   models.SeverityMedium,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = f.store.AddTrendAlert(models.TrendAlert{
		ID:          "a1",
		PatientID:   "p1",
		Type:        models.AlertRiskThresholdExceeded,
		Severity:    models.SeverityHigh,
		Description: "Patient has high overall risk level",
		Status:      models.AlertActive,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/patients/p1/insights", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	insights, ok := resp.Result.([]any)
	if !ok || len(insights) != 1 {
		t.Errorf("expected one insight, got %+v", resp.Result)
	}

	rec = f.do(t, http.MethodGet, "/patients/p1/alerts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp = decodeResponse(t, rec)
	alerts, ok := resp.Result.([]any)
	if !ok || len(alerts) != 1 {
		t.Errorf("expected one alert, got %+v", resp.Result)
	}
}

func TestWebsocket_MissingPatientID(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/ws", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
