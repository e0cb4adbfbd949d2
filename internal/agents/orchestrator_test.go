package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/store"
	"github.com/CareLoop/CareLoop/internal/util"
)

func newOrchestrator(t *testing.T) (*Orchestrator, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	rng := util.NewRand(7)
	companion := NewCompanionAgent(rng)
	questionnaire := NewAdaptiveQuestionnaireAgent(st, rng)
	trends := NewTrendMonitoringAgent(st)
	return NewOrchestrator(st, companion, questionnaire, trends), st
}

func TestRoute_EmptyMessageGetsInitialCheckin(t *testing.T) {
	orch, _ := newOrchestrator(t)
	patient := &models.Patient{ID: "p1", Condition: "diabetes"}

	result, err := orch.Route(context.Background(), patient, models.InteractionCheckin, "s1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AgentResponse.Agent != CompanionAgentName {
		t.Errorf("expected companion agent, got %q", result.AgentResponse.Agent)
	}
	if result.NextAction != NextActionAwaitReply {
		t.Errorf("expected await-reply action, got %q", result.NextAction)
	}
	if result.AgentResponse.Reply == "" {
		t.Error("expected an opening message")
	}
}

func TestRoute_CheckinWithMessageCarriesAssessment(t *testing.T) {
	orch, _ := newOrchestrator(t)
	patient := &models.Patient{ID: "p1", Condition: "depression"}

	result, err := orch.Route(context.Background(), patient, models.InteractionCheckin, "s1", "I feel hopeless and down")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assessment, ok := result.AgentResponse.Metadata["emotional_assessment"].(models.EmotionalAssessment)
	if !ok {
		t.Fatalf("expected an emotional assessment in metadata, got %v", result.AgentResponse.Metadata)
	}
	if assessment.State != "depressed" {
		t.Errorf("expected depressed state, got %q", assessment.State)
	}
	if !strings.Contains(result.AgentResponse.Reply, "healthcare provider") {
		t.Errorf("expected escalation language, got %q", result.AgentResponse.Reply)
	}
}

func TestRoute_QuestionnaireDelegates(t *testing.T) {
	orch, _ := newOrchestrator(t)
	patient := &models.Patient{ID: "p1", Condition: "diabetes"}

	result, err := orch.Route(context.Background(), patient, models.InteractionQuestionnaire, "s1", "pretty normal today")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AgentResponse.Agent != QuestionnaireAgentName {
		t.Errorf("expected questionnaire agent, got %q", result.AgentResponse.Agent)
	}
	if _, ok := result.Metadata["question_category"]; !ok {
		t.Errorf("expected question metadata, got %v", result.Metadata)
	}
}

func TestRoute_TrendAnalysisUsesStoredHistory(t *testing.T) {
	orch, st := newOrchestrator(t)
	patient := &models.Patient{ID: "p1", Condition: "diabetes"}
	if err := st.CreatePatient(*patient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, pro := range proSeries("p1", "blood_sugar", 120, 125, 130) {
		if err := st.AddPROResponse(pro); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	result, err := orch.Route(context.Background(), patient, models.InteractionTrendAnalysis, "s1", "ignored")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NextAction != NextActionReviewTrends {
		t.Errorf("expected review-trends action, got %q", result.NextAction)
	}
	analysis, ok := result.AgentResponse.Metadata["analysis"].(*models.TrendAnalysis)
	if !ok {
		t.Fatalf("expected analysis in metadata, got %v", result.AgentResponse.Metadata)
	}
	if analysis.DataPoints != 3 {
		t.Errorf("expected 3 data points, got %d", analysis.DataPoints)
	}
}

func TestRoute_UnknownTypeDefaultsToCheckin(t *testing.T) {
	orch, _ := newOrchestrator(t)
	patient := &models.Patient{ID: "p1", Condition: "diabetes"}

	for _, interactionType := range []models.InteractionType{"", "video_call", "unknown"} {
		result, err := orch.Route(context.Background(), patient, interactionType, "s1", "")
		if err != nil {
			t.Fatalf("type %q: unexpected error: %v", interactionType, err)
		}
		if result.AgentResponse.Agent != CompanionAgentName {
			t.Errorf("type %q: expected companion fallback, got %q", interactionType, result.AgentResponse.Agent)
		}
	}
}
