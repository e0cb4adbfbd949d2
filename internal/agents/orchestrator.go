package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/store"
)

// Next-action hints returned with interaction results.
const (
	NextActionAwaitReply   = "await_patient_reply"
	NextActionReviewTrends = "review_trend_analysis"
)

// Orchestrator routes interactions to the agent responsible for them. It is
// stateless; all per-patient state lives in the agents and the store.
type Orchestrator struct {
	store         store.Store
	companion     *CompanionAgent
	questionnaire *AdaptiveQuestionnaireAgent
	trends        *TrendMonitoringAgent
}

// NewOrchestrator wires the three agents behind a single routing entrypoint.
func NewOrchestrator(s store.Store, companion *CompanionAgent, questionnaire *AdaptiveQuestionnaireAgent, trends *TrendMonitoringAgent) *Orchestrator {
	return &Orchestrator{store: s, companion: companion, questionnaire: questionnaire, trends: trends}
}

// Route dispatches one interaction by type. Empty and unrecognized types
// fall through to a companion check-in so no patient turn is rejected for a
// routing reason. Agent errors propagate unchanged.
func (o *Orchestrator) Route(ctx context.Context, patient *models.Patient, interactionType models.InteractionType, sessionID, userMessage string) (*models.InteractionResult, error) {
	switch interactionType {
	case models.InteractionQuestionnaire:
		resp := o.questionnaire.ProcessMessage(ctx, patient, sessionID, userMessage)
		return &models.InteractionResult{
			AgentResponse: resp,
			NextAction:    NextActionAwaitReply,
			Metadata:      resp.Metadata,
		}, nil

	case models.InteractionTrendAnalysis:
		history, err := o.store.ListPROResponsesByPatient(patient.ID)
		if err != nil {
			slog.Error("Orchestrator failed to load PRO history", "patientID", patient.ID, "error", err)
			return nil, fmt.Errorf("failed to load PRO history: %w", err)
		}
		analysis, err := o.trends.Analyze(ctx, patient, history)
		if err != nil {
			return nil, err
		}
		reply := o.companion.GenerateCompletionMessage(patient, analysis.Recommendations)
		return &models.InteractionResult{
			AgentResponse: models.AgentResponse{
				Agent:        TrendAgentName,
				Reply:        reply,
				ResponseType: models.ResponseTypeText,
				Metadata:     map[string]any{"analysis": analysis},
			},
			NextAction: NextActionReviewTrends,
		}, nil

	default:
		if interactionType != models.InteractionCheckin && interactionType != "" {
			slog.Debug("Orchestrator unknown interaction type, defaulting to checkin", "interactionType", interactionType, "patientID", patient.ID)
		}
		return o.checkin(patient, userMessage), nil
	}
}

// checkin runs the companion turn: an opener when the patient has not said
// anything, otherwise an emotionally-aware follow-up.
func (o *Orchestrator) checkin(patient *models.Patient, userMessage string) *models.InteractionResult {
	if userMessage == "" {
		return &models.InteractionResult{
			AgentResponse: models.AgentResponse{
				Agent:        CompanionAgentName,
				Reply:        o.companion.InitialMessage(patient),
				ResponseType: models.ResponseTypeText,
			},
			NextAction: NextActionAwaitReply,
		}
	}

	assessment := o.companion.DetectEmotionalState(userMessage)
	return &models.InteractionResult{
		AgentResponse: models.AgentResponse{
			Agent:        CompanionAgentName,
			Reply:        o.companion.GenerateFollowUp(assessment),
			ResponseType: models.ResponseTypeText,
			Metadata:     map[string]any{"emotional_assessment": assessment},
		},
		NextAction: NextActionAwaitReply,
	}
}
