// Package pipeline runs the asynchronous side of CareLoop: the bus consumers
// that react to patient events and the periodic trend sweep.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/CareLoop/CareLoop/internal/agents"
	"github.com/CareLoop/CareLoop/internal/bus"
	"github.com/CareLoop/CareLoop/internal/insights"
	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/notify"
	"github.com/CareLoop/CareLoop/internal/store"
)

// Consumers holds the handlers subscribed to the event topics. Handlers are
// idempotent through the publisher's source-keyed deduplication, so the
// bus's at-least-once delivery cannot duplicate insights.
type Consumers struct {
	bus       bus.Bus
	store     store.Store
	companion *agents.CompanionAgent
	trends    *agents.TrendMonitoringAgent
	publisher *insights.Publisher
	notifier  notify.Notifier
	locks     *agents.KeyedMutex
}

// NewConsumers wires the event handlers. notifier may be nil; escalation is
// then skipped.
func NewConsumers(b bus.Bus, s store.Store, companion *agents.CompanionAgent, trends *agents.TrendMonitoringAgent, publisher *insights.Publisher, notifier notify.Notifier) *Consumers {
	return &Consumers{
		bus:       b,
		store:     s,
		companion: companion,
		trends:    trends,
		publisher: publisher,
		notifier:  notifier,
		locks:     agents.NewKeyedMutex(),
	}
}

// Start subscribes all handlers to their topics.
func (c *Consumers) Start(ctx context.Context) error {
	if err := c.bus.Subscribe(ctx, bus.TopicNewMessage, c.handleNewMessage); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", bus.TopicNewMessage, err)
	}
	if err := c.bus.Subscribe(ctx, bus.TopicNewAnswer, c.handleNewAnswer); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", bus.TopicNewAnswer, err)
	}
	if err := c.bus.Subscribe(ctx, bus.TopicClinicalInsight, c.handleClinicalInsight); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", bus.TopicClinicalInsight, err)
	}
	slog.Debug("Consumers Start subscribed all topics")
	return nil
}

// handleNewMessage analyzes a free-text message for emotional cues and turns
// high-urgency states into a message_analysis insight.
func (c *Consumers) handleNewMessage(ctx context.Context, msg bus.Message) error {
	var interaction models.Interaction
	if err := json.Unmarshal(msg.Payload, &interaction); err != nil {
		slog.Error("Consumers handleNewMessage malformed payload", "messageID", msg.ID, "error", err)
		return fmt.Errorf("failed to decode interaction event: %w", err)
	}
	if interaction.PatientID == "" {
		slog.Error("Consumers handleNewMessage missing patient id", "messageID", msg.ID)
		return fmt.Errorf("interaction event missing patient id")
	}

	unlock := c.locks.Lock(interaction.PatientID)
	defer unlock()

	assessment := c.companion.DetectEmotionalState(interaction.Payload)
	if assessment.Urgency != models.SeverityHigh && assessment.Urgency != models.SeverityCritical {
		return nil
	}

	_, err := c.publisher.Create(ctx, models.ClinicalInsight{
		PatientID:  interaction.PatientID,
		SourceType: models.SourceMessageAnalysis,
		SourceID:   interaction.ID,
		Text:       fmt.Sprintf("Patient message indicates a %s emotional state requiring attention", assessment.State),
		Severity:   assessment.Urgency,
		Recommendations: []string{
			"Review the patient's recent messages",
			"Consider reaching out directly",
		},
	})
	if err != nil {
		slog.Error("Consumers handleNewMessage failed to create insight", "patientID", interaction.PatientID, "error", err)
		return err
	}
	return nil
}

// handleNewAnswer reruns trend analysis over the patient's history when a
// structured answer arrives, producing a trend_analysis insight when the
// assessed risk is high or critical.
func (c *Consumers) handleNewAnswer(ctx context.Context, msg bus.Message) error {
	var pro models.PROResponse
	if err := json.Unmarshal(msg.Payload, &pro); err != nil {
		slog.Error("Consumers handleNewAnswer malformed payload", "messageID", msg.ID, "error", err)
		return fmt.Errorf("failed to decode PRO response event: %w", err)
	}
	if pro.PatientID == "" {
		slog.Error("Consumers handleNewAnswer missing patient id", "messageID", msg.ID)
		return fmt.Errorf("PRO response event missing patient id")
	}

	unlock := c.locks.Lock(pro.PatientID)
	defer unlock()

	patient, err := c.store.GetPatient(pro.PatientID)
	if err != nil {
		slog.Error("Consumers handleNewAnswer failed to load patient", "patientID", pro.PatientID, "error", err)
		return fmt.Errorf("failed to load patient: %w", err)
	}
	history, err := c.store.ListPROResponsesByPatient(pro.PatientID)
	if err != nil {
		slog.Error("Consumers handleNewAnswer failed to load PRO history", "patientID", pro.PatientID, "error", err)
		return fmt.Errorf("failed to load PRO history: %w", err)
	}

	analysis, err := c.trends.Analyze(ctx, patient, history)
	if err != nil {
		return err
	}
	if analysis.Risk == nil {
		return nil
	}
	if analysis.Risk.OverallRisk != models.SeverityHigh && analysis.Risk.OverallRisk != models.SeverityCritical {
		return nil
	}

	_, err = c.publisher.Create(ctx, models.ClinicalInsight{
		PatientID:       pro.PatientID,
		SourceType:      models.SourceTrendAnalysis,
		SourceID:        pro.ID,
		Text:            fmt.Sprintf("Trend analysis assessed %s overall risk across %d data points", analysis.Risk.OverallRisk, analysis.DataPoints),
		Severity:        analysis.Risk.OverallRisk,
		Recommendations: analysis.Recommendations,
	})
	if err != nil {
		slog.Error("Consumers handleNewAnswer failed to create insight", "patientID", pro.PatientID, "error", err)
		return err
	}
	return nil
}

// handleClinicalInsight escalates high-severity persisted insights to the
// on-call clinician.
func (c *Consumers) handleClinicalInsight(ctx context.Context, msg bus.Message) error {
	var insight models.ClinicalInsight
	if err := json.Unmarshal(msg.Payload, &insight); err != nil {
		slog.Error("Consumers handleClinicalInsight malformed payload", "messageID", msg.ID, "error", err)
		return fmt.Errorf("failed to decode insight event: %w", err)
	}

	if insight.Severity != models.SeverityHigh && insight.Severity != models.SeverityCritical {
		return nil
	}
	if c.notifier == nil {
		slog.Debug("Consumers handleClinicalInsight no notifier configured, skipping escalation", "insightID", insight.ID)
		return nil
	}
	if err := c.notifier.NotifyCritical(ctx, insight.PatientID, insight.Text); err != nil {
		slog.Error("Consumers handleClinicalInsight escalation failed", "insightID", insight.ID, "error", err)
		return err
	}
	return nil
}
