// Package insights owns the clinical insight lifecycle: persist first, then
// publish to the event pipeline, then notify connected clients.
package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/CareLoop/CareLoop/internal/bus"
	"github.com/CareLoop/CareLoop/internal/genai"
	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/notify"
	"github.com/CareLoop/CareLoop/internal/store"
	"github.com/CareLoop/CareLoop/internal/util"
)

// InsightEventName is the websocket event pushed when an insight is created.
const InsightEventName = "new_clinical_insight"

// narrativeSystemPrompt guides the optional insight rephrasing.
const narrativeSystemPrompt = "You are a clinical documentation assistant. Rephrase the finding below as one or two clear sentences for a clinician. Keep all clinical facts; add nothing."

// Publisher persists insights and fans them out. The order is fixed: an
// insight that failed to persist is never published, and clients are only
// notified after a successful publish.
type Publisher struct {
	store store.Store
	bus   bus.Bus
	hub   *notify.Hub
	gen   genai.Generator
}

// NewPublisher wires the publisher. gen may be nil; insight text is then
// used verbatim.
func NewPublisher(s store.Store, b bus.Bus, h *notify.Hub, gen genai.Generator) *Publisher {
	return &Publisher{store: s, bus: b, hub: h, gen: gen}
}

// Create runs the insight lifecycle for one finding. Re-creating an insight
// with the same source returns the already-persisted one without publishing
// again, so redelivered events cannot duplicate insights.
func (p *Publisher) Create(ctx context.Context, insight models.ClinicalInsight) (*models.ClinicalInsight, error) {
	if err := insight.Validate(); err != nil {
		return nil, fmt.Errorf("invalid insight: %w", err)
	}

	if insight.SourceID != "" {
		existing, err := p.store.FindInsightBySource(insight.SourceType, insight.SourceID)
		if err != nil {
			return nil, fmt.Errorf("failed to check for existing insight: %w", err)
		}
		if existing != nil {
			slog.Debug("Publisher Create found existing insight", "patientID", insight.PatientID, "sourceType", insight.SourceType, "sourceID", insight.SourceID)
			return existing, nil
		}
	}

	if insight.ID == "" {
		insight.ID = util.NewID()
	}
	if insight.CreatedAt.IsZero() {
		insight.CreatedAt = time.Now()
	}
	insight.Text = p.narrate(ctx, insight.Text)

	if err := p.store.AddInsight(insight); err != nil {
		slog.Error("Publisher Create failed to persist insight", "patientID", insight.PatientID, "error", err)
		return nil, fmt.Errorf("failed to persist insight: %w", err)
	}

	payload, err := json.Marshal(insight)
	if err != nil {
		slog.Warn("Publisher Create persisted but could not encode insight for publish", "insightID", insight.ID, "error", err)
		return &insight, nil
	}
	if err := p.bus.Publish(ctx, bus.TopicClinicalInsight, payload); err != nil {
		slog.Warn("Publisher Create persisted but failed to publish insight", "insightID", insight.ID, "error", err)
		return &insight, nil
	}

	p.hub.SendToPatient(insight.PatientID, InsightEventName, insight)
	slog.Debug("Publisher Create completed", "insightID", insight.ID, "patientID", insight.PatientID, "severity", insight.Severity)
	return &insight, nil
}

// narrate optionally rewrites the insight text through the generator,
// falling back to the original text on any failure.
func (p *Publisher) narrate(ctx context.Context, text string) string {
	if p.gen == nil {
		return text
	}
	out, err := p.gen.Generate(ctx, narrativeSystemPrompt, text)
	if err != nil || out == "" {
		if err != nil {
			slog.Debug("Publisher narrative generation failed, keeping original text", "error", err)
		}
		return text
	}
	return out
}
