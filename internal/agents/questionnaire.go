package agents

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/store"
	"github.com/CareLoop/CareLoop/internal/util"
)

// QuestionnaireAgentName identifies the adaptive questionnaire agent in
// responses.
const QuestionnaireAgentName = "adaptive_questionnaire"

// reprompt is returned when a patient reply cannot be worked with at all.
const reprompt = "I understand. Could you tell me more about how you're feeling today?"

var numberPattern = regexp.MustCompile(`\d+(\.\d+)?`)

// ackWords are low-effort acknowledgement tokens. Matched as whole words so
// "ok" in "broken" does not count.
var ackWords = map[string]bool{"yes": true, "no": true, "ok": true, "fine": true}

// connectiveWords signal an elaborated, engaged answer.
var connectiveWords = []string{"because", "since", "when", "how"}

// replyAnalysis is the classification of one patient reply.
type replyAnalysis struct {
	Comprehension models.Level
	Engagement    models.Level
	Extracted     map[string]string
}

// AdaptiveQuestionnaireAgent collects PRO data through adaptive questioning.
// It tracks per-patient comprehension and engagement in memory and adjusts
// question selection and phrasing accordingly. State resets on restart; the
// agent re-learns it within a couple of replies.
type AdaptiveQuestionnaireAgent struct {
	store store.Store
	rng   *rand.Rand

	mu     sync.Mutex
	states map[string]*models.AdaptiveState
	locks  *KeyedMutex
}

// NewAdaptiveQuestionnaireAgent creates a questionnaire agent backed by the
// given store and random source.
func NewAdaptiveQuestionnaireAgent(s store.Store, rng *rand.Rand) *AdaptiveQuestionnaireAgent {
	return &AdaptiveQuestionnaireAgent{
		store:  s,
		rng:    rng,
		states: make(map[string]*models.AdaptiveState),
		locks:  NewKeyedMutex(),
	}
}

// ProcessMessage ingests one patient reply and returns the next question.
// It never aborts a conversation: extraction and store failures are logged
// and the patient still receives a question.
func (a *AdaptiveQuestionnaireAgent) ProcessMessage(ctx context.Context, patient *models.Patient, sessionID, reply string) models.AgentResponse {
	unlock := a.locks.Lock(patient.ID)
	defer unlock()

	analysis := analyzeReply(reply)
	state := a.updateState(patient.ID, analysis)

	bank := bankForCondition(patient.Condition)
	category := bank.Categories[state.QuestionCount%len(bank.Categories)]
	responseType := a.selectResponseType(state)
	question, chosenType := selectTemplate(category, responseType)
	question = adaptPhrasing(question, state.ResponseComplexity)

	a.storeExtracted(patient.ID, sessionID, analysis)

	if question == "" {
		slog.Error("AdaptiveQuestionnaireAgent empty question after selection", "patientID", patient.ID, "category", category.Name)
		question = reprompt
		chosenType = models.ResponseTypeText
	}

	slog.Debug("AdaptiveQuestionnaireAgent ProcessMessage generated question",
		"patientID", patient.ID,
		"category", category.Name,
		"responseType", chosenType,
		"comprehension", state.ComprehensionLevel,
		"engagement", state.EngagementLevel)

	metadata := map[string]any{
		"question_category":   category.Name,
		"comprehension_level": state.ComprehensionLevel,
		"engagement_level":    state.EngagementLevel,
	}
	if chosenType == models.ResponseTypeMultipleChoice && len(category.Options) > 0 {
		metadata["options"] = category.Options
	}

	return models.AgentResponse{
		Agent:        QuestionnaireAgentName,
		Reply:        question,
		ResponseType: chosenType,
		Metadata:     metadata,
	}
}

// State returns a copy of a patient's adaptive state, or the zero value when
// the patient has not answered yet.
func (a *AdaptiveQuestionnaireAgent) State(patientID string) models.AdaptiveState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.states[patientID]; ok {
		return *s
	}
	return models.AdaptiveState{}
}

// analyzeReply classifies one reply. Comprehension follows length;
// engagement checks acknowledgement tokens before connectives so a bare
// "yes, because..." still counts as low effort only when it has no
// elaboration words at all.
func analyzeReply(reply string) replyAnalysis {
	lower := strings.ToLower(reply)

	var comprehension models.Level
	switch {
	case len(reply) < 10:
		comprehension = models.LevelLow
	case len(reply) > 50:
		comprehension = models.LevelHigh
	default:
		comprehension = models.LevelMedium
	}

	engagement := models.LevelMedium
	if hasAckToken(lower) {
		engagement = models.LevelLow
	} else {
		for _, w := range connectiveWords {
			if strings.Contains(lower, w) {
				engagement = models.LevelHigh
				break
			}
		}
	}

	extracted := make(map[string]string)
	if strings.Contains(lower, "blood sugar") || strings.Contains(lower, "glucose") {
		if n := numberPattern.FindString(reply); n != "" {
			extracted["blood_sugar"] = n
		}
	}

	return replyAnalysis{Comprehension: comprehension, Engagement: engagement, Extracted: extracted}
}

// hasAckToken reports whether the reply contains a bare acknowledgement word.
func hasAckToken(lower string) bool {
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z')
	}) {
		if ackWords[tok] {
			return true
		}
	}
	return false
}

// updateState folds one reply analysis into the patient's adaptive state and
// returns the state used for the next question selection. The question count
// is incremented first so selection sees the reply that just arrived.
func (a *AdaptiveQuestionnaireAgent) updateState(patientID string, analysis replyAnalysis) models.AdaptiveState {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.states[patientID]
	if !ok {
		state = &models.AdaptiveState{
			ComprehensionLevel: models.LevelMedium,
			EngagementLevel:    models.LevelMedium,
			ResponseComplexity: models.ComplexityMedium,
		}
		a.states[patientID] = state
	}

	switch analysis.Comprehension {
	case models.LevelLow:
		state.ComprehensionLevel = models.LevelLow
		state.ResponseComplexity = models.ComplexitySimple
	case models.LevelHigh:
		state.ComprehensionLevel = models.LevelHigh
		state.ResponseComplexity = models.ComplexityComplex
	}
	state.EngagementLevel = analysis.Engagement
	state.QuestionCount++
	state.LastResponseTime = time.Now()

	return *state
}

// selectResponseType picks the answer format for the next question. Low
// comprehension always gets plain text; high engagement gets the more
// interactive formats.
func (a *AdaptiveQuestionnaireAgent) selectResponseType(state models.AdaptiveState) models.ResponseType {
	switch {
	case state.ComprehensionLevel == models.LevelLow:
		return models.ResponseTypeText
	case state.EngagementLevel == models.LevelHigh:
		return util.Pick(a.rng, []models.ResponseType{models.ResponseTypeScale, models.ResponseTypeMultipleChoice})
	default:
		return util.Pick(a.rng, []models.ResponseType{models.ResponseTypeText, models.ResponseTypeNumeric, models.ResponseTypeScale})
	}
}

// selectTemplate resolves a question for the wanted response type, falling
// back to the category's text template and then to the default prompt.
func selectTemplate(category questionCategory, want models.ResponseType) (string, models.ResponseType) {
	if q, ok := category.Templates[want]; ok {
		return q, want
	}
	if q, ok := category.Templates[models.ResponseTypeText]; ok {
		return q, models.ResponseTypeText
	}
	return defaultPrompt, models.ResponseTypeText
}

// adaptPhrasing rewrites a question for the patient's complexity level.
// Simple phrasing spells out abbreviations; complex phrasing adds clinical
// context.
func adaptPhrasing(question string, complexity models.Complexity) string {
	switch complexity {
	case models.ComplexitySimple:
		if strings.Contains(question, "scale of 1-10") {
			return strings.Replace(question, "scale of 1-10", "scale from 1 to 10", 1)
		}
		if strings.Contains(question, "mg/dL") {
			return strings.Replace(question, "mg/dL", "milligrams per deciliter", 1)
		}
		return question
	case models.ComplexityComplex:
		if strings.Contains(strings.ToLower(question), "blood sugar") {
			return question + " (Normal range is typically 80-120 mg/dL)"
		}
		return question
	default:
		return question
	}
}

// storeExtracted persists any structured PRO values found in the reply.
// Failures are logged, not returned; losing one data point must not stall
// the conversation.
func (a *AdaptiveQuestionnaireAgent) storeExtracted(patientID, sessionID string, analysis replyAnalysis) {
	for questionID, value := range analysis.Extracted {
		pro := models.PROResponse{
			ID:         util.NewID(),
			PatientID:  patientID,
			SessionID:  sessionID,
			QuestionID: questionID,
			Value:      value,
			ValueType:  models.ResponseTypeText,
			Timestamp:  time.Now(),
		}
		if err := a.store.AddPROResponse(pro); err != nil {
			slog.Error("AdaptiveQuestionnaireAgent failed to store extracted PRO response", "patientID", patientID, "questionID", questionID, "error", err)
		}
	}
}
