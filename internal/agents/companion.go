package agents

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/util"
)

// CompanionAgentName identifies the companion agent in responses.
const CompanionAgentName = "companion"

// checkInTemplates holds the check-in openers per condition key. Keys are
// matched as substrings of the patient condition, in order, with "general"
// as the fallback.
var checkInConditionOrder = []string{"diabetes", "hypertension", "depression", "chronic_pain"}

var checkInTemplates = map[string][]string{
	"diabetes": {
		"How are you feeling today? I'd like to check in on your diabetes management.",
		"Good morning! How did your blood sugar levels look today?",
		"Hi there! How are you managing your diabetes symptoms this week?",
	},
	"hypertension": {
		"Hello! How are you feeling today? Any changes in your blood pressure?",
		"Good day! How has your blood pressure been this week?",
		"Hi! How are you managing your hypertension symptoms?",
	},
	"depression": {
		"How are you feeling today? I'm here to listen and support you.",
		"Good morning! How has your mood been this week?",
		"Hi there! How are you coping with your symptoms today?",
	},
	"chronic_pain": {
		"How are you feeling today? I'd like to check in on your pain levels.",
		"Good morning! How has your pain been this week?",
		"Hi! How are you managing your chronic pain symptoms?",
	},
	"general": {
		"How are you feeling today? I'd like to check in on your health.",
		"Good morning! How has your week been?",
		"Hi there! How are you managing your condition?",
	},
}

// emotionKeywords maps emotional states to the message keywords that signal
// them. Evaluated in emotionOrder; first hit wins.
var emotionOrder = []string{"fatigued", "anxious", "depressed", "positive"}

var emotionKeywords = map[string]struct {
	Words   []string
	Urgency models.Severity
}{
	"fatigued":  {Words: []string{"tired", "exhausted", "fatigue", "drained"}, Urgency: models.SeverityMedium},
	"anxious":   {Words: []string{"anxious", "worried", "stressed", "nervous"}, Urgency: models.SeverityMedium},
	"depressed": {Words: []string{"sad", "depressed", "down", "hopeless"}, Urgency: models.SeverityHigh},
	"positive":  {Words: []string{"good", "great", "better", "improving"}, Urgency: models.SeverityLow},
}

// CompanionAgent initiates check-ins, reads emotional cues, and keeps
// conversations going. It never blocks a conversation on its own failures.
type CompanionAgent struct {
	rng *rand.Rand
}

// NewCompanionAgent creates a companion agent drawing check-in templates
// from the given random source.
func NewCompanionAgent(rng *rand.Rand) *CompanionAgent {
	return &CompanionAgent{rng: rng}
}

// InitialMessage generates the opening check-in for a patient, picked from
// the condition's template pool and personalized to the patient.
func (a *CompanionAgent) InitialMessage(patient *models.Patient) string {
	condition := strings.ToLower(patient.Condition)
	key := "general"
	for _, k := range checkInConditionOrder {
		if strings.Contains(condition, k) {
			key = k
			break
		}
	}

	template := util.Pick(a.rng, checkInTemplates[key])
	msg := a.personalize(template, patient)
	slog.Debug("CompanionAgent InitialMessage generated", "patientID", patient.ID, "templateKey", key)
	return msg
}

// personalize appends a support clause reflecting the patient's needs.
func (a *CompanionAgent) personalize(template string, patient *models.Patient) string {
	if needs := patient.AccessibilityNeeds; needs != "" && !strings.EqualFold(needs, "none") {
		return template + " I'll make sure our conversation is accessible for your needs."
	}
	condition := patient.Condition
	if condition == "" {
		condition = "health"
	}
	return fmt.Sprintf("%s I'm here to support your %s management.", template, condition)
}

// DetectEmotionalState classifies a patient message by keyword lookup.
// Messages with no recognizable cue come back neutral with low urgency.
func (a *CompanionAgent) DetectEmotionalState(message string) models.EmotionalAssessment {
	lower := strings.ToLower(message)
	for _, state := range emotionOrder {
		entry := emotionKeywords[state]
		for _, w := range entry.Words {
			if strings.Contains(lower, w) {
				return models.EmotionalAssessment{
					State:       state,
					Confidence:  0.7,
					KeyEmotions: []string{state},
					Urgency:     entry.Urgency,
					Tone:        "supportive",
				}
			}
		}
	}
	return models.EmotionalAssessment{
		State:       "neutral",
		Confidence:  0.7,
		KeyEmotions: []string{"neutral"},
		Urgency:     models.SeverityLow,
		Tone:        "supportive",
	}
}

// GenerateFollowUp produces a reply appropriate to the detected emotional
// state, escalating support language for depressed or high-urgency states.
func (a *CompanionAgent) GenerateFollowUp(assessment models.EmotionalAssessment) string {
	switch {
	case assessment.State == "depressed" || assessment.Urgency == models.SeverityHigh:
		return "I hear that you're going through a difficult time. It's important to talk to your healthcare provider about these feelings. How can I best support you right now?"
	case assessment.State == "anxious":
		return "I understand that you're feeling anxious. Let's take this step by step. What specific concerns do you have about your health?"
	case assessment.State == "fatigued":
		return "I can see that you're feeling tired. This is common with chronic conditions. Let's explore what might be contributing to your fatigue."
	default:
		return "Thank you for sharing that with me. Let's continue with some questions to better understand your current health status."
	}
}

// GenerateCompletionMessage closes a session, summarizing up to two of the
// analysis recommendations when there are any.
func (a *CompanionAgent) GenerateCompletionMessage(patient *models.Patient, recommendations []string) string {
	condition := patient.Condition
	if condition == "" {
		condition = "health"
	}

	var b strings.Builder
	b.WriteString("Thank you for sharing your health information with us today. ")
	fmt.Fprintf(&b, "We've analyzed your %s data and have some insights to share. ", condition)
	if len(recommendations) > 0 {
		top := recommendations
		if len(top) > 2 {
			top = top[:2]
		}
		fmt.Fprintf(&b, "Key recommendations include: %s. ", strings.Join(top, ", "))
	}
	b.WriteString("We'll use this information to better support your care. ")
	b.WriteString("Please continue to monitor your symptoms and reach out if you have any concerns.")
	return b.String()
}
