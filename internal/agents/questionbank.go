package agents

import (
	"strings"

	"github.com/CareLoop/CareLoop/internal/models"
)

// defaultPrompt is the question of last resort when no template matches.
const defaultPrompt = "How are you feeling today?"

// questionCategory groups the phrasings of one PRO topic by response type.
// Categories are visited round-robin, so their order is significant.
type questionCategory struct {
	Name      string
	Templates map[models.ResponseType]string
	Options   []string
}

// questionBank holds the ordered question categories for one condition.
type questionBank struct {
	Condition  string
	Categories []questionCategory
}

var diabetesBank = questionBank{
	Condition: "diabetes",
	Categories: []questionCategory{
		{
			Name: "blood_sugar",
			Templates: map[models.ResponseType]string{
				models.ResponseTypeText:    "What was your blood sugar reading today?",
				models.ResponseTypeNumeric: "Please enter your blood sugar reading (mg/dL):",
				models.ResponseTypeScale:   "On a scale of 1-10, how well controlled do you feel your blood sugar has been today? (1=very poor, 10=excellent)",
			},
		},
		{
			Name: "symptoms",
			Templates: map[models.ResponseType]string{
				models.ResponseTypeMultipleChoice: "Which diabetes symptoms are you experiencing today? (Select all that apply)",
			},
			Options: []string{"Increased thirst", "Frequent urination", "Fatigue", "Blurred vision", "Slow-healing wounds", "None"},
		},
		{
			Name: "medication",
			Templates: map[models.ResponseType]string{
				models.ResponseTypeText:    "Did you take your diabetes medication as prescribed today?",
				models.ResponseTypeBoolean: "Did you take your diabetes medication as prescribed today? (Yes/No)",
			},
		},
	},
}

var hypertensionBank = questionBank{
	Condition: "hypertension",
	Categories: []questionCategory{
		{
			Name: "blood_pressure",
			Templates: map[models.ResponseType]string{
				models.ResponseTypeText:    "What was your blood pressure reading today?",
				models.ResponseTypeNumeric: "Please enter your systolic blood pressure (top number):",
			},
		},
		{
			Name: "symptoms",
			Templates: map[models.ResponseType]string{
				models.ResponseTypeMultipleChoice: "Which symptoms are you experiencing? (Select all that apply)",
			},
			Options: []string{"Headache", "Shortness of breath", "Chest pain", "Dizziness", "Vision problems", "None"},
		},
		{
			Name: "stress",
			Templates: map[models.ResponseType]string{
				models.ResponseTypeScale: "On a scale of 1-10, how stressed do you feel today? (1=very relaxed, 10=extremely stressed)",
			},
		},
	},
}

var depressionBank = questionBank{
	Condition: "depression",
	Categories: []questionCategory{
		{
			Name: "mood",
			Templates: map[models.ResponseType]string{
				models.ResponseTypeScale: "On a scale of 1-10, how would you rate your mood today? (1=very low, 10=excellent)",
			},
		},
		{
			Name: "energy",
			Templates: map[models.ResponseType]string{
				models.ResponseTypeScale: "On a scale of 1-10, how would you rate your energy level today? (1=very low, 10=very high)",
			},
		},
		{
			Name: "sleep",
			Templates: map[models.ResponseType]string{
				models.ResponseTypeText:    "How many hours did you sleep last night?",
				models.ResponseTypeNumeric: "How many hours did you sleep last night?",
			},
		},
		{
			Name: "symptoms",
			Templates: map[models.ResponseType]string{
				models.ResponseTypeMultipleChoice: "Which symptoms are you experiencing today? (Select all that apply)",
			},
			Options: []string{"Sadness", "Loss of interest", "Fatigue", "Sleep problems", "Appetite changes", "Concentration issues", "None"},
		},
	},
}

var chronicPainBank = questionBank{
	Condition: "chronic_pain",
	Categories: []questionCategory{
		{
			Name: "pain_level",
			Templates: map[models.ResponseType]string{
				models.ResponseTypeScale: "On a scale of 1-10, how would you rate your pain level today? (1=no pain, 10=worst pain imaginable)",
			},
		},
		{
			Name: "pain_location",
			Templates: map[models.ResponseType]string{
				models.ResponseTypeText:           "Where is your pain located today?",
				models.ResponseTypeMultipleChoice: "Where is your pain located today? (Select all that apply)",
			},
			Options: []string{"Back", "Neck", "Joints", "Head", "Muscles", "Other"},
		},
		{
			Name: "pain_impact",
			Templates: map[models.ResponseType]string{
				models.ResponseTypeScale: "On a scale of 1-10, how much is pain affecting your daily activities today? (1=not at all, 10=completely)",
			},
		},
	},
}

var questionBanks = []questionBank{diabetesBank, hypertensionBank, depressionBank, chronicPainBank}

// bankForCondition returns the question bank for a patient condition. Unknown
// conditions fall back to the diabetes bank so a session can always proceed.
func bankForCondition(condition string) questionBank {
	c := strings.ToLower(strings.TrimSpace(condition))
	for _, b := range questionBanks {
		if b.Condition == c {
			return b
		}
	}
	return diabetesBank
}
