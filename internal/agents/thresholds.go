package agents

// questionThreshold holds the clinical limits for one tracked question.
// High/Low are nil when no limit applies in that direction. LowerIsWorse
// marks metrics where a downward trend is the concerning one (mood, energy).
type questionThreshold struct {
	High         *float64
	Low          *float64
	LowerIsWorse bool
}

func limit(v float64) *float64 { return &v }

// riskThresholds maps condition → question id → clinical limits.
var riskThresholds = map[string]map[string]questionThreshold{
	"diabetes": {
		"blood_sugar": {High: limit(180), Low: limit(70)},
	},
	// Blood pressure readings arrive as one number per question id, so the
	// systolic and diastolic bounds are tracked as separate questions.
	"hypertension": {
		"blood_pressure":           {High: limit(140)},
		"blood_pressure_diastolic": {High: limit(90)},
		"stress":                   {High: limit(7)},
	},
	"depression": {
		"mood":   {Low: limit(4), LowerIsWorse: true},
		"energy": {Low: limit(3), LowerIsWorse: true},
	},
	"chronic_pain": {
		"pain_level":  {High: limit(7)},
		"pain_impact": {High: limit(8)},
	},
}

// conditionRecommendations holds the maintenance guidance issued with every
// analysis for a known condition.
var conditionRecommendations = map[string][]string{
	"diabetes": {
		"Monitor blood sugar levels more closely",
		"Review medication adherence",
		"Consider dietary adjustments",
	},
	"hypertension": {
		"Continue blood pressure monitoring",
		"Maintain stress management techniques",
		"Review medication effectiveness",
	},
	"depression": {
		"Schedule mental health follow-up",
		"Consider therapy or counseling",
		"Monitor medication side effects",
	},
}

// thresholdsForCondition returns the limit table for a condition, which may
// be empty for conditions without numeric limits.
func thresholdsForCondition(condition string) map[string]questionThreshold {
	return riskThresholds[condition]
}
