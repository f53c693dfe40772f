package ai

import "decision-flip/backend/internal/store"

// MaxClarifyingQuestions caps how many questions are passed back to the user.
const MaxClarifyingQuestions = 4

// ClarifyingQuestion is a question the oracle wants answered before analysis,
// optionally pre-filled from the user's previous answers.
type ClarifyingQuestion struct {
	Question      string `json:"question"`
	DefaultAnswer string `json:"defaultAnswer"`
}

// OptionAnalysis is the oracle's assessment of one option.
type OptionAnalysis struct {
	Option    string  `json:"option"`
	Analysis  string  `json:"analysis"`
	Weight    float64 `json:"weight"`
	BestCase  string  `json:"bestCase"`
	WorstCase string  `json:"worstCase"`
}

// Analysis captures the structured response expected from the oracle.
type Analysis struct {
	Analysis       string           `json:"analysis"`
	OptionAnalyses []OptionAnalysis `json:"optionAnalyses"`
	KeyFactors     []string         `json:"keyFactors"`
	Recommendation string           `json:"recommendation"`
}

// Weights projects the option analyses onto option weights, preserving order.
func (a Analysis) Weights() []store.OptionWeight {
	out := make([]store.OptionWeight, 0, len(a.OptionAnalyses))
	for _, oa := range a.OptionAnalyses {
		out = append(out, store.OptionWeight{Option: oa.Option, Weight: oa.Weight})
	}
	return out
}

// QuestionsInput describes a request for clarifying questions.
type QuestionsInput struct {
	Question      string
	Options       []string
	AnswerContext string
}

// AnalysisInput describes a request for option analysis and weighting.
type AnalysisInput struct {
	Question          string
	Options           []string
	ClarifyingAnswers []store.ClarifyingAnswer
	DecisionContext   string
}
