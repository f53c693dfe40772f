package api

import (
	"time"

	"decision-flip/backend/internal/ai"
	"decision-flip/backend/internal/scoring"
	"decision-flip/backend/internal/store"
)

// ClarifyRequest asks for clarifying questions about a new decision.
type ClarifyRequest struct {
	Question string   `json:"question" binding:"required"`
	Options  []string `json:"options" binding:"required,min=2,dive,required"`
}

// ClarifyResponse carries the generated questions.
type ClarifyResponse struct {
	Questions []ai.ClarifyingQuestion `json:"questions"`
}

// DecideRequest submits a decision for analysis and the weighted flip.
type DecideRequest struct {
	Question          string                   `json:"question" binding:"required"`
	Options           []string                 `json:"options" binding:"required,min=2,dive,required"`
	ClarifyingAnswers []store.ClarifyingAnswer `json:"clarifyingAnswers"`
	InitialChoice     string                   `json:"initialChoice"`
}

// DecideResponse wraps the flipped decision.
type DecideResponse struct {
	Decision DecisionResultDTO `json:"decision"`
}

// DecisionResultDTO is the analysis, flip result and bias report of a new decision.
type DecisionResultDTO struct {
	ID             string              `json:"id"`
	Analysis       string              `json:"analysis"`
	OptionAnalyses []ai.OptionAnalysis `json:"optionAnalyses"`
	KeyFactors     []string            `json:"keyFactors"`
	Result         string              `json:"result"`
	Recommendation string              `json:"recommendation"`
	Bias           scoring.BiasReport  `json:"bias"`
}

// UpdateChoiceRequest records the user's final choice.
type UpdateChoiceRequest struct {
	DecisionID  string `json:"decisionId" binding:"required"`
	FinalChoice string `json:"finalChoice" binding:"required"`
}

// UpdateChoiceResponse returns the finalized decision.
type UpdateChoiceResponse struct {
	Success  bool        `json:"success"`
	Decision DecisionDTO `json:"decision"`
}

// HistoryResponse lists a user's decisions, newest first.
type HistoryResponse struct {
	Decisions []DecisionDTO `json:"decisions"`
}

// SingleDecisionResponse wraps one decision.
type SingleDecisionResponse struct {
	Decision DecisionDTO `json:"decision"`
}

// BulkDeleteResponse reports how many in-progress decisions were removed.
type BulkDeleteResponse struct {
	Success      bool  `json:"success"`
	DeletedCount int64 `json:"deletedCount"`
}

// DecisionDTO is the API representation of a persisted decision. Stored JSON
// that cannot be decoded is rendered as an empty value.
type DecisionDTO struct {
	ID                string                   `json:"id"`
	Question          string                   `json:"question"`
	Options           []string                 `json:"options"`
	Result            string                   `json:"result"`
	InitialChoice     *string                  `json:"initialChoice"`
	FinalChoice       *string                  `json:"finalChoice"`
	Analysis          string                   `json:"analysis"`
	Explanation       string                   `json:"explanation"`
	Weights           []store.OptionWeight     `json:"weights"`
	ClarifyingAnswers []store.ClarifyingAnswer `json:"clarifyingAnswers"`
	CreatedAt         time.Time                `json:"createdAt"`
}

// DecisionFromModel maps a store.Decision into its DTO.
func DecisionFromModel(d store.Decision) DecisionDTO {
	options := d.Options()
	if options == nil {
		options = []string{}
	}
	weights := d.Weights()
	if weights == nil {
		weights = []store.OptionWeight{}
	}
	return DecisionDTO{
		ID:                d.ID,
		Question:          d.Question,
		Options:           options,
		Result:            d.Result,
		InitialChoice:     nullable(d.InitialChoice),
		FinalChoice:       nullable(d.FinalChoice),
		Analysis:          d.Analysis,
		Explanation:       d.Explanation,
		Weights:           weights,
		ClarifyingAnswers: d.ClarifyingAnswers(),
		CreatedAt:         d.CreatedAt,
	}
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
