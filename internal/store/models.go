package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ClarifyingAnswer is a question/answer pair collected before analysis.
type ClarifyingAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// OptionWeight is the oracle's weighting for a single option.
type OptionWeight struct {
	Option string  `json:"option"`
	Weight float64 `json:"weight"`
}

// Decision is a single question-plus-options session persisted per user.
type Decision struct {
	ID                    string `gorm:"primaryKey;size:36"`
	UserID                string `gorm:"size:64;index;not null"`
	Question              string `gorm:"type:text;not null"`
	OptionsJSON           string `gorm:"type:text;not null"`
	ClarifyingAnswersJSON string `gorm:"type:text"`
	WeightsJSON           string `gorm:"type:text"`
	Analysis              string `gorm:"type:text"`
	Explanation           string `gorm:"type:text"`
	InitialChoice         string `gorm:"size:255"`
	Result                string `gorm:"size:255"`
	FinalChoice           string `gorm:"size:255;index"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SetOptions persists the option labels as JSON.
func (d *Decision) SetOptions(options []string) {
	if options == nil {
		d.OptionsJSON = "[]"
		return
	}
	payload, _ := json.Marshal(options)
	d.OptionsJSON = string(payload)
}

// Options returns the decoded option labels.
func (d *Decision) Options() []string {
	if strings.TrimSpace(d.OptionsJSON) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(d.OptionsJSON), &out); err != nil {
		return nil
	}
	return out
}

// SetClarifyingAnswers stores the answers; an empty slice clears the column.
func (d *Decision) SetClarifyingAnswers(answers []ClarifyingAnswer) {
	if len(answers) == 0 {
		d.ClarifyingAnswersJSON = ""
		return
	}
	payload, _ := json.Marshal(answers)
	d.ClarifyingAnswersJSON = string(payload)
}

// DecodeClarifyingAnswers decodes the stored answers and reports corrupt JSON.
func (d *Decision) DecodeClarifyingAnswers() ([]ClarifyingAnswer, error) {
	if strings.TrimSpace(d.ClarifyingAnswersJSON) == "" {
		return nil, nil
	}
	var out []ClarifyingAnswer
	if err := json.Unmarshal([]byte(d.ClarifyingAnswersJSON), &out); err != nil {
		return nil, fmt.Errorf("decode clarifying answers for %s: %w", d.ID, err)
	}
	return out, nil
}

// ClarifyingAnswers returns the stored answers, or nil when they cannot be decoded.
func (d *Decision) ClarifyingAnswers() []ClarifyingAnswer {
	out, err := d.DecodeClarifyingAnswers()
	if err != nil {
		return nil
	}
	return out
}

// SetWeights persists the option weights as JSON.
func (d *Decision) SetWeights(weights []OptionWeight) {
	if weights == nil {
		d.WeightsJSON = "[]"
		return
	}
	payload, _ := json.Marshal(weights)
	d.WeightsJSON = string(payload)
}

// Weights returns the decoded option weights.
func (d *Decision) Weights() []OptionWeight {
	if strings.TrimSpace(d.WeightsJSON) == "" {
		return nil
	}
	var out []OptionWeight
	if err := json.Unmarshal([]byte(d.WeightsJSON), &out); err != nil {
		return nil
	}
	return out
}

// Finalized reports whether the user has recorded a final choice.
func (d *Decision) Finalized() bool {
	return strings.TrimSpace(d.FinalChoice) != ""
}

// HasOption reports whether label is one of the decision's options.
func (d *Decision) HasOption(label string) bool {
	for _, opt := range d.Options() {
		if opt == label {
			return true
		}
	}
	return false
}
