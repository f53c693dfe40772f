package lifecycle

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"decision-flip/backend/internal/ai"
	"decision-flip/backend/internal/scoring"
	"decision-flip/backend/internal/store"
)

const (
	// MinOptions is the fewest options a decision may have.
	MinOptions = 2
	// WeightTotal is the sum oracle weights are expected to reach.
	WeightTotal = 100.0
	// WeightTolerance absorbs rounding in oracle weights.
	WeightTolerance = 1.0
)

// Draft is the in-memory decision before it is persisted by Flip.
type Draft struct {
	ID        string
	UserID    string
	Question  string
	Options   []string
	CreatedAt time.Time

	initialChoice string
	answers       []store.ClarifyingAnswer
	analysis      ai.Analysis
	weights       []store.OptionWeight
	result        string
	bias          scoring.BiasReport
	state         State
}

// NewDraft validates the question and options and allocates a fresh id.
func NewDraft(userID, question string, options []string) (*Draft, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidInput)
	}
	cleaned, err := cleanOptions(options)
	if err != nil {
		return nil, err
	}
	return &Draft{
		ID:       uuid.NewString(),
		UserID:   userID,
		Question: question,
		Options:  cleaned,
		state:    StateCreated,
	}, nil
}

func cleanOptions(options []string) ([]string, error) {
	cleaned := make([]string, 0, len(options))
	seen := make(map[string]struct{}, len(options))
	for _, opt := range options {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			return nil, fmt.Errorf("%w: options must not be blank", ErrInvalidInput)
		}
		key := strings.ToLower(opt)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate option %q", ErrInvalidInput, opt)
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, opt)
	}
	if len(cleaned) < MinOptions {
		return nil, fmt.Errorf("%w: at least %d options required", ErrInvalidInput, MinOptions)
	}
	return cleaned, nil
}

// State returns the draft's current state.
func (d *Draft) State() State { return d.state }

// InitialChoice returns the user's gut choice, or "" when none was given.
func (d *Draft) InitialChoice() string { return d.initialChoice }

// ClarifyingAnswers returns the answers recorded for the draft.
func (d *Draft) ClarifyingAnswers() []store.ClarifyingAnswer { return d.answers }

// Analysis returns the oracle analysis applied to the draft.
func (d *Draft) Analysis() ai.Analysis { return d.analysis }

// Weights returns the validated option weights.
func (d *Draft) Weights() []store.OptionWeight { return d.weights }

// Result returns the flipped option, or "" before the flip.
func (d *Draft) Result() string { return d.result }

// Bias returns the report computed during the flip.
func (d *Draft) Bias() scoring.BiasReport { return d.bias }

// Canonical resolves label to the matching option, ignoring case and surrounding space.
func (d *Draft) Canonical(label string) (string, bool) {
	return canonicalOption(d.Options, label)
}

func canonicalOption(options []string, label string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(label))
	if key == "" {
		return "", false
	}
	for _, opt := range options {
		if strings.ToLower(strings.TrimSpace(opt)) == key {
			return opt, true
		}
	}
	return "", false
}

// SetInitialChoice records the user's pre-analysis preference. An empty choice
// is allowed and means the user had none.
func (d *Draft) SetInitialChoice(choice string) error {
	if err := canAdvance(d.ID, d.state, StateInitialChoiceSet); err != nil {
		return err
	}
	if strings.TrimSpace(choice) != "" {
		canonical, ok := d.Canonical(choice)
		if !ok {
			return fmt.Errorf("%w: initial choice %q is not one of the options", ErrInvalidInput, choice)
		}
		d.initialChoice = canonical
	}
	d.state = StateInitialChoiceSet
	return nil
}

// AnswerClarifying records the clarification step. Blank pairs are dropped and
// an empty set is allowed.
func (d *Draft) AnswerClarifying(answers []store.ClarifyingAnswer) error {
	if err := canAdvance(d.ID, d.state, StateClarifyingAnswered); err != nil {
		return err
	}
	kept := make([]store.ClarifyingAnswer, 0, len(answers))
	for _, qa := range answers {
		qa.Question = strings.TrimSpace(qa.Question)
		qa.Answer = strings.TrimSpace(qa.Answer)
		if qa.Question == "" && qa.Answer == "" {
			continue
		}
		kept = append(kept, qa)
	}
	if len(kept) > 0 {
		d.answers = kept
	}
	d.state = StateClarifyingAnswered
	return nil
}

// ApplyAnalysis validates the oracle's weights against the options and records
// the analysis. Labels are rewritten to the option's own spelling.
func (d *Draft) ApplyAnalysis(analysis ai.Analysis) error {
	if err := canAdvance(d.ID, d.state, StateAnalyzed); err != nil {
		return err
	}
	weights, err := ValidateWeights(d.Options, analysis.Weights())
	if err != nil {
		return err
	}
	analyses := make([]ai.OptionAnalysis, len(analysis.OptionAnalyses))
	copy(analyses, analysis.OptionAnalyses)
	for i := range analyses {
		analyses[i].Option = weights[i].Option
	}
	analysis.OptionAnalyses = analyses
	d.analysis = analysis
	d.weights = weights
	d.state = StateAnalyzed
	return nil
}

// ValidateWeights checks that weights are finite, non-negative, cover exactly
// the options and total 100 within WeightTolerance. The returned slice keeps
// the input order with canonical labels.
func ValidateWeights(options []string, weights []store.OptionWeight) ([]store.OptionWeight, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: no option weights", ai.ErrMalformedResponse)
	}
	out := make([]store.OptionWeight, 0, len(weights))
	seen := make(map[string]struct{}, len(weights))
	total := 0.0
	for _, w := range weights {
		if math.IsNaN(w.Weight) || math.IsInf(w.Weight, 0) || w.Weight < 0 {
			return nil, fmt.Errorf("%w: invalid weight %v for %q", ai.ErrMalformedResponse, w.Weight, w.Option)
		}
		label, ok := canonicalOption(options, w.Option)
		if !ok {
			return nil, fmt.Errorf("%w: weight for unknown option %q", ai.ErrMalformedResponse, w.Option)
		}
		if _, dup := seen[label]; dup {
			return nil, fmt.Errorf("%w: option %q weighted twice", ai.ErrMalformedResponse, label)
		}
		seen[label] = struct{}{}
		total += w.Weight
		out = append(out, store.OptionWeight{Option: label, Weight: w.Weight})
	}
	if len(seen) != len(options) {
		return nil, fmt.Errorf("%w: %d of %d options weighted", ai.ErrMalformedResponse, len(seen), len(options))
	}
	if math.Abs(total-WeightTotal) > WeightTolerance {
		return nil, fmt.Errorf("%w: weights total %.2f, expected %.0f", ai.ErrMalformedResponse, total, WeightTotal)
	}
	return out, nil
}
