package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"decision-flip/backend/internal/flip"
	"decision-flip/backend/internal/metrics"
	"decision-flip/backend/internal/scoring"
	"decision-flip/backend/internal/store"
)

// Store is the persistence the lifecycle writes through. Every call is scoped
// to the owning user.
type Store interface {
	CreateDecision(ctx context.Context, decision *store.Decision) error
	GetDecision(ctx context.Context, userID, id string) (*store.Decision, error)
	UpdateFinalChoice(ctx context.Context, userID, id, finalChoice string) (*store.Decision, error)
}

// Engine runs the flip and finalize transitions against a store.
type Engine struct {
	store  Store
	bias   *scoring.BiasDetector
	source flip.Source
	now    func() time.Time
}

// NewEngine wires an engine. A nil detector or source falls back to the defaults.
func NewEngine(s Store, bias *scoring.BiasDetector, source flip.Source) *Engine {
	if bias == nil {
		bias, _ = scoring.NewBiasDetector("")
	}
	if source == nil {
		source = flip.DefaultSource
	}
	return &Engine{store: s, bias: bias, source: source, now: time.Now}
}

// Flip moves an analysed draft to FLIPPED: it draws the result, computes the
// bias report against the same weights, and persists the decision in one write.
// A draft whose write failed keeps its drawn result when retried.
func (e *Engine) Flip(ctx context.Context, d *Draft) (*store.Decision, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil draft", ErrInvalidInput)
	}
	if err := canAdvance(d.ID, d.state, StateFlipped); err != nil {
		return nil, err
	}

	if d.result == "" {
		result, err := flip.Select(d.weights, e.source)
		if err != nil {
			return nil, fmt.Errorf("select option: %w", err)
		}
		d.result = result
		d.bias = e.bias.Detect(d.answers, d.initialChoice, d.weights)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = e.now()
	}

	record := &store.Decision{
		ID:            d.ID,
		UserID:        d.UserID,
		Question:      d.Question,
		Analysis:      d.analysis.Analysis,
		Explanation:   d.analysis.Recommendation,
		InitialChoice: d.initialChoice,
		Result:        d.result,
		CreatedAt:     d.CreatedAt,
	}
	record.SetOptions(d.Options)
	record.SetClarifyingAnswers(d.answers)
	record.SetWeights(d.weights)

	if err := e.store.CreateDecision(ctx, record); err != nil {
		return nil, fmt.Errorf("persist decision: %w", err)
	}
	d.state = StateFlipped

	m := metrics.Get()
	m.Flips.Inc()
	m.BiasDetections.WithLabelValues(string(d.bias.BiasType)).Inc()
	logrus.WithFields(logrus.Fields{
		"decision_id": d.ID,
		"user_id":     d.UserID,
		"result":      d.result,
		"bias":        d.bias.BiasType,
	}).Info("decision flipped")
	return record, nil
}

// Finalize records the user's final choice on a flipped decision. The choice
// must be one of the decision's options and may be recorded only once.
func (e *Engine) Finalize(ctx context.Context, userID, id, finalChoice string) (*store.Decision, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: decision id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(finalChoice) == "" {
		return nil, fmt.Errorf("%w: final choice is required", ErrInvalidInput)
	}
	existing, err := e.store.GetDecision(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := canAdvance(id, StateOf(existing), StateFinalized); err != nil {
		return nil, err
	}
	choice, ok := canonicalOption(existing.Options(), finalChoice)
	if !ok {
		return nil, fmt.Errorf("%w: final choice %q is not one of the options", ErrInvalidInput, finalChoice)
	}

	updated, err := e.store.UpdateFinalChoice(ctx, userID, id, choice)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyFinalized) {
			return nil, fmt.Errorf("%w: decision %s", ErrAlreadyFinalized, id)
		}
		return nil, err
	}

	matched := updated.FinalChoice == updated.Result
	metrics.Get().Finalizations.WithLabelValues(strconv.FormatBool(matched)).Inc()
	logrus.WithFields(logrus.Fields{
		"decision_id":    id,
		"user_id":        userID,
		"final_choice":   choice,
		"matched_result": matched,
	}).Info("decision finalized")
	return updated, nil
}
