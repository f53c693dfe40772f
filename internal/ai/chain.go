package ai

import (
	"context"

	"github.com/sirupsen/logrus"
)

type oracleChain struct {
	primary  Oracle
	fallback Oracle
}

// WithFallback returns an oracle that first tries the primary implementation and
// falls back to the provided oracle when the primary is unavailable or fails.
func WithFallback(primary, fallback Oracle) Oracle {
	if primary == nil {
		return fallback
	}
	if fallback == nil {
		return primary
	}
	return &oracleChain{primary: primary, fallback: fallback}
}

func (c *oracleChain) Enabled() bool {
	if c == nil {
		return false
	}
	if c.primary != nil && c.primary.Enabled() {
		return true
	}
	if c.fallback != nil && c.fallback.Enabled() {
		return true
	}
	return false
}

func (c *oracleChain) ClarifyingQuestions(ctx context.Context, input QuestionsInput) ([]ClarifyingQuestion, error) {
	if c == nil {
		return nil, ErrDisabled
	}
	var primaryErr error
	if c.primary != nil && c.primary.Enabled() {
		questions, err := c.primary.ClarifyingQuestions(ctx, input)
		if err == nil {
			return questions, nil
		}
		primaryErr = err
		logrus.WithError(err).Warn("primary oracle failed to generate questions; trying fallback")
	}
	if c.fallback != nil && c.fallback.Enabled() {
		return c.fallback.ClarifyingQuestions(ctx, input)
	}
	if primaryErr != nil {
		return nil, primaryErr
	}
	return nil, ErrDisabled
}

func (c *oracleChain) Analyze(ctx context.Context, input AnalysisInput) (Analysis, error) {
	if c == nil {
		return Analysis{}, ErrDisabled
	}
	var primaryErr error
	if c.primary != nil && c.primary.Enabled() {
		analysis, err := c.primary.Analyze(ctx, input)
		if err == nil {
			return analysis, nil
		}
		primaryErr = err
		logrus.WithError(err).Warn("primary oracle analysis failed; trying fallback")
	}
	if c.fallback != nil && c.fallback.Enabled() {
		return c.fallback.Analyze(ctx, input)
	}
	if primaryErr != nil {
		return Analysis{}, primaryErr
	}
	return Analysis{}, ErrDisabled
}
