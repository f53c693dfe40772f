package history

import (
	"context"
)

// Service combines lookup and formatting into ready-to-inject prompt sections.
type Service struct {
	matcher   *Matcher
	formatter Formatter
}

// NewService wires a matcher over q with the given formatter.
func NewService(q Querier, formatter Formatter) *Service {
	return &Service{matcher: NewMatcher(q), formatter: formatter}
}

// Matcher exposes the underlying matcher.
func (s *Service) Matcher() *Matcher {
	return s.matcher
}

// AnswerContext returns the previous-answers section for a new question, or ""
// when there is no usable history.
func (s *Service) AnswerContext(ctx context.Context, userID, question string, options []string) string {
	if s == nil {
		return ""
	}
	return s.formatter.FormatAnswerContext(s.matcher.FindRelevantAnswers(ctx, userID, question, options))
}

// DecisionContext returns the past-decisions section for a new question, or ""
// when there is no usable history.
func (s *Service) DecisionContext(ctx context.Context, userID, question string, options []string) string {
	if s == nil {
		return ""
	}
	return s.formatter.FormatDecisionContext(s.matcher.FindRelevantDecisions(ctx, userID, question, options))
}
