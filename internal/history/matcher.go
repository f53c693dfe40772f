// Package history finds a user's related past decisions and renders them as
// context blocks for oracle prompts.
package history

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"decision-flip/backend/internal/match"
	"decision-flip/backend/internal/metrics"
	"decision-flip/backend/internal/store"
)

// Mode selects which prior records are eligible.
type Mode int

const (
	// ModeAnswers searches records that carry clarifying answers.
	ModeAnswers Mode = iota
	// ModeDecisions searches records that carry a final choice.
	ModeDecisions
)

const (
	AnswersLimit   = 3
	DecisionsLimit = 10
)

func (m Mode) String() string {
	if m == ModeDecisions {
		return "decisions"
	}
	return "answers"
}

// Limit returns the default result limit for the mode.
func (m Mode) Limit() int {
	if m == ModeDecisions {
		return DecisionsLimit
	}
	return AnswersLimit
}

// Querier is the read side of the decision store.
type Querier interface {
	QueryHistory(ctx context.Context, userID string, q store.HistoryQuery) ([]store.Decision, error)
}

// Matcher looks up related history for a user.
type Matcher struct {
	store Querier
}

// NewMatcher constructs a Matcher over the supplied store.
func NewMatcher(q Querier) *Matcher {
	return &Matcher{store: q}
}

// FindRelevant returns up to limit of the user's records whose question or options
// contain any keyword, newest first. No query is issued for empty keywords. A
// non-positive limit uses the mode's default.
func (m *Matcher) FindRelevant(ctx context.Context, userID string, keywords []string, mode Mode, limit int) ([]store.Decision, error) {
	if len(keywords) == 0 || m == nil || m.store == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = mode.Limit()
	}
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			lowered = append(lowered, kw)
		}
	}
	if len(lowered) == 0 {
		return nil, nil
	}
	return m.store.QueryHistory(ctx, userID, store.HistoryQuery{
		Keywords:           lowered,
		RequireAnswers:     mode == ModeAnswers,
		RequireFinalChoice: mode == ModeDecisions,
		Limit:              limit,
	})
}

// FindRelevantAnswers returns prior records with clarifying answers related to the
// question and options. Store failures degrade to no history.
func (m *Matcher) FindRelevantAnswers(ctx context.Context, userID, question string, options []string) []store.Decision {
	return m.findDegraded(ctx, userID, question, options, ModeAnswers)
}

// FindRelevantDecisions returns prior finalized records related to the question
// and options. Store failures degrade to no history.
func (m *Matcher) FindRelevantDecisions(ctx context.Context, userID, question string, options []string) []store.Decision {
	return m.findDegraded(ctx, userID, question, options, ModeDecisions)
}

func (m *Matcher) findDegraded(ctx context.Context, userID, question string, options []string, mode Mode) []store.Decision {
	keywords := match.DecisionKeywords(question, options)
	if len(keywords) == 0 {
		return nil
	}
	rows, err := m.FindRelevant(ctx, userID, keywords, mode, mode.Limit())
	if err != nil {
		metrics.Get().HistoryFailures.WithLabelValues(mode.String()).Inc()
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id":  userID,
			"mode":     mode.String(),
			"keywords": len(keywords),
		}).Warn("history lookup failed; continuing without personalization")
		return nil
	}
	metrics.Get().HistoryMatches.WithLabelValues(mode.String()).Observe(float64(len(rows)))
	return rows
}
