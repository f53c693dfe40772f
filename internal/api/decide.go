package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"decision-flip/backend/internal/ai"
	"decision-flip/backend/internal/lifecycle"
	"decision-flip/backend/internal/util"
)

func (s *Server) oracleReady() bool {
	return s.oracle != nil && s.oracle.Enabled()
}

// handleClarify asks the oracle for clarifying questions, seeded with the
// user's answers to related past decisions.
func (s *Server) handleClarify(c *gin.Context) {
	var req ClarifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, bindingError(err))
		return
	}
	userID := currentUser(c)

	// The draft only validates input here; clarification persists nothing.
	draft, err := lifecycle.NewDraft(userID, req.Question, req.Options)
	if err != nil {
		s.renderFailure(c, err, "Failed to generate questions")
		return
	}
	if !s.oracleReady() {
		s.renderFailure(c, ai.ErrDisabled, "Failed to generate questions")
		return
	}

	ctx := c.Request.Context()
	questions, err := s.oracle.ClarifyingQuestions(ctx, ai.QuestionsInput{
		Question:      draft.Question,
		Options:       draft.Options,
		AnswerContext: s.history.AnswerContext(ctx, userID, draft.Question, draft.Options),
	})
	if err != nil {
		s.renderFailure(c, err, "Failed to generate questions")
		return
	}
	c.JSON(http.StatusOK, ClarifyResponse{Questions: questions})
}

// handleDecide drives a draft through every transition up to FLIPPED: initial
// choice, clarifying answers, oracle analysis, then the flip and bias check.
func (s *Server) handleDecide(c *gin.Context) {
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, bindingError(err))
		return
	}
	userID := currentUser(c)
	timer := util.StartTimer()

	draft, err := lifecycle.NewDraft(userID, req.Question, req.Options)
	if err != nil {
		s.renderFailure(c, err, "Failed to analyze decision")
		return
	}
	if err := draft.SetInitialChoice(req.InitialChoice); err != nil {
		s.renderFailure(c, err, "Failed to analyze decision")
		return
	}
	if err := draft.AnswerClarifying(req.ClarifyingAnswers); err != nil {
		s.renderFailure(c, err, "Failed to analyze decision")
		return
	}
	if !s.oracleReady() {
		s.renderFailure(c, ai.ErrDisabled, "Failed to analyze decision")
		return
	}

	ctx := c.Request.Context()
	analysis, err := s.oracle.Analyze(ctx, ai.AnalysisInput{
		Question:          draft.Question,
		Options:           draft.Options,
		ClarifyingAnswers: draft.ClarifyingAnswers(),
		DecisionContext:   s.history.DecisionContext(ctx, userID, draft.Question, draft.Options),
	})
	if err != nil {
		s.renderFailure(c, err, "Failed to analyze decision")
		return
	}
	if err := draft.ApplyAnalysis(analysis); err != nil {
		s.renderFailure(c, err, "Failed to analyze decision")
		return
	}

	record, err := s.engine.Flip(ctx, draft)
	if err != nil {
		s.renderFailure(c, err, "Failed to analyze decision")
		return
	}

	s.notifier.Publish(userID, DecisionEvent{
		Type:       EventFlipped,
		DecisionID: record.ID,
		Question:   record.Question,
		Result:     record.Result,
	})
	logrus.WithFields(logrus.Fields{
		"decision_id": record.ID,
		"options":     len(draft.Options),
		"elapsed_ms":  timer.ElapsedMs(),
	}).Debug("decide request completed")

	applied := draft.Analysis()
	c.JSON(http.StatusOK, DecideResponse{Decision: DecisionResultDTO{
		ID:             record.ID,
		Analysis:       applied.Analysis,
		OptionAnalyses: applied.OptionAnalyses,
		KeyFactors:     applied.KeyFactors,
		Result:         record.Result,
		Recommendation: applied.Recommendation,
		Bias:           draft.Bias(),
	}})
}
