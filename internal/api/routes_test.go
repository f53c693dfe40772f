package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decision-flip/backend/internal/ai"
	"decision-flip/backend/internal/flip"
	"decision-flip/backend/internal/scoring"
	"decision-flip/backend/internal/store"
)

type fakeOracle struct {
	mu            sync.Mutex
	questions     []ai.ClarifyingQuestion
	analysis      ai.Analysis
	err           error
	lastQuestions ai.QuestionsInput
	lastAnalysis  ai.AnalysisInput
}

func (f *fakeOracle) Enabled() bool { return true }

func (f *fakeOracle) ClarifyingQuestions(_ context.Context, input ai.QuestionsInput) ([]ai.ClarifyingQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuestions = input
	return f.questions, f.err
}

func (f *fakeOracle) Analyze(_ context.Context, input ai.AnalysisInput) (ai.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAnalysis = input
	return f.analysis, f.err
}

func pattyAnalysis() ai.Analysis {
	return ai.Analysis{
		Analysis: "Both patties work.",
		OptionAnalyses: []ai.OptionAnalysis{
			{Option: "Vegan patty", Analysis: "Lighter", Weight: 70, BestCase: "Energised", WorstCase: "Hungry later"},
			{Option: "Normal patty", Analysis: "Classic", Weight: 30, BestCase: "Satisfied", WorstCase: "Sluggish"},
		},
		KeyFactors:     []string{"health", "taste"},
		Recommendation: "Go vegan.",
	}
}

type testServer struct {
	server *Server
	router *gin.Engine
	oracle *fakeOracle
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	oracle := &fakeOracle{
		questions: []ai.ClarifyingQuestion{{Question: "How hungry are you?"}},
		analysis:  pattyAnalysis(),
	}
	cfg := Config{
		DBPath:          filepath.Join(t.TempDir(), "decisions.db"),
		SilentDB:        true,
		Oracle:          oracle,
		Source:          flip.Fixed(85),
		HistoryLocation: time.UTC,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	server, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })
	router, err := server.Router()
	require.NoError(t, err)
	return &testServer{server: server, router: router, oracle: oracle}
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func pattyRequest() DecideRequest {
	return DecideRequest{
		Question:          "Which patty should I get for lunch?",
		Options:           []string{"Vegan patty", "Normal patty"},
		ClarifyingAnswers: []store.ClarifyingAnswer{{Question: "How hungry?", Answer: "Very hungry"}},
		InitialChoice:     "Vegan patty",
	}
}

func TestRequiresUserHeader(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/api/history", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClarifyValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	cases := []struct {
		name string
		body any
		want string
	}{
		{name: "one option", body: ClarifyRequest{Question: "q", Options: []string{"only"}}, want: "at least 2 options required"},
		{name: "missing question", body: ClarifyRequest{Options: []string{"a", "b"}}, want: "question is required"},
		{name: "duplicate options", body: ClarifyRequest{Question: "q", Options: []string{"Tea", "tea"}}, want: "duplicate option"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/clarify", "u1", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
		})
	}
}

func TestDecideFlipsAndPersists(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/decide", "u1", pattyRequest())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[DecideResponse](t, rec)
	assert.NotEmpty(t, resp.Decision.ID)
	assert.Equal(t, "Normal patty", resp.Decision.Result)
	assert.Equal(t, "Go vegan.", resp.Decision.Recommendation)
	assert.Equal(t, scoring.BiasNone, resp.Decision.Bias.BiasType)
	assert.Len(t, resp.Decision.OptionAnalyses, 2)

	assert.Equal(t, []store.ClarifyingAnswer{{Question: "How hungry?", Answer: "Very hungry"}}, ts.oracle.lastAnalysis.ClarifyingAnswers)
	assert.Empty(t, ts.oracle.lastAnalysis.DecisionContext)

	rec = ts.do(t, http.MethodGet, "/api/history", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[HistoryResponse](t, rec)
	require.Len(t, hist.Decisions, 1)
	got := hist.Decisions[0]
	assert.Equal(t, resp.Decision.ID, got.ID)
	assert.Equal(t, []string{"Vegan patty", "Normal patty"}, got.Options)
	require.NotNil(t, got.InitialChoice)
	assert.Equal(t, "Vegan patty", *got.InitialChoice)
	assert.Nil(t, got.FinalChoice)

	rec = ts.do(t, http.MethodGet, "/api/history", "u2", nil)
	assert.Empty(t, decode[HistoryResponse](t, rec).Decisions)
}

func TestDecideReportsContradiction(t *testing.T) {
	ts := newTestServer(t, nil)
	req := pattyRequest()
	req.InitialChoice = "normal patty"
	rec := ts.do(t, http.MethodPost, "/api/decide", "u1", req)
	require.Equal(t, http.StatusOK, rec.Code)
	bias := decode[DecideResponse](t, rec).Decision.Bias
	assert.True(t, bias.BiasDetected)
	assert.Equal(t, scoring.BiasContradiction, bias.BiasType)
	assert.Equal(t, scoring.MessageFor(scoring.BiasContradiction), bias.Message)
}

func TestDecideUsesPastDecisions(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/api/decide", "u1", pattyRequest())
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[DecideResponse](t, rec).Decision.ID

	rec = ts.do(t, http.MethodPost, "/api/update-choice", "u1", UpdateChoiceRequest{DecisionID: id, FinalChoice: "Vegan patty"})
	require.Equal(t, http.StatusOK, rec.Code)

	req := pattyRequest()
	req.Question = "Another patty for dinner?"
	rec = ts.do(t, http.MethodPost, "/api/decide", "u1", req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, ts.oracle.lastAnalysis.DecisionContext, "Which patty should I get for lunch? → Vegan patty")

	rec = ts.do(t, http.MethodPost, "/api/clarify", "u1", ClarifyRequest{Question: "Best patty tonight?", Options: []string{"Bean", "Beef"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "How hungry are you?", decode[ClarifyResponse](t, rec).Questions[0].Question)
	assert.Contains(t, ts.oracle.lastQuestions.AnswerContext, "How hungry?: Very hungry")
}

func TestDecideRejectsMalformedWeights(t *testing.T) {
	ts := newTestServer(t, nil)
	analysis := pattyAnalysis()
	analysis.OptionAnalyses[1].Weight = 5
	ts.oracle.analysis = analysis

	rec := ts.do(t, http.MethodPost, "/api/decide", "u1", pattyRequest())
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), msgOracleUnusable)

	rec = ts.do(t, http.MethodGet, "/api/history", "u1", nil)
	assert.Empty(t, decode[HistoryResponse](t, rec).Decisions)
}

func TestOracleErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		body string
	}{
		{name: "refusal", err: errorsWrap(ai.ErrRefused, "I would rather not say."), code: http.StatusBadRequest, body: "I would rather not say."},
		{name: "malformed", err: ai.ErrMalformedResponse, code: http.StatusBadGateway, body: msgOracleUnusable},
		{name: "upstream down", err: assert.AnError, code: http.StatusInternalServerError, body: "Failed to analyze decision"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.oracle.err = tc.err
			rec := ts.do(t, http.MethodPost, "/api/decide", "u1", pattyRequest())
			assert.Equal(t, tc.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.body)
		})
	}
}

func errorsWrap(sentinel error, text string) error {
	return &wrapped{sentinel: sentinel, text: text}
}

type wrapped struct {
	sentinel error
	text     string
}

func (w *wrapped) Error() string { return w.sentinel.Error() + ": " + w.text }
func (w *wrapped) Unwrap() error { return w.sentinel }

func TestOracleDisabled(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.Oracle = nil
		cfg.DisableAI = true
	})
	rec := ts.do(t, http.MethodPost, "/api/clarify", "u1", ClarifyRequest{Question: "q", Options: []string{"a", "b"}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/config", "", nil)
	assert.Contains(t, rec.Body.String(), `"ai_enabled":false`)
}

func TestUpdateChoice(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/api/decide", "u1", pattyRequest())
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[DecideResponse](t, rec).Decision.ID

	rec = ts.do(t, http.MethodPost, "/api/update-choice", "u1", UpdateChoiceRequest{DecisionID: id})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "finalChoice is required")

	rec = ts.do(t, http.MethodPost, "/api/update-choice", "u1", UpdateChoiceRequest{DecisionID: id, FinalChoice: "Salad"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/update-choice", "u2", UpdateChoiceRequest{DecisionID: id, FinalChoice: "Vegan patty"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/update-choice", "u1", UpdateChoiceRequest{DecisionID: id, FinalChoice: "Vegan patty"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[UpdateChoiceResponse](t, rec)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Decision.FinalChoice)
	assert.Equal(t, "Vegan patty", *resp.Decision.FinalChoice)

	rec = ts.do(t, http.MethodPost, "/api/update-choice", "u1", UpdateChoiceRequest{DecisionID: id, FinalChoice: "Normal patty"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDecisionOwnership(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/api/decide", "u1", pattyRequest())
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[DecideResponse](t, rec).Decision.ID

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/decision/missing", "u1", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/api/decision/"+id, "u2", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodDelete, "/api/decision/"+id, "u2", nil).Code)

	rec = ts.do(t, http.MethodGet, "/api/decision/"+id, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[SingleDecisionResponse](t, rec).Decision.ID)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/decision/"+id, "u1", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/decision/"+id, "u1", nil).Code)
}

func TestBulkDeleteRemovesOnlyInProgress(t *testing.T) {
	ts := newTestServer(t, nil)
	var ids []string
	for i := 0; i < 3; i++ {
		rec := ts.do(t, http.MethodPost, "/api/decide", "u1", pattyRequest())
		require.Equal(t, http.StatusOK, rec.Code)
		ids = append(ids, decode[DecideResponse](t, rec).Decision.ID)
	}
	rec := ts.do(t, http.MethodPost, "/api/update-choice", "u1", UpdateChoiceRequest{DecisionID: ids[0], FinalChoice: "Vegan patty"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/decide", "u2", pattyRequest()).Code)

	rec = ts.do(t, http.MethodPost, "/api/decision/bulk-delete", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, BulkDeleteResponse{Success: true, DeletedCount: 2}, decode[BulkDeleteResponse](t, rec))

	hist := decode[HistoryResponse](t, ts.do(t, http.MethodGet, "/api/history", "u1", nil))
	require.Len(t, hist.Decisions, 1)
	assert.Equal(t, ids[0], hist.Decisions[0].ID)
	assert.Len(t, decode[HistoryResponse](t, ts.do(t, http.MethodGet, "/api/history", "u2", nil)).Decisions, 1)
}

func TestRateLimitOnOracleRoutes(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.OracleRPS = 0.001
		cfg.OracleBurst = 1
	})
	body := ClarifyRequest{Question: "Tea or coffee?", Options: []string{"Tea", "Coffee"}}
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/clarify", "u1", body).Code)
	rec := ts.do(t, http.MethodPost, "/api/clarify", "u1", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/clarify", "u2", body).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/history", "u1", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/decide", "u1", pattyRequest()).Code)
	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "decision_flips_total")
}

func TestDecisionStreamIsPerUser(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/decisions/stream"
	dial := func(user string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{UserHeader: []string{user}})
		require.NoError(t, err)
		var hello DecisionEvent
		require.NoError(t, conn.ReadJSON(&hello))
		require.Equal(t, EventConnected, hello.Type)
		return conn
	}
	mine := dial("u1")
	defer mine.Close()
	other := dial("u2")
	defer other.Close()

	rec := ts.do(t, http.MethodPost, "/api/decide", "u1", pattyRequest())
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[DecideResponse](t, rec).Decision.ID

	require.NoError(t, mine.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event DecisionEvent
	require.NoError(t, mine.ReadJSON(&event))
	assert.Equal(t, EventFlipped, event.Type)
	assert.Equal(t, id, event.DecisionID)
	assert.Equal(t, "Normal patty", event.Result)

	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	assert.Error(t, other.ReadJSON(&event))
}
