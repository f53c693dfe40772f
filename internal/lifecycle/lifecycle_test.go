package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decision-flip/backend/internal/ai"
	"decision-flip/backend/internal/flip"
	"decision-flip/backend/internal/scoring"
	"decision-flip/backend/internal/store"
)

func openStore(t *testing.T) *store.Database {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "decisions.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func pattyAnalysis() ai.Analysis {
	return ai.Analysis{
		Analysis: "Both patties work.",
		OptionAnalyses: []ai.OptionAnalysis{
			{Option: "vegan patty", Analysis: "Lighter", Weight: 70},
			{Option: "Normal Patty ", Analysis: "Classic", Weight: 30},
		},
		KeyFactors:     []string{"health"},
		Recommendation: "Go vegan.",
	}
}

func analysedDraft(t *testing.T, initial string, answers []store.ClarifyingAnswer) *Draft {
	t.Helper()
	d, err := NewDraft("user-1", "Which patty for lunch?", []string{"Vegan patty", "Normal patty"})
	require.NoError(t, err)
	require.NoError(t, d.SetInitialChoice(initial))
	require.NoError(t, d.AnswerClarifying(answers))
	require.NoError(t, d.ApplyAnalysis(pattyAnalysis()))
	return d
}

func TestNewDraftValidatesInput(t *testing.T) {
	cases := []struct {
		name     string
		user     string
		question string
		options  []string
	}{
		{name: "empty question", user: "u", question: "  ", options: []string{"a", "b"}},
		{name: "one option", user: "u", question: "q", options: []string{"a"}},
		{name: "blank option", user: "u", question: "q", options: []string{"a", " "}},
		{name: "duplicate options", user: "u", question: "q", options: []string{"Tea", "tea "}},
		{name: "no user", user: "", question: "q", options: []string{"a", "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDraft(tc.user, tc.question, tc.options)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	a, err := NewDraft("u", "q", []string{"a", "b"})
	require.NoError(t, err)
	b, err := NewDraft("u", "q", []string{"a", "b"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, StateCreated, a.State())
}

func TestTransitionsRunInOrderOnce(t *testing.T) {
	d, err := NewDraft("u", "q", []string{"a", "b"})
	require.NoError(t, err)

	assert.ErrorIs(t, d.AnswerClarifying(nil), ErrInvalidTransition)
	assert.ErrorIs(t, d.ApplyAnalysis(pattyAnalysis()), ErrInvalidTransition)

	require.NoError(t, d.SetInitialChoice(""))
	assert.ErrorIs(t, d.SetInitialChoice("a"), ErrInvalidTransition)
	assert.Equal(t, "", d.InitialChoice())

	require.NoError(t, d.AnswerClarifying([]store.ClarifyingAnswer{{Question: " ", Answer: ""}}))
	assert.Nil(t, d.ClarifyingAnswers())
	assert.Equal(t, StateClarifyingAnswered, d.State())

	engine := NewEngine(openStore(t), nil, flip.Fixed(10))
	_, err = engine.Flip(context.Background(), d)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSetInitialChoiceRejectsUnknownOption(t *testing.T) {
	d, err := NewDraft("u", "q", []string{"Coffee", "Tea"})
	require.NoError(t, err)
	assert.ErrorIs(t, d.SetInitialChoice("Juice"), ErrInvalidInput)
	assert.Equal(t, StateCreated, d.State())

	require.NoError(t, d.SetInitialChoice(" tea"))
	assert.Equal(t, "Tea", d.InitialChoice())
}

func TestValidateWeights(t *testing.T) {
	options := []string{"A", "B"}
	cases := []struct {
		name    string
		weights []store.OptionWeight
		wantErr bool
	}{
		{name: "exact", weights: []store.OptionWeight{{Option: "A", Weight: 40}, {Option: "B", Weight: 60}}},
		{name: "reordered and rounded", weights: []store.OptionWeight{{Option: "b", Weight: 66.7}, {Option: "a", Weight: 33.3}}},
		{name: "within tolerance", weights: []store.OptionWeight{{Option: "A", Weight: 50}, {Option: "B", Weight: 49.2}}},
		{name: "empty", wantErr: true},
		{name: "missing option", weights: []store.OptionWeight{{Option: "A", Weight: 100}}, wantErr: true},
		{name: "unknown option", weights: []store.OptionWeight{{Option: "A", Weight: 50}, {Option: "C", Weight: 50}}, wantErr: true},
		{name: "duplicate option", weights: []store.OptionWeight{{Option: "A", Weight: 50}, {Option: "a", Weight: 50}}, wantErr: true},
		{name: "negative", weights: []store.OptionWeight{{Option: "A", Weight: 110}, {Option: "B", Weight: -10}}, wantErr: true},
		{name: "sum too low", weights: []store.OptionWeight{{Option: "A", Weight: 30}, {Option: "B", Weight: 30}}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateWeights(options, tc.weights)
			if tc.wantErr {
				assert.ErrorIs(t, err, ai.ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			for _, w := range got {
				assert.Contains(t, options, w.Option)
			}
		})
	}
}

func TestApplyAnalysisCanonicalisesLabels(t *testing.T) {
	source := pattyAnalysis()
	d, err := NewDraft("user-1", "Which patty for lunch?", []string{"Vegan patty", "Normal patty"})
	require.NoError(t, err)
	require.NoError(t, d.SetInitialChoice(""))
	require.NoError(t, d.AnswerClarifying(nil))
	require.NoError(t, d.ApplyAnalysis(source))
	assert.Equal(t, []store.OptionWeight{
		{Option: "Vegan patty", Weight: 70},
		{Option: "Normal patty", Weight: 30},
	}, d.Weights())
	assert.Equal(t, "Normal patty", d.Analysis().OptionAnalyses[1].Option)
	assert.Equal(t, "Normal Patty ", source.OptionAnalyses[1].Option)
}

func TestApplyAnalysisRejectsMalformedWeights(t *testing.T) {
	d, err := NewDraft("u", "q", []string{"A", "B"})
	require.NoError(t, err)
	require.NoError(t, d.SetInitialChoice(""))
	require.NoError(t, d.AnswerClarifying(nil))

	err = d.ApplyAnalysis(ai.Analysis{
		OptionAnalyses: []ai.OptionAnalysis{{Option: "A", Weight: 50}},
		Recommendation: "A",
	})
	assert.True(t, errors.Is(err, ai.ErrMalformedResponse))
	assert.Equal(t, StateClarifyingAnswered, d.State())
}

func TestFlipRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	engine := NewEngine(db, nil, flip.Fixed(85))

	d := analysedDraft(t, "Vegan patty", []store.ClarifyingAnswer{{Question: "Hungry?", Answer: "Starving"}})
	record, err := engine.Flip(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, StateFlipped, d.State())
	assert.Equal(t, "Normal patty", record.Result)
	assert.Equal(t, scoring.BiasNone, d.Bias().BiasType)

	loaded, err := db.GetDecision(ctx, "user-1", d.ID)
	require.NoError(t, err)
	assert.Contains(t, loaded.Options(), loaded.Result)
	labels := make([]string, 0, len(loaded.Weights()))
	for _, w := range loaded.Weights() {
		labels = append(labels, w.Option)
	}
	assert.ElementsMatch(t, loaded.Options(), labels)
	assert.Equal(t, "Vegan patty", loaded.InitialChoice)
	assert.Equal(t, "Go vegan.", loaded.Explanation)
	assert.Equal(t, []store.ClarifyingAnswer{{Question: "Hungry?", Answer: "Starving"}}, loaded.ClarifyingAnswers())
	assert.Equal(t, StateFlipped, StateOf(loaded))

	_, err = engine.Flip(ctx, d)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFlipDetectsContradiction(t *testing.T) {
	engine := NewEngine(openStore(t), nil, flip.Fixed(10))
	d := analysedDraft(t, "Normal patty", []store.ClarifyingAnswer{{Question: "Why?", Answer: "It tastes fine"}})
	_, err := engine.Flip(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "Vegan patty", d.Result())
	assert.Equal(t, scoring.BiasContradiction, d.Bias().BiasType)
	assert.True(t, d.Bias().BiasDetected)
}

type failingStore struct {
	*store.Database
	failCreates int
}

func (f *failingStore) CreateDecision(ctx context.Context, d *store.Decision) error {
	if f.failCreates > 0 {
		f.failCreates--
		return errors.New("disk full")
	}
	return f.Database.CreateDecision(ctx, d)
}

func TestFlipRetryKeepsResult(t *testing.T) {
	draws := []float64{0.10, 0.90}
	source := flip.SourceFunc(func() float64 {
		r := draws[0]
		draws = draws[1:]
		return r
	})
	fs := &failingStore{Database: openStore(t), failCreates: 1}
	engine := NewEngine(fs, nil, source)

	d := analysedDraft(t, "", nil)
	_, err := engine.Flip(context.Background(), d)
	require.Error(t, err)
	assert.Equal(t, StateAnalyzed, d.State())

	record, err := engine.Flip(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "Vegan patty", record.Result)
	assert.Len(t, draws, 1)
}

func TestFinalize(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	engine := NewEngine(db, nil, flip.Fixed(10))
	d := analysedDraft(t, "", nil)
	_, err := engine.Flip(ctx, d)
	require.NoError(t, err)

	_, err = engine.Finalize(ctx, "user-1", d.ID, "Chicken")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = engine.Finalize(ctx, "someone-else", d.ID, "Vegan patty")
	assert.ErrorIs(t, err, store.ErrNotFound)

	updated, err := engine.Finalize(ctx, "user-1", d.ID, " normal PATTY")
	require.NoError(t, err)
	assert.Equal(t, "Normal patty", updated.FinalChoice)
	assert.Equal(t, StateFinalized, StateOf(updated))

	_, err = engine.Finalize(ctx, "user-1", d.ID, "Vegan patty")
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	loaded, err := db.GetDecision(ctx, "user-1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Normal patty", loaded.FinalChoice)
	assert.Equal(t, "Vegan patty", loaded.Result)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "INITIAL_CHOICE_SET", StateInitialChoiceSet.String())
	assert.Equal(t, "FINALIZED", StateFinalized.String())
	assert.Equal(t, "State(9)", State(9).String())
}
