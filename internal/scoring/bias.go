package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"decision-flip/backend/internal/store"
)

const (
	// EmotionalThreshold is the minimum affect-term count that flags emotional bias.
	EmotionalThreshold = 3
	// ContradictionGap is the weight margin the top option must exceed the initial choice by.
	ContradictionGap = 15.0
)

// DefaultEmotionalTerms groups the built-in affect vocabulary by category. Each term
// also matches its simple inflections ("worry" matches "worried" and "worrying").
var DefaultEmotionalTerms = map[string][]string{
	"fear":       {"scared", "afraid", "fear", "worry", "anxiety", "anxious", "nervous", "terrified", "dread", "panic"},
	"excitement": {"excited", "thrilled", "love", "happy"},
	"anger":      {"angry", "hate", "frustrated", "upset"},
	"sadness":    {"sad", "hopeless", "desperate"},
	"stress":     {"stress", "overwhelmed"},
	"instinct":   {"feel", "felt", "heart", "gut", "instinct"},
}

// BiasDetector scores clarifying answers for affect language and compares the
// user's gut choice against the oracle weighting.
type BiasDetector struct {
	vocab atomic.Pointer[vocabulary]
}

type vocabulary struct {
	terms    []string
	patterns []*regexp.Regexp
}

var defaultDetector = NewBiasDetectorFromTerms(DefaultEmotionalTerms)

// NewBiasDetector loads a category -> terms JSON file. An empty path uses the
// built-in vocabulary.
func NewBiasDetector(path string) (*BiasDetector, error) {
	if strings.TrimSpace(path) == "" {
		return defaultDetector, nil
	}
	vocab, err := loadVocabulary(path)
	if err != nil {
		return nil, err
	}
	detector := &BiasDetector{}
	detector.vocab.Store(vocab)
	return detector, nil
}

// NewBiasDetectorFromTerms compiles the supplied vocabulary.
func NewBiasDetectorFromTerms(categories map[string][]string) *BiasDetector {
	detector := &BiasDetector{}
	detector.vocab.Store(compileVocabulary(categories))
	return detector
}

// Reload swaps in the vocabulary from path. The current vocabulary is kept when
// the file cannot be read or holds no terms.
func (b *BiasDetector) Reload(path string) error {
	if b == nil {
		return errors.New("bias detector is nil")
	}
	if b == defaultDetector {
		return errors.New("built-in bias vocabulary cannot be reloaded")
	}
	vocab, err := loadVocabulary(path)
	if err != nil {
		return err
	}
	b.vocab.Store(vocab)
	return nil
}

func loadVocabulary(path string) (*vocabulary, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read bias terms: %w", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal bias terms: %w", err)
	}
	vocab := compileVocabulary(raw)
	if len(vocab.terms) == 0 {
		return nil, errors.New("bias terms missing")
	}
	return vocab, nil
}

func compileVocabulary(categories map[string][]string) *vocabulary {
	seen := make(map[string]struct{})
	var terms []string
	for _, list := range categories {
		for _, term := range list {
			term = strings.ToLower(strings.TrimSpace(term))
			if term == "" {
				continue
			}
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			terms = append(terms, term)
		}
	}
	sort.Strings(terms)
	patterns := make([]*regexp.Regexp, 0, len(terms))
	for _, term := range terms {
		patterns = append(patterns, regexp.MustCompile(termPattern(term)))
	}
	return &vocabulary{terms: terms, patterns: patterns}
}

// termPattern matches term at a word start followed by any suffix. A trailing
// consonant+y also matches the y->i spelling, so "worry" catches "worried".
func termPattern(term string) string {
	n := len(term)
	if n > 2 && term[n-1] == 'y' && !strings.ContainsRune("aeiou", rune(term[n-2])) {
		return `\b` + regexp.QuoteMeta(term[:n-1]) + `(?:y|i)\w*\b`
	}
	return `\b` + regexp.QuoteMeta(term) + `\w*\b`
}

func (b *BiasDetector) load() *vocabulary {
	if b == nil {
		return nil
	}
	return b.vocab.Load()
}

// Terms exposes the compiled vocabulary (primarily for testing).
func (b *BiasDetector) Terms() []string {
	vocab := b.load()
	if vocab == nil {
		return nil
	}
	return vocab.terms
}

// Validate ensures the detector has at least one term.
func (b *BiasDetector) Validate() error {
	if b == nil {
		return errors.New("bias detector is nil")
	}
	if len(b.Terms()) == 0 {
		return errors.New("bias terms missing")
	}
	return nil
}

// DetectBias runs the built-in detector.
func DetectBias(answers []store.ClarifyingAnswer, initialChoice string, weights []store.OptionWeight) BiasReport {
	return defaultDetector.Detect(answers, initialChoice, weights)
}

// Detect computes a fresh BiasReport. It performs no I/O.
func (b *BiasDetector) Detect(answers []store.ClarifyingAnswer, initialChoice string, weights []store.OptionWeight) BiasReport {
	score := b.EmotionalScore(answers)
	return CombineBias(score, Contradicts(initialChoice, weights))
}

// EmotionalScore counts affect-term occurrences across all answer texts.
func (b *BiasDetector) EmotionalScore(answers []store.ClarifyingAnswer) int {
	vocab := b.load()
	if vocab == nil || len(answers) == 0 {
		return 0
	}
	texts := make([]string, 0, len(answers))
	for _, qa := range answers {
		texts = append(texts, qa.Answer)
	}
	text := strings.ToLower(strings.Join(texts, " "))

	score := 0
	for _, pattern := range vocab.patterns {
		score += len(pattern.FindAllStringIndex(text, -1))
	}
	return score
}

// Contradicts reports whether the initial choice differs from the top-weighted
// option by more than ContradictionGap points. An initial choice that does not
// appear among the weights is never flagged.
func Contradicts(initialChoice string, weights []store.OptionWeight) bool {
	initial := normalizeLabel(initialChoice)
	if initial == "" || len(weights) == 0 {
		return false
	}

	top := weights[0]
	for _, w := range weights[1:] {
		if w.Weight > top.Weight {
			top = w
		}
	}
	if normalizeLabel(top.Option) == initial {
		return false
	}

	for _, w := range weights {
		if normalizeLabel(w.Option) == initial {
			return top.Weight-w.Weight > ContradictionGap
		}
	}
	return false
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
