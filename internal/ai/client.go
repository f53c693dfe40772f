package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"decision-flip/backend/internal/metrics"
	"decision-flip/backend/internal/util"
)

// Oracle is the external reasoning service that proposes clarifying questions
// and weights options.
type Oracle interface {
	Enabled() bool
	ClarifyingQuestions(ctx context.Context, input QuestionsInput) ([]ClarifyingQuestion, error)
	Analyze(ctx context.Context, input AnalysisInput) (Analysis, error)
}

// Config holds OpenAI-compatible chat completion parameters.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client implements Oracle against an OpenAI-compatible chat completions API.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
}

var (
	ErrDisabled = errors.New("reasoning oracle disabled")
	// ErrMalformedResponse marks oracle output that cannot be used as-is.
	ErrMalformedResponse = errors.New("malformed oracle response")
	// ErrRefused marks a plain-text reply with no structured payload.
	ErrRefused = errors.New("oracle declined to answer")
)

// NewClient constructs a Client if the supplied configuration is valid.
func NewClient(cfg Config) (*Client, error) {
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1-mini"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	temp := cfg.Temperature
	if temp <= 0 {
		temp = 0.4
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := &Client{
		httpClient:  &http.Client{Timeout: timeout},
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       cfg.Model,
		baseURL:     cfg.BaseURL,
		temperature: temp,
		maxTokens:   cfg.MaxTokens,
	}
	return client, nil
}

// Enabled reports whether the client can make outbound calls.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Model returns the configured model name.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// ClarifyingQuestions asks the oracle for 2-4 questions that would sharpen the analysis.
func (c *Client) ClarifyingQuestions(ctx context.Context, input QuestionsInput) ([]ClarifyingQuestion, error) {
	if c == nil || !c.Enabled() {
		return nil, ErrDisabled
	}
	content, err := c.complete(ctx, "clarify", questionsSystemPrompt, buildQuestionsPrompt(input), c.maxTokens/2)
	if err != nil {
		return nil, err
	}
	return parseQuestions(content)
}

// Analyze asks the oracle to analyse and weight every option.
func (c *Client) Analyze(ctx context.Context, input AnalysisInput) (Analysis, error) {
	if c == nil || !c.Enabled() {
		return Analysis{}, ErrDisabled
	}
	content, err := c.complete(ctx, "analyze", analysisSystemPrompt, buildAnalysisPrompt(input), c.maxTokens)
	if err != nil {
		return Analysis{}, err
	}
	return parseAnalysis(content)
}

func (c *Client) complete(ctx context.Context, operation, system, user string, maxTokens int) (string, error) {
	timer := util.StartTimer()
	m := metrics.Get()
	status := "error"
	defer func() {
		m.OracleRequests.WithLabelValues(operation, status).Inc()
		m.OracleDuration.WithLabelValues(operation).Observe(timer.Seconds())
	}()

	payload := c.buildPayload(system, user, maxTokens)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return "", fmt.Errorf("oracle status %d: %v", resp.StatusCode, apiErr)
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode envelope: %v", ErrMalformedResponse, err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrMalformedResponse)
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}

	status = "ok"
	logrus.WithFields(logrus.Fields{
		"operation":  operation,
		"model":      c.model,
		"elapsed_ms": timer.ElapsedMs(),
		"chars":      len(content),
	}).Debug("oracle responded")
	return content, nil
}

func (c *Client) buildPayload(system, user string, maxTokens int) map[string]any {
	messages := []map[string]string{
		{"role": "system", "content": system},
		{"role": "user", "content": user},
	}
	payload := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": c.temperature,
	}
	if maxTokens > 0 {
		payload["max_tokens"] = maxTokens
	}
	return payload
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func normalizeJSONBlock(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	if start := strings.Index(trimmed, "```"); start >= 0 {
		block := trimmed[start+3:]
		if idx := strings.IndexRune(block, '\n'); idx >= 0 {
			block = block[idx+1:]
		}
		if end := strings.Index(block, "```"); end >= 0 {
			block = block[:end]
		}
		if strings.Contains(block, "{") {
			trimmed = block
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end >= start {
		return strings.TrimSpace(trimmed[start : end+1])
	}
	return ""
}

func parseQuestions(content string) ([]ClarifyingQuestion, error) {
	block := normalizeJSONBlock(content)
	if block == "" {
		return nil, fmt.Errorf("%w: %s", ErrRefused, truncate(content, 500))
	}
	var raw struct {
		Questions []json.RawMessage `json:"questions"`
	}
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return nil, fmt.Errorf("%w: parse questions: %v", ErrMalformedResponse, err)
	}

	questions := make([]ClarifyingQuestion, 0, len(raw.Questions))
	for _, item := range raw.Questions {
		var text string
		if err := json.Unmarshal(item, &text); err == nil {
			if text = strings.TrimSpace(text); text != "" {
				questions = append(questions, ClarifyingQuestion{Question: text})
			}
			continue
		}
		var q ClarifyingQuestion
		if err := json.Unmarshal(item, &q); err != nil {
			return nil, fmt.Errorf("%w: parse question: %v", ErrMalformedResponse, err)
		}
		q.Question = strings.TrimSpace(q.Question)
		q.DefaultAnswer = strings.TrimSpace(q.DefaultAnswer)
		if q.Question != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions", ErrMalformedResponse)
	}
	if len(questions) > MaxClarifyingQuestions {
		questions = questions[:MaxClarifyingQuestions]
	}
	return questions, nil
}

// weightValue accepts a JSON number or a numeric string such as "40" or "40%".
type weightValue struct {
	set   bool
	value float64
}

func (w *weightValue) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSuffix(strings.TrimSpace(unquoted), "%")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return fmt.Errorf("weight %s is not numeric", string(data))
	}
	w.set = true
	w.value = v
	return nil
}

func parseAnalysis(content string) (Analysis, error) {
	block := normalizeJSONBlock(content)
	if block == "" {
		return Analysis{}, fmt.Errorf("%w: %s", ErrRefused, truncate(content, 500))
	}
	var raw struct {
		Analysis       string `json:"analysis"`
		OptionAnalyses []struct {
			Option    string      `json:"option"`
			Analysis  string      `json:"analysis"`
			Weight    weightValue `json:"weight"`
			BestCase  string      `json:"bestCase"`
			WorstCase string      `json:"worstCase"`
		} `json:"optionAnalyses"`
		KeyFactors     []string `json:"keyFactors"`
		Recommendation string   `json:"recommendation"`
	}
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return Analysis{}, fmt.Errorf("%w: parse analysis: %v", ErrMalformedResponse, err)
	}
	if len(raw.OptionAnalyses) == 0 {
		return Analysis{}, fmt.Errorf("%w: optionAnalyses missing", ErrMalformedResponse)
	}

	analysis := Analysis{
		Analysis:       strings.TrimSpace(raw.Analysis),
		Recommendation: strings.TrimSpace(raw.Recommendation),
		OptionAnalyses: make([]OptionAnalysis, 0, len(raw.OptionAnalyses)),
	}
	for i, oa := range raw.OptionAnalyses {
		option := strings.TrimSpace(oa.Option)
		if option == "" {
			return Analysis{}, fmt.Errorf("%w: option %d has no label", ErrMalformedResponse, i+1)
		}
		if !oa.Weight.set {
			return Analysis{}, fmt.Errorf("%w: option %q has no weight", ErrMalformedResponse, option)
		}
		if math.IsNaN(oa.Weight.value) || math.IsInf(oa.Weight.value, 0) || oa.Weight.value < 0 {
			return Analysis{}, fmt.Errorf("%w: option %q has invalid weight %v", ErrMalformedResponse, option, oa.Weight.value)
		}
		analysis.OptionAnalyses = append(analysis.OptionAnalyses, OptionAnalysis{
			Option:    option,
			Analysis:  strings.TrimSpace(oa.Analysis),
			Weight:    oa.Weight.value,
			BestCase:  strings.TrimSpace(oa.BestCase),
			WorstCase: strings.TrimSpace(oa.WorstCase),
		})
	}
	for _, factor := range raw.KeyFactors {
		if factor = strings.TrimSpace(factor); factor != "" {
			analysis.KeyFactors = append(analysis.KeyFactors, factor)
		}
	}
	if analysis.Recommendation == "" {
		return Analysis{}, fmt.Errorf("%w: recommendation missing", ErrMalformedResponse)
	}
	return analysis, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
