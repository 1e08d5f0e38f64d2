package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"order-chatbot/internal/metrics"
)

const defaultGeminiAPIBase = "https://generativelanguage.googleapis.com/v1beta"

// failureMemo is how long a failed analysis is reused for the same text.
const failureMemo = time.Minute

var (
	errQuotaExceeded = errors.New("gemini quota exceeded")
	errUnauthorised  = errors.New("gemini unauthorised")
)

// Config holds Gemini client configuration.
type Config struct {
	APIKeys  []string
	Model    string
	Timeout  time.Duration
	Cooldown time.Duration
	BaseURL  string
}

// Analysis is the structured annotation of one operator message.
type Analysis struct {
	Entities  map[string]string `json:"entities"`
	Sentiment float64           `json:"sentiment"`
}

// Client asks Gemini for named entities and a sentiment score. It satisfies
// both the recognizer and the sentiment scorer used by the dialogue engine;
// the analysis of the most recent text is reused so one message costs one call.
type Client struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	httpClient *http.Client
	baseURL    string
	model      string
	keys       []string
	cooldown   time.Duration
	fallback   *Lexicon

	mu            sync.Mutex
	cooldownUntil map[string]time.Time
	lastText      string
	last          *Analysis
	lastErr       error
	lastErrAt     time.Time
}

// New creates a Gemini client.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultGeminiAPIBase
	}
	return &Client{
		logger:        logger.With("component", "nlu"),
		metrics:       metrics,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		baseURL:       base,
		model:         cfg.Model,
		keys:          cfg.APIKeys,
		cooldown:      cfg.Cooldown,
		fallback:      NewLexicon(),
		cooldownUntil: make(map[string]time.Time),
	}
}

// Recognize returns the entities Gemini finds in text. Failures are logged and
// yield an empty set.
func (c *Client) Recognize(ctx context.Context, text string) map[string]string {
	analysis, err := c.Analyze(ctx, text)
	if err != nil {
		c.logger.Warn("entity recognition failed", "error", err)
		return map[string]string{}
	}
	out := make(map[string]string, len(analysis.Entities))
	for k, v := range analysis.Entities {
		out[k] = v
	}
	return out
}

// Score returns a sentiment score in [-1, 1]. The lexicon scorer answers when
// Gemini is unavailable.
func (c *Client) Score(ctx context.Context, text string) float64 {
	analysis, err := c.Analyze(ctx, text)
	if err != nil {
		c.logger.Warn("sentiment analysis failed, using lexicon", "error", err)
		return c.fallback.Score(ctx, text)
	}
	return analysis.Sentiment
}

// Analyze calls Gemini once per distinct text. A failure is also reused for
// the same text for a short while, so one message never rotates the keys twice.
func (c *Client) Analyze(ctx context.Context, text string) (*Analysis, error) {
	c.mu.Lock()
	if c.lastText == text {
		if c.last != nil {
			cached := c.last
			c.mu.Unlock()
			return cached, nil
		}
		if c.lastErr != nil && time.Since(c.lastErrAt) < failureMemo {
			err := c.lastErr
			c.mu.Unlock()
			return nil, err
		}
	}
	c.mu.Unlock()

	analysis, err := c.analyze(ctx, text)

	c.mu.Lock()
	c.lastText = text
	c.last = analysis
	c.lastErr = err
	c.lastErrAt = time.Now()
	c.mu.Unlock()
	return analysis, err
}

func (c *Client) analyze(ctx context.Context, text string) (*Analysis, error) {
	res, err := c.callGemini(ctx, buildAnalysisPrompt(text))
	if err != nil {
		return nil, err
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(normaliseJSON(res)), &analysis); err != nil {
		if c.metrics != nil {
			c.metrics.Errors.WithLabelValues("nlu").Inc()
		}
		snippet := res
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("parse analysis json: %w (snippet=%q)", err, snippet)
	}
	if analysis.Entities == nil {
		analysis.Entities = map[string]string{}
	}
	analysis.Sentiment = clamp(analysis.Sentiment)

	c.logger.Debug("text analysed", "entities", len(analysis.Entities), "sentiment", analysis.Sentiment)
	return &analysis, nil
}

func buildAnalysisPrompt(text string) geminiRequest {
	var sb strings.Builder
	sb.WriteString("You annotate messages sent by a production supervisor to a manufacturing order assistant. ")
	sb.WriteString("Return exactly one JSON object and nothing else.\n\n")
	sb.WriteString("Format:\n")
	sb.WriteString(`{"entities":{"LABEL":"text span"},"sentiment":0.0}` + "\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Use upper-case named-entity labels such as PERSON, ORG, GPE, LOC, DATE, TIME, CARDINAL, QUANTITY, PRODUCT.\n")
	sb.WriteString("- Keep one span per label, copied verbatim from the message.\n")
	sb.WriteString("- sentiment is a compound polarity between -1 (very negative) and 1 (very positive).\n\n")
	sb.WriteString("Example:\n")
	sb.WriteString("Message: \"show me orders for plant A123 tomorrow please\"\n")
	sb.WriteString(`Output: {"entities":{"DATE":"tomorrow"},"sentiment":0.32}` + "\n\n")
	sb.WriteString("Message:\n")
	sb.WriteString(text)

	return geminiRequest{
		Contents: []geminiContent{
			{
				Role:  "user",
				Parts: []geminiPart{{Text: sb.String()}},
			},
		},
		GenerationConfig: generationConfig{
			Temperature:     0.1,
			MaxOutputTokens: 256,
		},
	}
}

func (c *Client) callGemini(ctx context.Context, payload geminiRequest) (string, error) {
	var lastErr error
	for _, key := range c.keys {
		if c.coolingDown(key) {
			continue
		}
		text, err := c.invokeWithKey(ctx, key, payload)
		if err == nil {
			if c.metrics != nil {
				c.metrics.GeminiRequests.WithLabelValues("success").Inc()
			}
			return text, nil
		}
		lastErr = err
		if errors.Is(err, errQuotaExceeded) || errors.Is(err, errUnauthorised) {
			c.setCooldown(key)
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no available gemini keys")
	}
	if c.metrics != nil {
		c.metrics.GeminiRequests.WithLabelValues("failed").Inc()
	}
	return "", lastErr
}

func (c *Client) coolingDown(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.cooldownUntil[key]
	return ok && time.Now().Before(until)
}

func (c *Client) setCooldown(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooldownUntil[key] = time.Now().Add(c.cooldown)
}

func (c *Client) invokeWithKey(ctx context.Context, key string, payload geminiRequest) (string, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.GeminiRequests.WithLabelValues("error").Inc()
		}
		return "", fmt.Errorf("gemini http: %w", err)
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.GeminiLatency.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Observe(time.Since(start).Seconds())
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return extractCandidateText(body)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", errQuotaExceeded
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", errUnauthorised
	}
	return "", fmt.Errorf("gemini request failed: status=%d body=%s", resp.StatusCode, string(body))
}

func extractCandidateText(body []byte) (string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				return part.Text, nil
			}
		}
	}
	return "", fmt.Errorf("no candidate text found")
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int32   `json:"maxOutputTokens,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Role  string       `json:"role"`
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// normaliseJSON strips markdown fences and surrounding prose from model output.
func normaliseJSON(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSpace(s)
		if strings.HasPrefix(strings.ToLower(s), "json") {
			if idx := strings.IndexByte(s, '\n'); idx >= 0 {
				s = s[idx+1:]
			} else {
				s = ""
			}
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		if start := strings.Index(s, "{"); start >= 0 {
			if end := strings.LastIndex(s, "}"); end >= start {
				s = s[start : end+1]
			}
		}
	}
	openBraces := strings.Count(s, "{")
	closeBraces := strings.Count(s, "}")
	if openBraces > closeBraces {
		s += strings.Repeat("}", openBraces-closeBraces)
	}
	return strings.TrimSpace(s)
}

func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
