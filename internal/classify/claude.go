package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nhle/onebox/internal/model"
)

const (
	apiURL     = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"

	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 1024

	// bodyPreviewLimit bounds how much message body is sent to the API.
	bodyPreviewLimit = 800
)

// Claude classifies messages with the Claude Messages API, falling back
// to the deterministic keyword pass whenever the API is unavailable or
// returns something outside the fixed category set.
type Claude struct {
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
	limiter   *rate.Limiter
	log       zerolog.Logger
}

// NewClaude creates the generative classifier from configuration.
func NewClaude(cfg model.AIConfig, log zerolog.Logger) *Claude {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Claude{
		apiKey:    cfg.APIKey,
		model:     modelName,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(2, 4),
		log:       log,
	}
}

// Categorize never fails: any API error, rate-limit cancellation, or
// out-of-set answer degrades to the keyword fallback.
func (c *Claude) Categorize(ctx context.Context, msg *model.Message) Result {
	if c.apiKey == "" {
		return Fallback(msg)
	}

	res, err := c.categorize(ctx, msg)
	if err != nil {
		c.log.Warn().Err(err).Str("id", msg.ID).Msg("classifier failed, using keyword fallback")
		return Fallback(msg)
	}
	return res
}

func (c *Claude) categorize(ctx context.Context, msg *model.Message) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	text, err := c.complete(ctx, categorizeSystemPrompt, buildCategorizePrompt(msg))
	if err != nil {
		return Result{}, err
	}

	res, err := parseResult(text)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

const categorizeSystemPrompt = "You are an expert email classifier for a sales " +
	"outreach platform. You respond with a single JSON object and nothing else."

// buildCategorizePrompt renders the classification request for one message.
func buildCategorizePrompt(msg *model.Message) string {
	var sb strings.Builder

	sb.WriteString("Classify the email below into exactly ONE of these categories:\n\n")
	sb.WriteString(`1. "Interested" - the recipient shows interest, asks questions, or wants to learn more` + "\n")
	sb.WriteString(`2. "Meeting Booked" - the recipient has scheduled or confirmed a meeting or call` + "\n")
	sb.WriteString(`3. "Not Interested" - the recipient explicitly declines the offer` + "\n")
	sb.WriteString(`4. "Spam" - unwanted promotional mail, newsletters, or irrelevant content` + "\n")
	sb.WriteString(`5. "Out of Office" - automated out-of-office or vacation replies` + "\n\n")

	sb.WriteString("Email:\n")
	sb.WriteString("Subject: " + orDefault(msg.Subject, "No subject") + "\n")
	sb.WriteString("From: " + orDefault(msg.From, "Unknown sender") + "\n")
	sb.WriteString("Body: " + truncate(msg.Body, bodyPreviewLimit) + "\n\n")

	sb.WriteString(`Respond with JSON: {"category": "<one of the five names>", ` +
		`"confidence": <0.0-1.0>, "reasoning": "<one short sentence>"}`)

	return sb.String()
}

// parseResult extracts a Result from the model's answer. Accepts either
// the requested JSON object or a bare category name.
func parseResult(text string) (Result, error) {
	var parsed struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}

	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err == nil {
				cat := model.Category(strings.TrimSpace(parsed.Category))
				if model.ValidCategory(cat) {
					return Result{
						Category:   cat,
						Confidence: clamp01(parsed.Confidence),
						Reasoning:  parsed.Reasoning,
					}, nil
				}
			}
		}
	}

	cat := model.Category(strings.Trim(strings.TrimSpace(text), `"`))
	if model.ValidCategory(cat) {
		return Result{Category: cat, Confidence: 0.9}, nil
	}

	return Result{}, fmt.Errorf("unrecognized classifier answer %q", truncate(text, 80))
}

// complete makes a single request to the Claude Messages API and returns
// the concatenated text content.
func (c *Claude) complete(ctx context.Context, system, user string) (string, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages: []apiMessage{
			{
				Role:    "user",
				Content: []apiContentBlock{{Type: "text", Text: user}},
			},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, apiURL, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, ""), nil
}

// --- Claude API types ---

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []apiContentBlock `json:"content"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncate(text string, maxLength int) string {
	if len(text) <= maxLength {
		return text
	}
	// Back up to a rune boundary so the cut never splits a multi-byte
	// character.
	cut := maxLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
