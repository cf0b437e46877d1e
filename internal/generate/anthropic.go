package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Default provider values.
const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	defaultTimeout          = 120 * time.Second
	defaultRateLimit        = 50.0 / 60.0 // ~0.83 requests per second
	defaultBurst            = 5
)

// Provider is the upstream text-generation capability.
type Provider interface {
	// Generate performs one call. Errors are classified via *Error.
	Generate(ctx context.Context, req ProviderRequest) (*RawOutput, error)

	// Name identifies the provider/model pair for preflight and logs.
	Name() string
}

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// anthropicProvider implements Provider using Anthropic's Messages API.
type anthropicProvider struct {
	model      string
	apiKey     string `json:"-"` // Never serialize API keys
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewAnthropicProvider creates an Anthropic-backed Provider.
func NewAnthropicProvider(cfg AnthropicConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	limit := cfg.RateLimit
	if limit == 0 {
		limit = defaultRateLimit
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = defaultBurst
	}

	return &anthropicProvider{
		model:      model,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(limit), burst),
	}, nil
}

func (a *anthropicProvider) Name() string {
	return "anthropic/" + a.model
}

// anthropicRequest is the Messages API request body.
type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	Messages      []anthropicMessage `json:"messages"`
	System        string             `json:"system,omitempty"`
	Temperature   float64            `json:"temperature"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *anthropicProvider) Generate(ctx context.Context, req ProviderRequest) (*RawOutput, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, Transient(fmt.Errorf("rate limiter: %w", err))
	}

	model := req.Model
	if model == "" {
		model = a.model
	}

	body := anthropicRequest{
		Model:         model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		System:        req.System,
		StopSequences: req.StopSequences,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Prompt},
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey)
	httpReq.Header.Set("Anthropic-Version", "2023-06-01")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, Transient(fmt.Errorf("API request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, Transient(fmt.Errorf("rate limited (429)"))
	}
	if resp.StatusCode >= 500 {
		return nil, Transient(fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody)))
	}
	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, Permanent(fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message))
		}
		return nil, Permanent(fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody)))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	if len(parsed.Content) == 0 {
		return nil, Permanent(fmt.Errorf("empty response from API"))
	}

	return &RawOutput{
		Text:  parsed.Content[0].Text,
		Model: parsed.Model,
		Usage: TokenUsage{
			Prompt:     parsed.Usage.InputTokens,
			Completion: parsed.Usage.OutputTokens,
		},
	}, nil
}
