package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vthunder/moments/internal/logging"
)

const anthropicVersion = "2023-06-01"

// minRequestInterval spaces requests out; the extraction engine already
// bounds parallelism, this guards against hammering on retry storms.
const minRequestInterval = 250 * time.Millisecond

// Anthropic talks to the Anthropic Messages API directly
type Anthropic struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	maxRetries  int
	httpClient  *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// AnthropicConfig holds client configuration
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string // default https://api.anthropic.com/v1
	Model       string
	MaxTokens   int
	Temperature float64
	MaxRetries  int
	Timeout     time.Duration
}

// NewAnthropic creates an Anthropic Messages API client
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Anthropic{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Name implements Client
func (a *Anthropic) Name() string { return "anthropic" }

// anthropicRequest is the Messages API request body
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse is the Messages API response body
type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete implements Client
func (a *Anthropic) Complete(ctx context.Context, system, prompt string) (string, error) {
	return a.complete(ctx, system, prompt, a.maxTokens)
}

// Ping implements Client with a 1-token request
func (a *Anthropic) Ping(ctx context.Context) error {
	_, err := a.complete(ctx, "", "ping", 1)
	return err
}

func (a *Anthropic) complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	if a.apiKey == "" {
		return "", fmt.Errorf("anthropic API key not configured")
	}

	a.throttle()

	reqBody := anthropicRequest{
		Model:       a.model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		Temperature: a.temperature,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			logging.Debug("provider", "anthropic retry %d after %v: %v", attempt, backoff, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/messages", bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)

		resp, err := a.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		// 429 and 5xx are retryable, everything else fails fast
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("anthropic status %d: %s", resp.StatusCode, logging.Truncate(string(body), 200))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("anthropic status %d: %s", resp.StatusCode, logging.Truncate(string(body), 500))
		}

		var apiResp anthropicResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if apiResp.Error != nil {
			return "", fmt.Errorf("anthropic error: %s", apiResp.Error.Message)
		}

		var text strings.Builder
		for _, block := range apiResp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		if text.Len() == 0 {
			return "", fmt.Errorf("no completion returned (stop_reason=%s)", apiResp.StopReason)
		}

		logging.Debug("provider", "anthropic completion: %d in / %d out tokens",
			apiResp.Usage.InputTokens, apiResp.Usage.OutputTokens)
		return strings.TrimSpace(text.String()), nil
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// throttle enforces the minimum interval between requests
func (a *Anthropic) throttle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if elapsed := time.Since(a.lastRequest); elapsed < minRequestInterval {
		time.Sleep(minRequestInterval - elapsed)
	}
	a.lastRequest = time.Now()
}
