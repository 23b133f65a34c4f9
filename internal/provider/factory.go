package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/vthunder/moments/internal/config"
	"github.com/vthunder/moments/internal/logging"
)

// Detect returns the provider name implied by the environment, preferring
// the direct Anthropic API when both are configured.
func Detect() string {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return "anthropic"
	}
	if os.Getenv("AWS_REGION") != "" || os.Getenv("AWS_DEFAULT_REGION") != "" ||
		os.Getenv("AWS_PROFILE") != "" || os.Getenv("AWS_ACCESS_KEY_ID") != "" {
		return "bedrock"
	}
	return ""
}

// New builds the primary and fallback clients from configuration. An empty
// primary auto-detects from the environment. The fallback is optional and
// must name a different provider than the primary.
func New(ctx context.Context, cfg config.ProviderConfig) (primary, fallback Client, err error) {
	name := cfg.Primary
	if name == "" {
		name = Detect()
	}
	if name == "" {
		return nil, nil, fmt.Errorf("no provider configured: set ANTHROPIC_API_KEY or AWS credentials")
	}

	primary, err = newClient(ctx, name, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s client: %w", name, err)
	}

	if cfg.Fallback != "" && cfg.Fallback != name {
		fallback, err = newClient(ctx, cfg.Fallback, cfg)
		if err != nil {
			// A broken fallback should not block startup
			logging.Warn("provider", "fallback %s unavailable: %v", cfg.Fallback, err)
			fallback = nil
			err = nil
		}
	}

	logging.Info("provider", "primary=%s fallback=%s", primary.Name(), fallbackName(fallback))
	return primary, fallback, nil
}

func newClient(ctx context.Context, name string, cfg config.ProviderConfig) (Client, error) {
	switch name {
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		return NewAnthropic(AnthropicConfig{
			APIKey:      key,
			Model:       cfg.AnthropicModel,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			MaxRetries:  cfg.MaxRetries,
			Timeout:     cfg.Timeout(),
		}), nil
	case "bedrock":
		return NewBedrock(ctx, BedrockConfig{
			Region:      os.Getenv("AWS_REGION"),
			Model:       cfg.BedrockModel,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic or bedrock)", name)
	}
}

// NewEmbedder builds the optional Titan embedder. Returns nil without error
// when no embed model is configured.
func NewEmbedder(ctx context.Context, cfg config.ProviderConfig) (Embedder, error) {
	if cfg.EmbedModel == "" {
		return nil, nil
	}
	return NewTitanEmbedder(ctx, os.Getenv("AWS_REGION"), cfg.EmbedModel)
}

func fallbackName(c Client) string {
	if c == nil {
		return "none"
	}
	return c.Name()
}
