package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/vthunder/moments/internal/logging"
)

// bedrockAnthropicVersion is the version tag Claude models on Bedrock expect
const bedrockAnthropicVersion = "bedrock-2023-05-31"

// Bedrock invokes Claude models through AWS Bedrock. Credentials and region
// come from the default AWS config chain (env, shared config, instance role).
type Bedrock struct {
	client      *bedrockruntime.Client
	model       string
	maxTokens   int
	temperature float64
}

// BedrockConfig holds client configuration
type BedrockConfig struct {
	Region      string // "" uses the chain's region
	Model       string
	MaxTokens   int
	Temperature float64
}

// NewBedrock creates a Bedrock runtime client
func NewBedrock(ctx context.Context, cfg BedrockConfig) (*Bedrock, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.Model == "" {
		cfg.Model = "anthropic.claude-sonnet-4-20250514-v1:0"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	return &Bedrock{
		client:      bedrockruntime.NewFromConfig(awsCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name implements Client
func (b *Bedrock) Name() string { return "bedrock" }

// bedrockRequest is the Claude-on-Bedrock invocation body
type bedrockRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
	Temperature      float64            `json:"temperature,omitempty"`
}

// bedrockResponse mirrors the Messages API response shape
type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete implements Client
func (b *Bedrock) Complete(ctx context.Context, system, prompt string) (string, error) {
	return b.invoke(ctx, system, prompt, b.maxTokens)
}

// Ping implements Client with a 1-token invocation
func (b *Bedrock) Ping(ctx context.Context) error {
	_, err := b.invoke(ctx, "", "ping", 1)
	return err
}

func (b *Bedrock) invoke(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        maxTokens,
		System:           system,
		Messages:         []anthropicMessage{{Role: "user", Content: prompt}},
		Temperature:      b.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock invoke failed: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("no completion returned (stop_reason=%s)", resp.StopReason)
	}

	logging.Debug("provider", "bedrock completion: %d in / %d out tokens",
		resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return strings.TrimSpace(text.String()), nil
}
