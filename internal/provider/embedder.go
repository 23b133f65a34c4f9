package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// titanDimensions keeps vectors small enough for the sqlite index
const titanDimensions = 512

// TitanEmbedder produces embeddings via Amazon Titan on Bedrock. Anthropic
// has no embeddings endpoint, so semantic search requires AWS access.
type TitanEmbedder struct {
	client *bedrockruntime.Client
	model  string
}

// NewTitanEmbedder creates an embedder for the given Titan model
func NewTitanEmbedder(ctx context.Context, region, model string) (*TitanEmbedder, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if model == "" {
		model = "amazon.titan-embed-text-v2:0"
	}
	return &TitanEmbedder{
		client: bedrockruntime.NewFromConfig(awsCfg),
		model:  model,
	}, nil
}

type titanRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize,omitempty"`
}

type titanResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embed implements Embedder
func (t *TitanEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanRequest{
		InputText:  text,
		Dimensions: titanDimensions,
		Normalize:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	out, err := t.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(t.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("titan invoke failed: %w", err)
	}

	var resp titanResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return resp.Embedding, nil
}
