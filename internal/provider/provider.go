// Package provider abstracts the hosted LLM backends (Anthropic API, AWS
// Bedrock) behind one completion interface, with failover between them.
package provider

import "context"

// Client is the interface every LLM provider implements
type Client interface {
	// Name identifies the provider: "anthropic" or "bedrock"
	Name() string
	// Complete sends a system+user prompt and returns the text completion
	Complete(ctx context.Context, system, prompt string) (string, error)
	// Ping performs a minimal request to verify the provider is reachable
	Ping(ctx context.Context) error
}

// Embedder produces embedding vectors for semantic moment search
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
