// Package providers implements the pluggable vision/LLM clients used by the
// extraction pipeline. All providers accept a text prompt plus inline images
// and return free-form text expected to contain one JSON object.
package providers

import (
	"context"
	"encoding/json"
	"time"
)

// VisionClient is the interface all vision-capable providers implement.
type VisionClient interface {
	// Generate sends a prompt (optionally with inline images) and returns
	// the model's response.
	Generate(ctx context.Context, req *Request) (*Result, error)

	// Name returns the client identifier (e.g. "openrouter").
	Name() string
}

// Request is a single generation request.
type Request struct {
	// System is the optional system instruction.
	System string `json:"system,omitempty"`

	// Prompt is the user prompt text.
	Prompt string `json:"prompt"`

	// Images are inline page images (PNG or JPEG bytes), base64-encoded in
	// the provider request.
	Images [][]byte `json:"-"`

	// Schema, when set, requests structured JSON output conforming to the
	// given JSON schema. Providers that cannot enforce it server-side fall
	// back to prompt-level instructions plus local validation.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Model overrides the client's default model when non-empty.
	Model string `json:"model,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// RequestID is used for tracking; generated when empty.
	RequestID string `json:"-"`
}

// Result is the response from a provider call.
type Result struct {
	Content string `json:"content"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	Provider      string        `json:"provider"`
	ModelUsed     string        `json:"model_used"`
	RequestID     string        `json:"request_id"`
	ExecutionTime time.Duration `json:"execution_time"`
}
