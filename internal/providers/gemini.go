package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

const GeminiName = "gemini"

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
}

// GeminiClient implements VisionClient using the Google Gemini API.
type GeminiClient struct {
	apiKey       string
	defaultModel string
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	return &GeminiClient{
		apiKey:       strings.TrimSpace(cfg.APIKey),
		defaultModel: cfg.DefaultModel,
	}
}

// Name returns the client identifier.
func (c *GeminiClient) Name() string {
	return GeminiName
}

// Generate sends a generation request.
func (c *GeminiClient) Generate(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	if c.apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is empty")
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	defer cl.Close()

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	m := cl.GenerativeModel(model)
	temp := float32(req.Temperature)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: &temp,
	}
	if req.MaxTokens > 0 {
		maxTokens := int32(req.MaxTokens)
		m.GenerationConfig.MaxOutputTokens = &maxTokens
	}
	// Structured output is requested at the MIME level; the canonical schema
	// is enforced locally by the caller via ValidateJSON.
	if len(req.Schema) > 0 {
		m.GenerationConfig.ResponseMIMEType = "application/json"
	}
	if req.System != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}

	parts := []genai.Part{genai.Text(req.Prompt)}
	for _, img := range req.Images {
		parts = append(parts, genai.ImageData("png", img))
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: generation failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini: empty response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	result := &Result{
		Content:       sb.String(),
		Provider:      GeminiName,
		ModelUsed:     model,
		RequestID:     requestID,
		ExecutionTime: time.Since(start),
	}
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		result.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return result, nil
}

// Verify interface
var _ VisionClient = (*GeminiClient)(nil)
