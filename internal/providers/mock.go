package providers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is a VisionClient for testing.
type MockClient struct {
	// Configurable behavior
	Latency    time.Duration
	ShouldFail bool
	FailAfter  int // Fail after N requests (0 = never)

	// Responses are returned in order; the last one repeats. When empty,
	// Response is used for every call.
	Response  string
	Responses []string

	// State
	requestCount atomic.Int64
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Response: `{}`,
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// RequestCount returns the number of Generate calls made.
func (c *MockClient) RequestCount() int {
	return int(c.requestCount.Load())
}

// Generate returns the configured canned response.
func (c *MockClient) Generate(ctx context.Context, req *Request) (*Result, error) {
	n := c.requestCount.Add(1)

	if c.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.Latency):
		}
	}

	if c.ShouldFail || (c.FailAfter > 0 && int(n) > c.FailAfter) {
		return nil, fmt.Errorf("mock failure on request %d", n)
	}

	content := c.Response
	if len(c.Responses) > 0 {
		idx := int(n) - 1
		if idx >= len(c.Responses) {
			idx = len(c.Responses) - 1
		}
		content = c.Responses[idx]
	}

	return &Result{
		Content:   content,
		Provider:  MockClientName,
		ModelUsed: "mock-model",
		RequestID: req.RequestID,
	}, nil
}

// Verify interface
var _ VisionClient = (*MockClient)(nil)
