package providers

import (
	"fmt"
	"log/slog"
	"sync"
)

// ClientConfig is the config-file shape for a single provider entry.
type ClientConfig struct {
	Type    string
	Model   string
	APIKey  string
	Enabled bool
}

// RegistryConfig maps provider names to their configuration.
type RegistryConfig struct {
	Clients map[string]ClientConfig
}

// Registry holds the configured vision clients and provides thread-safe
// access by name. Clients are constructor-injected into pipeline stages;
// nothing here is module-level mutable state.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]VisionClient
	logger  *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clients: make(map[string]VisionClient),
		logger:  logger,
	}
}

// Register registers a vision client by name.
func (r *Registry) Register(name string, client VisionClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.logger.Info("registered vision client", "name", name, "type", client.Name())
}

// Get returns a vision client by name.
func (r *Registry) Get(name string) (VisionClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("vision client not found: %s", name)
	}
	return client, nil
}

// List returns all registered client names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

// LoadFromConfig instantiates and registers clients for every enabled entry.
// Returns an error when no enabled provider could be constructed, since the
// pipeline cannot run without a model client.
func (r *Registry) LoadFromConfig(cfg RegistryConfig) error {
	registered := 0
	for name, cc := range cfg.Clients {
		if !cc.Enabled {
			continue
		}
		client, err := newClient(cc)
		if err != nil {
			r.logger.Warn("skipping provider", "name", name, "error", err)
			continue
		}
		r.Register(name, client)
		registered++
	}
	if registered == 0 {
		return fmt.Errorf("no vision providers configured: check API keys and enabled flags")
	}
	return nil
}

func newClient(cc ClientConfig) (VisionClient, error) {
	if cc.APIKey == "" {
		return nil, fmt.Errorf("missing API key for %s provider", cc.Type)
	}
	switch cc.Type {
	case "openrouter":
		return NewOpenRouterClient(OpenRouterConfig{
			APIKey:       cc.APIKey,
			DefaultModel: cc.Model,
		}), nil
	case "gemini":
		return NewGeminiClient(GeminiConfig{
			APIKey:       cc.APIKey,
			DefaultModel: cc.Model,
		}), nil
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:       cc.APIKey,
			DefaultModel: cc.Model,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cc.Type)
	}
}
