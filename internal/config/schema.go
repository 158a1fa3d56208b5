package config

// Config holds qingest configuration.
// Loaded from ./config.yaml or ~/.qingest/config.yaml.
type Config struct {
	Providers map[string]ProviderCfg `mapstructure:"providers" yaml:"providers"`
	Storage   StorageCfg             `mapstructure:"storage" yaml:"storage"`
	Backend   BackendCfg             `mapstructure:"backend" yaml:"backend"`
	Pipeline  PipelineCfg            `mapstructure:"pipeline" yaml:"pipeline"`
	Defaults  DefaultsCfg            `mapstructure:"defaults" yaml:"defaults"`
}

// ProviderCfg configures a vision/LLM provider.
type ProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`             // "openrouter", "gemini", "openai"
	Model     string  `mapstructure:"model" yaml:"model"`           // Model name
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// StorageCfg configures the S3-compatible object store for cropped images.
type StorageCfg struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Region    string `mapstructure:"region" yaml:"region"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"` // supports ${ENV_VAR}
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"` // supports ${ENV_VAR}
	CDNURL    string `mapstructure:"cdn_url" yaml:"cdn_url"`
	Folder    string `mapstructure:"folder" yaml:"folder"` // destination folder for crops
}

// BackendCfg points at the question and hierarchy APIs.
type BackendCfg struct {
	QuestionAPIURL  string `mapstructure:"question_api_url" yaml:"question_api_url"`
	HierarchyAPIURL string `mapstructure:"hierarchy_api_url" yaml:"hierarchy_api_url"`
	AuthToken       string `mapstructure:"auth_token" yaml:"auth_token"` // supports ${ENV_VAR}
}

// PipelineCfg holds pipeline behavior switches.
type PipelineCfg struct {
	// RenderScale scales page rasterization; higher values produce larger
	// page images and better crop fidelity at proportional cost.
	RenderScale float64 `mapstructure:"render_scale" yaml:"render_scale"`
	// ExtractDiagrams enables the image region identification and cropping
	// stage. When false the pipeline produces questions with no images and
	// diagram insertion is left as a manual step.
	ExtractDiagrams bool `mapstructure:"extract_diagrams" yaml:"extract_diagrams"`
	RequestHints    bool `mapstructure:"request_hints" yaml:"request_hints"`
	RequestSolution bool `mapstructure:"request_solutions" yaml:"request_solutions"`
	// MaxCropWorkers bounds concurrent crop/upload work.
	MaxCropWorkers int `mapstructure:"max_crop_workers" yaml:"max_crop_workers"`
}

// DefaultsCfg specifies defaults applied when a page does not state its own
// marking scheme, plus the default provider selection.
type DefaultsCfg struct {
	Provider        string  `mapstructure:"provider" yaml:"provider"`
	PositiveMarks   float64 `mapstructure:"positive_marks" yaml:"positive_marks"`
	NegativeMarks   float64 `mapstructure:"negative_marks" yaml:"negative_marks"`
	DurationSeconds int     `mapstructure:"duration_seconds" yaml:"duration_seconds"`
	Difficulty      string  `mapstructure:"difficulty" yaml:"difficulty"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderCfg{
			"openrouter": {
				Type:      "openrouter",
				Model:     "anthropic/claude-sonnet-4",
				APIKey:    "${OPENROUTER_API_KEY}",
				RateLimit: 10.0,
				Enabled:   true,
			},
			"gemini": {
				Type:    "gemini",
				Model:   "gemini-2.0-flash",
				APIKey:  "${GEMINI_API_KEY}",
				Enabled: false,
			},
			"openai": {
				Type:    "openai",
				Model:   "gpt-4o",
				APIKey:  "${OPENAI_API_KEY}",
				Enabled: false,
			},
		},
		Storage: StorageCfg{
			Region:    "us-east-1",
			AccessKey: "${STORAGE_ACCESS_KEY}",
			SecretKey: "${STORAGE_SECRET_KEY}",
			Folder:    "question-images",
		},
		Backend: BackendCfg{
			AuthToken: "${BACKEND_AUTH_TOKEN}",
		},
		Pipeline: PipelineCfg{
			RenderScale:     2.0,
			ExtractDiagrams: true,
			RequestHints:    true,
			RequestSolution: true,
			MaxCropWorkers:  4,
		},
		Defaults: DefaultsCfg{
			Provider:        "openrouter",
			PositiveMarks:   4,
			NegativeMarks:   1,
			DurationSeconds: 120,
			Difficulty:      "medium",
		},
	}
}

// GetProvider returns a provider config by name.
func (c *Config) GetProvider(name string) (ProviderCfg, bool) {
	cfg, ok := c.Providers[name]
	return cfg, ok
}

// EnabledProviders returns all enabled providers.
func (c *Config) EnabledProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
