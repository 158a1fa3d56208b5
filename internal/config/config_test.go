package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if len(cfg.Providers) == 0 {
		t.Fatal("expected default providers")
	}
	or, ok := cfg.GetProvider("openrouter")
	if !ok || !or.Enabled {
		t.Error("expected openrouter enabled by default")
	}
	if or.APIKey != "${OPENROUTER_API_KEY}" {
		t.Error("expected openrouter API key placeholder")
	}
	if cfg.Defaults.PositiveMarks != 4 || cfg.Defaults.NegativeMarks != 1 || cfg.Defaults.DurationSeconds != 120 {
		t.Errorf("marking defaults = %+v", cfg.Defaults)
	}
	if cfg.Pipeline.RenderScale != 2.0 {
		t.Errorf("render scale = %v", cfg.Pipeline.RenderScale)
	}
}

func TestEnabledProviders(t *testing.T) {
	cfg := DefaultConfig()
	enabled := cfg.EnabledProviders()
	if len(enabled) != 1 {
		t.Errorf("enabled = %d, want only openrouter", len(enabled))
	}
	if _, ok := enabled["gemini"]; ok {
		t.Error("gemini should be disabled by default")
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		os.Setenv("TEST_API_KEY", "secret123")
		defer os.Unsetenv("TEST_API_KEY")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := filepath.Join(tmpDir, "config.yaml")

		configContent := `
backend:
  question_api_url: https://api.example.com
  hierarchy_api_url: https://api.example.com/taxonomy
pipeline:
  render_scale: 3.0
  extract_diagrams: false
defaults:
  provider: gemini
`
		if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
			t.Fatal(err)
		}

		cm, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("NewManager() error = %v", err)
		}

		cfg := cm.Get()
		if cfg.Backend.QuestionAPIURL != "https://api.example.com" {
			t.Errorf("question API URL = %q", cfg.Backend.QuestionAPIURL)
		}
		if cfg.Pipeline.RenderScale != 3.0 {
			t.Errorf("render scale = %v", cfg.Pipeline.RenderScale)
		}
		if cfg.Pipeline.ExtractDiagrams {
			t.Error("extract_diagrams should be disabled by the file")
		}
		if cfg.Defaults.Provider != "gemini" {
			t.Errorf("default provider = %q", cfg.Defaults.Provider)
		}
		// Values the file does not set fall back to defaults.
		if cfg.Defaults.PositiveMarks != 4 {
			t.Errorf("positive marks = %v, want default 4", cfg.Defaults.PositiveMarks)
		}
	})

	t.Run("rejects malformed config file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := filepath.Join(tmpDir, "config.yaml")
		if err := os.WriteFile(configFile, []byte("providers: [not: valid"), 0o644); err != nil {
			t.Fatal(err)
		}

		if _, err := NewManager(configFile); err == nil {
			t.Error("expected error for malformed config")
		}
	})
}

func TestWriteDefault(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "# qingest configuration") {
		t.Error("missing header comment")
	}
	if !strings.Contains(content, "${OPENROUTER_API_KEY}") {
		t.Error("missing API key placeholder")
	}
	if !strings.Contains(content, "render_scale") {
		t.Error("missing pipeline settings")
	}
}
