package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns the defaults with the only required secret filled in
func validConfig() *Config {
	cfg := Default()
	cfg.OpenAI.APIKey = "test-key"
	return cfg
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid server port",
			mutate:      func(c *Config) { c.Server.Port = 70000 },
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name:        "missing api key",
			mutate:      func(c *Config) { c.OpenAI.APIKey = "" },
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
		{
			name:        "missing verifier model",
			mutate:      func(c *Config) { c.OpenAI.VerifierModel = "" },
			expectError: true,
			errorMsg:    "verifier_model cannot be empty",
		},
		{
			name:        "zero chunk duration",
			mutate:      func(c *Config) { c.Capture.ChunkDuration = 0 },
			expectError: true,
			errorMsg:    "chunk_duration",
		},
		{
			name:        "zero verify timeout",
			mutate:      func(c *Config) { c.Pipeline.VerifyTimeout = 0 },
			expectError: true,
			errorMsg:    "verify_timeout must be at least 1 second",
		},
		{
			name:        "zero error ceiling",
			mutate:      func(c *Config) { c.Pipeline.MaxConsecutiveErrors = 0 },
			expectError: true,
			errorMsg:    "max_consecutive_errors",
		},
		{
			name:        "overlap not smaller than chunk size",
			mutate:      func(c *Config) { c.Knowledge.ChunkOverlap = c.Knowledge.ChunkSize },
			expectError: true,
			errorMsg:    "chunk_overlap",
		},
		{
			name:        "min score out of range",
			mutate:      func(c *Config) { c.Knowledge.MinScore = 1.5 },
			expectError: true,
			errorMsg:    "min_score",
		},
		{
			name:        "negative retries",
			mutate:      func(c *Config) { c.Transcription.MaxRetries = -1 },
			expectError: true,
			errorMsg:    "max_retries cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
server:
  address: "127.0.0.1"
  port: 9000
openai:
  api_key: "test-key"
capture:
  chunk_duration: 15
pipeline:
  top_k: 5
knowledge:
  docs_dir: "refs"
logging:
  level: "debug"
  format: "json"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
server:
  port: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing api key",
			configYAML: `
server:
  port: 9000
`,
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if config.Server.Port != 9000 {
				t.Errorf("Expected port 9000, got %d", config.Server.Port)
			}
			if config.Capture.ChunkDuration != 15 {
				t.Errorf("Expected chunk_duration 15, got %d", config.Capture.ChunkDuration)
			}
			// Untouched keys keep their defaults
			if config.Pipeline.VerifyTimeout != 60 {
				t.Errorf("Expected default verify_timeout 60, got %d", config.Pipeline.VerifyTimeout)
			}
			if config.Knowledge.ChunkSize != 800 {
				t.Errorf("Expected default chunk_size 800, got %d", config.Knowledge.ChunkSize)
			}
		})
	}
}

func TestConfigLoadNonexistentFileUsesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")

	config, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults to load, got: %v", err)
	}
	if config.OpenAI.APIKey != "env-key" {
		t.Errorf("Expected api key from environment, got '%s'", config.OpenAI.APIKey)
	}
	if config.Server.Port != 8001 {
		t.Errorf("Expected default port 8001, got %d", config.Server.Port)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("FFMPEG_PATH", "/opt/ffmpeg")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("openai:\n  api_key: from-file\n"), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.OpenAI.APIKey != "from-env" {
		t.Errorf("Expected env api key to win, got '%s'", config.OpenAI.APIKey)
	}
	if config.Capture.RecorderPath != "/opt/ffmpeg" {
		t.Errorf("Expected recorder path override, got '%s'", config.Capture.RecorderPath)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()

	if cfg.Server.GetPingInterval() != 20*time.Second {
		t.Errorf("Expected 20 seconds, got %v", cfg.Server.GetPingInterval())
	}

	if cfg.Capture.GetChunkDuration() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", cfg.Capture.GetChunkDuration())
	}

	expected := map[string]struct {
		got  time.Duration
		want time.Duration
	}{
		"transcribe": {cfg.Pipeline.GetTranscribeTimeout(), 30 * time.Second},
		"refine":     {cfg.Pipeline.GetRefineTimeout(), 15 * time.Second},
		"classify":   {cfg.Pipeline.GetClassifyTimeout(), 15 * time.Second},
		"retrieve":   {cfg.Pipeline.GetRetrieveTimeout(), 10 * time.Second},
		"verify":     {cfg.Pipeline.GetVerifyTimeout(), 60 * time.Second},
	}
	for name, d := range expected {
		if d.got != d.want {
			t.Errorf("%s timeout: expected %v, got %v", name, d.want, d.got)
		}
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name:   "valid json to stdout",
			config: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			valid:  true,
		},
		{
			name:   "valid text to file",
			config: LoggingConfig{Level: "debug", Format: "text", Output: "/var/log/fact.log"},
			valid:  true,
		},
		{
			name:   "invalid log level",
			config: LoggingConfig{Level: "trace", Format: "json", Output: "stdout"},
			valid:  false,
		},
		{
			name:   "invalid format",
			config: LoggingConfig{Level: "info", Format: "xml", Output: "stdout"},
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}
