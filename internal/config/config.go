package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	Capture       CaptureConfig       `yaml:"capture"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Knowledge     KnowledgeConfig     `yaml:"knowledge"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains HTTP/websocket server configuration
type ServerConfig struct {
	Address        string `yaml:"address"`
	Port           int    `yaml:"port"`
	PingInterval   int    `yaml:"ping_interval"`    // seconds
	WriteTimeout   int    `yaml:"write_timeout"`    // seconds, per websocket frame
	ReadLimitBytes int64  `yaml:"read_limit_bytes"` // max inbound websocket frame
}

// OpenAIConfig contains credentials and model names for the external services
type OpenAIConfig struct {
	APIKey             string `yaml:"api_key"`
	BaseURL            string `yaml:"base_url"`
	TranscriptionModel string `yaml:"transcription_model"`
	RefineModel        string `yaml:"refine_model"`
	ClassifierModel    string `yaml:"classifier_model"`
	VerifierModel      string `yaml:"verifier_model"`
	EmbeddingModel     string `yaml:"embedding_model"`
	Language           string `yaml:"language"`
}

// CaptureConfig contains live stream capture parameters
type CaptureConfig struct {
	ResolverPath    string `yaml:"resolver_path"`
	RecorderPath    string `yaml:"recorder_path"`
	Format          string `yaml:"format"`
	CookiesFile     string `yaml:"cookies_file"`
	ChunkDuration   int    `yaml:"chunk_duration"`   // seconds
	ResolveTimeout  int    `yaml:"resolve_timeout"`  // seconds
	RefreshEvery    int    `yaml:"refresh_every"`    // segments
	MinSegmentBytes int64  `yaml:"min_segment_bytes"`
	WorkDir         string `yaml:"work_dir"` // parent of per-run temp dirs, empty for os.TempDir
}

// PipelineConfig contains per-call timeouts and the error ceiling
type PipelineConfig struct {
	TranscribeTimeout    int `yaml:"transcribe_timeout"` // seconds
	RefineTimeout        int `yaml:"refine_timeout"`     // seconds
	ClassifyTimeout      int `yaml:"classify_timeout"`   // seconds
	RetrieveTimeout      int `yaml:"retrieve_timeout"`   // seconds
	VerifyTimeout        int `yaml:"verify_timeout"`     // seconds
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
	TopK                 int `yaml:"top_k"`
}

// KnowledgeConfig contains reference document indexing parameters
type KnowledgeConfig struct {
	DocsDir        string  `yaml:"docs_dir"`
	DBPath         string  `yaml:"db_path"`
	ChunkSize      int     `yaml:"chunk_size"`    // characters
	ChunkOverlap   int     `yaml:"chunk_overlap"` // characters
	BatchSize      int     `yaml:"batch_size"`
	MinScore       float64 `yaml:"min_score"`
	BuildOnStartup bool    `yaml:"build_on_startup"`
}

// TranscriptionConfig contains speech-to-text client configuration
type TranscriptionConfig struct {
	MaxRetries    int `yaml:"max_retries"`
	MaxConcurrent int `yaml:"max_concurrent"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration populated with the service defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        "0.0.0.0",
			Port:           8001,
			PingInterval:   20,
			WriteTimeout:   10,
			ReadLimitBytes: 64 * 1024,
		},
		OpenAI: OpenAIConfig{
			TranscriptionModel: "whisper-1",
			RefineModel:        "gpt-5-nano",
			ClassifierModel:    "gpt-5-nano",
			VerifierModel:      "gpt-5.2",
			EmbeddingModel:     "text-embedding-3-small",
			Language:           "ko",
		},
		Capture: CaptureConfig{
			ResolverPath:    "yt-dlp",
			RecorderPath:    "ffmpeg",
			Format:          "91",
			ChunkDuration:   10,
			ResolveTimeout:  30,
			RefreshEvery:    20,
			MinSegmentBytes: 1000,
		},
		Pipeline: PipelineConfig{
			TranscribeTimeout:    30,
			RefineTimeout:        15,
			ClassifyTimeout:      15,
			RetrieveTimeout:      10,
			VerifyTimeout:        60,
			MaxConsecutiveErrors: 10,
			TopK:                 3,
		},
		Knowledge: KnowledgeConfig{
			DocsDir:        "data/facts",
			DBPath:         "data/embeddings.db",
			ChunkSize:      800,
			ChunkOverlap:   200,
			BatchSize:      100,
			MinScore:       0.2,
			BuildOnStartup: true,
		},
		Transcription: TranscriptionConfig{
			MaxRetries:    1,
			MaxConcurrent: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over the defaults and applies environment overrides.
// A missing file is not an error: the defaults are used.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// applyEnv overrides secrets and paths from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.OpenAI.BaseURL = v
	}
	if v := os.Getenv("YOUTUBE_COOKIES_FILE"); v != "" {
		c.Capture.CookiesFile = v
	}
	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		c.Capture.RecorderPath = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.OpenAI.Validate(); err != nil {
		return fmt.Errorf("openai config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Knowledge.Validate(); err != nil {
		return fmt.Errorf("knowledge config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.PingInterval < 1 {
		return fmt.Errorf("ping_interval must be at least 1 second, got %d", s.PingInterval)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	if s.ReadLimitBytes < 512 {
		return fmt.Errorf("read_limit_bytes must be at least 512, got %d", s.ReadLimitBytes)
	}

	return nil
}

// Validate validates the external service configuration
func (o *OpenAIConfig) Validate() error {
	if o.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set OPENAI_API_KEY)")
	}

	models := map[string]string{
		"transcription_model": o.TranscriptionModel,
		"refine_model":        o.RefineModel,
		"classifier_model":    o.ClassifierModel,
		"verifier_model":      o.VerifierModel,
		"embedding_model":     o.EmbeddingModel,
	}
	for name, model := range models {
		if model == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.ResolverPath == "" {
		return fmt.Errorf("resolver_path cannot be empty")
	}

	if c.RecorderPath == "" {
		return fmt.Errorf("recorder_path cannot be empty")
	}

	if c.ChunkDuration < 1 || c.ChunkDuration > 300 {
		return fmt.Errorf("chunk_duration must be between 1 and 300 seconds, got %d", c.ChunkDuration)
	}

	if c.ResolveTimeout < 1 {
		return fmt.Errorf("resolve_timeout must be at least 1 second, got %d", c.ResolveTimeout)
	}

	if c.RefreshEvery < 1 {
		return fmt.Errorf("refresh_every must be at least 1, got %d", c.RefreshEvery)
	}

	if c.MinSegmentBytes < 0 {
		return fmt.Errorf("min_segment_bytes cannot be negative, got %d", c.MinSegmentBytes)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	timeouts := []struct {
		name  string
		value int
	}{
		{"transcribe_timeout", p.TranscribeTimeout},
		{"refine_timeout", p.RefineTimeout},
		{"classify_timeout", p.ClassifyTimeout},
		{"retrieve_timeout", p.RetrieveTimeout},
		{"verify_timeout", p.VerifyTimeout},
	}
	for _, t := range timeouts {
		if t.value < 1 {
			return fmt.Errorf("%s must be at least 1 second, got %d", t.name, t.value)
		}
	}

	if p.MaxConsecutiveErrors < 1 {
		return fmt.Errorf("max_consecutive_errors must be at least 1, got %d", p.MaxConsecutiveErrors)
	}

	if p.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", p.TopK)
	}

	return nil
}

// Validate validates knowledge cache configuration
func (k *KnowledgeConfig) Validate() error {
	if k.DocsDir == "" {
		return fmt.Errorf("docs_dir cannot be empty")
	}

	if k.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}

	if k.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", k.ChunkSize)
	}

	if k.ChunkOverlap < 0 || k.ChunkOverlap >= k.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be in [0, chunk_size (%d))", k.ChunkOverlap, k.ChunkSize)
	}

	if k.BatchSize < 1 || k.BatchSize > 2048 {
		return fmt.Errorf("batch_size must be between 1 and 2048, got %d", k.BatchSize)
	}

	if k.MinScore < -1 || k.MinScore > 1 {
		return fmt.Errorf("min_score must be between -1 and 1, got %f", k.MinScore)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output may be stdout, stderr or a file path
	return nil
}

// GetPingInterval returns the keepalive interval as a time.Duration
func (s *ServerConfig) GetPingInterval() time.Duration {
	return time.Duration(s.PingInterval) * time.Second
}

// GetWriteTimeout returns the websocket write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetChunkDuration returns the recorded segment length as a time.Duration
func (c *CaptureConfig) GetChunkDuration() time.Duration {
	return time.Duration(c.ChunkDuration) * time.Second
}

// GetResolveTimeout returns the resolver limit as a time.Duration
func (c *CaptureConfig) GetResolveTimeout() time.Duration {
	return time.Duration(c.ResolveTimeout) * time.Second
}

// GetTranscribeTimeout returns the transcription call timeout
func (p *PipelineConfig) GetTranscribeTimeout() time.Duration {
	return time.Duration(p.TranscribeTimeout) * time.Second
}

// GetRefineTimeout returns the refinement call timeout
func (p *PipelineConfig) GetRefineTimeout() time.Duration {
	return time.Duration(p.RefineTimeout) * time.Second
}

// GetClassifyTimeout returns the classification call timeout
func (p *PipelineConfig) GetClassifyTimeout() time.Duration {
	return time.Duration(p.ClassifyTimeout) * time.Second
}

// GetRetrieveTimeout returns the retrieval call timeout
func (p *PipelineConfig) GetRetrieveTimeout() time.Duration {
	return time.Duration(p.RetrieveTimeout) * time.Second
}

// GetVerifyTimeout returns the verification call timeout
func (p *PipelineConfig) GetVerifyTimeout() time.Duration {
	return time.Duration(p.VerifyTimeout) * time.Second
}
