package compaction

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	// DefaultContextWindow is the context window assumed when the caller
	// does not supply one.
	DefaultContextWindow = 200_000

	// DefaultTriggerFraction is the share of the context window that
	// arms compaction when reached.
	DefaultTriggerFraction = 0.8

	// DefaultTriggerTokenCap bounds the trigger threshold for very
	// large context windows: compaction always arms at this many tokens
	// regardless of window size.
	DefaultTriggerTokenCap = 180_000

	// DefaultToolResultLimit is the character limit applied to tool
	// result bodies during transcript normalization.
	DefaultToolResultLimit = 2000

	// DefaultBackupDir is where backup transcript artifacts are written.
	DefaultBackupDir = "backups"

	// DefaultSummarizerModel is the model used by the bundled Anthropic
	// summarizer.
	DefaultSummarizerModel = "claude-3-5-haiku-20241022"

	// DefaultSummarizerMaxTokens is the response budget for the summarizer.
	DefaultSummarizerMaxTokens = 4096
)

// Config holds compaction configuration.
type Config struct {
	// Enabled controls whether CheckAndMark ever arms compaction.
	// When false, CheckAndMark is a no-op that reports false.
	Enabled bool `yaml:"enabled"`

	// ContextWindow is the context window size, in tokens, of the model
	// serving the conversation. Supplied by the calling layer's settings,
	// never computed here.
	// Default: 200000
	ContextWindow int `yaml:"context_window"`

	// TriggerFraction is the share of ContextWindow (0.0-1.0] at which
	// compaction arms.
	// Default: 0.8
	TriggerFraction float64 `yaml:"trigger_fraction"`

	// TriggerTokenCap is the absolute token count that arms compaction
	// even when TriggerFraction of a huge window would be larger.
	// Default: 180000
	TriggerTokenCap int `yaml:"trigger_token_cap"`

	// ToolResultLimit is the character limit L for tool result bodies in
	// the transcript. Bodies of length L or less are untouched; longer
	// bodies keep exactly the first L characters.
	// Default: 2000
	ToolResultLimit int `yaml:"tool_result_limit"`

	// BackupDir is the directory backup transcripts are written to.
	// One write-once file per compaction event accumulates per chat.
	// Default: "backups"
	BackupDir string `yaml:"backup_dir"`

	// SummarizerModel is the model the bundled Anthropic summarizer uses.
	// Ignored when a custom Summarizer is injected.
	// Default: "claude-3-5-haiku-20241022"
	SummarizerModel string `yaml:"summarizer_model"`

	// SummarizerMaxTokens is the maximum tokens for the summarizer response.
	// Default: 4096
	SummarizerMaxTokens int `yaml:"summarizer_max_tokens"`
}

// DefaultConfig returns a Config with compaction enabled and default limits.
func DefaultConfig() *Config {
	return &Config{
		Enabled:             true,
		ContextWindow:       DefaultContextWindow,
		TriggerFraction:     DefaultTriggerFraction,
		TriggerTokenCap:     DefaultTriggerTokenCap,
		ToolResultLimit:     DefaultToolResultLimit,
		BackupDir:           DefaultBackupDir,
		SummarizerModel:     DefaultSummarizerModel,
		SummarizerMaxTokens: DefaultSummarizerMaxTokens,
	}
}

// ApplyDefaults fills in zero values with defaults. Enabled is left as
// given: a zero-value Config describes a disabled compactor.
func (c *Config) ApplyDefaults() {
	if c.ContextWindow == 0 {
		c.ContextWindow = DefaultContextWindow
	}
	if c.TriggerFraction == 0 {
		c.TriggerFraction = DefaultTriggerFraction
	}
	if c.TriggerTokenCap == 0 {
		c.TriggerTokenCap = DefaultTriggerTokenCap
	}
	if c.ToolResultLimit == 0 {
		c.ToolResultLimit = DefaultToolResultLimit
	}
	if c.BackupDir == "" {
		c.BackupDir = DefaultBackupDir
	}
	if c.SummarizerModel == "" {
		c.SummarizerModel = DefaultSummarizerModel
	}
	if c.SummarizerMaxTokens == 0 {
		c.SummarizerMaxTokens = DefaultSummarizerMaxTokens
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.ContextWindow <= 0 {
		return fmt.Errorf("%w: context_window must be positive, got %d", ErrInvalidConfig, c.ContextWindow)
	}
	if c.TriggerFraction <= 0 || c.TriggerFraction > 1.0 {
		return fmt.Errorf("%w: trigger_fraction must be in (0, 1], got %f", ErrInvalidConfig, c.TriggerFraction)
	}
	if c.TriggerTokenCap <= 0 {
		return fmt.Errorf("%w: trigger_token_cap must be positive, got %d", ErrInvalidConfig, c.TriggerTokenCap)
	}
	if c.ToolResultLimit <= 0 {
		return fmt.Errorf("%w: tool_result_limit must be positive, got %d", ErrInvalidConfig, c.ToolResultLimit)
	}
	if c.BackupDir == "" {
		return fmt.Errorf("%w: backup_dir is required", ErrInvalidConfig)
	}
	if c.SummarizerMaxTokens <= 0 {
		return fmt.Errorf("%w: summarizer_max_tokens must be positive, got %d", ErrInvalidConfig, c.SummarizerMaxTokens)
	}
	return nil
}

// TriggerThreshold returns the absolute token count that arms compaction:
// the configured fraction of the context window, floored, bounded by the
// token cap.
func (c *Config) TriggerThreshold() int {
	threshold := int(float64(c.ContextWindow) * c.TriggerFraction)
	if threshold > c.TriggerTokenCap {
		return c.TriggerTokenCap
	}
	return threshold
}

// LoadConfig reads a YAML configuration file, applies defaults, and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
