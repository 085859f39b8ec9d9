// Package config loads conductor's file configuration: provider settings,
// Ralph policy, safety pattern overrides, runtime templates, and timeouts.
// Everything has a working default; an absent file yields a usable config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conductorhq/conductor/pkg/types"
	"github.com/conductorhq/conductor/pkg/webhook"
)

// ProviderConfig holds LLM provider settings. The API key is read from the
// environment, never from the file.
type ProviderConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// RalphConfig holds the self-iteration policy defaults.
type RalphConfig struct {
	MaxIterations int    `yaml:"max_iterations"`
	PromiseToken  string `yaml:"promise_token"`
	FailOnCap     *bool  `yaml:"fail_on_cap"`
}

// FailOnCapOrDefault returns the configured value, defaulting to true.
func (r *RalphConfig) FailOnCapOrDefault() bool {
	if r.FailOnCap == nil {
		return true
	}
	return *r.FailOnCap
}

// SafetyConfig extends the built-in pattern tables.
type SafetyConfig struct {
	// ExtraBlocking entries are regular expressions evaluated after the
	// built-in blocking rules.
	ExtraBlocking []BlockingRule `yaml:"extra_blocking"`

	// ExtraConfirm entries are glob patterns added to the
	// requires-confirmation set.
	ExtraConfirm []string `yaml:"extra_confirm"`
}

// BlockingRule is one configured blocking pattern with its reason.
type BlockingRule struct {
	Pattern string `yaml:"pattern"`
	Reason  string `yaml:"reason"`
}

// RuntimeTemplate overrides the command line for one runtime kind.
type RuntimeTemplate struct {
	Bin  string   `yaml:"bin"`
	Args []string `yaml:"args"`
}

// Duration wraps time.Duration for yaml decoding of values like "15m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// TimeoutConfig bounds external calls. Zero values fall back to component
// defaults.
type TimeoutConfig struct {
	CLI     Duration `yaml:"cli"`
	Idle    Duration `yaml:"idle"`
	Grace   Duration `yaml:"grace"`
	Tool    Duration `yaml:"tool"`
	LLM     Duration `yaml:"llm"`
	Confirm Duration `yaml:"confirm"`
}

// Config is the root file configuration.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Ralph    RalphConfig    `yaml:"ralph"`
	Safety   SafetyConfig   `yaml:"safety"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`

	// Runtimes overrides argument templates per runtime kind.
	Runtimes map[string]RuntimeTemplate `yaml:"runtimes"`

	// PreAnalysisKind fixes the runtime used by the workflow readiness
	// gate, regardless of each step's own runtime.
	PreAnalysisKind string `yaml:"pre_analysis_kind"`

	// AuditDB is the SQLite path for the audit sink. Empty keeps audit
	// in memory.
	AuditDB string `yaml:"audit_db"`

	// Webhooks are the registered webhook definitions.
	Webhooks []*webhook.Definition `yaml:"webhooks"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Ralph: RalphConfig{
			MaxIterations: 10,
		},
		PreAnalysisKind: "claude",
	}
}

// DefaultPath returns ~/.conductor/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".conductor", "config.yaml"), nil
}

// Load reads configuration from path, layering it over the defaults. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Ralph.MaxIterations < 0 {
		return types.NewValidationError("ralph.max_iterations cannot be negative")
	}
	for i, rule := range c.Safety.ExtraBlocking {
		if rule.Pattern == "" {
			return types.NewValidationError(fmt.Sprintf("safety.extra_blocking[%d] has no pattern", i))
		}
	}
	for _, def := range c.Webhooks {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("webhook %q: %w", def.Name, err)
		}
	}
	return nil
}

// APIKey reads the provider API key from the environment.
func (c *Config) APIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}
