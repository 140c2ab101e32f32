package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/recaplabs/chat-recap/internal/bot"
	"github.com/recaplabs/chat-recap/internal/summarize"
)

// Config is the full application configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Telegram   bot.Config       `yaml:"telegram"`
	Summarizer summarize.Config `yaml:"summarizer"`
	Budget     BudgetConfig     `yaml:"budget"`
	Sampling   SamplingConfig   `yaml:"sampling"`
	Store      StoreConfig      `yaml:"store"`
	Fetch      FetchConfig      `yaml:"fetch"`
}

// BudgetConfig configures the monthly cost ledger.
type BudgetConfig struct {
	MonthlyUSD        float64 `yaml:"monthly_usd"`
	AdvisoryUSD       float64 `yaml:"advisory_usd"`
	Path              string  `yaml:"path"`
	WarningThresholds []int   `yaml:"warning_thresholds"`
}

// SamplingConfig sets the message ceilings for one summary request.
type SamplingConfig struct {
	SafeLimit int `yaml:"safe_limit"`
	HardLimit int `yaml:"hard_limit"`
}

// StoreConfig selects and tunes the message store.
type StoreConfig struct {
	Backend         string        `yaml:"backend"`
	Path            string        `yaml:"path"`
	MaxPerChat      int           `yaml:"max_per_chat"`
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// FetchConfig bounds plain summary requests.
type FetchConfig struct {
	MessageLimit int           `yaml:"message_limit"`
	MaxAge       time.Duration `yaml:"max_age"`
}

// Load reads, expands, and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config bytes. Environment variable references in values
// are expanded before parsing.
func Parse(data []byte) (*Config, error) {
	expanded := ExpandEnvWithDefaults(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every tunable at its default value. The
// Telegram token and summarizer API key have no defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Summarizer: summarize.Config{
			Provider:    summarize.ProviderAnthropic,
			Model:       DefaultModel,
			MaxTokens:   DefaultMaxOutputTokens,
			Temperature: DefaultTemperature,
			Timeout:     DefaultRequestTimeout,
		},
		Budget: BudgetConfig{
			MonthlyUSD:  DefaultMonthlyBudgetUSD,
			AdvisoryUSD: DefaultAdvisoryCostUSD,
			Path:        DefaultLedgerPath,
		},
		Sampling: SamplingConfig{
			SafeLimit: DefaultSafeLimit,
			HardLimit: DefaultHardLimit,
		},
		Store: StoreConfig{
			Backend:         DefaultStoreBackend,
			Path:            DefaultStorePath,
			MaxPerChat:      DefaultMaxStoredPerChat,
			Retention:       DefaultRetention,
			CleanupInterval: DefaultCleanupInterval,
		},
		Fetch: FetchConfig{
			MessageLimit: DefaultMessageLimit,
			MaxAge:       DefaultMaxMessageAge,
		},
	}
}

// applyDefaults fills zero values left by partial YAML documents.
func (c *Config) applyDefaults() {
	d := Default()
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Summarizer.Provider == "" {
		c.Summarizer.Provider = d.Summarizer.Provider
	}
	if c.Summarizer.Model == "" {
		c.Summarizer.Model = d.Summarizer.Model
	}
	if c.Summarizer.MaxTokens == 0 {
		c.Summarizer.MaxTokens = d.Summarizer.MaxTokens
	}
	if c.Summarizer.Timeout == 0 {
		c.Summarizer.Timeout = d.Summarizer.Timeout
	}
	if c.Budget.MonthlyUSD == 0 {
		c.Budget.MonthlyUSD = d.Budget.MonthlyUSD
	}
	if c.Budget.AdvisoryUSD == 0 {
		c.Budget.AdvisoryUSD = d.Budget.AdvisoryUSD
	}
	if c.Budget.Path == "" {
		c.Budget.Path = d.Budget.Path
	}
	if c.Sampling.SafeLimit == 0 {
		c.Sampling.SafeLimit = d.Sampling.SafeLimit
	}
	if c.Sampling.HardLimit == 0 {
		c.Sampling.HardLimit = d.Sampling.HardLimit
	}
	if c.Store.Backend == "" {
		c.Store.Backend = d.Store.Backend
	}
	if c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}
	if c.Store.MaxPerChat == 0 {
		c.Store.MaxPerChat = d.Store.MaxPerChat
	}
	if c.Store.Retention == 0 {
		c.Store.Retention = d.Store.Retention
	}
	if c.Store.CleanupInterval == 0 {
		c.Store.CleanupInterval = d.Store.CleanupInterval
	}
	if c.Fetch.MessageLimit == 0 {
		c.Fetch.MessageLimit = d.Fetch.MessageLimit
	}
	if c.Fetch.MaxAge == 0 {
		c.Fetch.MaxAge = d.Fetch.MaxAge
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Telegram.Validate(); err != nil {
		return err
	}
	if err := c.Summarizer.Validate(); err != nil {
		return err
	}
	if c.Budget.MonthlyUSD <= 0 {
		return fmt.Errorf("budget.monthly_usd must be > 0, got %f", c.Budget.MonthlyUSD)
	}
	if c.Sampling.SafeLimit <= 0 || c.Sampling.HardLimit <= 0 {
		return fmt.Errorf("sampling limits must be > 0, got safe=%d hard=%d",
			c.Sampling.SafeLimit, c.Sampling.HardLimit)
	}
	if c.Sampling.SafeLimit > c.Sampling.HardLimit {
		return fmt.Errorf("sampling.safe_limit (%d) must not exceed sampling.hard_limit (%d)",
			c.Sampling.SafeLimit, c.Sampling.HardLimit)
	}
	switch c.Store.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store.backend must be \"memory\" or \"sqlite\", got %q", c.Store.Backend)
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for the sqlite backend")
	}
	if c.Fetch.MessageLimit <= 0 {
		return fmt.Errorf("fetch.message_limit must be > 0, got %d", c.Fetch.MessageLimit)
	}
	return nil
}

// envWithDefaultRe matches ${VAR:-default} references.
var envWithDefaultRe = regexp.MustCompile(`\$\{(\w+):-([^}]*)\}`)

// ExpandEnvWithDefaults expands ${VAR} and $VAR from the environment, and
// ${VAR:-default} to the default when VAR is unset or empty.
func ExpandEnvWithDefaults(s string) string {
	s = envWithDefaultRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envWithDefaultRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
	return os.Expand(s, func(name string) string {
		// Leave unknown references intact rather than erasing them.
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return "${" + name + "}"
	})
}
