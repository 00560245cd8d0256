package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FleetConfig selects the set of nodes to observe.
type FleetConfig struct {
	Scope string   `yaml:"scope"` // fleet | site | list
	Site  string   `yaml:"site"`
	Nodes []string `yaml:"nodes"`
}

// LDAPConfig holds connection settings for the directory servers.
type LDAPConfig struct {
	URL      string        `yaml:"url"` // e.g. ldaps://dc01.corp.example.com
	BindDN   string        `yaml:"bind_dn"`
	Password string        `yaml:"password"`
	BaseDN   string        `yaml:"base_dn"`
	Timeout  time.Duration `yaml:"timeout"` // per-call timeout
}

// CollectConfig bounds snapshot collection.
type CollectConfig struct {
	Throttle     int           `yaml:"throttle"`
	FastThrottle int           `yaml:"fast_throttle"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
}

// RetryConfig parameterises the backoff executor.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// CacheConfig controls the delta cache.
type CacheConfig struct {
	Path             string        `yaml:"path"`
	ThresholdMinutes int           `yaml:"threshold_minutes"`
	Retention        time.Duration `yaml:"retention"`
}

// DetectConfig holds issue-detection thresholds.
type DetectConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	VeryStaleAfter   time.Duration `yaml:"very_stale_after"`
}

// HealConfig governs remediation.
type HealConfig struct {
	Policy     string        `yaml:"policy"` // conservative | moderate | aggressive
	DryRun     bool          `yaml:"dry_run"`
	VerifyWait time.Duration `yaml:"verify_wait"`
	Rollback   bool          `yaml:"rollback"`
}

// OutputConfig controls report writing.
type OutputConfig struct {
	Dir string `yaml:"dir"`
	CSV bool   `yaml:"csv"`
}

// NotifyConfig controls webhook delivery.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// MetricsConfig controls the optional prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | console
}

// Config is the complete replwatch configuration.
type Config struct {
	Fleet      FleetConfig   `yaml:"fleet"`
	LDAP       LDAPConfig    `yaml:"ldap"`
	Collect    CollectConfig `yaml:"collect"`
	Retry      RetryConfig   `yaml:"retry"`
	Cache      CacheConfig   `yaml:"cache"`
	Detect     DetectConfig  `yaml:"detect"`
	Heal       HealConfig    `yaml:"heal"`
	Output     OutputConfig  `yaml:"output"`
	Notify     NotifyConfig  `yaml:"notify"`
	Metrics    MetricsConfig `yaml:"metrics"`
	Logging    LoggingConfig `yaml:"logging"`
	RunTimeout time.Duration `yaml:"run_timeout"` // 0 = unbounded
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Fleet: FleetConfig{Scope: "fleet"},
		LDAP:  LDAPConfig{Timeout: 30 * time.Second},
		Collect: CollectConfig{
			Throttle:     8,
			FastThrottle: 24,
			CallTimeout:  30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 2 * time.Second,
			MaxDelay:     30 * time.Second,
		},
		Cache: CacheConfig{
			Path:             "./replwatch-cache",
			ThresholdMinutes: 60,
			Retention:        90 * 24 * time.Hour,
		},
		Detect: DetectConfig{
			FailureThreshold: 3,
			StaleAfter:       24 * time.Hour,
			VeryStaleAfter:   48 * time.Hour,
		},
		Heal: HealConfig{
			Policy:     "conservative",
			VerifyWait: 30 * time.Second,
			Rollback:   true,
		},
		Output:  OutputConfig{Dir: "./out"},
		Notify:  NotifyConfig{Timeout: 10 * time.Second},
		Metrics: MetricsConfig{Listen: ":9465"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads path and overlays it on the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Fleet.Scope {
	case "fleet", "site", "list":
	default:
		return fmt.Errorf("config: fleet.scope must be fleet, site or list, got %q", c.Fleet.Scope)
	}
	if c.Fleet.Scope == "site" && c.Fleet.Site == "" {
		return fmt.Errorf("config: fleet.scope=site requires fleet.site")
	}
	if c.Fleet.Scope == "list" && len(c.Fleet.Nodes) == 0 {
		return fmt.Errorf("config: fleet.scope=list requires fleet.nodes")
	}
	if c.Collect.Throttle <= 0 {
		return fmt.Errorf("config: collect.throttle must be positive, got %d", c.Collect.Throttle)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("config: retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("config: retry delays invalid (initial=%v max=%v)", c.Retry.InitialDelay, c.Retry.MaxDelay)
	}
	switch c.Heal.Policy {
	case "conservative", "moderate", "aggressive":
	default:
		return fmt.Errorf("config: heal.policy must be conservative, moderate or aggressive, got %q", c.Heal.Policy)
	}
	return nil
}
