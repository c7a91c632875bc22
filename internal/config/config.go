// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Model    ModelConfig    `mapstructure:"model" yaml:"model"`
	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ModelConfig configures the computer-use model endpoint.
type ModelConfig struct {
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	// RateLimitDelays is the explicit 429 ladder; a 429 at attempt i sleeps
	// RateLimitDelays[min(i, len-1)] before retrying.
	RateLimitDelays []time.Duration `mapstructure:"rate_limit_delays" yaml:"rate_limit_delays"`
}

// ProviderConfig configures the remote browser provider.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string        `mapstructure:"api_key" yaml:"-"`
	ProjectID      string        `mapstructure:"project_id" yaml:"project_id"`
	Region         string        `mapstructure:"region" yaml:"region"`
	UseProxy       bool          `mapstructure:"use_proxy" yaml:"use_proxy"`
	KeepAlive      bool          `mapstructure:"keep_alive" yaml:"keep_alive"`
	SessionTimeout time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`
}

// BrowserConfig tunes the remote session manager.
type BrowserConfig struct {
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	ScreenshotTTL     time.Duration `mapstructure:"screenshot_ttl" yaml:"screenshot_ttl"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts" yaml:"reconnect_attempts"`
	// ContextPersistDelay is how long Disconnect waits for the provider to
	// durably save the authentication context before marking it used.
	ContextPersistDelay time.Duration `mapstructure:"context_persist_delay" yaml:"context_persist_delay"`
	// ResumeSessionID, when set, makes Connect re-attach to this existing
	// provider session instead of creating a new one.
	ResumeSessionID string `mapstructure:"resume_session_id" yaml:"resume_session_id"`
}

// AgentConfig holds action-loop and planning settings.
type AgentConfig struct {
	MaxActions   int         `mapstructure:"max_actions" yaml:"max_actions"`
	PlanMaxSteps int         `mapstructure:"plan_max_steps" yaml:"plan_max_steps"`
	HistorySize  int         `mapstructure:"history_size" yaml:"history_size"`
	Stall        StallConfig `mapstructure:"stall" yaml:"stall"`
}

// StallConfig holds the stall-guard thresholds. A zero threshold disables
// the corresponding check.
type StallConfig struct {
	WaitThreshold      int           `mapstructure:"wait_threshold" yaml:"wait_threshold"`
	ClickRadiusPx      float64       `mapstructure:"click_radius_px" yaml:"click_radius_px"`
	ClickThreshold     int           `mapstructure:"click_threshold" yaml:"click_threshold"`
	TypeThreshold      int           `mapstructure:"type_threshold" yaml:"type_threshold"`
	NavThreshold       int           `mapstructure:"nav_threshold" yaml:"nav_threshold"`
	InactivityDuration time.Duration `mapstructure:"inactivity_duration" yaml:"inactivity_duration"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "webpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Model --
	v.SetDefault("model.model", "computer-use-preview")
	v.SetDefault("model.api_timeout", "120s")
	v.SetDefault("model.max_retries", 3)
	v.SetDefault("model.requests_per_minute", 30.0)
	v.SetDefault("model.rate_limit_delays", []time.Duration{
		5 * time.Second, 15 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second,
	})

	// -- Provider --
	v.SetDefault("provider.region", "us-east-1")
	v.SetDefault("provider.use_proxy", false)
	v.SetDefault("provider.keep_alive", true)
	v.SetDefault("provider.session_timeout", "60m")

	// -- Browser --
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.screenshot_ttl", "3s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.heartbeat_interval", "30s")
	v.SetDefault("browser.reconnect_attempts", 3)
	v.SetDefault("browser.context_persist_delay", "2s")

	// -- Agent --
	v.SetDefault("agent.max_actions", 100)
	v.SetDefault("agent.plan_max_steps", 200)
	v.SetDefault("agent.history_size", 50)
	v.SetDefault("agent.stall.wait_threshold", 3)
	v.SetDefault("agent.stall.click_radius_px", 10.0)
	v.SetDefault("agent.stall.click_threshold", 2)
	v.SetDefault("agent.stall.type_threshold", 2)
	v.SetDefault("agent.stall.nav_threshold", 3)
	v.SetDefault("agent.stall.inactivity_duration", "60s")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Sensitive values come from the environment, never the config file.
	v.BindEnv("model.api_key", "WEBPILOT_MODEL_API_KEY")
	v.BindEnv("provider.api_key", "WEBPILOT_PROVIDER_API_KEY")
	v.BindEnv("database.url", "WEBPILOT_DATABASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if c.Agent.MaxActions <= 0 {
		return fmt.Errorf("agent.max_actions must be a positive integer")
	}
	if c.Agent.HistorySize <= 0 {
		return fmt.Errorf("agent.history_size must be a positive integer")
	}
	if c.Browser.ReconnectAttempts < 0 {
		return fmt.Errorf("browser.reconnect_attempts must not be negative")
	}
	if c.Model.APITimeout <= 0 {
		return fmt.Errorf("model.api_timeout must be a positive duration")
	}
	return nil
}
