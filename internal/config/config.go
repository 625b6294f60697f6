// Package config holds the Hawk engine configuration, loaded through viper
// from config.yaml, environment (HAWK_ prefix) and defaults.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Planner PlannerConfig `mapstructure:"planner" yaml:"planner"`
	Motor   MotorConfig   `mapstructure:"motor" yaml:"motor"`
	Sandbox SandboxConfig `mapstructure:"sandbox" yaml:"sandbox"`
	Traces  TracesConfig  `mapstructure:"traces" yaml:"traces"`
}

// LoggerConfig controls the zap logger and file rotation.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// SessionConfig tunes the perceive-act-verify loop.
type SessionConfig struct {
	// Platform profile the session targets: linux, macos or windows.
	Platform string `mapstructure:"platform" yaml:"platform"`
	// MaxRetries is the per-step attempt cap.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// RetryBackoff is the fixed pause between failed attempts of one step.
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	// WaitPollInterval is the fixed polling interval for WaitForElement.
	WaitPollInterval time.Duration `mapstructure:"wait_poll_interval" yaml:"wait_poll_interval"`
}

// CaptureConfig tunes screen capture.
type CaptureConfig struct {
	// FPSTarget bounds the capture rate; captures never exceed it.
	FPSTarget int `mapstructure:"fps_target" yaml:"fps_target"`
	// Timeout bounds a single grab through the sandbox exec contract.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// PlannerConfig configures the planning fallback chain.
type PlannerConfig struct {
	// LLMTimeout bounds the remote-model planning call; exceeding it is
	// equivalent to failure and falls through to the rule tier.
	LLMTimeout time.Duration  `mapstructure:"llm_timeout" yaml:"llm_timeout"`
	LLM        LLMModelConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMModelConfig defines the remote planning model backend.
type LLMModelConfig struct {
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// MotorConfig tunes input synthesis.
type MotorConfig struct {
	// TypingInterval is the delay between keystrokes when typing text.
	TypingInterval time.Duration `mapstructure:"typing_interval" yaml:"typing_interval"`
	// ActionTimeout bounds one synthesized input command.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// SandboxConfig configures the isolation backend chain.
type SandboxConfig struct {
	// PreferRemoteVM puts the remote micro-VM backend first in the chain.
	PreferRemoteVM bool `mapstructure:"prefer_remote_vm" yaml:"prefer_remote_vm"`
	// AllowUnsandboxed permits the no-isolation backend as the last tier.
	// It is an explicit opt-in; without it, exhausting the isolated tiers
	// is a hard failure.
	AllowUnsandboxed bool `mapstructure:"allow_unsandboxed" yaml:"allow_unsandboxed"`
	// ExecTimeout is the default bound for sandbox command execution.
	ExecTimeout time.Duration `mapstructure:"exec_timeout" yaml:"exec_timeout"`
	// IdleTTL is how long a handle may sit without activity before the
	// reclamation sweep terminates it.
	IdleTTL time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl"`
	// SweepInterval is how often the reclamation sweep runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`

	RemoteVM RemoteVMConfig `mapstructure:"remote_vm" yaml:"remote_vm"`
	Docker   DockerConfig   `mapstructure:"docker" yaml:"docker"`
}

// RemoteVMConfig points at the micro-VM provider collaborator. An empty
// endpoint means the provider is not configured, which degrades the chain to
// the local backend without surfacing an error.
type RemoteVMConfig struct {
	Endpoint     string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	Image        string        `mapstructure:"image" yaml:"image"`
	TTLHours     int           `mapstructure:"ttl_hours" yaml:"ttl_hours"`
	GPU          bool          `mapstructure:"gpu" yaml:"gpu"`
	HourlyRate   float64       `mapstructure:"hourly_rate" yaml:"hourly_rate"`
	StartTimeout time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
}

// DockerConfig defines the local container jail.
type DockerConfig struct {
	Image        string        `mapstructure:"image" yaml:"image"`
	MemoryMB     int64         `mapstructure:"memory_mb" yaml:"memory_mb"`
	CPUQuota     int64         `mapstructure:"cpu_quota" yaml:"cpu_quota"`
	PidsLimit    int64         `mapstructure:"pids_limit" yaml:"pids_limit"`
	StartTimeout time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
}

// TracesConfig controls trace persistence.
type TracesConfig struct {
	// Dir is the root trace directory; each session gets a subdirectory.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "hawk")
	v.SetDefault("logger.log_file", "hawk.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Session --
	v.SetDefault("session.platform", "linux")
	v.SetDefault("session.max_retries", 3)
	v.SetDefault("session.retry_backoff", "1s")
	v.SetDefault("session.wait_poll_interval", "500ms")

	// -- Capture --
	v.SetDefault("capture.fps_target", 30)
	v.SetDefault("capture.timeout", "10s")

	// -- Planner --
	v.SetDefault("planner.llm_timeout", "60s")
	v.SetDefault("planner.llm.model", "gemini-2.5-flash")
	v.SetDefault("planner.llm.api_timeout", "90s")
	v.SetDefault("planner.llm.temperature", 0.3)
	v.SetDefault("planner.llm.max_tokens", 2000)

	// -- Motor --
	v.SetDefault("motor.typing_interval", "50ms")
	v.SetDefault("motor.action_timeout", "15s")

	// -- Sandbox --
	v.SetDefault("sandbox.prefer_remote_vm", true)
	v.SetDefault("sandbox.allow_unsandboxed", false)
	v.SetDefault("sandbox.exec_timeout", "5m")
	v.SetDefault("sandbox.idle_ttl", "900s")
	v.SetDefault("sandbox.sweep_interval", "60s")
	v.SetDefault("sandbox.remote_vm.image", "ubuntu-22-04-desktop")
	v.SetDefault("sandbox.remote_vm.ttl_hours", 6)
	v.SetDefault("sandbox.remote_vm.gpu", false)
	v.SetDefault("sandbox.remote_vm.hourly_rate", 0.14)
	v.SetDefault("sandbox.remote_vm.start_timeout", "30s")
	v.SetDefault("sandbox.docker.image", "hawk-desktop:latest")
	v.SetDefault("sandbox.docker.memory_mb", 2048)
	v.SetDefault("sandbox.docker.cpu_quota", 100000)
	v.SetDefault("sandbox.docker.pids_limit", 512)
	v.SetDefault("sandbox.docker.start_timeout", "60s")

	// -- Traces --
	v.SetDefault("traces.dir", "")
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("planner.llm.api_key", "HAWK_LLM_API_KEY")
	v.BindEnv("sandbox.remote_vm.api_key", "HAWK_REMOTE_VM_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	switch c.Session.Platform {
	case "linux", "macos", "windows":
	default:
		return fmt.Errorf("session.platform must be one of linux, macos, windows (got %q)", c.Session.Platform)
	}
	if c.Session.MaxRetries <= 0 {
		return fmt.Errorf("session.max_retries must be a positive integer")
	}
	if c.Capture.FPSTarget <= 0 {
		return fmt.Errorf("capture.fps_target must be a positive integer")
	}
	if c.Sandbox.IdleTTL <= 0 {
		return fmt.Errorf("sandbox.idle_ttl must be a positive duration")
	}
	if c.Sandbox.SweepInterval <= 0 {
		return fmt.Errorf("sandbox.sweep_interval must be a positive duration")
	}
	if c.Sandbox.RemoteVM.Endpoint != "" && c.Sandbox.RemoteVM.HourlyRate < 0 {
		return fmt.Errorf("sandbox.remote_vm.hourly_rate must not be negative")
	}
	return nil
}
