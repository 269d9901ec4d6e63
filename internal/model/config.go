package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Deadline bounds for the user-adjustable follow-up delay.
const (
	DemoMinDelay = 5 * time.Second
	DemoMaxDelay = 60 * time.Second
	DemoStep     = 5 * time.Second

	// ProductionDelay is the intended delay outside demo mode.
	ProductionDelay = 24 * time.Hour
)

// FollowUpConfig controls deadline tracking.
type FollowUpConfig struct {
	// DelaySec is how long an important email may stay unanswered
	// before a reminder is generated.
	DelaySec int `mapstructure:"delay_sec" yaml:"delay_sec"`

	// DemoMode bounds DelaySec to DemoMinDelay..DemoMaxDelay.
	DemoMode bool `mapstructure:"demo_mode" yaml:"demo_mode"`

	// RearmOnStart reschedules deadlines for pending important emails
	// found in the database at startup.
	RearmOnStart bool `mapstructure:"rearm_on_start" yaml:"rearm_on_start"`
}

// Delay returns DelaySec as a duration.
func (c FollowUpConfig) Delay() time.Duration {
	return time.Duration(c.DelaySec) * time.Second
}

// ScorerConfig holds importance scorer settings.
type ScorerConfig struct {
	// LatencyMS simulates classification latency. Zero disables it.
	LatencyMS int `mapstructure:"latency_ms" yaml:"latency_ms"`
}

// StorageConfig holds database settings.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// MetricsConfig holds the Prometheus exporter settings.
type MetricsConfig struct {
	// Listen is the address for the /metrics endpoint; empty disables it.
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// IMAPConfig holds the settings for ingesting mail from an IMAP inbox.
// The password is kept in the system keyring, never in the file.
type IMAPConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	Host            string `mapstructure:"host" yaml:"host"`
	Port            string `mapstructure:"port" yaml:"port"`
	Username        string `mapstructure:"username" yaml:"username"`
	TLS             bool   `mapstructure:"tls" yaml:"tls"`
	Mailbox         string `mapstructure:"mailbox" yaml:"mailbox"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	// Theme forces the dark or light palette; "default" detects it.
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	FollowUp FollowUpConfig `mapstructure:"followup" yaml:"followup"`
	Scorer   ScorerConfig   `mapstructure:"scorer" yaml:"scorer"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	IMAP     IMAPConfig     `mapstructure:"imap" yaml:"imap"`
	Display  DisplayConfig  `mapstructure:"display" yaml:"display"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/inbox-followup/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "inbox-followup", "config.yaml")
}

// dataPath returns a path under the user's home directory, or under the
// working directory if the home directory cannot be determined.
func dataPath(parts ...string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(append([]string{"."}, parts[len(parts)-1])...)
	}
	return filepath.Join(append([]string{home}, parts...)...)
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		FollowUp: FollowUpConfig{
			DelaySec: 10,
			DemoMode: true,
		},
		Scorer: ScorerConfig{
			LatencyMS: 1500,
		},
		Storage: StorageConfig{
			Path: dataPath(".local", "share", "inbox-followup", "inbox.db"),
		},
		Log: LogConfig{
			Level: "info",
			File:  dataPath(".local", "state", "inbox-followup", "followup.log"),
		},
		IMAP: IMAPConfig{
			Port:            "993",
			TLS:             true,
			Mailbox:         "INBOX",
			PollIntervalSec: 120,
		},
		Display: DisplayConfig{
			Theme: "default",
		},
	}
}

// setDefaults registers defaults so missing keys resolve to sensible
// values and so environment overrides are visible to Unmarshal.
func setDefaults(v *viper.Viper, cfg *AppConfig) {
	v.SetDefault("followup.delay_sec", cfg.FollowUp.DelaySec)
	v.SetDefault("followup.demo_mode", cfg.FollowUp.DemoMode)
	v.SetDefault("followup.rearm_on_start", cfg.FollowUp.RearmOnStart)
	v.SetDefault("scorer.latency_ms", cfg.Scorer.LatencyMS)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)
	v.SetDefault("imap.enabled", cfg.IMAP.Enabled)
	v.SetDefault("imap.host", cfg.IMAP.Host)
	v.SetDefault("imap.port", cfg.IMAP.Port)
	v.SetDefault("imap.username", cfg.IMAP.Username)
	v.SetDefault("imap.tls", cfg.IMAP.TLS)
	v.SetDefault("imap.mailbox", cfg.IMAP.Mailbox)
	v.SetDefault("imap.poll_interval_sec", cfg.IMAP.PollIntervalSec)
	v.SetDefault("display.theme", cfg.Display.Theme)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Values may be overridden by FOLLOWUP_* environment variables
// (e.g., FOLLOWUP_FOLLOWUP_DELAY_SEC). If the file does not exist,
// defaults plus environment overrides are returned.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("followup")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := defaultAppConfig()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.FollowUp.DelaySec = int(cfg.FollowUp.ClampDelay(cfg.FollowUp.Delay()) / time.Second)
	if cfg.IMAP.PollIntervalSec <= 0 {
		cfg.IMAP.PollIntervalSec = 120
	}
	if cfg.IMAP.Mailbox == "" {
		cfg.IMAP.Mailbox = "INBOX"
	}

	return cfg, nil
}

// ClampDelay bounds d to the allowed range. In demo mode the range is
// DemoMinDelay..DemoMaxDelay; otherwise any positive delay is accepted
// and a non-positive one falls back to ProductionDelay.
func (c FollowUpConfig) ClampDelay(d time.Duration) time.Duration {
	if !c.DemoMode {
		if d <= 0 {
			return ProductionDelay
		}
		return d
	}
	if d < DemoMinDelay {
		return DemoMinDelay
	}
	if d > DemoMaxDelay {
		return DemoMaxDelay
	}
	return d
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("followup", cfg.FollowUp)
	v.Set("scorer", cfg.Scorer)
	v.Set("storage", cfg.Storage)
	v.Set("log", cfg.Log)
	v.Set("metrics", cfg.Metrics)
	v.Set("imap", cfg.IMAP)
	v.Set("display", cfg.Display)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
