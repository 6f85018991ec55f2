package model

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// GmailConfig holds settings for the Gmail provider.
type GmailConfig struct {
	// CredentialsFile is the OAuth client secret JSON downloaded from the
	// Google Cloud console.
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`

	// Label restricts incremental sync to one label, INBOX by default.
	Label string `mapstructure:"label" yaml:"label"`
}

// IMAPConfig holds settings for the IMAP provider. The password is read
// from the keyring or INBOXDIGEST_IMAP_PASSWORD, never from this file.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
	Mailbox  string `mapstructure:"mailbox" yaml:"mailbox"`
}

// SummarizerConfig selects and tunes the generative summarization backend.
type SummarizerConfig struct {
	// Backend is one of "auto", "ollama", "gemini", "anthropic", "none".
	Backend string `mapstructure:"backend" yaml:"backend"`

	OllamaURL      string `mapstructure:"ollama_url" yaml:"ollama_url"`
	OllamaModel    string `mapstructure:"ollama_model" yaml:"ollama_model"`
	GeminiModel    string `mapstructure:"gemini_model" yaml:"gemini_model"`
	AnthropicModel string `mapstructure:"anthropic_model" yaml:"anthropic_model"`

	// TimeoutSec bounds a single summarize call.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`

	// CharBudget is the maximum number of filtered-text characters placed
	// in the prompt.
	CharBudget int `mapstructure:"char_budget" yaml:"char_budget"`
}

// SyncConfig tunes the sync orchestrator.
type SyncConfig struct {
	PollIntervalSec      int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	DedupHighWater       int `mapstructure:"dedup_high_water" yaml:"dedup_high_water"`
	DedupKeep            int `mapstructure:"dedup_keep" yaml:"dedup_keep"`
	DedupTrimIntervalSec int `mapstructure:"dedup_trim_interval_sec" yaml:"dedup_trim_interval_sec"`
	RecentLimit          int `mapstructure:"recent_limit" yaml:"recent_limit"`
}

// StorageConfig locates the worker database and the coordinator state.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// StateDSN selects the coordinator key/value backend:
	// sqlite:///path/state.db, nats://host:4222/bucket or memory://.
	StateDSN string `mapstructure:"state_dsn" yaml:"state_dsn"`

	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days"`
	AuditCapacity int `mapstructure:"audit_capacity" yaml:"audit_capacity"`
}

// TransportConfig selects how the coordinator reaches the worker.
type TransportConfig struct {
	// Mode is "memory" (worker runs in-process) or "nats" (worker runs as
	// a separate inboxdigest-worker process).
	Mode          string `mapstructure:"mode" yaml:"mode"`
	NATSURL       string `mapstructure:"nats_url" yaml:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	WorkerBinary  string `mapstructure:"worker_binary" yaml:"worker_binary"`
}

// HTTPConfig configures the local control API.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// Provider is "gmail" or "imap".
	Provider   string           `mapstructure:"provider" yaml:"provider"`
	Gmail      GmailConfig      `mapstructure:"gmail" yaml:"gmail"`
	IMAP       IMAPConfig       `mapstructure:"imap" yaml:"imap"`
	Summarizer SummarizerConfig `mapstructure:"summarizer" yaml:"summarizer"`
	Sync       SyncConfig       `mapstructure:"sync" yaml:"sync"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Transport  TransportConfig  `mapstructure:"transport" yaml:"transport"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
}

// ConfigDir returns ~/.config/inboxdigest.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "inboxdigest")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/inboxdigest/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	dir := ConfigDir()

	v.SetDefault("provider", "gmail")
	v.SetDefault("gmail.credentials_file", filepath.Join(dir, "client_secret.json"))
	v.SetDefault("gmail.label", "INBOX")
	v.SetDefault("imap.port", "993")
	v.SetDefault("imap.tls", true)
	v.SetDefault("imap.mailbox", "INBOX")

	v.SetDefault("summarizer.backend", "auto")
	v.SetDefault("summarizer.ollama_url", "http://localhost:11434")
	v.SetDefault("summarizer.ollama_model", "llama3")
	v.SetDefault("summarizer.gemini_model", "gemini-2.5-flash")
	v.SetDefault("summarizer.anthropic_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("summarizer.timeout_sec", 30)
	v.SetDefault("summarizer.char_budget", 4000)

	v.SetDefault("sync.poll_interval_sec", 60)
	v.SetDefault("sync.dedup_high_water", 5000)
	v.SetDefault("sync.dedup_keep", 2500)
	v.SetDefault("sync.dedup_trim_interval_sec", 600)
	v.SetDefault("sync.recent_limit", 50)

	v.SetDefault("storage.db_path", filepath.Join(dir, "keypoints.db"))
	v.SetDefault("storage.state_dsn", "sqlite://"+filepath.Join(dir, "state.db"))
	v.SetDefault("storage.retention_days", 30)
	v.SetDefault("storage.audit_capacity", 1000)

	v.SetDefault("transport.mode", "memory")
	v.SetDefault("transport.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("transport.subject_prefix", "inboxdigest")
	v.SetDefault("transport.worker_binary", "inboxdigest-worker")

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", "127.0.0.1:8765")
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("INBOXDIGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A .env file in the working directory is loaded first so INBOXDIGEST_*
// overrides can live there. If the config file does not exist, defaults
// (plus environment overrides) are returned.
func LoadConfig(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] ignoring .env: %v", err)
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	return decodeConfig(v, path)
}

func decodeConfig(v *viper.Viper, path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// WatchConfig re-reads path whenever it changes on disk and hands the new
// configuration to onChange. Parse failures are logged and skipped.
func WatchConfig(path string, onChange func(*AppConfig)) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		log.Printf("[config] not watching %s: %v", path, err)
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decodeConfig(v, path)
		if err != nil {
			log.Printf("[config] reload of %s failed: %v", path, err)
			return
		}
		log.Printf("[config] reloaded %s", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
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

	v.Set("provider", cfg.Provider)
	v.Set("gmail", cfg.Gmail)
	v.Set("imap", cfg.IMAP)
	v.Set("summarizer", cfg.Summarizer)
	v.Set("sync", cfg.Sync)
	v.Set("storage", cfg.Storage)
	v.Set("transport", cfg.Transport)
	v.Set("http", cfg.HTTP)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
