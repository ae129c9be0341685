package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dmitrijs2005/notesync/internal/client/conflict"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/retry"
	"github.com/dmitrijs2005/notesync/internal/filex"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NOTESYNC"

const appName = "notesync"

// Keys recognised in files, environment and flags.
const (
	KeyServerURL        = "server_url"
	KeyDBPath           = "db_path"
	KeyLogFile          = "log_file"
	KeyLogLevel         = "log_level"
	KeySyncInterval     = "sync_interval"
	KeyEchoWindow       = "echo_window"
	KeyPullLimit        = "pull_limit"
	KeyHTTPTimeout      = "http_timeout"
	KeyMaxRetries       = "retry.max_retries"
	KeyBaseDelay        = "retry.base_delay"
	KeyMaxDelay         = "retry.max_delay"
	KeyJitterFactor     = "retry.jitter_factor"
	KeyConflictStrategy = "conflict_strategy"
)

// Config holds runtime settings for the notesync CLI.
type Config struct {
	ServerURL        string
	DBPath           string
	LogFile          string
	LogLevel         string
	SyncInterval     time.Duration
	EchoWindow       time.Duration
	PullLimit        int
	HTTPTimeout      time.Duration
	Retry            RetryConfig
	ConflictStrategy string
}

type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// Options converts the settings into retry options.
func (r RetryConfig) Options() retry.Options {
	o := retry.DefaultOptions()
	o.MaxRetries = r.MaxRetries
	o.BaseDelay = r.BaseDelay
	o.MaxDelay = r.MaxDelay
	o.JitterFactor = r.JitterFactor
	return o
}

// LoadDefaults populates c with defaults. Files live under dataDir.
func (c *Config) LoadDefaults(dataDir string) {
	r := retry.DefaultOptions()
	c.ServerURL = "http://127.0.0.1:8080"
	c.DBPath = filepath.Join(dataDir, "notesync.db")
	c.LogFile = filepath.Join(dataDir, "notesync.log")
	c.LogLevel = "info"
	c.SyncInterval = 0
	c.EchoWindow = 30 * time.Second
	c.PullLimit = 100
	c.HTTPTimeout = 30 * time.Second
	c.Retry = RetryConfig{
		MaxRetries:   r.MaxRetries,
		BaseDelay:    r.BaseDelay,
		MaxDelay:     r.MaxDelay,
		JitterFactor: r.JitterFactor,
	}
	c.ConflictStrategy = string(models.ClientWins)
}

// New returns a viper instance with defaults and environment overrides in
// place. dataDir may be empty to use the per-user data directory.
func New(dataDir string) (*viper.Viper, error) {
	if dataDir == "" {
		d, err := filex.DataDir(appName)
		if err != nil {
			return nil, err
		}
		dataDir = d
	}

	var d Config
	d.LoadDefaults(dataDir)

	v := viper.New()
	v.SetDefault(KeyServerURL, d.ServerURL)
	v.SetDefault(KeyDBPath, d.DBPath)
	v.SetDefault(KeyLogFile, d.LogFile)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeySyncInterval, d.SyncInterval)
	v.SetDefault(KeyEchoWindow, d.EchoWindow)
	v.SetDefault(KeyPullLimit, d.PullLimit)
	v.SetDefault(KeyHTTPTimeout, d.HTTPTimeout)
	v.SetDefault(KeyMaxRetries, d.Retry.MaxRetries)
	v.SetDefault(KeyBaseDelay, d.Retry.BaseDelay)
	v.SetDefault(KeyMaxDelay, d.Retry.MaxDelay)
	v.SetDefault(KeyJitterFactor, d.Retry.JitterFactor)
	v.SetDefault(KeyConflictStrategy, d.ConflictStrategy)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// BindFlags registers the persistent flags on fs and binds them to v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("server", "", "sync server base URL")
	fs.String("db", "", "path to the local database")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.Duration("sync-interval", 0, "periodic sync while watching (0 disables)")
	fs.String("conflict", "", "conflict strategy (client_wins, server_wins, merge)")

	binds := map[string]string{
		KeyServerURL:        "server",
		KeyDBPath:           "db",
		KeyLogLevel:         "log-level",
		KeySyncInterval:     "sync-interval",
		KeyConflictStrategy: "conflict",
	}
	for key, name := range binds {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the optional config file and materialises a validated Config.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	c := &Config{
		ServerURL:    v.GetString(KeyServerURL),
		DBPath:       v.GetString(KeyDBPath),
		LogFile:      v.GetString(KeyLogFile),
		LogLevel:     v.GetString(KeyLogLevel),
		SyncInterval: v.GetDuration(KeySyncInterval),
		EchoWindow:   v.GetDuration(KeyEchoWindow),
		PullLimit:    v.GetInt(KeyPullLimit),
		HTTPTimeout:  v.GetDuration(KeyHTTPTimeout),
		Retry: RetryConfig{
			MaxRetries:   v.GetInt(KeyMaxRetries),
			BaseDelay:    v.GetDuration(KeyBaseDelay),
			MaxDelay:     v.GetDuration(KeyMaxDelay),
			JitterFactor: v.GetFloat64(KeyJitterFactor),
		},
		ConflictStrategy: v.GetString(KeyConflictStrategy),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch {
	case c.ServerURL == "":
		return fmt.Errorf("%s must be set", KeyServerURL)
	case c.DBPath == "":
		return fmt.Errorf("%s must be set", KeyDBPath)
	case c.PullLimit <= 0:
		return fmt.Errorf("%s must be positive", KeyPullLimit)
	case c.Retry.MaxRetries <= 0:
		return fmt.Errorf("%s must be positive", KeyMaxRetries)
	case c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay:
		return fmt.Errorf("%s must be positive and not above %s", KeyBaseDelay, KeyMaxDelay)
	case c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1:
		return fmt.Errorf("%s must be within [0, 1]", KeyJitterFactor)
	case c.SyncInterval < 0 || c.EchoWindow < 0:
		return fmt.Errorf("intervals must not be negative")
	}
	if _, err := conflict.ByName(c.ConflictStrategy); err != nil {
		return err
	}
	return nil
}
