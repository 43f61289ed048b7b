// Package config loads peer-link settings from flags, PEERLINK_* variables
// and an optional config file.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const EnvPrefix = "PEERLINK"

type Config struct {
	// Name is advertised to peers. Empty means a generated code name.
	Name           string        `mapstructure:"name"`
	ServiceID      string        `mapstructure:"service_id"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	CacheDir       string        `mapstructure:"cache_dir"`
	DataDir        string        `mapstructure:"data_dir"`
	LogLevel       string        `mapstructure:"log_level"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
}

// HistoryPath is the SQLite file holding message and transfer history.
func (c Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// StagingDir holds incoming files until they are stored.
func (c Config) StagingDir() string {
	return filepath.Join(c.DataDir, "staging")
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".peer-link"
	}
	return filepath.Join(home, ".peer-link")
}

func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "peer-link")
	}
	return filepath.Join(dir, "peer-link")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("name", "")
	v.SetDefault("service_id", "dev.peerlink")
	v.SetDefault("listen_addr", ":0")
	v.SetDefault("cache_dir", DefaultCacheDir())
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("log_level", "info")
	v.SetDefault("connect_timeout", 30*time.Second)
	v.SetDefault("metrics_addr", "")
}

// BindFlags registers the session flags on cmd and binds them to v.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()

	f.String("name", "", "name shown to peers (default: random code name)")
	f.String("service-id", "", "discovery namespace shared by both peers")
	f.String("listen", "", "QUIC listen address")
	f.String("cache-dir", "", "directory for received files")
	BindDataDir(cmd, v)
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.Duration("connect-timeout", 0, "give up on a connection attempt after this long")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")

	_ = v.BindPFlag("name", f.Lookup("name"))
	_ = v.BindPFlag("service_id", f.Lookup("service-id"))
	_ = v.BindPFlag("listen_addr", f.Lookup("listen"))
	_ = v.BindPFlag("cache_dir", f.Lookup("cache-dir"))
	_ = v.BindPFlag("log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("connect_timeout", f.Lookup("connect-timeout"))
	_ = v.BindPFlag("metrics_addr", f.Lookup("metrics-addr"))
}

// BindDataDir registers only --data-dir, for commands that just read state.
func BindDataDir(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().String("data-dir", "", "data directory (default ~/.peer-link)")
	_ = v.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir"))
}

// Load merges defaults, PEERLINK_* variables and the config file. A missing
// file is only an error when configFile names it explicitly.
func Load(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
