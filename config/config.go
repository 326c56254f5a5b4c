// Package config loads the runtime's boot configuration the way the
// teacher loads service configuration: viper bound to pflag CLI
// overrides, environment variables, and a watched config file via
// fsnotify for the keys that are safe to hot-reload.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config mirrors spec §6's "Environment" boot keys: process-wide
// string key/value store with linear insert and read-through
// defaults; these are the ones the runtime itself consumes.
type Config struct {
	Thread     int    `mapstructure:"thread"`     // worker count
	Harbor     uint8  `mapstructure:"harbor"`     // node id
	Bootstrap  string `mapstructure:"bootstrap"`  // initial LAUNCH command
	CPath      string `mapstructure:"cpath"`      // module search pattern (unused by the static loader, kept for compatibility)
	Logger     string `mapstructure:"logger"`     // log level
	LogService string `mapstructure:"logservice"` // service name tag for log records
	Daemon     bool   `mapstructure:"daemon"`
	Profile    bool   `mapstructure:"profile"`
	LogPath    string `mapstructure:"logpath"`

	AdminAddr string `mapstructure:"admin_addr"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("thread", 4)
	v.SetDefault("harbor", 1)
	v.SetDefault("bootstrap", "")
	v.SetDefault("cpath", "./modules/?.so")
	v.SetDefault("logger", "info")
	v.SetDefault("logservice", "skywork")
	v.SetDefault("daemon", false)
	v.SetDefault("profile", false)
	v.SetDefault("logpath", "")
	v.SetDefault("admin_addr", "127.0.0.1:9090")
}

// Load builds a Config from (in ascending priority) defaults, a
// config file at path (if non-empty), SKYWORK_-prefixed environment
// variables, and flags already parsed into fs.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("skywork")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// WatchReload re-reads the file at path on every fsnotify write event
// and invokes onChange with the newly parsed Config. Only a handful
// of keys (logger level, profile) are safe to apply without a
// restart; onChange is responsible for filtering which fields it
// actually honors live.
func WatchReload(path string, onChange func(*Config)) (*fsnotify.Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config: no file to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}
	go func() {
		for event := range w.Events {
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path, nil)
			if err != nil {
				continue
			}
			onChange(cfg)
		}
	}()
	return w, nil
}
