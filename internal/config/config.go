// Package config loads taskrelay's layered configuration (defaults -> file
// -> environment -> flags) via spf13/viper, in the pack's config.GlobalConfig
// mapstructure style.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is taskrelay's top-level runtime configuration.
type Config struct {
	Host       HostConfig       `mapstructure:"host"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Serve      ServeConfig      `mapstructure:"serve"`
	Log        LogConfig        `mapstructure:"log"`
}

// HostConfig selects and configures the host adapter.
type HostConfig struct {
	// Adapter is "sim" (in-memory, for demos/tests) or "process" (real
	// os/exec-backed tasks read from a workspace task file).
	Adapter string `mapstructure:"adapter"`
	// TasksFile is the workspace task definitions file, consulted by the
	// "process" adapter.
	TasksFile string `mapstructure:"tasks_file"`
}

// RetentionConfig carries every cap/window size the Persistence Layer
// enforces (spec.md §6 persisted layout).
type RetentionConfig struct {
	DurationWindow       int `mapstructure:"duration_window"`
	RecentlyUsedCap      int `mapstructure:"recently_used_cap"`
	StarredCap           int `mapstructure:"starred_cap"`
	NavigationHistoryCap int `mapstructure:"navigation_history_cap"`
	ExecutionHistoryCap  int `mapstructure:"execution_history_cap"`
}

// PersistenceConfig locates the on-disk KV roots.
type PersistenceConfig struct {
	GlobalRoot    string `mapstructure:"global_root"`
	WorkspaceRoot string `mapstructure:"workspace_root"`
}

// ServeConfig configures the websocket view transport.
type ServeConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// LogConfig configures internal/logging's level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load builds a viper instance layered defaults -> file (if present) ->
// TASKRELAY_-prefixed environment variables, and unmarshals it into a
// Config. file may be empty, in which case only defaults and env apply.
func Load(file string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("taskrelay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host.adapter", "sim")
	v.SetDefault("host.tasks_file", "")

	v.SetDefault("retention.duration_window", 10)
	v.SetDefault("retention.recently_used_cap", 5)
	v.SetDefault("retention.starred_cap", 20)
	v.SetDefault("retention.navigation_history_cap", 10)
	v.SetDefault("retention.execution_history_cap", 20)

	v.SetDefault("persistence.global_root", ".taskrelay/global")
	v.SetDefault("persistence.workspace_root", ".taskrelay/workspace")

	v.SetDefault("serve.listen_addr", ":7331")
	v.SetDefault("serve.write_timeout", 5*time.Second)
	v.SetDefault("serve.handshake_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
}
