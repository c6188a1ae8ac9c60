// Package config provides configuration loading for the agent firewall gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for agentfirewall.yaml/.yml
// in standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("agentfirewall")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: AGENTFIREWALL_SERVER_SSE_ADDR
	viper.SetEnvPrefix("AGENTFIREWALL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a config file with an
// explicit YAML extension (.yaml or .yml). This prevents Viper from
// matching the binary "agentfirewall" (no extension) in the current
// directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".agentfirewall"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "agentfirewall"))
		}
	} else {
		paths = append(paths, "/etc/agentfirewall")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for agentfirewall.yaml
// or .yml. Returns the full path of the first match, or empty string if none
// found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "agentfirewall"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds config keys for environment variable support.
// Example: AGENTFIREWALL_RATE_LIMIT_SESSION_RPS overrides rate_limit.session_rps
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.stdio")
	_ = viper.BindEnv("server.sse_addr")
	_ = viper.BindEnv("server.websocket_addr")
	_ = viper.BindEnv("server.operator_addr")

	_ = viper.BindEnv("upstream.http")
	_ = viper.BindEnv("upstream.command")
	_ = viper.BindEnv("upstream.timeout")

	_ = viper.BindEnv("rate_limit.session_rps")
	_ = viper.BindEnv("rate_limit.session_burst")
	_ = viper.BindEnv("rate_limit.agent_rps")
	_ = viper.BindEnv("rate_limit.agent_burst")

	_ = viper.BindEnv("l2.backend")
	_ = viper.BindEnv("l2.endpoint")
	_ = viper.BindEnv("l2.model")
	_ = viper.BindEnv("l2.api_key_env")

	_ = viper.BindEnv("escalation.deadline")
	_ = viper.BindEnv("escalation.operator_queue_size")

	_ = viper.BindEnv("audit.backend")
	_ = viper.BindEnv("audit.dir")
	_ = viper.BindEnv("audit.db_path")
	_ = viper.BindEnv("audit.flush_interval")
	_ = viper.BindEnv("audit.batch_size")

	_ = viper.BindEnv("log.level")
	_ = viper.BindEnv("log.format")
	_ = viper.BindEnv("metrics.addr")
	_ = viper.BindEnv("trace.exporter")

	// policy.rules is an array; complex to override via env, use the
	// config file for custom rules.

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config.
// Note: Caller should apply any CLI flag overrides (e.g. --dev), then call
// cfg.SetDevDefaults() and cfg.Validate() to complete initialization.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
		// This allows running with pure environment variable configuration
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but does
// NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
