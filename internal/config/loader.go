package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFilename is the file looked up when Load is given a directory.
const ConfigFilename = "config.yaml"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, verifies and validates configuration from a file or a
// directory containing config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := ResolvePath(configPath)
	if err != nil {
		return nil, err
	}

	if err := VerifyChecksums(absPath); err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ResolvePath turns a file or directory argument into the absolute path of
// the config file.
func ResolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, ConfigFilename)
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but %s not found: %s", ConfigFilename, absPath)
		}
	}
	return absPath, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $INTERTALK_CONFIG, ~/.config/intertalk, /etc/intertalk, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("INTERTALK_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "intertalk")
		if _, err := os.Stat(filepath.Join(userConfigDir, ConfigFilename)); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/intertalk"
	if _, err := os.Stat(filepath.Join(systemConfigDir, ConfigFilename)); err == nil {
		return systemConfigDir, nil
	}

	if _, err := os.Stat(ConfigFilename); err == nil {
		return ConfigFilename, nil
	}

	return "", fmt.Errorf("no config found (checked: $INTERTALK_CONFIG, ~/.config/intertalk, /etc/intertalk, ./%s)", ConfigFilename)
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &cfg, nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.TickInterval == 0 {
		cfg.Service.TickInterval = defaults.Service.TickInterval
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaults.Journal.Path
	}
	if cfg.Journal.Retention == 0 {
		cfg.Journal.Retention = defaults.Journal.Retention
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.Bench.Subscribers == 0 {
		cfg.Bench.Subscribers = defaults.Bench.Subscribers
	}
	if cfg.Bench.InitialB == 0 {
		cfg.Bench.InitialB = defaults.Bench.InitialB
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place so validation can name the missing variable.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Service.TickInterval < 0 {
		return fmt.Errorf("service.tick_interval must be positive")
	}

	switch strings.ToLower(cfg.Service.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("service.log_level %q is not one of debug, info, warn, error", cfg.Service.LogLevel)
	}

	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format %q is not one of json, text", cfg.Service.LogFormat)
	}

	if cfg.Dispatch.Workers < 0 {
		return fmt.Errorf("dispatch.workers must not be negative")
	}

	if cfg.Journal.Enabled && strings.TrimSpace(cfg.Journal.Path) == "" {
		return fmt.Errorf("journal.path is required when journal is enabled")
	}
	if cfg.Journal.Retention < 0 {
		return fmt.Errorf("journal.retention must not be negative")
	}

	if cfg.API.Enabled {
		key := strings.TrimSpace(cfg.API.Auth.APIKey)
		if key == "" {
			return fmt.Errorf("api.auth.api_key is required when api is enabled")
		}
		if envVarPattern.MatchString(key) {
			return fmt.Errorf("api.auth.api_key references unset environment variable %s", key)
		}
	}

	if cfg.Bench.Depth < 0 {
		return fmt.Errorf("bench.depth must not be negative")
	}
	if cfg.Bench.Subscribers <= 0 {
		return fmt.Errorf("bench.subscribers must be positive")
	}

	return nil
}
