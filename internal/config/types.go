package config

import "time"

// Config represents the complete intertalk configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Journal  JournalConfig  `yaml:"journal"`
	API      APIConfig      `yaml:"api,omitempty"`
	Bench    BenchConfig    `yaml:"bench"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name         string        `yaml:"name"`
	TickInterval time.Duration `yaml:"tick_interval"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
}

// DispatchConfig tunes the dispatcher.
type DispatchConfig struct {
	// Workers bounds parallel dispatch. Zero means GOMAXPROCS.
	Workers int `yaml:"workers"`
}

// JournalConfig defines invocation journal storage.
type JournalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`

	// CORSOrigins allows browser dashboards on these origins to read the API.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// BenchConfig defines the fan-out workload run by `intertalk bench` and by
// serve on every tick.
type BenchConfig struct {
	Depth       int   `yaml:"depth"`
	Subscribers int   `yaml:"subscribers"`
	InitialB    int64 `yaml:"initial_b"`
}

// ChecksumManifest is the .checksums file written by `config lock`.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config with default values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:         "intertalk",
			TickInterval: 30 * time.Second,
			LogLevel:     "info",
			LogFormat:    "json",
		},
		Journal: JournalConfig{
			Enabled:   true,
			Path:      "./data/journal.db",
			Retention: 168 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8090",
		},
		Bench: BenchConfig{
			Depth:       0,
			Subscribers: 10000,
			InitialB:    10000000,
		},
	}
}
