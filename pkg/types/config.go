package types

import (
	"errors"
	"net/url"
	"time"
)

// Config holds the parameters used to assemble the engine.
type Config struct {
	Backend       string        `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir       string        `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	APIBaseURL    string        `json:"api_base_url" yaml:"api_base_url" mapstructure:"api_base_url"`
	CustomerID    string        `json:"customer_id" yaml:"customer_id" mapstructure:"customer_id"`
	BusinessName  string        `json:"business_name" yaml:"business_name" mapstructure:"business_name"`
	ProbeURL      string        `json:"probe_url" yaml:"probe_url" mapstructure:"probe_url"`
	ProbeInterval time.Duration `json:"probe_interval" yaml:"probe_interval" mapstructure:"probe_interval"`
	CompactOutbox bool          `json:"compact_outbox" yaml:"compact_outbox" mapstructure:"compact_outbox"`
	CacheVersion  string        `json:"cache_version" yaml:"cache_version" mapstructure:"cache_version"`
	ShellPaths    []string      `json:"shell_paths" yaml:"shell_paths" mapstructure:"shell_paths"`
	Listen        string        `json:"listen" yaml:"listen" mapstructure:"listen"`
	LogLevel      string        `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
)

// Defaults applied by the CLI when a key is absent.
const (
	DefaultProbeInterval = 30 * time.Second
	DefaultCacheVersion  = "v1"
	DefaultListen        = "127.0.0.1:8787"
	DefaultLogLevel      = "info"
)

// Config validation errors.
var (
	ErrBackendEmpty         = errors.New("backend must not be empty")
	ErrBackendUnknown       = errors.New("unknown backend")
	ErrAPIBaseURLInvalid    = errors.New("api_base_url must be an absolute http(s) URL")
	ErrProbeIntervalInvalid = errors.New("probe_interval must not be negative")
	ErrLogLevelUnknown      = errors.New("unknown log level")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
}

var knownLogLevels = map[string]bool{
	"":      true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure. An empty APIBaseURL is allowed: the engine
// then runs purely local.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.APIBaseURL != "" {
		u, err := url.Parse(c.APIBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrAPIBaseURLInvalid
		}
	}
	if c.ProbeInterval < 0 {
		return ErrProbeIntervalInvalid
	}
	if !knownLogLevels[c.LogLevel] {
		return ErrLogLevelUnknown
	}
	return nil
}
