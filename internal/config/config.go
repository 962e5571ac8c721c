// Package config handles loading and parsing of QuillStore configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for QuillStore.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Net     NetConfig     `yaml:"net"`
	Admin   AdminConfig   `yaml:"admin"`
}

// LoggingConfig holds logging and log-anonymization settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
	// AnonymizeUserData redacts identifying strings (filenames, user ids)
	// in log output.
	AnonymizeUserData bool `yaml:"anonymize_user_data"`
	// AnonymizationSalt seeds the anonymization hash.
	AnonymizationSalt uint64 `yaml:"anonymization_salt"`
}

// StorageConfig holds document storage settings.
type StorageConfig struct {
	Filesystem FilesystemConfig `yaml:"filesystem"`
	Wopi       WopiConfig       `yaml:"wopi"`
	SSL        SSLConfig        `yaml:"ssl"`
	// WatermarkText, if non-empty, overrides any host-declared watermark.
	WatermarkText string `yaml:"watermark_text"`
	// ProofKeyPath is the PEM file with the RSA key used to sign proof
	// headers. Empty disables proof headers.
	ProofKeyPath string `yaml:"proof_key_path"`
	// OldProofKeyPath holds the previous key during rotation, if any.
	OldProofKeyPath string `yaml:"old_proof_key_path"`
}

// FilesystemConfig holds local filesystem storage settings.
type FilesystemConfig struct {
	// Allow enables serving documents straight from the local filesystem.
	Allow bool `yaml:"allow"`
}

// WopiConfig holds remote (WOPI protocol) storage settings.
type WopiConfig struct {
	// Allow enables remote storage entirely.
	Allow bool `yaml:"allow"`
	// Hosts is the allow/deny list; patterns are literals or regexes.
	Hosts []HostEntry `yaml:"hosts"`
	// AliasGroups configures alias-to-canonical host rewriting.
	AliasGroups AliasGroupsConfig `yaml:"alias_groups"`
	// Locking holds lease-lock settings.
	Locking LockingConfig `yaml:"locking"`
}

// HostEntry is one allow/deny pattern.
type HostEntry struct {
	Pattern string `yaml:"pattern"`
	Allow   bool   `yaml:"allow"`
}

// AliasGroupsConfig selects the alias handling mode and its groups.
type AliasGroupsConfig struct {
	// Mode is "compat", "first", or "groups".
	Mode   string       `yaml:"mode"`
	Groups []AliasGroup `yaml:"groups"`
}

// AliasGroup maps alias host URLs to one canonical host URL.
type AliasGroup struct {
	Host    string   `yaml:"host"`
	Allow   bool     `yaml:"allow"`
	Aliases []string `yaml:"aliases"`
}

// LockingConfig holds lease-lock refresh settings.
type LockingConfig struct {
	// RefreshSecs is the lock refresh cadence in seconds; <= 0 disables
	// refreshing.
	RefreshSecs int `yaml:"refresh_secs"`
}

// SSLConfig controls TLS towards the storage host.
type SSLConfig struct {
	// AsScheme lets the locator's scheme decide whether to use TLS.
	AsScheme bool `yaml:"as_scheme"`
	// Enable forces TLS regardless of the locator's scheme.
	Enable bool `yaml:"enable"`
}

// NetConfig holds connection-level settings.
type NetConfig struct {
	// ConnectionTimeoutSecs bounds connect and I/O per HTTP exchange.
	ConnectionTimeoutSecs int `yaml:"connection_timeout_secs"`
}

// AdminConfig holds the admin/metrics listener settings.
type AdminConfig struct {
	// Addr is the listen address for /metrics and /healthz; empty disables
	// the listener.
	Addr string `yaml:"addr"`
}

// Load reads a YAML configuration file from the given path and returns a
// parsed Config with defaults applied. If the primary path fails, it falls
// back to quillstore.example.yaml in the same or the parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "quillstore.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "quillstore.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with pre-unmarshal defaults.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			SSL: SSLConfig{AsScheme: true},
			Wopi: WopiConfig{
				Locking: LockingConfig{RefreshSecs: 900},
			},
		},
		Net: NetConfig{ConnectionTimeoutSecs: 30},
	}
}

// applyDefaults fills zero values that an explicit YAML document may have
// clobbered with empty sections.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Net.ConnectionTimeoutSecs <= 0 {
		cfg.Net.ConnectionTimeoutSecs = 30
	}
	if cfg.Storage.Wopi.Locking.RefreshSecs == 0 {
		cfg.Storage.Wopi.Locking.RefreshSecs = 900
	}
}
