// Package config holds the daemon configuration.
package config

import (
	"fmt"
	"time"

	"github.com/lamassuiot/certify/pkg/canon"
	"github.com/lamassuiot/certify/pkg/db"
	"github.com/lamassuiot/certify/pkg/fingerprint"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQL    = "sql"

	KeySourceFile  = "file"
	KeySourceVault = "vault"
)

type Config struct {
	Server           ServerConfig           `yaml:"server"`
	Storage          StorageConfig          `yaml:"storage"`
	Fingerprint      FingerprintConfig      `yaml:"fingerprint"`
	Canonicalization CanonicalizationConfig `yaml:"canonicalization"`
	Issuance         IssuanceConfig         `yaml:"issuance"`
	Policy           PolicyConfig           `yaml:"policy"`
	Consul           ConsulConfig           `yaml:"consul"`
	Logging          LoggingConfig          `yaml:"logging"`
}

type ServerConfig struct {
	Address      string `yaml:"address"`
	Port         string `yaml:"port"`
	// Strict requires Content-Type: application/json on request bodies.
	Strict       bool   `yaml:"strict"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	SSL          bool   `yaml:"ssl"`
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
}

// StorageConfig selects where records and the ledger live. The file
// backend keeps records under Dir/records and the ledger in
// Dir/ledger.jsonl.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`

	// ConnectTimeout bounds how long the daemon waits for the database.
	ConnectTimeout string `yaml:"connect_timeout"`
}

type FingerprintConfig struct {
	Algorithm string   `yaml:"algorithm"`
	Accepted  []string `yaml:"accepted"`
}

type CanonicalizationConfig struct {
	// Bind lists metadata keys that become part of the fingerprint.
	Bind []string `yaml:"bind"`
}

type IssuanceConfig struct {
	KeySource string      `yaml:"key_source"`
	KeyFile   string      `yaml:"key_file"`
	Vault     VaultConfig `yaml:"vault"`
}

type VaultConfig struct {
	Address  string `yaml:"address"`
	RoleID   string `yaml:"role_id"`
	SecretID string `yaml:"secret_id"`
	Path     string `yaml:"path"`
	Insecure bool   `yaml:"insecure"`
}

type PolicyConfig struct {
	Custodians      []string `yaml:"custodians"`
	IssuerMayRevoke bool     `yaml:"issuer_may_revoke"`
}

type ConsulConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Protocol      string `yaml:"protocol"`
	Host          string `yaml:"host"`
	Port          string `yaml:"port"`
	CA            string `yaml:"ca"`
	AdvertiseHost string `yaml:"advertise_host"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			MaxBodyBytes: 10 << 20,
		},
		Storage: StorageConfig{
			Backend:        BackendMemory,
			Driver:         db.DriverPostgres,
			ConnectTimeout: "10s",
		},
		Fingerprint: FingerprintConfig{
			Algorithm: fingerprint.SHA2_256,
		},
		Issuance: IssuanceConfig{
			KeySource: KeySourceFile,
		},
		Policy: PolicyConfig{
			IssuerMayRevoke: true,
		},
		Consul: ConsulConfig{
			Protocol: "http",
			Port:     "8500",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if c.Server.SSL && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("server.cert_file and server.key_file are required when server.ssl is set")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the file backend")
		}
	case BackendSQL:
		switch c.Storage.Driver {
		case db.DriverPostgres, db.DriverPgx, db.DriverSQLite:
		default:
			return fmt.Errorf("storage.driver must be one of: %s, %s, %s", db.DriverPostgres, db.DriverPgx, db.DriverSQLite)
		}
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the sql backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of: %s, %s, %s", BackendMemory, BackendFile, BackendSQL)
	}
	if _, err := time.ParseDuration(c.Storage.ConnectTimeout); err != nil {
		return fmt.Errorf("storage.connect_timeout is invalid: %w", err)
	}

	if _, err := fingerprint.NewEngine(c.Fingerprint.Algorithm, c.Fingerprint.Accepted...); err != nil {
		return fmt.Errorf("fingerprint: %w", err)
	}

	for _, key := range c.Canonicalization.Bind {
		if !recognizedAnywhere(key) {
			return fmt.Errorf("canonicalization.bind: unknown metadata key %q", key)
		}
	}

	switch c.Issuance.KeySource {
	case KeySourceFile:
		if c.Issuance.KeyFile == "" {
			return fmt.Errorf("issuance.key_file is required")
		}
	case KeySourceVault:
		v := c.Issuance.Vault
		if v.Address == "" || v.RoleID == "" || v.SecretID == "" || v.Path == "" {
			return fmt.Errorf("issuance.vault requires address, role_id, secret_id and path")
		}
	default:
		return fmt.Errorf("issuance.key_source must be %q or %q", KeySourceFile, KeySourceVault)
	}

	if c.Consul.Enabled && c.Consul.Host == "" {
		return fmt.Errorf("consul.host is required when consul is enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	return nil
}

func (c *Config) ConnectTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Storage.ConnectTimeout)
	return d
}

func recognizedAnywhere(key string) bool {
	for _, f := range canon.Formats() {
		for _, k := range canon.RecognizedKeys(f) {
			if k == key {
				return true
			}
		}
	}
	return false
}
