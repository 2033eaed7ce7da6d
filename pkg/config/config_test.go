package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const sampleConfig = `
server:
  port: "9443"
  strict: true
storage:
  backend: sql
  driver: sqlite3
  dsn: /var/lib/certify/certify.db
fingerprint:
  algorithm: sha3-256
  accepted: [sha2-256]
canonicalization:
  bind: [issuer, holder]
issuance:
  key_source: vault
  vault:
    address: https://vault:8200
    role_id: role
    secret_id: secret
    path: secret/data/certify
policy:
  custodians: [registry-admin]
logging:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "certify.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9443" || !cfg.Server.Strict {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Storage.Backend != BackendSQL || cfg.Storage.Driver != "sqlite3" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Fingerprint.Algorithm != "sha3-256" || !reflect.DeepEqual(cfg.Fingerprint.Accepted, []string{"sha2-256"}) {
		t.Errorf("fingerprint = %+v", cfg.Fingerprint)
	}
	if !reflect.DeepEqual(cfg.Canonicalization.Bind, []string{"issuer", "holder"}) {
		t.Errorf("bind = %v", cfg.Canonicalization.Bind)
	}
	if cfg.Issuance.Vault.Path != "secret/data/certify" {
		t.Errorf("vault = %+v", cfg.Issuance.Vault)
	}
	// Defaults survive for fields the file does not set.
	if cfg.Server.MaxBodyBytes != 10<<20 || !cfg.Policy.IssuerMayRevoke {
		t.Errorf("defaults lost: %+v %+v", cfg.Server, cfg.Policy)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  prot: \"80\"\n"))
	if err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Fatalf("got %v; want parse error", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CERTIFY_PORT":            "7000",
		"CERTIFY_STORAGE_BACKEND": "file",
		"CERTIFY_STORAGE_DIR":     "/data",
		"CERTIFY_STRICT":          "true",
		"CERTIFY_CUSTODIANS":      "ops, registry-admin ,",
		"CERTIFY_MAX_BODY_BYTES":  "1024",
	}
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "7000" || !cfg.Server.Strict || cfg.Server.MaxBodyBytes != 1024 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Storage.Backend != BackendFile || cfg.Storage.Dir != "/data" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if !reflect.DeepEqual(cfg.Policy.Custodians, []string{"ops", "registry-admin"}) {
		t.Errorf("custodians = %q", cfg.Policy.Custodians)
	}
}

func TestApplyEnvBadBool(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "CERTIFY_SSL" {
			return "maybe", true
		}
		return "", false
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Issuance.KeyFile = "/etc/certify/issuance.pem"
		return c
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults with key file", func(c *Config) {}, ""},
		{"missing key file", func(c *Config) { c.Issuance.KeyFile = "" }, "issuance.key_file"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"file without dir", func(c *Config) { c.Storage.Backend = BackendFile }, "storage.dir"},
		{"sql without dsn", func(c *Config) { c.Storage.Backend = BackendSQL }, "storage.dsn"},
		{"sql bad driver", func(c *Config) { c.Storage.Backend = BackendSQL; c.Storage.Driver = "mysql" }, "storage.driver"},
		{"unknown algorithm", func(c *Config) { c.Fingerprint.Algorithm = "md5" }, "fingerprint"},
		{"unknown bound key", func(c *Config) { c.Canonicalization.Bind = []string{"colour"} }, "canonicalization.bind"},
		{"ssl without cert", func(c *Config) { c.Server.SSL = true }, "server.cert_file"},
		{"vault incomplete", func(c *Config) { c.Issuance.KeySource = KeySourceVault }, "issuance.vault"},
		{"consul without host", func(c *Config) { c.Consul.Enabled = true }, "consul.host"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad timeout", func(c *Config) { c.Storage.ConnectTimeout = "soon" }, "storage.connect_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("got %v; want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}
