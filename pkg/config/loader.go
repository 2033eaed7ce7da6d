package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path over Default. An empty path means
// defaults only. Environment overrides are applied afterwards and the
// result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides fields from CERTIFY_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"CERTIFY_ADDRESS":            &c.Server.Address,
		"CERTIFY_PORT":               &c.Server.Port,
		"CERTIFY_CERT_FILE":          &c.Server.CertFile,
		"CERTIFY_KEY_FILE":           &c.Server.KeyFile,
		"CERTIFY_STORAGE_BACKEND":    &c.Storage.Backend,
		"CERTIFY_STORAGE_DIR":        &c.Storage.Dir,
		"CERTIFY_DB_DRIVER":          &c.Storage.Driver,
		"CERTIFY_DB_DSN":             &c.Storage.DSN,
		"CERTIFY_FINGERPRINT":        &c.Fingerprint.Algorithm,
		"CERTIFY_KEY_SOURCE":         &c.Issuance.KeySource,
		"CERTIFY_ISSUANCE_KEY":       &c.Issuance.KeyFile,
		"CERTIFY_VAULT_ADDRESS":      &c.Issuance.Vault.Address,
		"CERTIFY_VAULT_ROLEID":       &c.Issuance.Vault.RoleID,
		"CERTIFY_VAULT_SECRETID":     &c.Issuance.Vault.SecretID,
		"CERTIFY_VAULT_PATH":         &c.Issuance.Vault.Path,
		"CERTIFY_CONSUL_PROTOCOL":    &c.Consul.Protocol,
		"CERTIFY_CONSUL_HOST":        &c.Consul.Host,
		"CERTIFY_CONSUL_PORT":        &c.Consul.Port,
		"CERTIFY_CONSUL_CA":          &c.Consul.CA,
		"CERTIFY_CONSUL_ADVERTISE":   &c.Consul.AdvertiseHost,
		"CERTIFY_LOG_LEVEL":          &c.Logging.Level,
		"CERTIFY_DB_CONNECT_TIMEOUT": &c.Storage.ConnectTimeout,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	flags := map[string]*bool{
		"CERTIFY_SSL":               &c.Server.SSL,
		"CERTIFY_STRICT":            &c.Server.Strict,
		"CERTIFY_CONSUL_ENABLED":    &c.Consul.Enabled,
		"CERTIFY_VAULT_INSECURE":    &c.Issuance.Vault.Insecure,
		"CERTIFY_ISSUER_MAY_REVOKE": &c.Policy.IssuerMayRevoke,
	}
	for key, dst := range flags {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}

	lists := map[string]*[]string{
		"CERTIFY_ACCEPTED_FINGERPRINTS": &c.Fingerprint.Accepted,
		"CERTIFY_BIND_METADATA":         &c.Canonicalization.Bind,
		"CERTIFY_CUSTODIANS":            &c.Policy.Custodians,
	}
	for key, dst := range lists {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	if v, ok := lookup("CERTIFY_MAX_BODY_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CERTIFY_MAX_BODY_BYTES: %w", err)
		}
		c.Server.MaxBodyBytes = n
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
