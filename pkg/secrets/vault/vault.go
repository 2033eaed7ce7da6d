package vault

import (
	"errors"

	"github.com/lamassuiot/certify/pkg/secrets"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/hashicorp/vault/api"
)

const keyField = "key"

var ErrNoKey = errors.New("vault secret has no issuance key")

type vaultSecrets struct {
	client *api.Client
	path   string
	logger log.Logger
}

// NewVaultSecrets logs in with AppRole and reads the issuance key from the
// PEM-encoded "key" field of the secret at path. KV version 2 mounts are
// handled by passing the full ".../data/..." path.
func NewVaultSecrets(address string, roleID string, secretID string, path string, insecure bool, logger log.Logger) (secrets.Secrets, error) {
	conf := api.DefaultConfig()
	conf.Address = address
	tlsConf := &api.TLSConfig{Insecure: insecure}
	if err := conf.ConfigureTLS(tlsConf); err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not configure Vault TLS")
		return nil, err
	}
	client, err := api.NewClient(conf)
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not create Vault client")
		return nil, err
	}

	err = login(client, roleID, secretID)
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not login into Vault")
		return nil, err
	}
	return &vaultSecrets{client: client, path: path, logger: logger}, nil
}

func login(client *api.Client, roleID string, secretID string) error {
	loginPath := "auth/approle/login"
	options := map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	}
	resp, err := client.Logical().Write(loginPath, options)
	if err != nil {
		return err
	}
	if resp == nil || resp.Auth == nil {
		return errors.New("vault login returned no token")
	}
	client.SetToken(resp.Auth.ClientToken)
	return nil
}

func (vs *vaultSecrets) GetIssuanceKey() ([]byte, error) {
	resp, err := vs.client.Logical().Read(vs.path)
	if err != nil {
		level.Error(vs.logger).Log("err", err, "msg", "Could not read issuance key from Vault")
		return nil, err
	}
	if resp == nil {
		return nil, ErrNoKey
	}
	data := resp.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}
	keyPEM, ok := data[keyField].(string)
	if !ok {
		return nil, ErrNoKey
	}
	key, err := secrets.DecodeIssuanceKey([]byte(keyPEM))
	if err != nil {
		level.Error(vs.logger).Log("err", err, "msg", "Could not check PEM block of issuance key")
		return nil, err
	}
	level.Info(vs.logger).Log("msg", "Issuance key read from Vault")
	return key, nil
}
