package file

import (
	"os"

	"github.com/lamassuiot/certify/pkg/secrets"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

type file struct {
	key    string
	logger log.Logger
}

func NewFile(key string, logger log.Logger) secrets.Secrets {
	return &file{key: key, logger: logger}
}

func (f *file) GetIssuanceKey() ([]byte, error) {
	keyPEM, err := os.ReadFile(f.key)
	if err != nil {
		level.Error(f.logger).Log("err", err, "msg", "Could not load issuance key")
		return nil, err
	}
	key, err := secrets.DecodeIssuanceKey(keyPEM)
	if err != nil {
		level.Error(f.logger).Log("err", err, "msg", "Could not check PEM block of issuance key")
		return nil, err
	}
	level.Info(f.logger).Log("msg", "Issuance key loaded")
	return key, nil
}
