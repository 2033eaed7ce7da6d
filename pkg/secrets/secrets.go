// Package secrets provides the issuance key the ledger mints verification
// IDs with.
package secrets

import (
	"encoding/pem"

	"github.com/lamassuiot/certify/pkg/utils"
)

type Secrets interface {
	GetIssuanceKey() ([]byte, error)
}

// MinKeySize is the shortest issuance key accepted from any source.
const MinKeySize = 32

// EncodeIssuanceKey wraps key in the PEM block both sources read.
func EncodeIssuanceKey(key []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: utils.IssuanceKeyPEMBlockType, Bytes: key})
}

// DecodeIssuanceKey reverses EncodeIssuanceKey.
func DecodeIssuanceKey(data []byte) ([]byte, error) {
	block, _ := pem.Decode(data)
	if err := utils.CheckPEMBlock(block, utils.IssuanceKeyPEMBlockType); err != nil {
		return nil, err
	}
	if len(block.Bytes) < MinKeySize {
		return nil, ErrShortKey
	}
	return block.Bytes, nil
}
