package utils

import (
	"encoding/pem"
	"errors"
)

const (
	CertPEMBlockType        = "CERTIFICATE"
	IssuanceKeyPEMBlockType = "CERTIFY ISSUANCE KEY"
)

var (
	ErrNoPEMBlock       = errors.New("cannot find the next PEM formatted block")
	ErrUnmatchedPEMType = errors.New("unmatched type of headers")
)

func CheckPEMBlock(pemBlock *pem.Block, blockType string) error {
	if pemBlock == nil {
		return ErrNoPEMBlock
	}
	if pemBlock.Type != blockType || len(pemBlock.Headers) != 0 {
		return ErrUnmatchedPEMType
	}
	return nil
}

// DecodePEMBlocks returns every PEM block found in data, in order. Text
// between and around blocks is ignored.
func DecodePEMBlocks(data []byte) []*pem.Block {
	var blocks []*pem.Block
	rest := data
	for {
		var b *pem.Block
		b, rest = pem.Decode(rest)
		if b == nil {
			return blocks
		}
		blocks = append(blocks, b)
	}
}
