package canon

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"

	"github.com/lamassuiot/certify/pkg/utils"
)

// canonicalPEM keeps only the certificate blocks: explanatory text around
// them and per-block headers are dropped, and every block is re-encoded
// with standard line wrapping.
func canonicalPEM(raw []byte) ([]byte, error) {
	blocks := utils.DecodePEMBlocks(normalizeNewlines(raw))
	if len(blocks) == 0 {
		return nil, wrapFormatError(FormatPEM, utils.ErrNoPEMBlock, "no PEM block found")
	}
	var buf bytes.Buffer
	for _, b := range blocks {
		stripped := &pem.Block{Type: b.Type, Bytes: b.Bytes}
		if err := utils.CheckPEMBlock(stripped, utils.CertPEMBlockType); err != nil {
			return nil, wrapFormatError(FormatPEM, err, "unsupported PEM block type "+quote(b.Type))
		}
		if _, err := x509.ParseCertificate(stripped.Bytes); err != nil {
			return nil, wrapFormatError(FormatPEM, err, "invalid certificate")
		}
		if err := pem.Encode(&buf, stripped); err != nil {
			return nil, wrapFormatError(FormatPEM, err, "re-encoding failed")
		}
	}
	return buf.Bytes(), nil
}
