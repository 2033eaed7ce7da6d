package canon

import "bytes"

var (
	pdfHeader = []byte("%PDF-")
	pdfEOF    = []byte("%%EOF")
)

// canonicalPDF drops whatever an uploading tool appended after the last
// end-of-file marker. The document body itself is kept byte for byte.
func canonicalPDF(raw []byte) ([]byte, error) {
	if !bytes.HasPrefix(raw, pdfHeader) {
		return nil, formatError(FormatPDF, "missing %PDF- header")
	}
	i := bytes.LastIndex(raw, pdfEOF)
	if i < 0 {
		return nil, formatError(FormatPDF, "missing %%EOF marker")
	}
	out := make([]byte, i+len(pdfEOF))
	copy(out, raw)
	return out, nil
}
