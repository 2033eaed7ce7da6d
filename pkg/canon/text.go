package canon

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func canonicalText(raw []byte) ([]byte, error) {
	b := bytes.TrimPrefix(raw, utf8BOM)
	if !utf8.Valid(b) {
		return nil, formatError(FormatText, "document is not valid UTF-8")
	}
	b = normalizeNewlines(b)
	b = norm.NFC.Bytes(b)

	lines := bytes.Split(b, []byte("\n"))
	for i, ln := range lines {
		lines[i] = bytes.TrimRight(ln, " \t")
	}
	for len(lines) > 0 && len(lines[0]) == 0 {
		lines = lines[1:]
	}
	for len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return nil, formatError(FormatText, "document is empty")
	}
	return bytes.Join(lines, []byte("\n")), nil
}

func normalizeNewlines(b []byte) []byte {
	if !bytes.Contains(b, []byte("\r")) {
		return b
	}
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\r"), []byte("\n"))
}
