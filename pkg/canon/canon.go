// Package canon turns uploaded certificate documents into the deterministic
// byte sequence the fingerprint is computed over.
//
// Canonicalization is a pure function: it never touches storage or the
// network, and the same (bytes, format, bound metadata) always produce the
// same output. Input that cannot be parsed as a supported format fails with
// an errs.KindFormat error and must never be fingerprinted.
package canon

import (
	"bytes"
	"strings"

	"github.com/lamassuiot/certify/pkg/errs"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatPEM  Format = "pem"
	FormatPDF  Format = "pdf"
)

var formats = []Format{FormatText, FormatJSON, FormatPEM, FormatPDF}

func Formats() []Format {
	out := make([]Format, len(formats))
	copy(out, formats)
	return out
}

func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range formats {
		if f == known {
			return f, nil
		}
	}
	return "", errs.Ef(errs.KindFormat, "canon", "unsupported format %q", s)
}

// Canonicalizer holds the canonicalization policy. Bind lists the metadata
// keys that become part of the canonical bytes (and therefore of the
// fingerprint); all other metadata is informational only.
type Canonicalizer struct {
	Bind []string
}

// boundSeparator splits the document body from bound metadata lines.
const boundSeparator = 0x00

func (c Canonicalizer) Canonicalize(raw []byte, format Format, md Metadata) ([]byte, Metadata, error) {
	clean, err := ValidateMetadata(format, md)
	if err != nil {
		return nil, nil, err
	}

	var body []byte
	switch format {
	case FormatText:
		body, err = canonicalText(raw)
	case FormatJSON:
		body, err = canonicalJSON(raw)
	case FormatPEM:
		body, err = canonicalPEM(raw)
	case FormatPDF:
		body, err = canonicalPDF(raw)
	default:
		_, err = ParseFormat(string(format))
	}
	if err != nil {
		return nil, nil, err
	}

	bound := c.bound(clean)
	if len(bound) == 0 {
		return body, clean, nil
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + 64)
	buf.Write(body)
	buf.WriteByte(boundSeparator)
	for _, f := range bound {
		buf.WriteString(f.Key)
		buf.WriteByte('=')
		buf.WriteString(f.Value)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), clean, nil
}

func (c Canonicalizer) bound(md Metadata) Metadata {
	if len(c.Bind) == 0 {
		return nil
	}
	var out Metadata
	for _, f := range md {
		for _, k := range c.Bind {
			if f.Key == k {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func formatError(format Format, msg string) error {
	return errs.E(errs.KindFormat, "canon."+string(format), msg)
}

func wrapFormatError(format Format, cause error, msg string) error {
	return &errs.Error{Kind: errs.KindFormat, Op: "canon." + string(format), Message: msg, Cause: cause}
}
