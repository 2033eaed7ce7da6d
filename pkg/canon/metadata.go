package canon

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const maxMetadataValue = 1024

// Field is a single metadata entry.
type Field struct {
	Key   string
	Value string
}

// Metadata is an ordered string mapping, sorted by key once validated.
type Metadata []Field

var commonKeys = []string{"title", "description", "issuer", "holder", "issued_on"}

var formatKeys = map[Format][]string{
	FormatPEM:  {"subject"},
	FormatJSON: {"schema"},
}

// RecognizedKeys returns the closed set of metadata keys accepted for format.
func RecognizedKeys(format Format) []string {
	keys := append([]string{}, commonKeys...)
	keys = append(keys, formatKeys[format]...)
	sort.Strings(keys)
	return keys
}

func recognized(format Format, key string) bool {
	for _, k := range commonKeys {
		if k == key {
			return true
		}
	}
	for _, k := range formatKeys[format] {
		if k == key {
			return true
		}
	}
	return false
}

// FromMap builds Metadata sorted by key.
func FromMap(m map[string]string) Metadata {
	if len(m) == 0 {
		return nil
	}
	md := make(Metadata, 0, len(m))
	for k, v := range m {
		md = append(md, Field{Key: k, Value: v})
	}
	sort.Slice(md, func(i, j int) bool { return md[i].Key < md[j].Key })
	return md
}

func (m Metadata) Get(key string) (string, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

func (m Metadata) Map() map[string]string {
	out := make(map[string]string, len(m))
	for _, f := range m {
		out[f.Key] = f.Value
	}
	return out
}

// ValidateMetadata normalizes md for format: keys must be recognized and
// unique, values are NFC normalized, trimmed, non-empty and bounded.
func ValidateMetadata(format Format, md Metadata) (Metadata, error) {
	if len(md) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(md))
	out := make(Metadata, 0, len(md))
	for _, f := range md {
		key := strings.ToLower(strings.TrimSpace(f.Key))
		if !recognized(format, key) {
			return nil, formatError(format, "unrecognized metadata key "+quote(f.Key))
		}
		if seen[key] {
			return nil, formatError(format, "duplicate metadata key "+quote(key))
		}
		seen[key] = true
		if !utf8.ValidString(f.Value) {
			return nil, formatError(format, "metadata value for "+quote(key)+" is not valid UTF-8")
		}
		value := strings.TrimSpace(norm.NFC.String(f.Value))
		if value == "" {
			return nil, formatError(format, "metadata value for "+quote(key)+" is empty")
		}
		if len(value) > maxMetadataValue {
			return nil, formatError(format, "metadata value for "+quote(key)+" is too long")
		}
		out = append(out, Field{Key: key, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(&buf, f.Key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSONString(&buf, f.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = FromMap(raw)
	return nil
}

func quote(s string) string {
	return "\"" + s + "\""
}
