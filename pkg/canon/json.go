package canon

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"math/big"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// volatileKeys are wrapper fields exporting tools add at the top level of a
// JSON certificate. They carry no meaning for the certificate itself.
var volatileKeys = []string{
	"$schema",
	"exportedAt",
	"exported_at",
	"generatedAt",
	"generated_at",
	"generator",
	"tool",
	"toolVersion",
}

// maxJSONDepth bounds nesting of arrays and objects.
const maxJSONDepth = 256

func canonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(raw, utf8BOM)))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, wrapFormatError(FormatJSON, err, "invalid JSON")
	}
	if tok != json.Delim('{') {
		return nil, formatError(FormatJSON, "top level value must be an object")
	}
	obj, err := readObject(dec, 1)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, formatError(FormatJSON, "trailing data after JSON document")
	}

	for _, k := range volatileKeys {
		delete(obj, k)
	}
	if len(obj) == 0 {
		return nil, formatError(FormatJSON, "document is empty")
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readValue decodes the value starting with tok. Object keys are NFC
// normalized as they are read, and a key seen twice in one object, before
// or after normalization, is a format error: parsers disagree on which
// duplicate wins.
func readValue(dec *json.Decoder, tok json.Token, depth int) (interface{}, error) {
	switch t := tok.(type) {
	case json.Delim:
		if depth >= maxJSONDepth {
			return nil, formatError(FormatJSON, "document is nested too deeply")
		}
		switch t {
		case '{':
			return readObject(dec, depth+1)
		case '[':
			return readArray(dec, depth+1)
		}
		return nil, formatError(FormatJSON, "unexpected delimiter "+t.String())
	case string, json.Number, bool, nil:
		return t, nil
	default:
		return nil, formatError(FormatJSON, "unsupported JSON value")
	}
}

func readObject(dec *json.Decoder, depth int) (map[string]interface{}, error) {
	obj := map[string]interface{}{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, wrapFormatError(FormatJSON, err, "invalid JSON")
		}
		key, ok := tok.(string)
		if !ok {
			return nil, formatError(FormatJSON, "object key is not a string")
		}
		key = norm.NFC.String(key)
		if _, dup := obj[key]; dup {
			return nil, formatError(FormatJSON, "duplicate object key "+quote(key))
		}
		if tok, err = dec.Token(); err != nil {
			return nil, wrapFormatError(FormatJSON, err, "invalid JSON")
		}
		v, err := readValue(dec, tok, depth)
		if err != nil {
			return nil, err
		}
		obj[key] = v
	}
	if _, err := dec.Token(); err != nil {
		return nil, wrapFormatError(FormatJSON, err, "invalid JSON")
	}
	return obj, nil
}

func readArray(dec *json.Decoder, depth int) ([]interface{}, error) {
	arr := []interface{}{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, wrapFormatError(FormatJSON, err, "invalid JSON")
		}
		v, err := readValue(dec, tok, depth)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, wrapFormatError(FormatJSON, err, "invalid JSON")
	}
	return arr, nil
}

func writeCanonical(buf *bytes.Buffer, value interface{}) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(v))
	case string:
		return writeJSONString(buf, norm.NFC.String(v))
	case json.Number:
		num, err := canonicalNumber(v)
		if err != nil {
			return err
		}
		buf.WriteString(num)
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return formatError(FormatJSON, "unsupported JSON value")
	}
	return nil
}

// numberPrec is wide enough to hold every integer below the float64
// range exactly.
const numberPrec = 1100

// canonicalNumber renders every integer-valued number as plain decimal
// digits, whatever its magnitude or spelling (1e20, 100000000000000000000
// and 1.0e20 agree), and every other number in the shortest form that
// round-trips through float64.
func canonicalNumber(n json.Number) (string, error) {
	s := n.String()
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return "", formatError(FormatJSON, "number out of range: "+s)
	}
	exact, _, err := big.ParseFloat(s, 10, numberPrec, big.ToNearestEven)
	if err != nil {
		return "", wrapFormatError(FormatJSON, err, "invalid number "+s)
	}
	if exact.IsInt() {
		i, _ := exact.Int(nil)
		return i.String(), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
