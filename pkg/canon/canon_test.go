package canon

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/lamassuiot/certify/pkg/errs"
)

func TestCanonicalizeEquivalentUploads(t *testing.T) {
	cert := selfSignedPEM(t)
	certCRLF := bytes.ReplaceAll(cert, []byte("\n"), []byte("\r\n"))
	certWrapped := append([]byte("Issued by Example University\n\n"), cert...)
	certWrapped = append(certWrapped, []byte("\n-- exported by pdf2pem 1.2\n")...)

	testCases := []struct {
		name   string
		format Format
		a, b   []byte
	}{
		{"text line endings", FormatText, []byte("Alice\nBSc Physics\n"), []byte("Alice\r\nBSc Physics\r\n")},
		{"text bom and trailing blanks", FormatText, []byte("Alice  \nBSc\t\n\n\n"), append([]byte{0xEF, 0xBB, 0xBF}, []byte("\nAlice\nBSc")...)},
		{"text unicode composition", FormatText, []byte("Jos\u00e9"), []byte("Jose\u0301")},
		{"json key order and spacing", FormatJSON, []byte(`{"name":"Alice","degree":"BSc"}`), []byte("{\n  \"degree\": \"BSc\",\n  \"name\": \"Alice\"\n}\n")},
		{"json volatile wrapper keys", FormatJSON, []byte(`{"name":"Alice"}`), []byte(`{"generatedAt":"2024-01-01T00:00:00Z","generator":"exporter 3","name":"Alice"}`)},
		{"json number forms", FormatJSON, []byte(`{"grade":100,"gpa":3.5}`), []byte(`{"grade":1e2,"gpa":3.50}`)},
		{"json large integer forms", FormatJSON, []byte(`{"serial":100000000000000000000}`), []byte(`{"serial":1e20}`)},
		{"json integer with fraction zeros", FormatJSON, []byte(`{"serial":12345678901234567890123}`), []byte(`{"serial":1.2345678901234567890123000e22}`)},
		{"json key normalization", FormatJSON, []byte("{\"caf\u00e9\":1,\"cafe\":2}"), []byte("{\"cafe\":2,\"cafe\u0301\":1}")},
		{"pem line endings", FormatPEM, cert, certCRLF},
		{"pem surrounding text", FormatPEM, cert, certWrapped},
		{"pdf trailing bytes", FormatPDF, []byte("%PDF-1.7\nbody\n%%EOF"), []byte("%PDF-1.7\nbody\n%%EOF\r\n\n  ")},
	}
	var c Canonicalizer
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ca, _, err := c.Canonicalize(tc.a, tc.format, nil)
			if err != nil {
				t.Fatalf("canonicalize a: %v", err)
			}
			cb, _, err := c.Canonicalize(tc.b, tc.format, nil)
			if err != nil {
				t.Fatalf("canonicalize b: %v", err)
			}
			if !bytes.Equal(ca, cb) {
				t.Errorf("canonical forms differ:\n%q\n%q", ca, cb)
			}
		})
	}
}

func TestCanonicalizeDistinguishesContent(t *testing.T) {
	var c Canonicalizer
	a, _, err := c.Canonicalize([]byte(`{"name":"Alice"}`), FormatJSON, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := c.Canonicalize([]byte(`{"name":"Alicf"}`), FormatJSON, nil)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("different documents canonicalized identically")
	}
}

func TestCanonicalizeFormatErrors(t *testing.T) {
	testCases := []struct {
		name   string
		format Format
		raw    []byte
		md     Metadata
	}{
		{"unknown format", Format("docx"), []byte("x"), nil},
		{"text empty", FormatText, []byte(" \r\n\t\n"), nil},
		{"text invalid utf8", FormatText, []byte{0xff, 0xfe, 0x00}, nil},
		{"json invalid", FormatJSON, []byte(`{"a":`), nil},
		{"json trailing data", FormatJSON, []byte(`{"a":1} {"b":2}`), nil},
		{"json array", FormatJSON, []byte(`[1,2]`), nil},
		{"json only volatile", FormatJSON, []byte(`{"generator":"x"}`), nil},
		{"json duplicate key", FormatJSON, []byte(`{"grade":"A","grade":"F"}`), nil},
		{"json nested duplicate key", FormatJSON, []byte(`{"student":{"name":"Alice","name":"Mallory"}}`), nil},
		{"json keys equal after normalization", FormatJSON, []byte("{\"caf\u00e9\":\"A\",\"cafe\u0301\":\"F\"}"), nil},
		{"json number out of range", FormatJSON, []byte(`{"grade":1e400}`), nil},
		{"pem none", FormatPEM, []byte("not a pem"), nil},
		{"pem wrong type", FormatPEM, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1}}), nil},
		{"pem garbage certificate", FormatPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1, 2, 3}}), nil},
		{"pdf header", FormatPDF, []byte("hello %%EOF"), nil},
		{"pdf eof", FormatPDF, []byte("%PDF-1.4 truncated"), nil},
		{"metadata unknown key", FormatText, []byte("ok"), Metadata{{Key: "color", Value: "red"}}},
		{"metadata format specific key", FormatText, []byte("ok"), Metadata{{Key: "subject", Value: "x"}}},
		{"metadata duplicate", FormatText, []byte("ok"), Metadata{{Key: "title", Value: "a"}, {Key: "TITLE", Value: "b"}}},
		{"metadata empty value", FormatText, []byte("ok"), Metadata{{Key: "title", Value: "   "}}},
	}
	var c Canonicalizer
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := c.Canonicalize(tc.raw, tc.format, tc.md)
			if !errs.IsKind(err, errs.KindFormat) {
				t.Fatalf("got %v; want a format error", err)
			}
		})
	}
}

func TestMetadataIsInformationalUnlessBound(t *testing.T) {
	raw := []byte("Alice\nBSc Physics")
	md1 := Metadata{{Key: "issuer", Value: "Example University"}, {Key: "holder", Value: "Alice"}}
	md2 := Metadata{{Key: "issuer", Value: "Other College"}, {Key: "holder", Value: "Alice"}}

	var free Canonicalizer
	a, clean, err := free.Canonicalize(raw, FormatText, md1)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := free.Canonicalize(raw, FormatText, md2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("unbound metadata changed the canonical bytes")
	}
	if clean[0].Key != "holder" || clean[1].Key != "issuer" {
		t.Errorf("metadata not sorted: %+v", clean)
	}

	bound := Canonicalizer{Bind: []string{"issuer"}}
	a, _, err = bound.Canonicalize(raw, FormatText, md1)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err = bound.Canonicalize(raw, FormatText, md2)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("bound metadata did not change the canonical bytes")
	}
	if !bytes.HasSuffix(a, []byte("\x00issuer=Example University\n")) {
		t.Errorf("unexpected bound encoding %q", a)
	}
}

func TestMetadataJSONKeepsOrder(t *testing.T) {
	md := FromMap(map[string]string{"title": "BSc", "holder": "Alice", "issuer": "Uni"})
	b, err := md.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), `{"holder":"Alice","issuer":"Uni","title":"BSc"}`; got != want {
		t.Errorf("got %s; want %s", got, want)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(" PEM "); err != nil || f != FormatPEM {
		t.Errorf("got %q, %v", f, err)
	}
	if _, err := ParseFormat("docx"); !errs.IsKind(err, errs.KindFormat) {
		t.Errorf("got %v; want format error", err)
	}
}

func selfSignedPEM(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "Alice", Organization: []string{"Example University"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
