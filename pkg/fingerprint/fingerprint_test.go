package fingerprint

import (
	"crypto/sha256"
	"testing"

	"github.com/lamassuiot/certify/pkg/errs"
)

func TestSumIsDeterministic(t *testing.T) {
	e := Default()
	a, err := e.Sum([]byte("Alice\nBSc Physics"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Sum([]byte("Alice\nBSc Physics"))
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Fatal("same bytes produced different fingerprints")
	}
	want := sha256.Sum256([]byte("Alice\nBSc Physics"))
	if string(a.Digest()) != string(want[:]) {
		t.Error("sha2-256 digest does not match crypto/sha256")
	}
	if a.Algorithm() != SHA2_256 {
		t.Errorf("got algorithm %q", a.Algorithm())
	}
}

func TestAlgorithmsProduceDistinctFingerprints(t *testing.T) {
	data := []byte("same content")
	seen := map[string]string{}
	for _, name := range Algorithms() {
		e, err := NewEngine(name)
		if err != nil {
			t.Fatalf("NewEngine(%s): %v", name, err)
		}
		fp, err := e.Sum(data)
		if err != nil {
			t.Fatalf("Sum with %s: %v", name, err)
		}
		if len(fp.Digest()) != Size {
			t.Errorf("%s: digest length %d", name, len(fp.Digest()))
		}
		if other, ok := seen[fp.String()]; ok {
			t.Errorf("%s and %s collide", name, other)
		}
		seen[fp.String()] = name
	}
}

func TestParseRoundTrip(t *testing.T) {
	fp, err := Default().Sum([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := Parse(fp.String())
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(fp) {
		t.Errorf("got %s; want %s", got, fp)
	}
	if _, err := Parse("not-a-cid"); !errs.IsKind(err, errs.KindInvalid) {
		t.Errorf("got %v; want invalid", err)
	}
	if _, err := FromBytes([]byte{0x12, 0x02, 0x01, 0x02}); !errs.IsKind(err, errs.KindInvalid) {
		t.Errorf("short digest accepted: %v", err)
	}
}

func TestSumAsRetiredAlgorithm(t *testing.T) {
	old, err := NewEngine(SHA3_256)
	if err != nil {
		t.Fatal(err)
	}
	legacy, err := old.Sum([]byte("doc"))
	if err != nil {
		t.Fatal(err)
	}

	strict := Default()
	if _, err := strict.SumAs(legacy, []byte("doc")); !errs.IsKind(err, errs.KindDigestVersionMismatch) {
		t.Fatalf("got %v; want digest version mismatch", err)
	}

	lenient, err := NewEngine(SHA2_256, SHA3_256)
	if err != nil {
		t.Fatal(err)
	}
	again, err := lenient.SumAs(legacy, []byte("doc"))
	if err != nil {
		t.Fatal(err)
	}
	if !again.Equal(legacy) {
		t.Error("re-derivation under the original algorithm did not match")
	}
}

func TestNewEngineUnknownAlgorithm(t *testing.T) {
	if _, err := NewEngine("md5"); err == nil {
		t.Error("expected error for unknown algorithm")
	}
	if _, err := NewEngine(SHA2_256, "crc32"); err == nil {
		t.Error("expected error for unknown accepted algorithm")
	}
}
