package ledger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lamassuiot/certify/pkg/errs"
	"github.com/lamassuiot/certify/pkg/fingerprint"
)

func testMinter(t *testing.T) Minter {
	t.Helper()
	m, err := NewHMACMinter([]byte("chain test issuance secret"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func testFingerprint(t *testing.T, s string) fingerprint.Fingerprint {
	t.Helper()
	fp, err := fingerprint.Default().Sum([]byte(s))
	if err != nil {
		t.Fatal(err)
	}
	return fp
}

func TestStateRejectsBrokenEntries(t *testing.T) {
	m := testMinter(t)
	fp := testFingerprint(t, "a")

	tests := []struct {
		name   string
		mutate func(s *State, e *Entry)
	}{
		{"wrong sequence", func(_ *State, e *Entry) { e.Seq = 7 }},
		{"unlinked", func(_ *State, e *Entry) { e.PrevHash = bytes.Repeat([]byte{1}, 32) }},
		{"edited after hashing", func(_ *State, e *Entry) { e.Reason = "edited" }},
		{"second id for fingerprint", func(s *State, e *Entry) {
			s.Apply(s.NextIssue(m, fp))
			*e = *s.NextIssue(m, fp)
		}},
		{"revoke of unknown id", func(s *State, e *Entry) {
			*e = *s.NextRevoke(&Binding{VerificationID: "nope", Fingerprint: fp}, "")
		}},
		{"unknown kind", func(_ *State, e *Entry) {
			e.Kind = "amend"
			e.Hash = e.ComputeHash()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			e := s.NextIssue(m, testFingerprint(t, "b"))
			tt.mutate(s, e)
			before := s.Head()
			err := s.Apply(e)
			if !errs.IsKind(err, errs.KindInconsistent) {
				t.Fatalf("got %v; want inconsistent", err)
			}
			if after := s.Head(); after.Size != before.Size {
				t.Errorf("rejected entry changed the head")
			}
		})
	}
}

func TestReplayReproducesHead(t *testing.T) {
	m := testMinter(t)
	s := NewState()
	for _, doc := range []string{"a", "b", "c"} {
		if err := s.Apply(s.NextIssue(m, testFingerprint(t, doc))); err != nil {
			t.Fatal(err)
		}
	}
	b, _ := s.ByFingerprint(testFingerprint(t, "b"))
	if err := s.Apply(s.NextRevoke(b, "withdrawn")); err != nil {
		t.Fatal(err)
	}

	head, err := Replay(s.Entries(1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := s.Head(); head.Size != 4 || !bytes.Equal(head.Hash, want.Hash) {
		t.Errorf("replayed head %d/%s; want 4/%s", head.Size, head, want)
	}
	if st := s.Stats(); st.Issued != 3 || st.Revoked != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestMinterHidesFingerprint(t *testing.T) {
	fp := testFingerprint(t, "same content")
	a := testMinter(t)
	other, err := NewHMACMinter([]byte("another deployment secret"))
	if err != nil {
		t.Fatal(err)
	}

	id := a.Mint(1, fp)
	if !ValidID(id) {
		t.Fatalf("%q is not a valid id", id)
	}
	if a.Mint(1, fp) != id {
		t.Error("minting is not deterministic")
	}
	if other.Mint(1, fp) == id {
		t.Error("different secrets minted the same id")
	}
	if a.Mint(2, fp) == id {
		t.Error("different sequence numbers minted the same id")
	}
	if strings.Contains(id, fp.String()) {
		t.Error("id embeds the fingerprint")
	}
}

func TestNewHMACMinterRejectsShortSecret(t *testing.T) {
	if _, err := NewHMACMinter([]byte("short")); !errs.IsKind(err, errs.KindInvalid) {
		t.Fatalf("got %v; want invalid", err)
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"nonexistent-id", false},
		{"", false},
		{strings.Repeat("A", 27), true},
		{strings.Repeat("A", 26) + "=", false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v; want %v", tt.id, got, tt.want)
		}
	}
}
