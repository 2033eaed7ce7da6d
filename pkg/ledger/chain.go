package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/lamassuiot/certify/pkg/errs"
	"github.com/lamassuiot/certify/pkg/fingerprint"
)

// Genesis is the PrevHash of the first entry.
var Genesis = make([]byte, sha256.Size)

// ComputeHash returns SHA-256(PrevHash || seq || kind || id || fp || at || reason)
// with every variable-length field length-prefixed.
func (e *Entry) ComputeHash() []byte {
	h := sha256.New()
	var n [8]byte
	field := func(b []byte) {
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}
	h.Write(e.PrevHash)
	binary.BigEndian.PutUint64(n[:], e.Seq)
	h.Write(n[:])
	field([]byte(e.Kind))
	field([]byte(e.VerificationID))
	field(e.Fingerprint)
	binary.BigEndian.PutUint64(n[:], uint64(e.At.UnixNano()))
	h.Write(n[:])
	field([]byte(e.Reason))
	return h.Sum(nil)
}

func (h Head) String() string {
	return hex.EncodeToString(h.Hash)
}

// State is the fold of a log: the bindings it produced and the head it
// ended on. Backends that keep the log outside a database replay it into a
// State on open and append through it afterwards. State is not safe for
// concurrent use.
type State struct {
	entries []*Entry
	byFP    map[string]*Binding
	byID    map[string]*Binding
	revoked int
}

func NewState() *State {
	return &State{
		byFP: map[string]*Binding{},
		byID: map[string]*Binding{},
	}
}

func (s *State) Head() Head {
	if len(s.entries) == 0 {
		return Head{Hash: append([]byte(nil), Genesis...)}
	}
	last := s.entries[len(s.entries)-1]
	return Head{Size: last.Seq, Hash: append([]byte(nil), last.Hash...)}
}

// NextIssue builds the issue entry for fp that would follow the current
// head. It is not applied until Apply is called with it.
func (s *State) NextIssue(minter Minter, fp fingerprint.Fingerprint) *Entry {
	seq := s.Head().Size + 1
	return s.next(KindIssue, minter.Mint(seq, fp), fp, "")
}

// NextRevoke builds the revoke entry for b.
func (s *State) NextRevoke(b *Binding, reason string) *Entry {
	return s.next(KindRevoke, b.VerificationID, b.Fingerprint, reason)
}

func (s *State) next(kind Kind, id string, fp fingerprint.Fingerprint, reason string) *Entry {
	head := s.Head()
	e := &Entry{
		Seq:            head.Size + 1,
		EntryID:        NewEntryID(),
		Kind:           kind,
		VerificationID: id,
		Fingerprint:    append(fingerprint.Fingerprint(nil), fp...),
		At:             Now(),
		Reason:         reason,
		PrevHash:       head.Hash,
	}
	e.Hash = e.ComputeHash()
	return e
}

// Apply checks that e extends the log and folds it in. Any violation of
// the chain or of the one-ID-per-fingerprint rules is reported as
// Inconsistent and leaves s unchanged.
func (s *State) Apply(e *Entry) error {
	if err := s.Check(e); err != nil {
		return err
	}
	s.fold(e)
	return nil
}

// Check reports whether e may be applied, without applying it.
func (s *State) Check(e *Entry) error {
	const op = "ledger.Apply"
	head := s.Head()
	if e.Seq != head.Size+1 {
		return errs.Ef(errs.KindInconsistent, op, "entry %d follows entry %d", e.Seq, head.Size)
	}
	if !bytes.Equal(e.PrevHash, head.Hash) {
		return errs.Ef(errs.KindInconsistent, op, "entry %d does not link to the previous entry", e.Seq)
	}
	if !bytes.Equal(e.Hash, e.ComputeHash()) {
		return errs.Ef(errs.KindInconsistent, op, "entry %d hash does not match its contents", e.Seq)
	}
	if e.VerificationID == "" {
		return errs.Ef(errs.KindInconsistent, op, "entry %d has no verification id", e.Seq)
	}
	switch e.Kind {
	case KindIssue:
		if _, err := fingerprint.FromBytes(e.Fingerprint); err != nil {
			return errs.Ef(errs.KindInconsistent, op, "entry %d has an invalid fingerprint", e.Seq)
		}
		if _, ok := s.byFP[e.Fingerprint.String()]; ok {
			return errs.Ef(errs.KindInconsistent, op, "entry %d issues a second id for %s", e.Seq, e.Fingerprint)
		}
		if _, ok := s.byID[e.VerificationID]; ok {
			return errs.Ef(errs.KindInconsistent, op, "entry %d reuses verification id %q", e.Seq, e.VerificationID)
		}
	case KindRevoke:
		b, ok := s.byID[e.VerificationID]
		if !ok {
			return errs.Ef(errs.KindInconsistent, op, "entry %d revokes unknown id %q", e.Seq, e.VerificationID)
		}
		if b.Status == StatusRevoked {
			return errs.Ef(errs.KindInconsistent, op, "entry %d revokes %q twice", e.Seq, e.VerificationID)
		}
		if !b.Fingerprint.Equal(e.Fingerprint) {
			return errs.Ef(errs.KindInconsistent, op, "entry %d revokes %q under another fingerprint", e.Seq, e.VerificationID)
		}
	default:
		return errs.Ef(errs.KindInconsistent, op, "entry %d has unknown kind %q", e.Seq, e.Kind)
	}
	return nil
}

func (s *State) fold(e *Entry) {
	switch e.Kind {
	case KindIssue:
		b := &Binding{
			VerificationID: e.VerificationID,
			Fingerprint:    e.Fingerprint,
			IssuedAt:       e.At,
			Status:         StatusActive,
		}
		s.byFP[e.Fingerprint.String()] = b
		s.byID[e.VerificationID] = b
	case KindRevoke:
		b := s.byID[e.VerificationID]
		b.Status = StatusRevoked
		b.RevokedAt = e.At
		b.Reason = e.Reason
		s.revoked++
	}
	s.entries = append(s.entries, e)
}

func (s *State) ByFingerprint(fp fingerprint.Fingerprint) (*Binding, bool) {
	b, ok := s.byFP[fp.String()]
	return b.Clone(), ok
}

func (s *State) ByID(id string) (*Binding, bool) {
	b, ok := s.byID[id]
	return b.Clone(), ok
}

func (s *State) Stats() Stats {
	return Stats{Issued: len(s.byID), Revoked: s.revoked}
}

// Entries returns up to limit entries starting at sequence number from.
// A limit <= 0 returns everything from there on.
func (s *State) Entries(from uint64, limit int) []*Entry {
	if from == 0 {
		from = 1
	}
	if from > uint64(len(s.entries)) {
		return nil
	}
	rest := s.entries[from-1:]
	if limit > 0 && limit < len(rest) {
		rest = rest[:limit]
	}
	out := make([]*Entry, len(rest))
	for i, e := range rest {
		out[i] = e.Clone()
	}
	return out
}

// Verify replays every entry of s into a fresh State.
func (s *State) Verify() (Head, error) {
	return Replay(s.entries)
}

// Replay folds entries into a fresh State and returns its head.
func Replay(entries []*Entry) (Head, error) {
	fresh := NewState()
	for _, e := range entries {
		if err := fresh.Apply(e); err != nil {
			return Head{}, err
		}
	}
	return fresh.Head(), nil
}

func (e *Entry) Clone() *Entry {
	out := *e
	out.Fingerprint = append(fingerprint.Fingerprint(nil), e.Fingerprint...)
	out.PrevHash = append([]byte(nil), e.PrevHash...)
	out.Hash = append([]byte(nil), e.Hash...)
	return &out
}
