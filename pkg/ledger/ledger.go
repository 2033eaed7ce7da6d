// Package ledger binds fingerprints to public verification IDs.
//
// The ledger is an append-only, hash-chained log. Issuing an ID appends an
// issue entry; revoking appends a revoke entry that references the earlier
// issue. Nothing is ever rewritten, and the current status of an ID is a
// fold over the log.
package ledger

import (
	"context"
	"time"

	"github.com/lamassuiot/certify/pkg/errs"
	"github.com/lamassuiot/certify/pkg/fingerprint"
)

type Kind string

const (
	KindIssue  Kind = "issue"
	KindRevoke Kind = "revoke"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Entry is one record of the log. Hash covers every other field except
// EntryID, and PrevHash is the Hash of the entry before it.
type Entry struct {
	Seq            uint64
	EntryID        string
	Kind           Kind
	VerificationID string
	Fingerprint    fingerprint.Fingerprint
	At             time.Time
	Reason         string
	PrevHash       []byte
	Hash           []byte
}

// Binding is the folded view of one verification ID.
type Binding struct {
	VerificationID string
	Fingerprint    fingerprint.Fingerprint
	IssuedAt       time.Time
	Status         Status
	RevokedAt      time.Time
	Reason         string
}

// Head identifies the log at a point in time.
type Head struct {
	Size uint64
	Hash []byte
}

type Stats struct {
	Issued  int
	Revoked int
}

// Ledger is the issuance log.
//
// IssueOrGet returns the binding for fp, minting one when fp has never been
// seen; the boolean reports whether this call minted it. Once IssueOrGet
// returns, Resolve on every handle to the same backend sees the binding.
// Each call appends at most one entry, atomically. Lookup is IssueOrGet
// without the minting.
type Ledger interface {
	IssueOrGet(ctx context.Context, fp fingerprint.Fingerprint) (*Binding, bool, error)
	Lookup(ctx context.Context, fp fingerprint.Fingerprint) (*Binding, error)
	Resolve(ctx context.Context, id string) (*Binding, error)
	Revoke(ctx context.Context, id string, reason string) (*Binding, error)
	Entries(ctx context.Context, from uint64, limit int) ([]*Entry, error)
	Stats(ctx context.Context) (Stats, error)
	VerifyChain(ctx context.Context) (Head, error)
	Health(ctx context.Context) error
}

func (b *Binding) Active() bool {
	return b != nil && b.Status == StatusActive
}

func (b *Binding) Clone() *Binding {
	if b == nil {
		return nil
	}
	out := *b
	out.Fingerprint = append(fingerprint.Fingerprint(nil), b.Fingerprint...)
	return &out
}

func NotFound(op, id string) error {
	return errs.Ef(errs.KindNotFound, op, "no verification id %q", id)
}

func AlreadyRevoked(op, id string) error {
	return errs.Ef(errs.KindAlreadyRevoked, op, "verification id %q is already revoked", id)
}

// Now is the clock used for new entries. Timestamps are kept to the
// nanosecond in UTC so they survive every backend unchanged.
func Now() time.Time {
	return time.Now().UTC().Round(0)
}
