package certify

import (
	"time"

	"github.com/lamassuiot/certify/pkg/canon"
	"github.com/lamassuiot/certify/pkg/fingerprint"
)

type Outcome string

const (
	// Identifier-only outcomes.
	Authentic Outcome = "authentic"
	Revoked   Outcome = "revoked"
	Unknown   Outcome = "unknown"

	// Outcomes when the caller presents the document.
	Match    Outcome = "match"
	Mismatch Outcome = "mismatch"

	// DigestVersionMismatch means the ID was issued under a fingerprint
	// algorithm that is no longer accepted, so the presented document
	// cannot be compared.
	DigestVersionMismatch Outcome = "digest_version_mismatch"
	// Inconsistent means the ledger knows the ID but the store holds no
	// record for its fingerprint.
	Inconsistent Outcome = "inconsistent"
)

type Verdict struct {
	Outcome        Outcome
	VerificationID string
	Fingerprint    fingerprint.Fingerprint
	Format         canon.Format
	Metadata       canon.Metadata
	IssuedAt       time.Time
	RevokedAt      time.Time
	Reason         string
}
