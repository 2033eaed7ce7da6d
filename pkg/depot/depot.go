package depot

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/lamassuiot/certify/pkg/canon"
	"github.com/lamassuiot/certify/pkg/errs"
	"github.com/lamassuiot/certify/pkg/fingerprint"
)

// Record is a certificate as first seen. It is never mutated once stored.
type Record struct {
	Fingerprint fingerprint.Fingerprint
	Format      canon.Format
	Canonical   []byte
	Metadata    canon.Metadata
	SubmittedAt time.Time
}

// Depot is the content-addressed certificate store.
//
// Put for a fingerprint that is already stored returns the stored record
// unchanged and isNew=false. Concurrent Puts for one fingerprint resolve to
// exactly one winner. A failed Put leaves nothing observable by Get.
type Depot interface {
	Put(ctx context.Context, rec *Record) (stored *Record, isNew bool, err error)
	Get(ctx context.Context, fp fingerprint.Fingerprint) (*Record, error)
	Count(ctx context.Context) (int, error)
	// ListByIssuer matches issuers under NormalizeIssuer.
	ListByIssuer(ctx context.Context, issuer string) ([]*Record, error)
	Health(ctx context.Context) error
}

func (r *Record) Issuer() string {
	v, _ := r.Metadata.Get("issuer")
	return v
}

// NormalizeIssuer is the form in which issuer names are compared: case is
// ignored and surrounding space trimmed.
func NormalizeIssuer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Fingerprint = append(fingerprint.Fingerprint(nil), r.Fingerprint...)
	out.Canonical = append([]byte(nil), r.Canonical...)
	out.Metadata = append(canon.Metadata(nil), r.Metadata...)
	return &out
}

// Validate is called by every backend before a write.
func (r *Record) Validate() error {
	if r == nil {
		return errs.E(errs.KindInvalid, "depot.Put", "nil record")
	}
	if _, err := fingerprint.FromBytes(r.Fingerprint); err != nil {
		return err
	}
	if len(r.Canonical) == 0 {
		return errs.E(errs.KindInvalid, "depot.Put", "empty canonical bytes")
	}
	if r.SubmittedAt.IsZero() {
		return errs.E(errs.KindInvalid, "depot.Put", "missing submission time")
	}
	return nil
}

func NotFound(op string, fp fingerprint.Fingerprint) error {
	return errs.Ef(errs.KindNotFound, op, "no record for fingerprint %s", fp)
}

// SortBySubmission orders records oldest first, ties broken by fingerprint.
func SortBySubmission(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].SubmittedAt.Equal(recs[j].SubmittedAt) {
			return recs[i].SubmittedAt.Before(recs[j].SubmittedAt)
		}
		return recs[i].Fingerprint.String() < recs[j].Fingerprint.String()
	})
}
