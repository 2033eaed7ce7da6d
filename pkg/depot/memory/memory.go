package memory

import (
	"context"

	"github.com/lamassuiot/certify/pkg/depot"
	"github.com/lamassuiot/certify/pkg/fingerprint"
)

// memory keeps records in a sync.Map; LoadOrStore is the compare-and-insert
// primitive, so Puts for unrelated fingerprints never contend on a lock.
type memory struct {
	records syncMap
}

func NewMemory() depot.Depot {
	return &memory{}
}

func (m *memory) Put(ctx context.Context, rec *depot.Record) (*depot.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := rec.Validate(); err != nil {
		return nil, false, err
	}
	candidate := rec.Clone()
	actual, loaded := m.records.LoadOrStore(candidate.Fingerprint.String(), candidate)
	return actual.Clone(), !loaded, nil
}

func (m *memory) Get(ctx context.Context, fp fingerprint.Fingerprint) (*depot.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := m.records.Load(fp.String())
	if !ok {
		return nil, depot.NotFound("depot.Get", fp)
	}
	return rec.Clone(), nil
}

func (m *memory) Count(ctx context.Context) (int, error) {
	n := 0
	m.records.Range(func(string, *depot.Record) bool {
		n++
		return true
	})
	return n, ctx.Err()
}

func (m *memory) ListByIssuer(ctx context.Context, issuer string) ([]*depot.Record, error) {
	var out []*depot.Record
	issuer = depot.NormalizeIssuer(issuer)
	m.records.Range(func(_ string, rec *depot.Record) bool {
		if depot.NormalizeIssuer(rec.Issuer()) == issuer {
			out = append(out, rec.Clone())
		}
		return true
	})
	depot.SortBySubmission(out)
	return out, ctx.Err()
}

func (m *memory) Health(ctx context.Context) error {
	return ctx.Err()
}
