// Package depottest holds the behaviour every depot.Depot backend must show.
package depottest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lamassuiot/certify/pkg/canon"
	"github.com/lamassuiot/certify/pkg/depot"
	"github.com/lamassuiot/certify/pkg/errs"
	"github.com/lamassuiot/certify/pkg/fingerprint"
)

// NewDepot returns a fresh, empty backend isolated from other tests.
type NewDepot func(t *testing.T) depot.Depot

func Run(t *testing.T, newDepot NewDepot) {
	t.Helper()

	t.Run("PutGet", func(t *testing.T) {
		d := newDepot(t)
		ctx := context.Background()
		rec := NewRecord(t, "Alice\nBSc Physics", "Example University")

		stored, isNew, err := d.Put(ctx, rec)
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if !isNew {
			t.Error("first Put reported isNew=false")
		}
		got, err := d.Get(ctx, rec.Fingerprint)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		assertSame(t, got, stored)
		assertSame(t, got, rec)
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		d := newDepot(t)
		ctx := context.Background()
		first := NewRecord(t, "same content", "Example University")
		if _, _, err := d.Put(ctx, first); err != nil {
			t.Fatalf("Put(1): %v", err)
		}

		second := first.Clone()
		second.Metadata = canon.Metadata{{Key: "issuer", Value: "Someone Else"}}
		second.SubmittedAt = first.SubmittedAt.Add(time.Hour)
		stored, isNew, err := d.Put(ctx, second)
		if err != nil {
			t.Fatalf("Put(2): %v", err)
		}
		if isNew {
			t.Error("second Put reported isNew=true")
		}
		assertSame(t, stored, first)

		n, err := d.Count(ctx)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n != 1 {
			t.Errorf("Count = %d; want 1", n)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		d := newDepot(t)
		rec := NewRecord(t, "never stored", "")
		_, err := d.Get(context.Background(), rec.Fingerprint)
		if !errs.IsKind(err, errs.KindNotFound) {
			t.Fatalf("got %v; want not found", err)
		}
	})

	t.Run("ConcurrentPut", func(t *testing.T) {
		d := newDepot(t)
		const n = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
			stored  []*depot.Record
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := NewRecord(t, "contended content", fmt.Sprintf("issuer %d", i))
				got, isNew, err := d.Put(context.Background(), rec)
				if err != nil {
					t.Errorf("Put: %v", err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if isNew {
					winners++
				}
				stored = append(stored, got)
			}(i)
		}
		wg.Wait()
		if winners != 1 {
			t.Fatalf("%d callers created the record; want exactly 1", winners)
		}
		for _, rec := range stored[1:] {
			assertSame(t, rec, stored[0])
		}
		count, err := d.Count(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if count != 1 {
			t.Errorf("Count = %d; want 1", count)
		}
	})

	t.Run("ListByIssuer", func(t *testing.T) {
		d := newDepot(t)
		ctx := context.Background()
		for i, issuer := range []string{"Uni A", "Uni B", "Uni A"} {
			rec := NewRecord(t, fmt.Sprintf("document %d", i), issuer)
			rec.SubmittedAt = rec.SubmittedAt.Add(time.Duration(i) * time.Second)
			if _, _, err := d.Put(ctx, rec); err != nil {
				t.Fatal(err)
			}
		}
		recs, err := d.ListByIssuer(ctx, "Uni A")
		if err != nil {
			t.Fatalf("ListByIssuer: %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("got %d records; want 2", len(recs))
		}
		if !bytes.Equal(recs[0].Canonical, []byte("document 0")) || !bytes.Equal(recs[1].Canonical, []byte("document 2")) {
			t.Errorf("records out of submission order: %q, %q", recs[0].Canonical, recs[1].Canonical)
		}
		loose, err := d.ListByIssuer(ctx, "  uni a ")
		if err != nil {
			t.Fatalf("ListByIssuer: %v", err)
		}
		if len(loose) != 2 {
			t.Errorf("got %d records for differently cased issuer; want 2", len(loose))
		}
	})

	t.Run("InvalidRecord", func(t *testing.T) {
		d := newDepot(t)
		rec := NewRecord(t, "x", "")
		rec.Canonical = nil
		if _, _, err := d.Put(context.Background(), rec); !errs.IsKind(err, errs.KindInvalid) {
			t.Fatalf("got %v; want invalid", err)
		}
	})

	t.Run("Health", func(t *testing.T) {
		if err := newDepot(t).Health(context.Background()); err != nil {
			t.Fatalf("Health: %v", err)
		}
	})
}

// NewRecord builds a record for canonical text content.
func NewRecord(t *testing.T, content string, issuer string) *depot.Record {
	t.Helper()
	fp, err := fingerprint.Default().Sum([]byte(content))
	if err != nil {
		t.Fatal(err)
	}
	var md canon.Metadata
	if issuer != "" {
		md = canon.Metadata{{Key: "issuer", Value: issuer}}
	}
	return &depot.Record{
		Fingerprint: fp,
		Format:      canon.FormatText,
		Canonical:   []byte(content),
		Metadata:    md,
		SubmittedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func assertSame(t *testing.T, got, want *depot.Record) {
	t.Helper()
	if !got.Fingerprint.Equal(want.Fingerprint) {
		t.Errorf("fingerprint %s; want %s", got.Fingerprint, want.Fingerprint)
	}
	if !bytes.Equal(got.Canonical, want.Canonical) {
		t.Errorf("canonical %q; want %q", got.Canonical, want.Canonical)
	}
	if got.Format != want.Format {
		t.Errorf("format %q; want %q", got.Format, want.Format)
	}
	if got.Issuer() != want.Issuer() {
		t.Errorf("issuer %q; want %q", got.Issuer(), want.Issuer())
	}
	if !got.SubmittedAt.Equal(want.SubmittedAt) {
		t.Errorf("submitted at %v; want %v", got.SubmittedAt, want.SubmittedAt)
	}
}
