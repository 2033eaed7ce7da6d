// Package ledgertest holds the behaviour every ledger.Ledger backend must
// show.
package ledgertest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/lamassuiot/certify/pkg/errs"
	"github.com/lamassuiot/certify/pkg/fingerprint"
	"github.com/lamassuiot/certify/pkg/ledger"
)

type NewLedger func(t *testing.T, minter ledger.Minter) ledger.Ledger

func Run(t *testing.T, newLedger NewLedger) {
	t.Helper()

	t.Run("IssueOrGetIdempotent", func(t *testing.T) {
		l := newLedger(t, Minter(t))
		ctx := context.Background()
		fp := Fingerprint(t, "diploma")

		first, created, err := l.IssueOrGet(ctx, fp)
		if err != nil {
			t.Fatalf("IssueOrGet: %v", err)
		}
		if !created {
			t.Error("first IssueOrGet did not mint")
		}
		if !ledger.ValidID(first.VerificationID) {
			t.Errorf("minted id %q is malformed", first.VerificationID)
		}
		second, created, err := l.IssueOrGet(ctx, fp)
		if err != nil {
			t.Fatalf("IssueOrGet(2): %v", err)
		}
		if created {
			t.Error("second IssueOrGet minted again")
		}
		if second.VerificationID != first.VerificationID {
			t.Errorf("got id %q then %q", first.VerificationID, second.VerificationID)
		}
	})

	t.Run("DistinctContentDistinctIDs", func(t *testing.T) {
		l := newLedger(t, Minter(t))
		seen := map[string]bool{}
		for i := 0; i < 20; i++ {
			b, _, err := l.IssueOrGet(context.Background(), Fingerprint(t, fmt.Sprintf("doc %d", i)))
			if err != nil {
				t.Fatal(err)
			}
			if seen[b.VerificationID] {
				t.Fatalf("id %q minted twice", b.VerificationID)
			}
			seen[b.VerificationID] = true
		}
	})

	t.Run("ResolveBinding", func(t *testing.T) {
		l := newLedger(t, Minter(t))
		ctx := context.Background()
		fp := Fingerprint(t, "transcript")
		issued, _, err := l.IssueOrGet(ctx, fp)
		if err != nil {
			t.Fatal(err)
		}
		b, err := l.Resolve(ctx, issued.VerificationID)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if !b.Fingerprint.Equal(fp) || b.Status != ledger.StatusActive {
			t.Errorf("got %s/%s; want %s/active", b.Fingerprint, b.Status, fp)
		}
		if !b.IssuedAt.Equal(issued.IssuedAt) {
			t.Errorf("issued at %v; want %v", b.IssuedAt, issued.IssuedAt)
		}
	})

	t.Run("LookupDoesNotMint", func(t *testing.T) {
		l := newLedger(t, Minter(t))
		ctx := context.Background()
		fp := Fingerprint(t, "looked up")
		if _, err := l.Lookup(ctx, fp); !errs.IsKind(err, errs.KindNotFound) {
			t.Fatalf("Lookup before issue: got %v; want not found", err)
		}
		issued, _, err := l.IssueOrGet(ctx, fp)
		if err != nil {
			t.Fatal(err)
		}
		b, err := l.Lookup(ctx, fp)
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if b.VerificationID != issued.VerificationID {
			t.Errorf("Lookup returned %q; want %q", b.VerificationID, issued.VerificationID)
		}
		if st, _ := l.Stats(ctx); st.Issued != 1 {
			t.Errorf("Issued = %d; want 1", st.Issued)
		}
	})

	t.Run("ResolveUnknown", func(t *testing.T) {
		l := newLedger(t, Minter(t))
		if _, err := l.Resolve(context.Background(), "nonexistent-id"); !errs.IsKind(err, errs.KindNotFound) {
			t.Fatalf("got %v; want not found", err)
		}
	})

	t.Run("ConcurrentIssue", func(t *testing.T) {
		l := newLedger(t, Minter(t))
		fp := Fingerprint(t, "contended")
		const n = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			minted  int
			results = map[string]int{}
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b, created, err := l.IssueOrGet(context.Background(), fp)
				if err != nil {
					t.Errorf("IssueOrGet: %v", err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if created {
					minted++
				}
				results[b.VerificationID]++
			}()
		}
		wg.Wait()
		if minted != 1 {
			t.Errorf("%d callers minted; want 1", minted)
		}
		if len(results) != 1 {
			t.Errorf("callers saw %d distinct ids; want 1", len(results))
		}
		st, err := l.Stats(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if st.Issued != 1 {
			t.Errorf("Issued = %d; want 1", st.Issued)
		}
	})

	t.Run("RevokeMonotonic", func(t *testing.T) {
		l := newLedger(t, Minter(t))
		ctx := context.Background()
		fp := Fingerprint(t, "revoked later")
		issued, _, err := l.IssueOrGet(ctx, fp)
		if err != nil {
			t.Fatal(err)
		}
		id := issued.VerificationID

		b, err := l.Revoke(ctx, id, "issued in error")
		if err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		if b.Status != ledger.StatusRevoked || b.Reason != "issued in error" {
			t.Errorf("got %s %q", b.Status, b.Reason)
		}
		if _, err := l.Revoke(ctx, id, "again"); !errs.IsKind(err, errs.KindAlreadyRevoked) {
			t.Fatalf("second Revoke: got %v; want already revoked", err)
		}
		resolved, err := l.Resolve(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if resolved.Status != ledger.StatusRevoked {
			t.Errorf("Resolve after revoke: status %s", resolved.Status)
		}
		again, created, err := l.IssueOrGet(ctx, fp)
		if err != nil {
			t.Fatal(err)
		}
		if created || again.VerificationID != id || again.Status != ledger.StatusRevoked {
			t.Errorf("re-submission after revoke got %q created=%v status=%s", again.VerificationID, created, again.Status)
		}
		st, err := l.Stats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if st != (ledger.Stats{Issued: 1, Revoked: 1}) {
			t.Errorf("Stats = %+v", st)
		}
	})

	t.Run("RevokeUnknown", func(t *testing.T) {
		l := newLedger(t, Minter(t))
		if _, err := l.Revoke(context.Background(), "nonexistent-id", ""); !errs.IsKind(err, errs.KindNotFound) {
			t.Fatalf("got %v; want not found", err)
		}
	})

	t.Run("HashChain", func(t *testing.T) {
		l := newLedger(t, Minter(t))
		ctx := context.Background()
		var ids []string
		for i := 0; i < 4; i++ {
			b, _, err := l.IssueOrGet(ctx, Fingerprint(t, fmt.Sprintf("chained %d", i)))
			if err != nil {
				t.Fatal(err)
			}
			ids = append(ids, b.VerificationID)
		}
		if _, err := l.Revoke(ctx, ids[1], ""); err != nil {
			t.Fatal(err)
		}

		head, err := l.VerifyChain(ctx)
		if err != nil {
			t.Fatalf("VerifyChain: %v", err)
		}
		if head.Size != 5 {
			t.Errorf("head size %d; want 5", head.Size)
		}
		entries, err := l.Entries(ctx, 1, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 5 {
			t.Fatalf("got %d entries; want 5", len(entries))
		}
		prev := ledger.Genesis
		for i, e := range entries {
			if e.Seq != uint64(i+1) {
				t.Errorf("entry %d has seq %d", i, e.Seq)
			}
			if !bytes.Equal(e.PrevHash, prev) {
				t.Errorf("entry %d does not link to its predecessor", e.Seq)
			}
			prev = e.Hash
		}
		if !bytes.Equal(head.Hash, prev) {
			t.Error("head hash is not the hash of the last entry")
		}
		if entries[4].Kind != ledger.KindRevoke || entries[4].VerificationID != ids[1] {
			t.Errorf("last entry is %s %q; want revoke %q", entries[4].Kind, entries[4].VerificationID, ids[1])
		}

		page, err := l.Entries(ctx, 2, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) != 2 || page[0].Seq != 2 || page[1].Seq != 3 {
			t.Errorf("Entries(2, 2) returned %d entries", len(page))
		}
	})

	t.Run("EmptyChain", func(t *testing.T) {
		head, err := newLedger(t, Minter(t)).VerifyChain(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if head.Size != 0 || !bytes.Equal(head.Hash, ledger.Genesis) {
			t.Errorf("empty head = %d/%x", head.Size, head.Hash)
		}
	})
}

func Minter(t *testing.T) ledger.Minter {
	t.Helper()
	m, err := ledger.NewHMACMinter([]byte("ledgertest issuance secret"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func Fingerprint(t *testing.T, content string) fingerprint.Fingerprint {
	t.Helper()
	fp, err := fingerprint.Default().Sum([]byte(content))
	if err != nil {
		t.Fatal(err)
	}
	return fp
}
