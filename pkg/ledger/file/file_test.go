package file

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/kit/log"

	"github.com/lamassuiot/certify/pkg/errs"
	"github.com/lamassuiot/certify/pkg/ledger"
	"github.com/lamassuiot/certify/pkg/ledger/ledgertest"
)

func TestFileLedger(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T, minter ledger.Minter) ledger.Ledger {
		return open(t, filepath.Join(t.TempDir(), "ledger.jsonl"), minter)
	})
}

func TestFileLedgerSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	minter := ledgertest.Minter(t)

	l := open(t, path, minter)
	fp := ledgertest.Fingerprint(t, "durable")
	issued, _, err := l.IssueOrGet(ctx, fp)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Revoke(ctx, issued.VerificationID, "superseded"); err != nil {
		t.Fatal(err)
	}
	before, err := l.VerifyChain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	l.Close()

	reopened := open(t, path, minter)
	b, err := reopened.Resolve(ctx, issued.VerificationID)
	if err != nil {
		t.Fatalf("Resolve after reopen: %v", err)
	}
	if !b.Fingerprint.Equal(fp) || b.Status != ledger.StatusRevoked || b.Reason != "superseded" {
		t.Errorf("got %s %s %q", b.Fingerprint, b.Status, b.Reason)
	}
	again, created, err := reopened.IssueOrGet(ctx, fp)
	if err != nil {
		t.Fatal(err)
	}
	if created || again.VerificationID != issued.VerificationID {
		t.Errorf("reopened ledger minted %q (created=%v)", again.VerificationID, created)
	}
	after, err := reopened.VerifyChain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after.Size != before.Size || !bytes.Equal(after.Hash, before.Hash) {
		t.Errorf("head changed across reopen: %d/%s -> %d/%s", before.Size, before, after.Size, after)
	}
}

func TestFileLedgerRecoversTornTail(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	minter := ledgertest.Minter(t)

	l := open(t, path, minter)
	kept, _, err := l.IssueOrGet(ctx, ledgertest.Fingerprint(t, "kept"))
	if err != nil {
		t.Fatal(err)
	}
	l.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"seq":2,"entry_id":"x","kind":"iss`)
	f.Close()

	reopened := open(t, path, minter)
	if _, err := reopened.Resolve(ctx, kept.VerificationID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, created, err := reopened.IssueOrGet(ctx, ledgertest.Fingerprint(t, "after crash"))
	if err != nil || !created {
		t.Fatalf("IssueOrGet after recovery: created=%v err=%v", created, err)
	}
	head, err := reopened.VerifyChain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if head.Size != 2 {
		t.Errorf("head size %d; want 2", head.Size)
	}
	reopened.Close()

	// The recovered log must itself replay cleanly.
	final := open(t, path, minter)
	if _, err := final.Resolve(ctx, b.VerificationID); err != nil {
		t.Fatalf("Resolve after second reopen: %v", err)
	}
}

func TestFileLedgerRejectsCorruptFinalLine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	minter := ledgertest.Minter(t)

	l := open(t, path, minter)
	issued, _, err := l.IssueOrGet(ctx, ledgertest.Fingerprint(t, "revoked before crash"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Revoke(ctx, issued.VerificationID, "withdrawn"); err != nil {
		t.Fatal(err)
	}
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	last := bytes.LastIndexByte(data[:len(data)-1], '\n') + 1
	data[last] = 'x'
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewFile(path, minter, log.NewNopLogger()); !errs.IsKind(err, errs.KindInconsistent) {
		t.Fatalf("got %v; want inconsistent", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(after, data) {
		t.Error("corrupt log was modified on open")
	}
}

func TestFileLedgerRejectsTamperedLog(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	minter := ledgertest.Minter(t)

	l := open(t, path, minter)
	original := ledgertest.Fingerprint(t, "original")
	if _, _, err := l.IssueOrGet(ctx, original); err != nil {
		t.Fatal(err)
	}
	if _, _, err := l.IssueOrGet(ctx, ledgertest.Fingerprint(t, "second")); err != nil {
		t.Fatal(err)
	}
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	forged := ledgertest.Fingerprint(t, "forged")
	data = bytes.Replace(data, []byte(original.String()), []byte(forged.String()), 1)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewFile(path, minter, log.NewNopLogger()); !errs.IsKind(err, errs.KindInconsistent) {
		t.Fatalf("got %v; want inconsistent", err)
	}
}

func open(t *testing.T, path string, minter ledger.Minter) *File {
	t.Helper()
	l, err := NewFile(path, minter, log.NewNopLogger())
	if err != nil {
		t.Fatalf("Unable to open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}
