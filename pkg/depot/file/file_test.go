package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-kit/kit/log"

	"github.com/lamassuiot/certify/pkg/depot"
	"github.com/lamassuiot/certify/pkg/depot/depottest"
	"github.com/lamassuiot/certify/pkg/errs"
)

func TestFileDepot(t *testing.T) {
	depottest.Run(t, func(t *testing.T) depot.Depot {
		d, err := NewFile(t.TempDir(), log.NewNopLogger())
		if err != nil {
			t.Fatal(err)
		}
		return d
	})
}

func TestFileDepotSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	d, err := NewFile(root, log.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	rec := depottest.NewRecord(t, "persisted", "Example University")
	if _, _, err := d.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewFile(root, log.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get(ctx, rec.Fingerprint)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got.Canonical) != "persisted" {
		t.Errorf("got %q", got.Canonical)
	}
}

func TestFileDepotLeavesNoTemporaryFiles(t *testing.T) {
	root := t.TempDir()
	d, err := NewFile(root, log.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, _, err := d.Put(context.Background(), depottest.NewRecord(t, "same", "")); err != nil {
			t.Fatal(err)
		}
	}
	filepath.WalkDir(root, func(path string, de os.DirEntry, err error) error {
		if err == nil && strings.HasPrefix(de.Name(), ".tmp-") {
			t.Errorf("temporary file left behind: %s", path)
		}
		return nil
	})
}

func TestFileDepotDetectsMisplacedRecord(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	d, err := NewFile(root, log.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	a := depottest.NewRecord(t, "document a", "")
	b := depottest.NewRecord(t, "document b", "")
	if _, _, err := d.Put(ctx, a); err != nil {
		t.Fatal(err)
	}
	if _, _, err := d.Put(ctx, b); err != nil {
		t.Fatal(err)
	}

	f := d.(*file)
	data, err := os.ReadFile(f.pathFor(a.Fingerprint))
	if err != nil {
		t.Fatal(err)
	}
	pathB := f.pathFor(b.Fingerprint)
	if err := os.WriteFile(pathB, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Get(ctx, b.Fingerprint); !errs.IsKind(err, errs.KindInconsistent) {
		t.Fatalf("got %v; want inconsistent", err)
	}
}
