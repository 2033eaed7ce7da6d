package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-kit/kit/log"
)

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certify.db")
	conn, err := Open(context.Background(), DriverSQLite, path, DefaultOptions, log.NewNopLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	var mode string
	if err := conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("got journal mode %q; want wal", mode)
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "x", DefaultOptions, log.NewNopLogger()); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
