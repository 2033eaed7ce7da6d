package relational

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-kit/kit/log"

	"github.com/lamassuiot/certify/pkg/db"
	"github.com/lamassuiot/certify/pkg/depot"
	"github.com/lamassuiot/certify/pkg/depot/depottest"
)

func TestSQLiteDepot(t *testing.T) {
	depottest.Run(t, func(t *testing.T) depot.Depot {
		return setup(t)
	})
}

func setup(t *testing.T) depot.Depot {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.DriverSQLite, filepath.Join(t.TempDir(), "certify.db"), db.DefaultOptions, log.NewNopLogger())
	if err != nil {
		t.Fatalf("Unable to open sqlite database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	d, err := NewDB(ctx, conn, log.NewNopLogger())
	if err != nil {
		t.Fatalf("Unable to create depot: %v", err)
	}
	return d
}
