// Package db opens the relational database shared by the relational depot
// and ledger backends.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite3"
)

// sqlitePragmas are appended to sqlite DSNs that carry no options.
const sqlitePragmas = "_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_foreign_keys=ON"

// Options bounds the connection check loop.
type Options struct {
	Attempts int
	Backoff  time.Duration
}

var DefaultOptions = Options{Attempts: 10, Backoff: time.Second}

func Open(ctx context.Context, driverName string, dataSourceName string, opts Options, logger log.Logger) (*sql.DB, error) {
	switch driverName {
	case DriverPostgres, DriverPgx:
	case DriverSQLite:
		if !strings.Contains(dataSourceName, "?") {
			dataSourceName = dataSourceName + "?" + sqlitePragmas
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}

	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == DriverSQLite {
		// sqlite works best with a single writer
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	err = checkDBAlive(ctx, db)
	for attempt := 1; err != nil && attempt < opts.Attempts; attempt++ {
		level.Warn(logger).Log("err", err, "msg", "Trying to connect to certificate database", "attempt", attempt)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(opts.Backoff):
		}
		err = checkDBAlive(ctx, db)
	}
	if err != nil {
		db.Close()
		level.Error(logger).Log("err", err, "msg", "Could not connect to certificate database")
		return nil, err
	}
	level.Info(logger).Log("msg", "Connection established with certificate database", "driver", driverName)
	return db, nil
}

func checkDBAlive(ctx context.Context, db *sql.DB) error {
	return db.PingContext(ctx)
}
