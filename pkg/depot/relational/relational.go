package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lamassuiot/certify/pkg/canon"
	"github.com/lamassuiot/certify/pkg/depot"
	"github.com/lamassuiot/certify/pkg/errs"
	"github.com/lamassuiot/certify/pkg/fingerprint"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// The schema sticks to what both postgres and sqlite accept.
var schema = []string{`
	CREATE TABLE IF NOT EXISTS certificate_records (
		fingerprint  TEXT PRIMARY KEY,
		format       TEXT NOT NULL,
		canonical    BYTEA NOT NULL,
		metadata     TEXT NOT NULL,
		issuer       TEXT NOT NULL DEFAULT '',
		submitted_at BIGINT NOT NULL
	);`, `
	CREATE INDEX IF NOT EXISTS certificate_records_issuer ON certificate_records (issuer);`,
}

type relationalDB struct {
	db     *sql.DB
	logger log.Logger
}

func NewDB(ctx context.Context, db *sql.DB, logger log.Logger) (depot.Depot, error) {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			level.Error(logger).Log("err", err, "msg", "Could not create certificate_records table")
			return nil, errs.Storage("depot.relational", err)
		}
	}
	return &relationalDB{db: db, logger: logger}, nil
}

func (r *relationalDB) Put(ctx context.Context, rec *depot.Record) (*depot.Record, bool, error) {
	if err := rec.Validate(); err != nil {
		return nil, false, err
	}
	fp := rec.Fingerprint.String()
	md, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, false, errs.Storage("depot.Put", err)
	}

	sqlStatement := `
	INSERT INTO certificate_records (fingerprint, format, canonical, metadata, issuer, submitted_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (fingerprint) DO NOTHING;
	`
	res, err := r.db.ExecContext(ctx, sqlStatement, fp, string(rec.Format), rec.Canonical, string(md), depot.NormalizeIssuer(rec.Issuer()), rec.SubmittedAt.UTC().UnixNano())
	if err != nil {
		level.Error(r.logger).Log("err", err, "msg", "Could not insert record "+fp+" in certificate database")
		return nil, false, errs.Storage("depot.Put", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return nil, false, errs.Storage("depot.Put", err)
	}
	if count == 0 {
		existing, err := r.Get(ctx, rec.Fingerprint)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	level.Info(r.logger).Log("msg", "Record "+fp+" inserted in certificate database")
	return rec.Clone(), true, nil
}

func (r *relationalDB) Get(ctx context.Context, fp fingerprint.Fingerprint) (*depot.Record, error) {
	sqlStatement := `
	SELECT fingerprint, format, canonical, metadata, submitted_at
	FROM certificate_records
	WHERE fingerprint = $1;
	`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, sqlStatement, fp.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, depot.NotFound("depot.Get", fp)
	}
	if err != nil {
		level.Error(r.logger).Log("err", err, "msg", "Could not read record "+fp.String())
		return nil, errs.Storage("depot.Get", err)
	}
	return rec, nil
}

func (r *relationalDB) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM certificate_records;`).Scan(&n); err != nil {
		return 0, errs.Storage("depot.Count", err)
	}
	return n, nil
}

func (r *relationalDB) ListByIssuer(ctx context.Context, issuer string) ([]*depot.Record, error) {
	sqlStatement := `
	SELECT fingerprint, format, canonical, metadata, submitted_at
	FROM certificate_records
	WHERE issuer = $1
	ORDER BY submitted_at ASC, fingerprint ASC;
	`
	rows, err := r.db.QueryContext(ctx, sqlStatement, depot.NormalizeIssuer(issuer))
	if err != nil {
		return nil, errs.Storage("depot.ListByIssuer", err)
	}
	defer rows.Close()

	var out []*depot.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errs.Storage("depot.ListByIssuer", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("depot.ListByIssuer", err)
	}
	return out, nil
}

func (r *relationalDB) Health(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return errs.Storage("depot.Health", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*depot.Record, error) {
	var (
		fp, format, md string
		canonical      []byte
		submittedAt    int64
	)
	if err := row.Scan(&fp, &format, &canonical, &md, &submittedAt); err != nil {
		return nil, err
	}
	parsed, err := fingerprint.Parse(fp)
	if err != nil {
		return nil, err
	}
	var metadata canon.Metadata
	if err := json.Unmarshal([]byte(md), &metadata); err != nil {
		return nil, err
	}
	return &depot.Record{
		Fingerprint: parsed,
		Format:      canon.Format(format),
		Canonical:   canonical,
		Metadata:    metadata,
		SubmittedAt: time.Unix(0, submittedAt).UTC(),
	}, nil
}
