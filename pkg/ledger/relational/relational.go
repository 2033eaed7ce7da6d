package relational

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/lamassuiot/certify/pkg/errs"
	"github.com/lamassuiot/certify/pkg/fingerprint"
	"github.com/lamassuiot/certify/pkg/ledger"
)

// The partial unique indexes enforce one issue per fingerprint, one issue
// per verification id and one revoke per verification id, even across
// processes sharing the database.
var schema = []string{`
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq             BIGINT PRIMARY KEY,
		entry_id        TEXT NOT NULL UNIQUE,
		kind            TEXT NOT NULL,
		verification_id TEXT NOT NULL,
		fingerprint     TEXT NOT NULL,
		recorded_at     BIGINT NOT NULL,
		reason          TEXT NOT NULL DEFAULT '',
		prev_hash       BYTEA NOT NULL,
		hash            BYTEA NOT NULL
	);`, `
	CREATE UNIQUE INDEX IF NOT EXISTS ledger_issue_fingerprint ON ledger_entries (fingerprint) WHERE kind = 'issue';`, `
	CREATE UNIQUE INDEX IF NOT EXISTS ledger_issue_id ON ledger_entries (verification_id) WHERE kind = 'issue';`, `
	CREATE UNIQUE INDEX IF NOT EXISTS ledger_revoke_id ON ledger_entries (verification_id) WHERE kind = 'revoke';`,
}

const (
	entryColumns = `seq, entry_id, kind, verification_id, fingerprint, recorded_at, reason, prev_hash, hash`
	// appendAttempts bounds retries when another process appended first.
	appendAttempts = 5
)

type relationalDB struct {
	// mu serializes appends from this process; the primary key on seq
	// serializes them across processes.
	mu     sync.Mutex
	db     *sql.DB
	minter ledger.Minter
	logger log.Logger
}

func NewDB(ctx context.Context, db *sql.DB, minter ledger.Minter, logger log.Logger) (ledger.Ledger, error) {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			level.Error(logger).Log("err", err, "msg", "Could not create ledger_entries table")
			return nil, errs.Storage("ledger.relational", err)
		}
	}
	return &relationalDB{db: db, minter: minter, logger: logger}, nil
}

func (r *relationalDB) IssueOrGet(ctx context.Context, fp fingerprint.Fingerprint) (*ledger.Binding, bool, error) {
	if _, err := fingerprint.FromBytes(fp); err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		b, created, err := r.issueOrGet(ctx, fp)
		if err == nil || !errs.Retryable(err) || ctx.Err() != nil {
			return b, created, err
		}
		lastErr = err
		level.Info(r.logger).Log("err", err, "msg", "Retrying issuance for "+fp.String())
	}
	return nil, false, lastErr
}

func (r *relationalDB) issueOrGet(ctx context.Context, fp fingerprint.Fingerprint) (*ledger.Binding, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, errs.Storage("ledger.IssueOrGet", err)
	}
	defer tx.Rollback()

	b, err := bindingByFingerprint(ctx, tx, fp)
	if err == nil {
		return b, false, nil
	}
	if !errs.IsKind(err, errs.KindNotFound) {
		return nil, false, err
	}

	head, err := lastEntry(ctx, tx)
	if err != nil {
		return nil, false, err
	}
	seq := head.Size + 1
	e := &ledger.Entry{
		Seq:            seq,
		EntryID:        ledger.NewEntryID(),
		Kind:           ledger.KindIssue,
		VerificationID: r.minter.Mint(seq, fp),
		Fingerprint:    fp,
		At:             ledger.Now(),
		PrevHash:       head.Hash,
	}
	e.Hash = e.ComputeHash()
	if err := insertEntry(ctx, tx, e); err != nil {
		level.Error(r.logger).Log("err", err, "msg", "Could not append issue entry for "+fp.String())
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, errs.Storage("ledger.IssueOrGet", err)
	}
	level.Info(r.logger).Log("msg", "Verification id issued for "+fp.String()+" at seq "+strconv.FormatUint(seq, 10))
	return &ledger.Binding{
		VerificationID: e.VerificationID,
		Fingerprint:    fp,
		IssuedAt:       e.At,
		Status:         ledger.StatusActive,
	}, true, nil
}

func (r *relationalDB) Lookup(ctx context.Context, fp fingerprint.Fingerprint) (*ledger.Binding, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Storage("ledger.Lookup", err)
	}
	defer tx.Rollback()
	return bindingByFingerprint(ctx, tx, fp)
}

func (r *relationalDB) Resolve(ctx context.Context, id string) (*ledger.Binding, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Storage("ledger.Resolve", err)
	}
	defer tx.Rollback()
	return bindingByID(ctx, tx, id, "ledger.Resolve")
}

func (r *relationalDB) Revoke(ctx context.Context, id string, reason string) (*ledger.Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		b, err := r.revoke(ctx, id, reason)
		if err == nil || !errs.Retryable(err) || ctx.Err() != nil {
			return b, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (r *relationalDB) revoke(ctx context.Context, id string, reason string) (*ledger.Binding, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Storage("ledger.Revoke", err)
	}
	defer tx.Rollback()

	b, err := bindingByID(ctx, tx, id, "ledger.Revoke")
	if err != nil {
		return nil, err
	}
	if b.Status == ledger.StatusRevoked {
		return nil, ledger.AlreadyRevoked("ledger.Revoke", id)
	}
	head, err := lastEntry(ctx, tx)
	if err != nil {
		return nil, err
	}
	e := &ledger.Entry{
		Seq:            head.Size + 1,
		EntryID:        ledger.NewEntryID(),
		Kind:           ledger.KindRevoke,
		VerificationID: id,
		Fingerprint:    b.Fingerprint,
		At:             ledger.Now(),
		Reason:         reason,
		PrevHash:       head.Hash,
	}
	e.Hash = e.ComputeHash()
	if err := insertEntry(ctx, tx, e); err != nil {
		level.Error(r.logger).Log("err", err, "msg", "Could not append revoke entry for "+id)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.Storage("ledger.Revoke", err)
	}
	level.Info(r.logger).Log("msg", "Verification id "+id+" revoked")
	b.Status = ledger.StatusRevoked
	b.RevokedAt = e.At
	b.Reason = reason
	return b, nil
}

func (r *relationalDB) Entries(ctx context.Context, from uint64, limit int) ([]*ledger.Entry, error) {
	sqlStatement := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE seq >= $1 ORDER BY seq ASC`
	args := []interface{}{int64(from)}
	if limit > 0 {
		sqlStatement += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, sqlStatement, args...)
	if err != nil {
		return nil, errs.Storage("ledger.Entries", err)
	}
	defer rows.Close()
	var out []*ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("ledger.Entries", err)
	}
	return out, nil
}

func (r *relationalDB) Stats(ctx context.Context) (ledger.Stats, error) {
	sqlStatement := `
	SELECT
		COALESCE(SUM(CASE WHEN kind = 'issue' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN kind = 'revoke' THEN 1 ELSE 0 END), 0)
	FROM ledger_entries;
	`
	var st ledger.Stats
	if err := r.db.QueryRowContext(ctx, sqlStatement).Scan(&st.Issued, &st.Revoked); err != nil {
		return ledger.Stats{}, errs.Storage("ledger.Stats", err)
	}
	return st, nil
}

// VerifyChain streams the whole table through a fresh fold.
func (r *relationalDB) VerifyChain(ctx context.Context) (ledger.Head, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries ORDER BY seq ASC`)
	if err != nil {
		return ledger.Head{}, errs.Storage("ledger.VerifyChain", err)
	}
	defer rows.Close()
	state := ledger.NewState()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return ledger.Head{}, err
		}
		if err := state.Apply(e); err != nil {
			level.Error(r.logger).Log("err", err, "msg", "Ledger chain broken")
			return ledger.Head{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return ledger.Head{}, errs.Storage("ledger.VerifyChain", err)
	}
	return state.Head(), nil
}

func (r *relationalDB) Health(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return errs.Storage("ledger.Health", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func lastEntry(ctx context.Context, q querier) (ledger.Head, error) {
	var (
		seq  int64
		hash []byte
	)
	err := q.QueryRowContext(ctx, `SELECT seq, hash FROM ledger_entries ORDER BY seq DESC LIMIT 1`).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Head{Hash: append([]byte(nil), ledger.Genesis...)}, nil
	}
	if err != nil {
		return ledger.Head{}, errs.Storage("ledger.head", err)
	}
	return ledger.Head{Size: uint64(seq), Hash: hash}, nil
}

func insertEntry(ctx context.Context, q querier, e *ledger.Entry) error {
	sqlStatement := `
	INSERT INTO ledger_entries (` + entryColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	_, err := q.ExecContext(ctx, sqlStatement,
		int64(e.Seq), e.EntryID, string(e.Kind), e.VerificationID, e.Fingerprint.String(),
		e.At.UnixNano(), e.Reason, e.PrevHash, e.Hash)
	if err != nil {
		return errs.Storage("ledger.append", err)
	}
	return nil
}

func bindingByFingerprint(ctx context.Context, q querier, fp fingerprint.Fingerprint) (*ledger.Binding, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT verification_id FROM ledger_entries WHERE kind = 'issue' AND fingerprint = $1`, fp.String()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Ef(errs.KindNotFound, "ledger.IssueOrGet", "no binding for %s", fp)
	}
	if err != nil {
		return nil, errs.Storage("ledger.IssueOrGet", err)
	}
	return bindingByID(ctx, q, id, "ledger.IssueOrGet")
}

func bindingByID(ctx context.Context, q querier, id string, op string) (*ledger.Binding, error) {
	var (
		fp       string
		issuedAt int64
	)
	err := q.QueryRowContext(ctx, `SELECT fingerprint, recorded_at FROM ledger_entries WHERE kind = 'issue' AND verification_id = $1`, id).Scan(&fp, &issuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NotFound(op, id)
	}
	if err != nil {
		return nil, errs.Storage(op, err)
	}
	parsed, err := fingerprint.Parse(fp)
	if err != nil {
		return nil, errs.Wrap(errs.KindInconsistent, op, "stored fingerprint is invalid", err)
	}
	b := &ledger.Binding{
		VerificationID: id,
		Fingerprint:    parsed,
		IssuedAt:       time.Unix(0, issuedAt).UTC(),
		Status:         ledger.StatusActive,
	}

	var (
		revokedAt int64
		reason    string
	)
	err = q.QueryRowContext(ctx, `SELECT recorded_at, reason FROM ledger_entries WHERE kind = 'revoke' AND verification_id = $1`, id).Scan(&revokedAt, &reason)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, errs.Storage(op, err)
	default:
		b.Status = ledger.StatusRevoked
		b.RevokedAt = time.Unix(0, revokedAt).UTC()
		b.Reason = reason
	}
	return b, nil
}

func scanEntry(row scanner) (*ledger.Entry, error) {
	var (
		seq, at                       int64
		entryID, kind, id, fp, reason string
		prev, hash                    []byte
	)
	if err := row.Scan(&seq, &entryID, &kind, &id, &fp, &at, &reason, &prev, &hash); err != nil {
		return nil, errs.Storage("ledger.scan", err)
	}
	parsed, err := fingerprint.Parse(fp)
	if err != nil {
		return nil, errs.Wrap(errs.KindInconsistent, "ledger.scan", "stored fingerprint is invalid", err)
	}
	return &ledger.Entry{
		Seq:            uint64(seq),
		EntryID:        entryID,
		Kind:           ledger.Kind(kind),
		VerificationID: id,
		Fingerprint:    parsed,
		At:             time.Unix(0, at).UTC(),
		Reason:         reason,
		PrevHash:       prev,
		Hash:           hash,
	}, nil
}
