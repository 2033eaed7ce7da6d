package file

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lamassuiot/certify/pkg/canon"
	"github.com/lamassuiot/certify/pkg/depot"
	"github.com/lamassuiot/certify/pkg/errs"
	"github.com/lamassuiot/certify/pkg/fingerprint"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

const recordExt = ".json"

type file struct {
	root   string
	logger log.Logger
}

// fileRecord is the on-disk form of a depot.Record.
type fileRecord struct {
	Fingerprint string         `json:"fingerprint"`
	Format      canon.Format   `json:"format"`
	Canonical   []byte         `json:"canonical"`
	Metadata    canon.Metadata `json:"metadata"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// NewFile stores one immutable JSON file per fingerprint under root. A
// record is written to a temporary file, synced, and then hard-linked to
// its final name; the link fails when another writer got there first.
func NewFile(root string, logger log.Logger) (depot.Depot, error) {
	if root == "" {
		return nil, errs.E(errs.KindInvalid, "depot.file", "root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not create depot directory "+root)
		return nil, errs.Storage("depot.file", err)
	}
	return &file{root: root, logger: logger}, nil
}

func (f *file) Put(ctx context.Context, rec *depot.Record) (*depot.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := rec.Validate(); err != nil {
		return nil, false, err
	}
	path := f.pathFor(rec.Fingerprint)
	if existing, err := f.read(path, rec.Fingerprint); err == nil {
		return existing, false, nil
	} else if !errs.IsKind(err, errs.KindNotFound) {
		return nil, false, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		level.Error(f.logger).Log("err", err, "msg", "Could not create fan-out directory "+dir)
		return nil, false, errs.Storage("depot.Put", err)
	}
	data, err := json.Marshal(fileRecord{
		Fingerprint: rec.Fingerprint.String(),
		Format:      rec.Format,
		Canonical:   rec.Canonical,
		Metadata:    rec.Metadata,
		SubmittedAt: rec.SubmittedAt.UTC(),
	})
	if err != nil {
		return nil, false, errs.Storage("depot.Put", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		level.Error(f.logger).Log("err", err, "msg", "Could not create temporary record file")
		return nil, false, errs.Storage("depot.Put", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, false, errs.Storage("depot.Put", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, false, errs.Storage("depot.Put", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, false, errs.Storage("depot.Put", err)
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if os.IsExist(err) {
			level.Info(f.logger).Log("msg", "Record "+rec.Fingerprint.String()+" written concurrently, returning stored copy")
			existing, rerr := f.read(path, rec.Fingerprint)
			if rerr != nil {
				return nil, false, rerr
			}
			return existing, false, nil
		}
		level.Error(f.logger).Log("err", err, "msg", "Could not link record "+rec.Fingerprint.String())
		return nil, false, errs.Storage("depot.Put", err)
	}
	syncDir(dir)
	level.Info(f.logger).Log("msg", "Record "+rec.Fingerprint.String()+" stored")
	return rec.Clone(), true, nil
}

func (f *file) Get(ctx context.Context, fp fingerprint.Fingerprint) (*depot.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.read(f.pathFor(fp), fp)
}

func (f *file) Count(ctx context.Context) (int, error) {
	n := 0
	err := f.walk(ctx, func(string) error {
		n++
		return nil
	})
	return n, err
}

func (f *file) ListByIssuer(ctx context.Context, issuer string) ([]*depot.Record, error) {
	var out []*depot.Record
	issuer = depot.NormalizeIssuer(issuer)
	err := f.walk(ctx, func(path string) error {
		fp, err := fingerprint.Parse(strings.TrimSuffix(filepath.Base(path), recordExt))
		if err != nil {
			return nil
		}
		rec, err := f.read(path, fp)
		if err != nil {
			return err
		}
		if depot.NormalizeIssuer(rec.Issuer()) == issuer {
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	depot.SortBySubmission(out)
	return out, nil
}

func (f *file) Health(ctx context.Context) error {
	if _, err := os.Stat(f.root); err != nil {
		return errs.Storage("depot.Health", err)
	}
	return ctx.Err()
}

func (f *file) read(path string, fp fingerprint.Fingerprint) (*depot.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, depot.NotFound("depot.Get", fp)
		}
		level.Error(f.logger).Log("err", err, "msg", "Could not read record "+fp.String())
		return nil, errs.Storage("depot.Get", err)
	}
	var fr fileRecord
	if err := json.Unmarshal(data, &fr); err != nil {
		level.Error(f.logger).Log("err", err, "msg", "Could not decode record "+fp.String())
		return nil, errs.Wrap(errs.KindInconsistent, "depot.Get", "corrupt record file", err)
	}
	stored, err := fingerprint.Parse(fr.Fingerprint)
	if err != nil || !stored.Equal(fp) {
		return nil, errs.Ef(errs.KindInconsistent, "depot.Get", "record file %s holds fingerprint %s", filepath.Base(path), fr.Fingerprint)
	}
	return &depot.Record{
		Fingerprint: stored,
		Format:      fr.Format,
		Canonical:   fr.Canonical,
		Metadata:    fr.Metadata,
		SubmittedAt: fr.SubmittedAt,
	}, nil
}

func (f *file) walk(ctx context.Context, fn func(path string) error) error {
	err := filepath.WalkDir(f.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), recordExt) {
			return nil
		}
		return fn(path)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return errs.Storage("depot.walk", err)
	}
	return err
}

// pathFor fans records out on the last two characters of the fingerprint;
// CIDv1 strings share their leading characters.
func (f *file) pathFor(fp fingerprint.Fingerprint) string {
	s := fp.String()
	if len(s) < 2 {
		return filepath.Join(f.root, s+recordExt)
	}
	return filepath.Join(f.root, s[len(s)-2:], s+recordExt)
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
