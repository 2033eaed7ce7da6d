// Package file keeps the issuance log as a JSON-lines file. Every entry is
// synced before it becomes visible, and the whole chain is verified when
// the file is opened. The file must be owned by a single process.
package file

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/lamassuiot/certify/pkg/errs"
	"github.com/lamassuiot/certify/pkg/fingerprint"
	"github.com/lamassuiot/certify/pkg/ledger"
)

type fileEntry struct {
	Seq            uint64      `json:"seq"`
	EntryID        string      `json:"entry_id"`
	Kind           ledger.Kind `json:"kind"`
	VerificationID string      `json:"verification_id"`
	Fingerprint    string      `json:"fingerprint"`
	At             time.Time   `json:"at"`
	Reason         string      `json:"reason,omitempty"`
	PrevHash       string      `json:"prev_hash"`
	Hash           string      `json:"hash"`
}

type File struct {
	*ledger.Journal
	path   string
	f      *os.File
	size   int64
	logger log.Logger
}

// NewFile opens or creates the log at path and replays it. A final line
// cut short by a crash is truncated away; any other damage to the log is
// reported as Inconsistent and the ledger is not opened.
func NewFile(path string, minter ledger.Minter, logger log.Logger) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not create ledger directory")
		return nil, errs.Storage("ledger.file", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not open ledger file "+path)
		return nil, errs.Storage("ledger.file", err)
	}
	l := &File{path: path, f: f, logger: logger}
	state, err := l.replay()
	if err != nil {
		f.Close()
		return nil, err
	}
	l.Journal = ledger.NewJournal(state, minter, l)
	level.Info(logger).Log("msg", "Ledger "+path+" opened with "+strconv.FormatUint(state.Head().Size, 10)+" entries")
	return l, nil
}

func (l *File) replay() (*ledger.State, error) {
	const op = "ledger.file"
	state := ledger.NewState()
	r := bufio.NewReader(l.f)
	var offset int64
	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF {
			if len(line) > 0 {
				return state, l.truncateTail(offset, len(line))
			}
			break
		}
		if err != nil {
			return nil, errs.Storage(op, err)
		}
		// Append writes an entry and its newline in one call, so only an
		// unterminated final line can be a torn write.
		e, derr := decodeEntry(line)
		if derr != nil {
			level.Error(l.logger).Log("err", derr, "msg", "Corrupt ledger entry at offset "+strconv.FormatInt(offset, 10))
			return nil, errs.Wrap(errs.KindInconsistent, op, "corrupt ledger entry", derr)
		}
		if err := state.Apply(e); err != nil {
			level.Error(l.logger).Log("err", err, "msg", "Ledger chain broken")
			return nil, err
		}
		offset += int64(len(line))
	}
	l.size = offset
	return state, nil
}

func (l *File) truncateTail(offset int64, n int) error {
	level.Info(l.logger).Log("msg", "Dropping "+strconv.Itoa(n)+" bytes of incomplete ledger entry at offset "+strconv.FormatInt(offset, 10))
	if err := l.f.Truncate(offset); err != nil {
		return errs.Storage("ledger.file", err)
	}
	if err := l.f.Sync(); err != nil {
		return errs.Storage("ledger.file", err)
	}
	l.size = offset
	return nil
}

// Append writes e at the end of the log and syncs it. On failure the file
// is cut back to its previous length.
func (l *File) Append(e *ledger.Entry) error {
	data, err := json.Marshal(encodeEntry(e))
	if err != nil {
		return errs.Storage("ledger.Append", err)
	}
	data = append(data, '\n')
	if _, err := l.f.WriteAt(data, l.size); err != nil {
		level.Error(l.logger).Log("err", err, "msg", "Could not append ledger entry "+strconv.FormatUint(e.Seq, 10))
		l.rollback()
		return errs.Storage("ledger.Append", err)
	}
	if err := l.f.Sync(); err != nil {
		level.Error(l.logger).Log("err", err, "msg", "Could not sync ledger entry "+strconv.FormatUint(e.Seq, 10))
		l.rollback()
		return errs.Storage("ledger.Append", err)
	}
	l.size += int64(len(data))
	level.Info(l.logger).Log("msg", "Ledger entry "+strconv.FormatUint(e.Seq, 10)+" ("+string(e.Kind)+") appended")
	return nil
}

func (l *File) rollback() {
	if err := l.f.Truncate(l.size); err != nil {
		level.Error(l.logger).Log("err", err, "msg", "Could not roll back ledger file")
		return
	}
	l.f.Sync()
}

func (l *File) Health(ctx context.Context) error {
	if _, err := l.f.Stat(); err != nil {
		return errs.Storage("ledger.Health", err)
	}
	return ctx.Err()
}

func (l *File) Close() error {
	return l.f.Close()
}

func encodeEntry(e *ledger.Entry) fileEntry {
	return fileEntry{
		Seq:            e.Seq,
		EntryID:        e.EntryID,
		Kind:           e.Kind,
		VerificationID: e.VerificationID,
		Fingerprint:    e.Fingerprint.String(),
		At:             e.At,
		Reason:         e.Reason,
		PrevHash:       hex.EncodeToString(e.PrevHash),
		Hash:           hex.EncodeToString(e.Hash),
	}
}

func decodeEntry(line []byte) (*ledger.Entry, error) {
	var fe fileEntry
	if err := json.Unmarshal(line, &fe); err != nil {
		return nil, err
	}
	fp, err := fingerprint.Parse(fe.Fingerprint)
	if err != nil {
		return nil, err
	}
	prev, err := hex.DecodeString(fe.PrevHash)
	if err != nil {
		return nil, err
	}
	hash, err := hex.DecodeString(fe.Hash)
	if err != nil {
		return nil, err
	}
	return &ledger.Entry{
		Seq:            fe.Seq,
		EntryID:        fe.EntryID,
		Kind:           fe.Kind,
		VerificationID: fe.VerificationID,
		Fingerprint:    fp,
		At:             fe.At.UTC(),
		Reason:         fe.Reason,
		PrevHash:       prev,
		Hash:           hash,
	}, nil
}
