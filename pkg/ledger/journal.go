package ledger

import (
	"context"
	"sync"

	"github.com/lamassuiot/certify/pkg/errs"
	"github.com/lamassuiot/certify/pkg/fingerprint"
)

// Sink persists an entry before it becomes visible. A Sink that returns an
// error must leave nothing behind that a later replay would pick up.
type Sink interface {
	Append(e *Entry) error
}

// Journal is a Ledger over a State guarded by a single append lock.
type Journal struct {
	mu     sync.RWMutex
	state  *State
	minter Minter
	sink   Sink
}

// NewJournal serves state, persisting new entries through sink. A nil sink
// keeps the log in memory only.
func NewJournal(state *State, minter Minter, sink Sink) *Journal {
	return &Journal{state: state, minter: minter, sink: sink}
}

func (j *Journal) IssueOrGet(ctx context.Context, fp fingerprint.Fingerprint) (*Binding, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if _, err := fingerprint.FromBytes(fp); err != nil {
		return nil, false, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if b, ok := j.state.ByFingerprint(fp); ok {
		return b, false, nil
	}
	e := j.state.NextIssue(j.minter, fp)
	if err := j.append(e); err != nil {
		return nil, false, err
	}
	b, _ := j.state.ByFingerprint(fp)
	return b, true, nil
}

func (j *Journal) Lookup(ctx context.Context, fp fingerprint.Fingerprint) (*Binding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	b, ok := j.state.ByFingerprint(fp)
	if !ok {
		return nil, errs.Ef(errs.KindNotFound, "ledger.Lookup", "no verification id for %s", fp)
	}
	return b, nil
}

func (j *Journal) Resolve(ctx context.Context, id string) (*Binding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	b, ok := j.state.ByID(id)
	if !ok {
		return nil, NotFound("ledger.Resolve", id)
	}
	return b, nil
}

func (j *Journal) Revoke(ctx context.Context, id string, reason string) (*Binding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	b, ok := j.state.ByID(id)
	if !ok {
		return nil, NotFound("ledger.Revoke", id)
	}
	if b.Status == StatusRevoked {
		return nil, AlreadyRevoked("ledger.Revoke", id)
	}
	if err := j.append(j.state.NextRevoke(b, reason)); err != nil {
		return nil, err
	}
	b, _ = j.state.ByID(id)
	return b, nil
}

func (j *Journal) Entries(ctx context.Context, from uint64, limit int) ([]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state.Entries(from, limit), nil
}

func (j *Journal) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state.Stats(), nil
}

func (j *Journal) VerifyChain(ctx context.Context) (Head, error) {
	if err := ctx.Err(); err != nil {
		return Head{}, err
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state.Verify()
}

func (j *Journal) Health(ctx context.Context) error {
	return ctx.Err()
}

// append must be called with mu held.
func (j *Journal) append(e *Entry) error {
	if err := j.state.Check(e); err != nil {
		return err
	}
	if j.sink != nil {
		if err := j.sink.Append(e); err != nil {
			return err
		}
	}
	j.state.fold(e)
	return nil
}
