package fingerprint

import (
	"github.com/multiformats/go-multihash"

	"github.com/lamassuiot/certify/pkg/errs"
)

// Engine computes fingerprints with its current algorithm and re-derives
// fingerprints for any algorithm still in its accepted set.
type Engine struct {
	current  uint64
	accepted map[uint64]bool
}

// NewEngine returns an Engine hashing with current. The current algorithm
// is always accepted; accepted adds older algorithms that may still be
// re-derived during verification.
func NewEngine(current string, accepted ...string) (*Engine, error) {
	code, ok := algorithms[current]
	if !ok {
		return nil, errs.Ef(errs.KindInvalid, "fingerprint", "unknown algorithm %q", current)
	}
	e := &Engine{current: code, accepted: map[uint64]bool{code: true}}
	for _, name := range accepted {
		c, ok := algorithms[name]
		if !ok {
			return nil, errs.Ef(errs.KindInvalid, "fingerprint", "unknown algorithm %q", name)
		}
		e.accepted[c] = true
	}
	return e, nil
}

// Default hashes with sha2-256 and accepts nothing else.
func Default() *Engine {
	e, _ := NewEngine(SHA2_256)
	return e
}

func (e *Engine) Current() string {
	name, _ := nameOf(e.current)
	return name
}

func (e *Engine) Sum(canonical []byte) (Fingerprint, error) {
	return e.sum(e.current, canonical)
}

// SumAs hashes canonical with the algorithm ref was computed with. It fails
// with DigestVersionMismatch when that algorithm is no longer accepted.
func (e *Engine) SumAs(ref Fingerprint, canonical []byte) (Fingerprint, error) {
	code := ref.code()
	if !e.accepted[code] {
		name, ok := nameOf(code)
		if !ok {
			name = "unknown"
		}
		return nil, errs.Ef(errs.KindDigestVersionMismatch, "fingerprint",
			"fingerprint was computed with retired algorithm %s (current %s)", name, e.Current())
	}
	return e.sum(code, canonical)
}

func (e *Engine) sum(code uint64, canonical []byte) (Fingerprint, error) {
	mh, err := multihash.Sum(canonical, code, Size)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalid, "fingerprint", "digest failed", err)
	}
	return Fingerprint(mh), nil
}
