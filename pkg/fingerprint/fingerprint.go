// Package fingerprint computes the content identity of canonical
// certificate bytes.
//
// A Fingerprint is a multihash: the digest is prefixed with the code of the
// algorithm that produced it, so a fingerprint minted under an algorithm
// that is later retired can still be recognized as such instead of being
// silently compared against a digest from a different algorithm.
package fingerprint

import (
	"bytes"
	"sort"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	_ "github.com/multiformats/go-multihash/register/blake2"
	_ "github.com/multiformats/go-multihash/register/sha3"

	"github.com/lamassuiot/certify/pkg/errs"
)

const (
	SHA2_256    = "sha2-256"
	SHA3_256    = "sha3-256"
	BLAKE2B_256 = "blake2b-256"

	// Size is the digest length of every supported algorithm.
	Size = 32
)

var algorithms = map[string]uint64{
	SHA2_256:    multihash.SHA2_256,
	SHA3_256:    multihash.SHA3_256,
	BLAKE2B_256: multihash.BLAKE2B_MIN + Size - 1,
}

// Algorithms lists the names NewEngine accepts.
func Algorithms() []string {
	out := make([]string, 0, len(algorithms))
	for name := range algorithms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type Fingerprint []byte

// FromBytes validates b as a multihash produced by a supported algorithm.
func FromBytes(b []byte) (Fingerprint, error) {
	dm, err := multihash.Decode(b)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalid, "fingerprint", "malformed fingerprint", err)
	}
	if _, ok := nameOf(dm.Code); !ok || dm.Length != Size {
		return nil, errs.Ef(errs.KindInvalid, "fingerprint", "unsupported fingerprint algorithm 0x%x", dm.Code)
	}
	out := make(Fingerprint, len(b))
	copy(out, b)
	return out, nil
}

// Parse reverses String.
func Parse(s string) (Fingerprint, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalid, "fingerprint", "malformed fingerprint", err)
	}
	return FromBytes(c.Hash())
}

func (f Fingerprint) code() uint64 {
	dm, err := multihash.Decode(f)
	if err != nil {
		return 0
	}
	return dm.Code
}

// Algorithm returns the name of the algorithm f was computed with.
func (f Fingerprint) Algorithm() string {
	name, _ := nameOf(f.code())
	return name
}

func (f Fingerprint) Digest() []byte {
	dm, err := multihash.Decode(f)
	if err != nil {
		return nil
	}
	return dm.Digest
}

func (f Fingerprint) Equal(o Fingerprint) bool {
	return bytes.Equal(f, o)
}

// String renders f as a CIDv1 with the raw codec.
func (f Fingerprint) String() string {
	if len(f) == 0 {
		return ""
	}
	return cid.NewCidV1(cid.Raw, multihash.Multihash(f)).String()
}

func nameOf(code uint64) (string, bool) {
	for name, c := range algorithms {
		if c == code {
			return name, true
		}
	}
	return "", false
}
