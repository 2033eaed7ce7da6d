package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/lamassuiot/certify/pkg/errs"
	"github.com/lamassuiot/certify/pkg/fingerprint"
)

const (
	mintInfo = "certify verification id v1"
	idBytes  = 20
)

// Minter derives the public verification ID for the entry at seq.
type Minter interface {
	Mint(seq uint64, fp fingerprint.Fingerprint) string
}

// HMACMinter mints IDs as a keyed MAC over the sequence number and the
// fingerprint. Without the key an ID reveals nothing about the content, and
// two ledgers holding the same content under different keys mint unrelated
// IDs.
type HMACMinter struct {
	key []byte
}

// NewHMACMinter derives the MAC key from secret with HKDF-SHA256.
func NewHMACMinter(secret []byte) (*HMACMinter, error) {
	if len(secret) < 16 {
		return nil, errs.E(errs.KindInvalid, "ledger.NewHMACMinter", "issuance secret must be at least 16 bytes")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(mintInfo)), key); err != nil {
		return nil, errs.Wrap(errs.KindInvalid, "ledger.NewHMACMinter", "key derivation failed", err)
	}
	return &HMACMinter{key: key}, nil
}

func (m *HMACMinter) Mint(seq uint64, fp fingerprint.Fingerprint) string {
	mac := hmac.New(sha256.New, m.key)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], seq)
	mac.Write(n[:])
	mac.Write(fp)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)[:idBytes])
}

// ValidID reports whether id has the shape of a minted ID. It lets callers
// reject garbage before touching storage.
func ValidID(id string) bool {
	if len(id) != base64.RawURLEncoding.EncodedLen(idBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(id)
	return err == nil
}

// NewEntryID returns a random identifier for a log entry.
func NewEntryID() string {
	return uuid.New().String()
}
