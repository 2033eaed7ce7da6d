// Package memory keeps the issuance log in process memory. It is lost on
// restart and serves tests and throwaway deployments.
package memory

import (
	"github.com/lamassuiot/certify/pkg/ledger"
)

func NewMemory(minter ledger.Minter) ledger.Ledger {
	return ledger.NewJournal(ledger.NewState(), minter, nil)
}
