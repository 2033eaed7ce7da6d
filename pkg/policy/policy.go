// Package policy decides who may revoke a verification ID.
package policy

import "github.com/lamassuiot/certify/pkg/depot"

// Decider answers a single yes/no question per revocation.
type Decider interface {
	CanRevoke(authority string, rec *depot.Record) bool
}

// Authorizer permits revocation by configured custodians and, when
// IssuerMayRevoke is set, by the organization named as issuer in the
// record's metadata. Authorities compare under depot.NormalizeIssuer, the
// rule the depots list by. A nil record (payload no longer held) can only
// be revoked by a custodian.
type Authorizer struct {
	custodians      map[string]bool
	issuerMayRevoke bool
}

func NewAuthorizer(custodians []string, issuerMayRevoke bool) *Authorizer {
	a := &Authorizer{custodians: map[string]bool{}, issuerMayRevoke: issuerMayRevoke}
	for _, c := range custodians {
		if c = depot.NormalizeIssuer(c); c != "" {
			a.custodians[c] = true
		}
	}
	return a
}

func (a *Authorizer) CanRevoke(authority string, rec *depot.Record) bool {
	authority = depot.NormalizeIssuer(authority)
	if authority == "" {
		return false
	}
	if a.custodians[authority] {
		return true
	}
	if !a.issuerMayRevoke || rec == nil {
		return false
	}
	issuer := depot.NormalizeIssuer(rec.Issuer())
	return issuer != "" && issuer == authority
}
