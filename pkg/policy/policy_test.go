package policy

import (
	"testing"

	"github.com/lamassuiot/certify/pkg/canon"
	"github.com/lamassuiot/certify/pkg/depot"
)

func TestCanRevoke(t *testing.T) {
	issued := &depot.Record{Metadata: canon.Metadata{{Key: "issuer", Value: "Example University"}}}
	anonymous := &depot.Record{}

	tests := []struct {
		name      string
		a         *Authorizer
		authority string
		rec       *depot.Record
		want      bool
	}{
		{"custodian", NewAuthorizer([]string{"registry-admin"}, false), "registry-admin", issued, true},
		{"custodian case and space", NewAuthorizer([]string{" Registry-Admin "}, false), "registry-admin", issued, true},
		{"custodian without record", NewAuthorizer([]string{"registry-admin"}, true), "registry-admin", nil, true},
		{"issuer of record", NewAuthorizer(nil, true), "example university", issued, true},
		{"issuer when disabled", NewAuthorizer(nil, false), "Example University", issued, false},
		{"other organization", NewAuthorizer(nil, true), "Another College", issued, false},
		{"record without issuer", NewAuthorizer(nil, true), "Example University", anonymous, false},
		{"empty authority", NewAuthorizer([]string{""}, true), "  ", anonymous, false},
		{"issuer without record", NewAuthorizer(nil, true), "Example University", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.CanRevoke(tt.authority, tt.rec); got != tt.want {
				t.Errorf("CanRevoke(%q) = %v; want %v", tt.authority, got, tt.want)
			}
		})
	}
}
