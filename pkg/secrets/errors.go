package secrets

import "errors"

var ErrShortKey = errors.New("issuance key is shorter than 32 bytes")
