package domain

import "errors"

var (
	ErrMalformedReceipt     = errors.New("malformed receipt")
	ErrMalformedPolicy      = errors.New("malformed policy")
	ErrUnsupportedClaimType = errors.New("unsupported claim type")
	ErrSignatureInvalid     = errors.New("signature invalid")
	ErrKeyUnknown           = errors.New("key unknown")
	ErrKeyExpired           = errors.New("key expired")
	ErrKeyRevoked           = errors.New("key revoked")
	ErrEmptyKeySet          = errors.New("empty trusted key set")
	ErrNotFound             = errors.New("not found")
	ErrProofRequired        = errors.New("transparency proof required")
	ErrLogProofInvalid      = errors.New("log proof invalid")
	ErrSTHInvalid           = errors.New("sth invalid")
	ErrUnavailable          = errors.New("unavailable")
)
