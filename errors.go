package signproxy

import "errors"

var (
	ErrNotFound      = errors.New("signproxy: not found")
	ErrMalformedBody = errors.New("signproxy: malformed body")
	ErrSignerFailure = errors.New("signproxy: signer failed")
	ErrConfiguration = errors.New("signproxy: configuration error")
	ErrInvalidHash   = errors.New("signproxy: invalid hash")
	ErrInvalidMethod = errors.New("signproxy: invalid method")
)
