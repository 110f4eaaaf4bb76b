package domain

import "errors"

var (
	// ErrInvalidInput indicates caller input validation errors.
	ErrInvalidInput = errors.New("relay: invalid input")
	// ErrNotFound signals that no cache record exists for the key.
	ErrNotFound = errors.New("relay: not found")
	// ErrDataCorrupted signals a record that is neither decryptable nor
	// parseable as a legacy plaintext bundle. Implies key rotation without
	// migration or external tampering; flagged for investigation.
	ErrDataCorrupted = errors.New("relay: data corrupted")
	// ErrUserNotAuthenticated distinguishes "this user never completed an
	// OAuth attempt" from a generic cache miss so callers can prompt
	// re-authentication instead of retrying.
	ErrUserNotAuthenticated = errors.New("relay: user not authenticated")
	// ErrExternalService indicates the identity provider or cache is
	// unreachable. Eligible for bounded retry.
	ErrExternalService = errors.New("relay: external service error")
	// ErrMissingCredentials signals an embedded launch without both an
	// access and refresh token.
	ErrMissingCredentials = errors.New("relay: missing credentials")
	// ErrMissingCode signals an OAuth callback without an authorization code.
	ErrMissingCode = errors.New("relay: missing authorization code")
	// ErrDecryptionFailed signals a record that failed authenticated
	// decryption. Recovered locally via the legacy fallback where possible.
	ErrDecryptionFailed = errors.New("relay: decryption failed")
)
