package domain

import "strings"

// TokenBundle is the credential unit cached per correlation state: the
// provider-issued access/refresh pair plus its expiry in epoch seconds.
type TokenBundle struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// Validate checks that every field is present and well-typed. A bundle must
// be complete before it is written for the first time; partial bundles only
// exist as the result of ClearAccessToken.
func (b TokenBundle) Validate() error {
	if strings.TrimSpace(b.AccessToken) == "" {
		return ErrInvalidInput
	}
	if strings.TrimSpace(b.RefreshToken) == "" {
		return ErrInvalidInput
	}
	if b.ExpiresAt <= 0 {
		return ErrInvalidInput
	}
	return nil
}
