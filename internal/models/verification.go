package models

import "time"

// VerificationChallenge is created by a phone-auth send and consumed by the
// first verify attempt that succeeds or fails terminally. Never persisted.
type VerificationChallenge struct {
	PhoneNumber      string    `json:"phoneNumber"`
	RequestID        string    `json:"requestId"`
	ExpiresInSeconds int       `json:"expiresInSeconds"`
	IssuedAt         time.Time `json:"issuedAt"`
}

// ExpiresAt is informational; expiry is enforced by the backend only.
func (c VerificationChallenge) ExpiresAt() time.Time {
	return c.IssuedAt.Add(time.Duration(c.ExpiresInSeconds) * time.Second)
}

type VerificationResult struct {
	Verified          bool   `json:"verified"`
	VerificationToken string `json:"verificationToken,omitempty"`
}
