package core

import "time"

// Confidence classifies how likely two accounts belong to the same
// merchant. Advisory only: linking always requires explicit token
// confirmation, never silent merging.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// LinkingTokenTTL bounds the initiate-to-confirm window.
const LinkingTokenTTL = time.Hour

// LinkCandidate is a proposed match against a different merchant record.
type LinkCandidate struct {
	ID             string
	Name           string
	Email          string
	AuthMethod     AuthMethod
	Confidence     Confidence
	MatchingFields []string
}

// LinkingRequest is a pending two-step link between two merchant
// records, consumed exactly once on confirmation.
type LinkingRequest struct {
	Token            string
	SourceMerchantID string
	TargetMerchantID string
	// PrimaryRole records which side is displayed as primary post-link.
	PrimaryRole string
	InitiatedAt time.Time
	ExpiresAt   time.Time
	ConfirmedAt *time.Time
}

// Expired reports whether the confirmation window has closed.
func (r *LinkingRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Consumed reports whether the token was already redeemed.
func (r *LinkingRequest) Consumed() bool {
	return r.ConfirmedAt != nil
}
