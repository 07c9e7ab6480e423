package wadata

import (
	"context"
	"strings"
	"time"
)

// Profile holds the WhatsApp profile fields returned by the lookup API
// for a number that is known to the service.
type Profile struct {
	Number        string `json:"number"`
	Name          string `json:"name,omitempty"`
	PushName      string `json:"pushname,omitempty"`
	About         string `json:"about,omitempty"`
	CountryCode   string `json:"countryCode,omitempty"`
	ProfilePic    string `json:"profilePic,omitempty"`
	IsWAContact   bool   `json:"isWAContact"`
	IsBusiness    bool   `json:"isBusiness"`
	IsEnterprise  bool   `json:"isEnterprise"`
	VerifiedLevel int    `json:"verifiedLevel,omitempty"`
	VerifiedName  string `json:"verifiedName,omitempty"`
}

// RateLimitInfo is the quota snapshot reported alongside each lookup.
type RateLimitInfo struct {
	Remaining int   `json:"remaining"`
	Limit     int   `json:"limit"`
	Reset     int64 `json:"reset"` // epoch seconds
	Used      int   `json:"used"`

	MonthlyRemaining int   `json:"monthlyRemaining,omitempty"`
	MonthlyLimit     int   `json:"monthlyLimit,omitempty"`
	MonthlyReset     int64 `json:"monthlyReset,omitempty"`
	MonthlyUsed      int   `json:"monthlyUsed,omitempty"`
}

// Result is one lookup attempt for a single canonical number. A retry
// produces a new Result that supersedes the previous one.
type Result struct {
	Number    string         `json:"number"`
	Profile   *Profile       `json:"profile,omitempty"`
	Err       string         `json:"error,omitempty"`
	RateLimit *RateLimitInfo `json:"rateLimitInfo,omitempty"`
	CheckedAt time.Time      `json:"checkedAt,omitempty"`
}

// Outcome is the terminal classification of a Result.
type Outcome string

const (
	OutcomePending    Outcome = "pending"
	OutcomeActive     Outcome = "active"
	OutcomeNotPresent Outcome = "not_present"
	OutcomeAPIError   Outcome = "api_error"
)

// Terminal reports whether o will not change with further retries.
func (o Outcome) Terminal() bool {
	return o == OutcomeActive || o == OutcomeNotPresent || o == OutcomeAPIError
}

// notFoundMarkers are error-text fragments the API uses for numbers it
// does not know. Matching them is best-effort; a structured profile
// always wins over text matching.
var notFoundMarkers = []string{
	"not found",
	"no whatsapp",
	"not registered",
	"not a whatsapp user",
	"does not exist",
}

// Classify maps a Result to exactly one Outcome. It is a pure function:
// the same Result always classifies the same way.
func Classify(r Result) Outcome {
	if r.Profile != nil {
		if r.Profile.IsWAContact {
			return OutcomeActive
		}
		return OutcomeNotPresent
	}
	if r.Err != "" {
		lower := strings.ToLower(r.Err)
		for _, marker := range notFoundMarkers {
			if strings.Contains(lower, marker) {
				return OutcomeNotPresent
			}
		}
		return OutcomeAPIError
	}
	return OutcomePending
}

// Client is the single-number lookup contract the engine drives.
// Implementations return a Result even on API-level failures; an error
// return is reserved for context cancellation.
type Client interface {
	Lookup(ctx context.Context, number string) (Result, error)
}
