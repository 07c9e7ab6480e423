package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/sw33tLie/wascope/pkg/phone"
	"github.com/sw33tLie/wascope/pkg/wadata"
)

// Status is the lifecycle state of a check session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Terminal reports whether the session can never run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Settings is the run configuration snapshotted into a session at
// creation time. Later settings edits never change a stored session.
type Settings struct {
	APIKey         string        `json:"apiKey"`
	BaseURL        string        `json:"baseURL,omitempty"`
	MaxRetries     int           `json:"maxRetries"`
	RetryDelay     time.Duration `json:"retryDelay"`
	Backoff        string        `json:"backoff"` // fixed, linear or exponential
	Timeout        time.Duration `json:"timeout"`
	Concurrency    int           `json:"concurrency"`
	ThrowOnLimit   bool          `json:"throwOnLimit"`
	StopOnError    bool          `json:"stopOnError"`
	RateLimitFloor int           `json:"rateLimitFloor"`
}

// DefaultSettings mirrors the defaults users get before touching any
// configuration.
func DefaultSettings() Settings {
	return Settings{
		MaxRetries:  3,
		RetryDelay:  time.Second,
		Backoff:     "fixed",
		Timeout:     15 * time.Second,
		Concurrency: 1,
	}
}

// Session is one bulk-check run and its accumulated results.
type Session struct {
	ID       string          `json:"id"`
	FileName string          `json:"fileName,omitempty"`
	Status   Status          `json:"status"`
	Numbers  []phone.Record  `json:"numbers"`
	Results  []wadata.Result `json:"results"`

	TotalNumbers     int `json:"totalNumbers"`
	CompletedNumbers int `json:"completedNumbers"`
	SuccessfulChecks int `json:"successfulChecks"`
	FailedChecks     int `json:"failedChecks"`

	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	PausedAt      *time.Time `json:"pausedAt,omitempty"`
	LastResumedAt *time.Time `json:"lastResumedAt,omitempty"`

	Starred  bool     `json:"starred"`
	Settings Settings `json:"settings"`
}

// New creates a pending session with a fresh id and a snapshot of both
// the input batch and the run settings.
func New(fileName string, numbers []phone.Record, settings Settings) *Session {
	valid := 0
	for _, n := range numbers {
		if n.Valid {
			valid++
		}
	}
	return &Session{
		ID:           uuid.NewString(),
		FileName:     fileName,
		Status:       StatusPending,
		Numbers:      numbers,
		TotalNumbers: valid,
		StartTime:    time.Now().UTC(),
		Settings:     settings,
	}
}

// Pending returns the valid input records that do not yet have a
// terminal result, keyed by canonical number rather than position so it
// stays correct when results arrive out of order.
func (s *Session) Pending() []phone.Record {
	terminal := make(map[string]bool, len(s.Results))
	for _, r := range s.Results {
		if wadata.Classify(r).Terminal() {
			terminal[r.Number] = true
		}
	}

	var out []phone.Record
	for _, n := range s.Numbers {
		if n.Valid && !terminal[n.Canonical] {
			out = append(out, n)
		}
	}
	return out
}

// Record stores a result, replacing any earlier entry for the same
// canonical number so a resumed run never duplicates a number.
func (s *Session) Record(res wadata.Result) {
	for i, existing := range s.Results {
		if existing.Number == res.Number {
			s.Results[i] = res
			return
		}
	}
	s.Results = append(s.Results, res)
}

// Recount recomputes the derived counters from the authoritative
// results list. Counters can never drift from what they summarize.
func (s *Session) Recount() {
	completed, successful, failed := 0, 0, 0
	for _, r := range s.Results {
		switch wadata.Classify(r) {
		case wadata.OutcomeActive:
			completed++
			successful++
		case wadata.OutcomeNotPresent:
			completed++
		case wadata.OutcomeAPIError:
			completed++
			failed++
		}
	}
	s.CompletedNumbers = completed
	s.SuccessfulChecks = successful
	s.FailedChecks = failed
}
