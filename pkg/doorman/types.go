// Package doorman is the Go client for the Doorman trust and safety API.
// It covers the checks a reservation backend calls on the hot path: fraud
// assessment, rate limiting, content moderation, and activity reporting.
package doorman

import (
	"fmt"
	"time"
)

// Assessment is the result of a fraud check on a booking attempt.
type Assessment struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	RestaurantID string    `json:"restaurantId"`
	Score        float64   `json:"score"`
	Allowed      bool      `json:"allowed"`
	Reasons      []string  `json:"reasons,omitempty"`
	Degraded     bool      `json:"degraded,omitempty"`
	EvaluatedAt  time.Time `json:"evaluatedAt"`
}

// Decision is the result of consuming one request against a rate quota.
type Decision struct {
	Allowed bool      `json:"allowed"`
	ResetAt time.Time `json:"resetAt,omitzero"`
}

// QuotaStatus reports current usage for an identifier and action.
type QuotaStatus struct {
	Count   int       `json:"count"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"resetAt,omitzero"`
}

// ModerationResult is the outcome of a content check.
type ModerationResult struct {
	HasProfanity bool     `json:"hasProfanity"`
	FoundWords   []string `json:"foundWords,omitempty"`
	IsSpam       bool     `json:"isSpam"`
	Masked       string   `json:"masked"`
}

// FlagStatus reports whether a user has been flagged for review.
type FlagStatus struct {
	IsFlagged    bool     `json:"isFlagged"`
	RiskLevel    string   `json:"riskLevel"`
	Restrictions []string `json:"restrictions,omitempty"`
}

// Event is a suspicious-activity report.
type Event struct {
	Type         string         `json:"type"`
	UserID       string         `json:"userId,omitempty"`
	RestaurantID string         `json:"restaurantId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// APIError is a non-2xx response from the Doorman API.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("doorman: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("doorman: unexpected status %d", e.StatusCode)
}

// IsRateLimited reports whether err is a 429 from the API.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if !asAPIError(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 429
}
