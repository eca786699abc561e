package models

// CreditStatus is the caller-facing view of today's credit usage.
// ResetTime is the next local midnight as an RFC 3339 timestamp.
type CreditStatus struct {
	Remaining int    `json:"remaining"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	ResetTime string `json:"resetTime"`
}
