package poller

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Category groups raw extraction failures into reviewer-facing buckets.
type Category string

const (
	CategoryCredits   Category = "credits"
	CategoryTimeout   Category = "timeout"
	CategoryAuth      Category = "auth"
	CategoryRateLimit Category = "rate_limit"
	CategoryGeneric   Category = "generic"
)

type rule struct {
	category Category
	needles  []string
	message  string
}

// Checked in order; the first rule with a matching needle wins.
var rules = []rule{
	{
		category: CategoryCredits,
		needles:  []string{"credit balance", "credits", "insufficient credit", "billing"},
		message:  "The extraction service has run out of API credits. Ask an administrator to top up the account, then retry.",
	},
	{
		category: CategoryTimeout,
		needles:  []string{"timeout", "timed out", "deadline exceeded"},
		message:  "The extraction took too long and was stopped. Large documents can take a while; try again.",
	},
	{
		category: CategoryAuth,
		needles:  []string{"authentication", "api key", "api_key", "401", "unauthorized"},
		message:  "The extraction service rejected its credentials. Check the configured API key.",
	},
	{
		category: CategoryRateLimit,
		needles:  []string{"rate limit", "rate_limit", "429", "too many requests"},
		message:  "The extraction service is rate limiting requests. Wait a minute and retry.",
	},
}

// Classify maps a raw server error message to a category and a friendly
// message. Matching is case-insensitive.
func Classify(raw string) (Category, string) {
	folded := cases.Fold().String(raw)
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(folded, n) {
				return r.category, r.message
			}
		}
	}
	if strings.TrimSpace(raw) == "" {
		return CategoryGeneric, "Extraction failed. Please try again."
	}
	return CategoryGeneric, fmt.Sprintf("Extraction failed: %s", raw)
}

// ExtractionFailedError is returned by Run when the lease reports a failed
// extraction.
type ExtractionFailedError struct {
	LeaseID  int64
	Category Category
	Message  string
	Raw      string
}

func (e *ExtractionFailedError) Error() string {
	return e.Message
}

func newFailure(leaseID int64, raw string) *ExtractionFailedError {
	cat, msg := Classify(raw)
	return &ExtractionFailedError{LeaseID: leaseID, Category: cat, Message: msg, Raw: raw}
}
