package classify

import (
	"context"
	"strings"

	"github.com/nhle/onebox/internal/model"
)

// Result is the outcome of one classification.
type Result struct {
	// Category is always a member of the fixed category set.
	Category model.Category

	// Confidence in [0, 1]. Optional metadata, not part of the record's
	// identity.
	Confidence float64

	Reasoning string
}

// Classifier assigns an intent category to a message. Implementations
// must not fail for well-formed input; internal errors are absorbed by
// the deterministic keyword pass.
type Classifier interface {
	Categorize(ctx context.Context, msg *model.Message) Result
}

// keywordRule matches a fixed keyword set against subject, body, and
// sender. Rules are evaluated in precedence order; the first match wins.
type keywordRule struct {
	category model.Category
	match    func(subject, body, from string) bool
}

var keywordRules = []keywordRule{
	{
		category: model.CategoryOutOfOffice,
		match: func(subject, body, _ string) bool {
			return containsAny(subject+" "+body, "out of office", "vacation", "auto-reply")
		},
	},
	{
		category: model.CategorySpam,
		match: func(subject, body, from string) bool {
			return containsAny(subject+" "+body, "unsubscribe", "newsletter") ||
				strings.Contains(from, "noreply")
		},
	},
	{
		category: model.CategoryNotInterested,
		match: func(subject, body, _ string) bool {
			return containsAny(subject+" "+body, "not interested", "remove", "decline")
		},
	},
	{
		category: model.CategoryMeetingBooked,
		match: func(subject, body, _ string) bool {
			return containsAny(subject+" "+body, "meeting", "schedule", "calendar")
		},
	},
	{
		category: model.CategoryInterested,
		match: func(subject, body, _ string) bool {
			return containsAny(subject+" "+body, "interested", "demo", "pricing", "?")
		},
	},
}

// Fallback runs the deterministic keyword pass. It always returns a
// member of the fixed category set; messages matching no rule default
// to Spam.
func Fallback(msg *model.Message) Result {
	subject := strings.ToLower(msg.Subject)
	body := strings.ToLower(msg.Body)
	from := strings.ToLower(msg.From)

	for _, rule := range keywordRules {
		if rule.match(subject, body, from) {
			return Result{
				Category:   rule.category,
				Confidence: 0.5,
				Reasoning:  "keyword match",
			}
		}
	}

	return Result{
		Category:   model.CategorySpam,
		Confidence: 0.25,
		Reasoning:  "no keyword match",
	}
}

// Rules is a Classifier that uses only the deterministic keyword pass.
// It stands in for the generative classifier when no API key is
// configured.
type Rules struct{}

func (Rules) Categorize(_ context.Context, msg *model.Message) Result {
	return Fallback(msg)
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
