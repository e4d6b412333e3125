package classify

import (
	"context"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/nhle/onebox/internal/model"
)

func msgWith(subject, body, from string) *model.Message {
	return &model.Message{
		ID:      "acct1-1",
		Subject: subject,
		Body:    body,
		From:    from,
	}
}

func TestFallbackPrecedence(t *testing.T) {
	cases := []struct {
		name string
		msg  *model.Message
		want model.Category
	}{
		{
			name: "out of office beats interested",
			msg:  msgWith("Out of office", "I am interested but on vacation", "bob@x.com"),
			want: model.CategoryOutOfOffice,
		},
		{
			name: "spam sender beats meeting keywords",
			msg:  msgWith("Meeting invite", "schedule a call", "noreply@x.com"),
			want: model.CategorySpam,
		},
		{
			name: "not interested beats interested",
			msg:  msgWith("Re: your offer", "We are not interested in a demo", "bob@x.com"),
			want: model.CategoryNotInterested,
		},
		{
			name: "meeting beats interested",
			msg:  msgWith("Re: demo", "Let's schedule it", "bob@x.com"),
			want: model.CategoryMeetingBooked,
		},
		{
			name: "question mark is interest",
			msg:  msgWith("Re: your product", "How much does it cost?", "bob@x.com"),
			want: model.CategoryInterested,
		},
		{
			name: "pricing keyword",
			msg:  msgWith("Pricing please", "send details", "bob@x.com"),
			want: model.CategoryInterested,
		},
		{
			name: "no keywords defaults to spam",
			msg:  msgWith("hello", "nothing relevant here", "bob@x.com"),
			want: model.CategorySpam,
		},
		{
			name: "unsubscribe is spam",
			msg:  msgWith("Weekly newsletter", "click unsubscribe", "news@x.com"),
			want: model.CategorySpam,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Fallback(tc.msg)
			assert.Equal(t, tc.want, res.Category)
		})
	}
}

func TestFallbackAlwaysInCategorySet(t *testing.T) {
	msgs := []*model.Message{
		msgWith("", "", ""),
		msgWith("random", "text", "someone@x.com"),
		msgWith("out of office", "unsubscribe not interested meeting interested", "noreply@x.com"),
	}
	for _, msg := range msgs {
		res := Fallback(msg)
		assert.True(t, model.ValidCategory(res.Category), "got %q", res.Category)
	}
}

func TestRulesClassifier(t *testing.T) {
	res := Rules{}.Categorize(context.Background(), msgWith("demo?", "interested", "bob@x.com"))
	assert.Equal(t, model.CategoryInterested, res.Category)
}

func TestClaudeWithoutKeyFallsBack(t *testing.T) {
	c := NewClaude(model.AIConfig{}, zerolog.Nop())
	res := c.Categorize(context.Background(), msgWith("out of office", "on vacation", "bob@x.com"))
	assert.Equal(t, model.CategoryOutOfOffice, res.Category)
}

func TestParseResult(t *testing.T) {
	res, err := parseResult(`{"category": "Interested", "confidence": 0.92, "reasoning": "asks for a demo"}`)
	assert.NoError(t, err)
	assert.Equal(t, model.CategoryInterested, res.Category)
	assert.InDelta(t, 0.92, res.Confidence, 1e-9)

	res, err = parseResult("Here you go:\n{\"category\": \"Spam\", \"confidence\": 2}")
	assert.NoError(t, err)
	assert.Equal(t, model.CategorySpam, res.Category)
	assert.Equal(t, 1.0, res.Confidence)

	res, err = parseResult(`"Meeting Booked"`)
	assert.NoError(t, err)
	assert.Equal(t, model.CategoryMeetingBooked, res.Category)

	_, err = parseResult("I cannot classify this")
	assert.Error(t, err)

	_, err = parseResult(`{"category": "Maybe Interested"}`)
	assert.Error(t, err)
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	// "é" is two bytes; a byte cut inside it must back up.
	got := truncate("héllo", 2)
	assert.Equal(t, "h...", got)
	assert.True(t, utf8.ValidString(got))

	got = truncate("日本語のテキスト", 7)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "日本...", got)
}
