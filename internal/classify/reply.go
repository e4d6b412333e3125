package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/nhle/onebox/internal/model"
)

const replySystemPrompt = "You are a helpful sales assistant. You write short, " +
	"professional email replies. Respond with the reply text only, no preamble."

// SuggestReply asks the model to draft a reply to the given message.
// Unlike Categorize this has no deterministic fallback; callers surface
// the error.
func (c *Claude) SuggestReply(ctx context.Context, msg *model.Message) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("no API key configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Draft a reply to the email below. Keep it under 150 words, ")
	sb.WriteString("match the sender's tone, and move the conversation forward.\n\n")
	sb.WriteString("Subject: " + orDefault(msg.Subject, "No subject") + "\n")
	sb.WriteString("From: " + orDefault(msg.From, "Unknown sender") + "\n")
	sb.WriteString("Body: " + truncate(msg.Body, 2000) + "\n")

	text, err := c.complete(ctx, replySystemPrompt, sb.String())
	if err != nil {
		return "", err
	}

	reply := strings.TrimSpace(text)
	if reply == "" {
		return "", fmt.Errorf("empty reply from model")
	}
	return reply, nil
}
