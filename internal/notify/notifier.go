package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/onebox/internal/model"
)

// LeadEvent describes an interested reply worth alerting on.
type LeadEvent struct {
	MessageID string    `json:"messageId"`
	AccountID string    `json:"accountId"`
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	Date      time.Time `json:"date"`
}

// EventFromMessage builds a LeadEvent from an indexed message.
func EventFromMessage(msg *model.Message) LeadEvent {
	return LeadEvent{
		MessageID: msg.ID,
		AccountID: msg.AccountID,
		Subject:   msg.Subject,
		From:      msg.From,
		Date:      msg.Date,
	}
}

// Channel is a single notification destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, ev LeadEvent) error
}

// Notifier fans a lead event out to all configured channels. Channel
// failures are isolated: one channel failing never blocks another, and
// never fails the caller.
type Notifier struct {
	channels []Channel
	log      zerolog.Logger
}

// NewNotifier creates a notifier over the given channels.
func NewNotifier(log zerolog.Logger, channels ...Channel) *Notifier {
	return &Notifier{channels: channels, log: log}
}

// Notify delivers the event to every channel concurrently and reports
// per-channel success.
func (n *Notifier) Notify(ctx context.Context, ev LeadEvent) map[string]bool {
	results := make(map[string]bool, len(n.channels))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, ch := range n.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			err := ch.Send(ctx, ev)
			if err != nil {
				n.log.Warn().Err(err).Str("channel", ch.Name()).
					Str("message", ev.MessageID).Msg("notification failed")
			}
			mu.Lock()
			results[ch.Name()] = err == nil
			mu.Unlock()
		}(ch)
	}

	wg.Wait()
	return results
}

// Test sends a synthetic event through every channel so operators can
// verify the wiring.
func (n *Notifier) Test(ctx context.Context) map[string]bool {
	return n.Notify(ctx, LeadEvent{
		MessageID: "test",
		AccountID: "test",
		Subject:   "Test notification",
		From:      "onebox@localhost",
		Date:      time.Now(),
	})
}
