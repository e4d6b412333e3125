package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/onebox/internal/classify"
	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/notify"
	"github.com/nhle/onebox/internal/store"
)

// Notifier is the alerting seam; satisfied by notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, ev notify.LeadEvent) map[string]bool
}

// Pipeline runs each incoming message through classify, persist, notify.
// Persistence is the gate: a store failure fails the message, while a
// notification failure never does.
type Pipeline struct {
	classifier classify.Classifier
	store      store.Store
	notifier   Notifier
	log        zerolog.Logger
}

// New creates an ingestion pipeline.
func New(classifier classify.Classifier, st store.Store, notifier Notifier, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		classifier: classifier,
		store:      st,
		notifier:   notifier,
		log:        log,
	}
}

// Ingest classifies and persists one message, alerting if it turned out
// to be an interested lead. The message's category is set in place.
func (p *Pipeline) Ingest(ctx context.Context, msg *model.Message) error {
	res := p.classifier.Categorize(ctx, msg)
	msg.Category = res.Category
	msg.IndexedAt = time.Now()

	if err := p.store.Upsert(ctx, []*model.Message{msg}); err != nil {
		p.log.Error().Err(err).Str("id", msg.ID).Msg("persist failed")
		return fmt.Errorf("persisting message %s: %w", msg.ID, err)
	}

	p.log.Debug().Str("id", msg.ID).Str("category", string(msg.Category)).
		Float64("confidence", res.Confidence).Msg("indexed")

	if msg.Category == model.CategoryInterested {
		p.alert(ctx, msg)
	}
	return nil
}

// IngestBatch runs Ingest over a backfill batch in order. Individual
// failures are logged and counted, not fatal to the batch.
func (p *Pipeline) IngestBatch(ctx context.Context, msgs []*model.Message) int {
	ingested := 0
	for _, msg := range msgs {
		if err := p.Ingest(ctx, msg); err != nil {
			continue
		}
		ingested++
	}
	return ingested
}

// Reclassify re-runs classification on already-stored messages. Used by
// the categorize endpoint; unknown ids are skipped.
func (p *Pipeline) Reclassify(ctx context.Context, ids []string) (int, error) {
	updated := 0
	for _, id := range ids {
		msg, err := p.store.GetByID(ctx, id)
		if err != nil {
			p.log.Warn().Err(err).Str("id", id).Msg("skipping reclassify")
			continue
		}

		res := p.classifier.Categorize(ctx, msg)
		if res.Category == msg.Category {
			updated++
			continue
		}

		n, err := p.store.PatchCategory(ctx, []string{id}, res.Category)
		if err != nil {
			return updated, fmt.Errorf("updating category for %s: %w", id, err)
		}
		updated += n

		if res.Category == model.CategoryInterested {
			msg.Category = res.Category
			p.alert(ctx, msg)
		}
	}
	return updated, nil
}

// alert fans out the lead notification and records the lead. Failures
// here are logged only; the message is already safely indexed.
func (p *Pipeline) alert(ctx context.Context, msg *model.Message) {
	results := p.notifier.Notify(ctx, notify.EventFromMessage(msg))
	p.log.Info().Str("id", msg.ID).Interface("channels", results).Msg("lead alert sent")

	lead := model.Lead{
		ID:        uuid.NewString(),
		MessageID: msg.ID,
		AccountID: msg.AccountID,
		Subject:   msg.Subject,
		From:      msg.From,
		CreatedAt: time.Now(),
	}
	if err := p.store.RecordLead(ctx, lead); err != nil {
		p.log.Warn().Err(err).Str("id", msg.ID).Msg("recording lead failed")
	}
}
