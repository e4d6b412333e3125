package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/onebox/internal/mailbox"
	"github.com/nhle/onebox/internal/pipeline"
)

// Orchestrator drives one account connection through connect, backfill,
// and listen, feeding every batch of records into the ingestion pipeline.
type Orchestrator struct {
	conn   *mailbox.Conn
	pipe   *pipeline.Pipeline
	window time.Duration
	log    zerolog.Logger

	mu         gosync.Mutex
	lastSync   time.Time
	lastErr    error
	backfilled bool
}

// NewOrchestrator creates an orchestrator for one connection. The window
// bounds the initial backfill.
func NewOrchestrator(
	conn *mailbox.Conn,
	pipe *pipeline.Pipeline,
	window time.Duration,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		conn:   conn,
		pipe:   pipe,
		window: window,
		log:    log.With().Str("account", conn.Account().ID).Logger(),
	}
}

// Run owns the connection until ctx is cancelled or the connection fails
// terminally. The initial backfill runs once per process, on the first
// Connected event; reconnects resume listening without re-backfilling.
func (o *Orchestrator) Run(ctx context.Context) error {
	// A handshake failure is not terminal: the connection enters its
	// reconnect loop and a Connected event arrives later if it recovers.
	if err := o.conn.Connect(ctx); err != nil {
		o.setErr(err)
	}

	for {
		select {
		case <-ctx.Done():
			o.conn.Disconnect()
			return ctx.Err()

		case ev := <-o.conn.Events():
			switch ev.Kind {
			case mailbox.EventConnected:
				o.setErr(nil)
				if err := o.onConnected(ctx); err != nil {
					o.setErr(err)
				}

			case mailbox.EventNewMail:
				n := o.pipe.IngestBatch(ctx, ev.Records)
				o.touch()
				o.log.Info().Int("count", n).Msg("ingested new mail")

			case mailbox.EventTransportError:
				o.setErr(ev.Err)

			case mailbox.EventFailed:
				o.setErr(ev.Err)
				o.log.Error().Err(ev.Err).Msg("connection failed terminally")
				return ev.Err

			case mailbox.EventDisconnected:
				return nil
			}
		}
	}
}

// onConnected backfills (first connect only) and starts listening.
func (o *Orchestrator) onConnected(ctx context.Context) error {
	o.mu.Lock()
	needBackfill := !o.backfilled
	o.mu.Unlock()

	if needBackfill {
		records, err := o.conn.Backfill(o.window)
		if err != nil {
			return err
		}

		o.mu.Lock()
		o.backfilled = true
		o.mu.Unlock()

		n := o.pipe.IngestBatch(ctx, records)
		o.touch()
		o.log.Info().Int("count", n).Msg("backfill ingested")
	}

	return o.conn.Listen()
}

// Status reports the orchestrator's view of the connection.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		AccountID: o.conn.Account().ID,
		State:     o.conn.State().String(),
		LastSync:  o.lastSync,
		Err:       errString(o.lastErr),
	}
}

func (o *Orchestrator) touch() {
	o.mu.Lock()
	o.lastSync = time.Now()
	o.mu.Unlock()
}

func (o *Orchestrator) setErr(err error) {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
