package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/onebox/internal/mailbox"
	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/pipeline"
)

// Status is one account's sync state as reported over the API.
type Status struct {
	AccountID string    `json:"accountId"`
	State     string    `json:"state"`
	LastSync  time.Time `json:"lastSync"`
	Err       string    `json:"error,omitempty"`
}

// Manager runs one orchestrator per configured account.
type Manager struct {
	pipe   *pipeline.Pipeline
	dial   mailbox.Dialer
	window time.Duration
	log    zerolog.Logger

	mu            gosync.Mutex
	orchestrators []*Orchestrator
	cancel        context.CancelFunc
	wg            gosync.WaitGroup
}

// NewManager creates a manager. Dial is shared by every connection.
func NewManager(
	pipe *pipeline.Pipeline,
	dial mailbox.Dialer,
	window time.Duration,
	log zerolog.Logger,
) *Manager {
	return &Manager{
		pipe:   pipe,
		dial:   dial,
		window: window,
		log:    log,
	}
}

// Start launches one orchestrator goroutine per account. A failed
// account is degraded, never fatal to the others.
func (m *Manager) Start(ctx context.Context, accounts []model.Account) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.cancel = cancel
	for _, acct := range accounts {
		conn := mailbox.NewConn(acct, m.dial, m.log)
		o := NewOrchestrator(conn, m.pipe, m.window, m.log)
		m.orchestrators = append(m.orchestrators, o)

		m.wg.Add(1)
		go func(o *Orchestrator) {
			defer m.wg.Done()
			if err := o.Run(ctx); err != nil && ctx.Err() == nil {
				m.log.Error().Err(err).Msg("account sync stopped")
			}
		}(o)
	}
	m.mu.Unlock()

	m.log.Info().Int("accounts", len(accounts)).Msg("sync manager started")
}

// Stop cancels all orchestrators and waits for them to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Statuses reports the state of every account.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]Status, 0, len(m.orchestrators))
	for _, o := range m.orchestrators {
		statuses = append(statuses, o.Status())
	}
	return statuses
}
