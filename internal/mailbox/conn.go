package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/onebox/internal/model"
)

const (
	// defaultIdleRefresh keeps the push-mode request one minute inside
	// the 30-minute server limit, so the refresh never races the
	// server's unobservable drop.
	defaultIdleRefresh = 29 * time.Minute

	defaultReconnectDelay       = 30 * time.Second
	defaultMaxReconnectAttempts = 5
)

var errSessionEnded = errors.New("session ended unexpectedly")

// Conn owns one protocol session to one mailbox account and drives the
// connect/backfill/listen/reconnect state machine. Events are delivered
// on a single-consumer channel; the sync orchestrator is the consumer.
type Conn struct {
	acct model.Account
	dial Dialer
	log  zerolog.Logger

	// Tunables. Overridden only by tests.
	IdleRefresh          time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	mu         sync.Mutex
	state      State
	sess       Session
	stop       chan struct{}
	attempts   int
	listening  bool
	wantListen bool

	events chan Event
}

// NewConn creates a connection for the given account. Dial is invoked on
// every connect and reconnect attempt.
func NewConn(acct model.Account, dial Dialer, log zerolog.Logger) *Conn {
	return &Conn{
		acct:                 acct,
		dial:                 dial,
		log:                  log.With().Str("account", acct.ID).Logger(),
		IdleRefresh:          defaultIdleRefresh,
		ReconnectDelay:       defaultReconnectDelay,
		MaxReconnectAttempts: defaultMaxReconnectAttempts,
		state:                StateDisconnected,
		events:               make(chan Event, 32),
	}
}

// Account returns the account this connection mirrors.
func (c *Conn) Account() model.Account {
	return c.acct
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events returns the connection's event channel. It has a single
// consumer and preserves delivery order.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Connect establishes the session. Valid from Disconnected and Failed;
// a handshake failure moves the connection into its bounded reconnect
// loop rather than returning it to Disconnected.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected, StateFailed:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect not valid in state %s", state)
	}
	c.state = StateConnecting
	c.attempts = 0
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	sess, err := c.dial(ctx, c.acct)
	if err != nil {
		c.log.Warn().Err(err).Msg("handshake failed")
		c.mu.Lock()
		c.state = StateReconnecting
		c.mu.Unlock()
		c.emit(stop, Event{Kind: EventTransportError, Err: err})
		go c.reconnectLoop(stop)
		return err
	}

	c.mu.Lock()
	c.sess = sess
	c.state = StateConnected
	c.mu.Unlock()

	c.log.Info().Msg("connected")
	c.emit(stop, Event{Kind: EventConnected})
	return nil
}

// Backfill fetches messages from the trailing window and returns them
// normalized, in server-assigned order. Messages that cannot be
// normalized are skipped, never fatal. An empty window is not an error.
func (c *Conn) Backfill(window time.Duration) ([]*model.Message, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("backfill not valid in state %s", state)
	}
	c.state = StateBackfilling
	sess := c.sess
	c.mu.Unlock()

	records, err := c.backfill(sess, window)
	if err != nil {
		c.transportError(err)
		return nil, err
	}

	c.setState(StateBackfilling, StateConnected)
	return records, nil
}

func (c *Conn) backfill(sess Session, window time.Duration) ([]*model.Message, error) {
	if err := sess.SelectInbox(); err != nil {
		return nil, err
	}

	since := time.Now().Add(-window)
	uids, err := sess.SearchSince(since)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		c.log.Info().Msg("backfill window empty")
		return nil, nil
	}

	raws, err := sess.Fetch(uids)
	if err != nil {
		return nil, err
	}

	records := make([]*model.Message, 0, len(raws))
	for _, raw := range raws {
		rec := Normalize(c.acct.ID, inbox, raw)
		if rec == nil {
			c.log.Debug().Uint32("uid", uint32(raw.UID)).Msg("skipping unparseable message")
			continue
		}
		records = append(records, rec)
	}

	c.log.Info().Int("count", len(records)).Msg("backfill complete")
	return records, nil
}

// Listen starts push-mode listening. New arrivals are fetched,
// normalized, and delivered as NewMail events. Listening resumes
// automatically after a successful reconnect.
func (c *Conn) Listen() error {
	c.mu.Lock()
	if c.listening {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateConnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("listen not valid in state %s", state)
	}
	c.listening = true
	c.wantListen = true
	sess := c.sess
	stop := c.stop
	c.mu.Unlock()

	go c.listenLoop(sess, stop)
	return nil
}

// listenLoop holds one IDLE command open at a time, refreshing it before
// the server-side limit and interrupting it to fetch pushed arrivals.
func (c *Conn) listenLoop(sess Session, stop chan struct{}) {
	// The listening flag is cleared before transportError so a resumed
	// reconnect never observes a loop that is already on its way out.
	if err := sess.SelectInbox(); err != nil {
		c.stopListening()
		c.transportError(err)
		return
	}

	for {
		select {
		case <-stop:
			c.stopListening()
			return
		default:
		}

		idle, err := sess.Idle()
		if err != nil {
			c.stopListening()
			c.transportError(err)
			return
		}
		c.toListening()

		refresh := time.NewTimer(c.IdleRefresh)

		select {
		case <-stop:
			refresh.Stop()
			_ = idle.Close()
			c.stopListening()
			return

		case <-refresh.C:
			// Reissue the push-mode request before the server
			// unilaterally drops it.
			c.setState(StateListening, StateRefreshingListen)
			c.log.Debug().Msg("refreshing idle")
			_ = idle.Close()

		case <-sess.NewMail():
			refresh.Stop()
			_ = idle.Close()
			if err := c.fetchNew(sess, stop); err != nil {
				c.stopListening()
				c.transportError(err)
				return
			}

		case err := <-idle.Done():
			refresh.Stop()
			if err == nil {
				err = errSessionEnded
			}
			c.stopListening()
			c.transportError(err)
			return
		}
	}
}

func (c *Conn) stopListening() {
	c.mu.Lock()
	c.listening = false
	c.mu.Unlock()
}

// fetchNew retrieves unseen messages after a push signal and delivers
// them in arrival order.
func (c *Conn) fetchNew(sess Session, stop chan struct{}) error {
	uids, err := sess.SearchUnseen()
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		return nil
	}

	raws, err := sess.Fetch(uids)
	if err != nil {
		return err
	}

	records := make([]*model.Message, 0, len(raws))
	for _, raw := range raws {
		rec := Normalize(c.acct.ID, inbox, raw)
		if rec == nil {
			c.log.Debug().Uint32("uid", uint32(raw.UID)).Msg("skipping unparseable message")
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil
	}

	c.log.Info().Int("count", len(records)).Msg("new mail")
	c.emit(stop, Event{Kind: EventNewMail, Records: records})
	return nil
}

// Disconnect tears down the session and forces Disconnected. Cancelling
// the stop channel under the state lock guarantees no pending refresh or
// reconnect timer can resurrect the torn-down session.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	sess := c.sess
	c.sess = nil
	c.state = StateDisconnected
	c.wantListen = false
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.mu.Unlock()

	if sess != nil {
		_ = sess.Logout()
	}

	c.log.Info().Msg("disconnected")
	select {
	case c.events <- Event{Kind: EventDisconnected}:
	default:
	}
}

// transportError moves the connection into the reconnect loop. No-op if
// the connection is already reconnecting, torn down, or failed.
func (c *Conn) transportError(err error) {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected, StateFailed, StateReconnecting:
		c.mu.Unlock()
		return
	}
	c.state = StateReconnecting
	sess := c.sess
	c.sess = nil
	stop := c.stop
	c.mu.Unlock()

	if sess != nil {
		_ = sess.Logout()
	}

	c.log.Warn().Err(err).Msg("transport error, reconnecting")
	c.emit(stop, Event{Kind: EventTransportError, Err: err})
	go c.reconnectLoop(stop)
}

// reconnectLoop retries the handshake after a fixed delay, up to the
// attempt cap. Exceeding the cap is terminal: the connection stays
// Failed until an external Connect call.
func (c *Conn) reconnectLoop(stop chan struct{}) {
	for {
		timer := time.NewTimer(c.ReconnectDelay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		c.log.Info().Int("attempt", attempt).Msg("reconnecting")

		sess, err := c.dial(context.Background(), c.acct)
		if err == nil {
			c.mu.Lock()
			select {
			case <-stop:
				// Disconnect raced the dial; drop the fresh session.
				c.mu.Unlock()
				_ = sess.Logout()
				return
			default:
			}
			c.sess = sess
			c.attempts = 0
			c.state = StateConnected
			resume := c.wantListen && !c.listening
			if resume {
				c.listening = true
			}
			c.mu.Unlock()

			c.log.Info().Msg("reconnected")
			c.emit(stop, Event{Kind: EventConnected})
			if resume {
				go c.listenLoop(sess, stop)
			}
			return
		}

		c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")

		if attempt >= c.MaxReconnectAttempts {
			c.mu.Lock()
			c.state = StateFailed
			c.mu.Unlock()
			c.log.Error().Int("attempts", attempt).Msg("reconnect attempts exhausted")
			c.emit(stop, Event{Kind: EventFailed, Err: err})
			return
		}
	}
}

// toListening enters Listening from the states that may issue an idle.
func (c *Conn) toListening() {
	c.mu.Lock()
	switch c.state {
	case StateConnected, StateRefreshingListen, StateListening:
		c.state = StateListening
	}
	c.mu.Unlock()
}

// setState transitions from to next only when from is the current state.
func (c *Conn) setState(from, next State) {
	c.mu.Lock()
	if c.state == from {
		c.state = next
	}
	c.mu.Unlock()
}

// emit delivers an event to the consumer, giving up if the connection is
// torn down before the consumer reads it.
func (c *Conn) emit(stop chan struct{}, ev Event) {
	if stop == nil {
		select {
		case c.events <- ev:
		default:
		}
		return
	}
	select {
	case c.events <- ev:
	case <-stop:
	}
}
