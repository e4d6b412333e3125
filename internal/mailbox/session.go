package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/onebox/internal/model"
)

// inbox is the primary folder mirrored for every account.
const inbox = "INBOX"

// RawMessage is the raw protocol data for one fetched message, before
// normalization.
type RawMessage struct {
	UID          imap.UID
	Envelope     *imap.Envelope
	Flags        []imap.Flag
	InternalDate time.Time
	Size         int64

	// Body is the full RFC 822 message body section.
	Body []byte
}

// IdleHandle controls one push-mode (IDLE) command on a session.
type IdleHandle interface {
	// Close ends the IDLE command, returning the session to its normal
	// request/response mode.
	Close() error

	// Done receives the command's terminal error when the IDLE ends on
	// its own, which indicates a lost session.
	Done() <-chan error
}

// Session is one authenticated protocol session. The concrete
// implementation wraps go-imap; tests substitute a fake.
type Session interface {
	// SelectInbox selects the account's primary folder.
	SelectInbox() error

	// SearchSince returns UIDs of messages received on or after since,
	// in server-assigned order.
	SearchSince(since time.Time) ([]imap.UID, error)

	// SearchUnseen returns UIDs of messages not yet flagged as seen.
	SearchUnseen() ([]imap.UID, error)

	// Fetch retrieves the raw data for the given UIDs.
	Fetch(uids []imap.UID) ([]RawMessage, error)

	// Idle asks the server to hold the connection open and push
	// notifications of new arrivals.
	Idle() (IdleHandle, error)

	// NewMail signals server-pushed arrivals received while idling.
	NewMail() <-chan struct{}

	// Logout ends the session.
	Logout() error
}

// Dialer establishes an authenticated session for an account.
type Dialer func(ctx context.Context, acct model.Account) (Session, error)

// imapSession implements Session on top of go-imap v2.
type imapSession struct {
	cli     *imapclient.Client
	newMail chan struct{}
}

// DialIMAP connects to the account's IMAP server, authenticates, and
// returns the session. Unilateral mailbox updates received from the
// server are converted into new-mail signals.
func DialIMAP(_ context.Context, acct model.Account) (Session, error) {
	s := &imapSession{newMail: make(chan struct{}, 1)}

	opts := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages == nil {
					return
				}
				select {
				case s.newMail <- struct{}{}:
				default:
				}
			},
		},
	}

	addr := fmt.Sprintf("%s:%d", acct.Host, acct.Port)

	var (
		cli *imapclient.Client
		err error
	)
	if acct.TLS {
		cli, err = imapclient.DialTLS(addr, opts)
	} else {
		cli, err = imapclient.DialStartTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := cli.Login(acct.Username, acct.Password).Wait(); err != nil {
		_ = cli.Logout().Wait()
		return nil, fmt.Errorf("authenticating %s: %w", acct.Username, err)
	}

	s.cli = cli
	return s, nil
}

func (s *imapSession) SelectInbox() error {
	if _, err := s.cli.Select(inbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", inbox, err)
	}
	return nil
}

func (s *imapSession) SearchSince(since time.Time) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{Since: since}

	data, err := s.cli.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching since %s: %w", since.Format(time.DateOnly), err)
	}
	return data.AllUIDs(), nil
}

func (s *imapSession) SearchUnseen() ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	data, err := s.cli.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching unseen: %w", err)
	}
	return data.AllUIDs(), nil
}

func (s *imapSession) Fetch(uids []imap.UID) ([]RawMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:     true,
		Flags:        true,
		UID:          true,
		InternalDate: true,
		RFC822Size:   true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := s.cli.Fetch(imap.UIDSetNum(uids...), fetchOpts)

	var raws []RawMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		raws = append(raws, RawMessage{
			UID:          buf.UID,
			Envelope:     buf.Envelope,
			Flags:        buf.Flags,
			InternalDate: buf.InternalDate,
			Size:         buf.RFC822Size,
			Body:         buf.FindBodySection(bodySection),
		})
	}

	if err := fetchCmd.Close(); err != nil {
		return raws, fmt.Errorf("fetching messages: %w", err)
	}

	return raws, nil
}

func (s *imapSession) Idle() (IdleHandle, error) {
	cmd, err := s.cli.Idle()
	if err != nil {
		return nil, fmt.Errorf("entering idle: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	return &imapIdle{cmd: cmd, done: done}, nil
}

func (s *imapSession) NewMail() <-chan struct{} {
	return s.newMail
}

func (s *imapSession) Logout() error {
	return s.cli.Logout().Wait()
}

type imapIdle struct {
	cmd  *imapclient.IdleCommand
	done chan error
}

func (i *imapIdle) Close() error {
	return i.cmd.Close()
}

func (i *imapIdle) Done() <-chan error {
	return i.done
}
