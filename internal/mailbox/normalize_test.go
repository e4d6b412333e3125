package mailbox

import (
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/onebox/internal/model"
)

func rawWith(uid uint32, env *imap.Envelope, body string) RawMessage {
	return RawMessage{
		UID:      imap.UID(uid),
		Envelope: env,
		Body:     []byte(body),
	}
}

func addr(mailbox string) imap.Address {
	return imap.Address{Mailbox: mailbox, Host: "example.com"}
}

func envelope(from, to string, subject string, date time.Time) *imap.Envelope {
	env := &imap.Envelope{Subject: subject, Date: date}
	if from != "" {
		env.From = []imap.Address{addr(from)}
	}
	if to != "" {
		env.To = []imap.Address{addr(to)}
	}
	return env
}

const plainBody = "Subject: hi\r\nContent-Type: text/plain\r\n\r\nHello there"

func TestNormalizeBasic(t *testing.T) {
	date := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env := envelope("alice", "me", "Hello", date)

	msg := Normalize("acct1", "INBOX", rawWith(42, env, plainBody))
	require.NotNil(t, msg)

	assert.Equal(t, "acct1-42", msg.ID)
	assert.Equal(t, "acct1", msg.AccountID)
	assert.Equal(t, "INBOX", msg.Folder)
	assert.Equal(t, "Hello", msg.Subject)
	assert.Equal(t, "alice@example.com", msg.From)
	assert.Equal(t, []string{"me@example.com"}, msg.To)
	assert.Equal(t, "Hello there", msg.Body)
	assert.Equal(t, date, msg.Date)
	assert.Equal(t, model.CategoryUncategorized, msg.Category)
}

func TestNormalizeStableID(t *testing.T) {
	env := envelope("alice", "me", "Hello", time.Now())
	raw := rawWith(7, env, plainBody)

	first := Normalize("acct1", "INBOX", raw)
	second := Normalize("acct1", "INBOX", raw)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
}

func TestNormalizeMissingEnvelope(t *testing.T) {
	assert.Nil(t, Normalize("acct1", "INBOX", RawMessage{UID: 1, Body: []byte(plainBody)}))
}

func TestNormalizeMissingSender(t *testing.T) {
	env := &imap.Envelope{Subject: "no sender"}
	assert.Nil(t, Normalize("acct1", "INBOX", rawWith(1, env, plainBody)))
}

func TestNormalizeEmptyBody(t *testing.T) {
	env := envelope("alice", "me", "empty", time.Now())
	assert.Nil(t, Normalize("acct1", "INBOX", rawWith(1, env, "")))
}

func TestNormalizeMissingRecipients(t *testing.T) {
	env := envelope("alice", "", "no to header", time.Now())

	msg := Normalize("acct1", "INBOX", rawWith(3, env, plainBody))
	require.NotNil(t, msg)
	assert.Equal(t, []string{"acct1"}, msg.To)
}

func TestNormalizeDateFallback(t *testing.T) {
	env := envelope("alice", "me", "no date", time.Time{})
	internal := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

	raw := rawWith(5, env, plainBody)
	raw.InternalDate = internal

	msg := Normalize("acct1", "INBOX", raw)
	require.NotNil(t, msg)
	assert.Equal(t, internal, msg.Date)

	// With neither header nor server date, indexing time stands in.
	raw.InternalDate = time.Time{}
	before := time.Now()
	msg = Normalize("acct1", "INBOX", raw)
	require.NotNil(t, msg)
	assert.False(t, msg.Date.Before(before))
}

func TestNormalizeHTMLBody(t *testing.T) {
	htmlMsg := "Subject: hi\r\nContent-Type: text/html\r\n\r\n" +
		"<div><p>Hello &amp; welcome</p><br><b>Tom &lt;Sales&gt;</b></div>"

	env := envelope("tom", "me", "html", time.Now())
	msg := Normalize("acct1", "INBOX", rawWith(9, env, htmlMsg))
	require.NotNil(t, msg)
	assert.Equal(t, "Hello & welcome Tom <Sales>", msg.Body)
}

func TestNormalizePrefersPlainText(t *testing.T) {
	multipart := "Subject: hi\r\n" +
		"Content-Type: multipart/alternative; boundary=b1\r\n\r\n" +
		"--b1\r\nContent-Type: text/plain\r\n\r\nplain version\r\n" +
		"--b1\r\nContent-Type: text/html\r\n\r\n<p>html version</p>\r\n" +
		"--b1--\r\n"

	env := envelope("tom", "me", "multi", time.Now())
	msg := Normalize("acct1", "INBOX", rawWith(10, env, multipart))
	require.NotNil(t, msg)
	assert.Equal(t, "plain version", msg.Body)
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "a\nb\n", stripHTML("<p>a</p><div>b</div>"))
	assert.Equal(t, `say "hi"`, stripHTML("say &quot;hi&quot;"))
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", collapseWhitespace("  a\n\n b\t c  "))
}
