package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() LeadEvent {
	return LeadEvent{
		MessageID: "acct1-1",
		AccountID: "acct1",
		Subject:   "Very interested",
		From:      "lead@example.com",
		Date:      time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
}

type stubChannel struct {
	name string
	err  error
	sent int
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Send(context.Context, LeadEvent) error {
	s.sent++
	return s.err
}

func TestNotifyFanOut(t *testing.T) {
	ok := &stubChannel{name: "ok"}
	bad := &stubChannel{name: "bad", err: errors.New("unreachable")}

	n := NewNotifier(zerolog.Nop(), ok, bad)
	results := n.Notify(context.Background(), testEvent())

	assert.Equal(t, map[string]bool{"ok": true, "bad": false}, results)
	assert.Equal(t, 1, ok.sent)
	assert.Equal(t, 1, bad.sent)
}

func TestNotifyNoChannels(t *testing.T) {
	n := NewNotifier(zerolog.Nop())
	assert.Empty(t, n.Notify(context.Background(), testEvent()))
}

func TestSlackChannelPayload(t *testing.T) {
	var got slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL, time.Second)
	require.NoError(t, ch.Send(context.Background(), testEvent()))

	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "Very interested", got.Attachments[0].Title)
	require.Len(t, got.Attachments[0].Fields, 2)
	assert.Equal(t, "lead@example.com", got.Attachments[0].Fields[0].Value)
}

func TestSlackChannelFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL, time.Second)
	assert.Error(t, ch.Send(context.Background(), testEvent()))
}

func TestWebhookChannelEnvelope(t *testing.T) {
	var got struct {
		Event string    `json:"event"`
		Data  LeadEvent `json:"data"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, time.Second)
	require.NoError(t, ch.Send(context.Background(), testEvent()))

	assert.Equal(t, "InterestedLead", got.Event)
	assert.Equal(t, "acct1-1", got.Data.MessageID)
}

func TestMixedChannelsAgainstServers(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer badSrv.Close()

	n := NewNotifier(zerolog.Nop(),
		NewSlackChannel(okSrv.URL, time.Second),
		NewWebhookChannel(badSrv.URL, time.Second),
	)
	results := n.Notify(context.Background(), testEvent())
	assert.Equal(t, map[string]bool{"slack": true, "webhook": false}, results)
}
