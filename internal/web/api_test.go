package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/onebox/internal/classify"
	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/notify"
	"github.com/nhle/onebox/internal/pipeline"
	"github.com/nhle/onebox/internal/store"
	syncpkg "github.com/nhle/onebox/internal/sync"
)

type stubReplier struct {
	reply string
	err   error
}

func (s stubReplier) SuggestReply(context.Context, *model.Message) (string, error) {
	return s.reply, s.err
}

func newTestServer(t *testing.T) (*Server, *store.SQLiteStore) {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := zerolog.Nop()
	notifier := notify.NewNotifier(log)
	pipe := pipeline.New(classify.Rules{}, st, notifier, log)
	manager := syncpkg.NewManager(pipe, nil, 0, log)

	s := NewServer(":0", st, pipe, manager, notifier,
		stubReplier{reply: "Thanks, let's talk."}, nil, log)
	return s, st
}

func seedMessages(t *testing.T, st *store.SQLiteStore) {
	t.Helper()
	msgs := []*model.Message{
		{
			ID: "acct1-1", AccountID: "acct1", Folder: "INBOX",
			Subject: "pricing question", Body: "how much?", From: "lead@example.com",
			To: []string{"me@example.com"}, Date: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
			Category: model.CategoryInterested, IndexedAt: time.Now(), UID: 1,
		},
		{
			ID: "acct1-2", AccountID: "acct1", Folder: "INBOX",
			Subject: "newsletter", Body: "unsubscribe", From: "noreply@example.com",
			To: []string{"me@example.com"}, Date: time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC),
			Category: model.CategorySpam, IndexedAt: time.Now(), UID: 2,
		},
	}
	require.NoError(t, st.Upsert(context.Background(), msgs))
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(s, "GET", "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
}

func TestListAndSearchEmails(t *testing.T) {
	s, st := newTestServer(t)
	seedMessages(t, st)

	w := doRequest(s, "GET", "/api/emails", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Emails, 2)
	assert.Equal(t, "acct1-2", resp.Emails[0].ID, "newest first")

	w = doRequest(s, "GET", "/api/emails/search?q=pricing", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "acct1-1", resp.Emails[0].ID)

	w = doRequest(s, "GET", "/api/emails?category=Spam", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)

	w = doRequest(s, "GET", "/api/emails?category=Bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAndDeleteEmail(t *testing.T) {
	s, st := newTestServer(t)
	seedMessages(t, st)

	w := doRequest(s, "GET", "/api/emails/acct1-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var msg model.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, "pricing question", msg.Subject)

	w = doRequest(s, "DELETE", "/api/emails/acct1-1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, "GET", "/api/emails/acct1-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCategorizeEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	seedMessages(t, st)

	w := doRequest(s, "POST", "/api/emails/categorize", `{"ids": ["acct1-2"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["updated"])

	w = doRequest(s, "POST", "/api/emails/categorize", `{"ids": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSuggestReplyEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	seedMessages(t, st)

	w := doRequest(s, "POST", "/api/emails/acct1-1/suggest-reply", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Thanks, let's talk.", resp["reply"])

	s.replier = stubReplier{err: errors.New("api down")}
	w = doRequest(s, "POST", "/api/emails/acct1-1/suggest-reply", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = doRequest(s, "POST", "/api/emails/missing/suggest-reply", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReplyUnknownAccount(t *testing.T) {
	s, st := newTestServer(t)
	seedMessages(t, st)

	// No accounts are configured on the server.
	w := doRequest(s, "POST", "/api/emails/acct1-1/reply", `{"body": "hi"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(s, "POST", "/api/emails/acct1-1/reply", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsAndAccounts(t *testing.T) {
	s, st := newTestServer(t)
	seedMessages(t, st)

	w := doRequest(s, "GET", "/api/emails/stats/overview", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats struct {
		Total      int            `json:"total"`
		Categories map[string]int `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Categories["Interested"])

	w = doRequest(s, "GET", "/api/emails/accounts/list", "")
	require.Equal(t, http.StatusOK, w.Code)

	var accounts struct {
		Accounts []struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accounts))
	require.Len(t, accounts.Accounts, 1)
	assert.Equal(t, "acct1", accounts.Accounts[0].ID)
}

func TestTestWebhooksEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(s, "POST", "/api/emails/test/webhooks", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLeadsEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	require.NoError(t, st.RecordLead(context.Background(), model.Lead{
		ID: "l1", MessageID: "acct1-1", AccountID: "acct1",
		Subject: "hot", From: "lead@example.com", CreatedAt: time.Now(),
	}))

	w := doRequest(s, "GET", "/api/leads", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Leads []model.Lead `json:"leads"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Leads, 1)
	assert.Equal(t, "l1", resp.Leads[0].ID)
}
