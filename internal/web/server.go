package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/notify"
	"github.com/nhle/onebox/internal/pipeline"
	"github.com/nhle/onebox/internal/store"
	syncpkg "github.com/nhle/onebox/internal/sync"
)

// Replier drafts reply suggestions for a stored message.
type Replier interface {
	SuggestReply(ctx context.Context, msg *model.Message) (string, error)
}

// Server is the HTTP API over the indexed mailbox data.
type Server struct {
	store    store.Store
	pipe     *pipeline.Pipeline
	manager  *syncpkg.Manager
	notifier *notify.Notifier
	replier  Replier
	accounts map[string]model.Account
	log      zerolog.Logger
	srv      *http.Server
}

// NewServer wires the API over the given components. The accounts map is
// keyed by account id and used for outbound replies.
func NewServer(
	addr string,
	st store.Store,
	pipe *pipeline.Pipeline,
	manager *syncpkg.Manager,
	notifier *notify.Notifier,
	replier Replier,
	accounts []model.Account,
	log zerolog.Logger,
) *Server {
	byID := make(map[string]model.Account, len(accounts))
	for _, acct := range accounts {
		byID[acct.ID] = acct
	}

	s := &Server{
		store:    st,
		pipe:     pipe,
		manager:  manager,
		notifier: notifier,
		replier:  replier,
		accounts: byID,
		log:      log.With().Str("component", "web").Logger(),
	}

	r := mux.NewRouter()
	s.routes(r)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)

	s.srv = &http.Server{
		Handler:      handler,
		Addr:         addr,
		WriteTimeout: 30 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving the API.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) routes(r *mux.Router) {
	api := r.PathPrefix("/api/").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Fixed paths before the {id} routes so mux never shadows them.
	api.HandleFunc("/emails/search", s.handleSearch).Methods("GET")
	api.HandleFunc("/emails/categorize", s.handleCategorize).Methods("POST")
	api.HandleFunc("/emails/accounts/list", s.handleAccounts).Methods("GET")
	api.HandleFunc("/emails/stats/overview", s.handleStats).Methods("GET")
	api.HandleFunc("/emails/test/webhooks", s.handleTestWebhooks).Methods("POST")

	api.HandleFunc("/emails", s.handleSearch).Methods("GET")
	api.HandleFunc("/emails/{id}", s.handleGet).Methods("GET")
	api.HandleFunc("/emails/{id}", s.handleDelete).Methods("DELETE")
	api.HandleFunc("/emails/{id}/suggest-reply", s.handleSuggestReply).Methods("POST")
	api.HandleFunc("/emails/{id}/reply", s.handleReply).Methods("POST")

	api.HandleFunc("/leads", s.handleLeads).Methods("GET")
}
