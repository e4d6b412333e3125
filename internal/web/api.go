package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nhle/onebox/internal/mailbox"
	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/store"
	syncpkg "github.com/nhle/onebox/internal/sync"
)

type searchResponse struct {
	Emails []model.Message `json:"emails"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn().Err(err).Msg("encoding response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"accounts": s.manager.Statuses(),
	})
}

// handleSearch serves both the listing and search endpoints; they share
// the filter surface, search just requires q.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter store.Filter
	if v := q.Get("q"); v != "" {
		filter.Query = &v
	}
	if v := q.Get("account"); v != "" {
		filter.AccountID = &v
	}
	if v := q.Get("folder"); v != "" {
		filter.Folder = &v
	}
	if v := q.Get("category"); v != "" {
		cat := model.Category(v)
		if !model.ValidCategory(cat) && cat != model.CategoryUncategorized {
			s.writeError(w, http.StatusBadRequest, "unknown category: "+v)
			return
		}
		filter.Category = &cat
	}
	filter.Page = intQuery(q.Get("page"), 1)
	filter.Limit = intQuery(q.Get("limit"), 20)

	msgs, total, err := s.store.Search(r.Context(), filter)
	if err != nil {
		s.log.Error().Err(err).Msg("search failed")
		s.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	s.writeJSON(w, http.StatusOK, searchResponse{
		Emails: msgs,
		Total:  total,
		Page:   filter.Page,
		Limit:  filter.Limit,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	msg, err := s.store.GetByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "email not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("id", id).Msg("lookup failed")
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := s.store.DeleteByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "email not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("id", id).Msg("delete failed")
		s.writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	updated, err := s.pipe.Reclassify(r.Context(), req.IDs)
	if err != nil {
		s.log.Error().Err(err).Msg("reclassify failed")
		s.writeError(w, http.StatusInternalServerError, "reclassify failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *Server) handleSuggestReply(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	msg, err := s.store.GetByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "email not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	reply, err := s.replier.SuggestReply(r.Context(), msg)
	if err != nil {
		s.log.Warn().Err(err).Str("id", id).Msg("suggest reply failed")
		s.writeError(w, http.StatusBadGateway, "reply suggestion unavailable")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		s.writeError(w, http.StatusBadRequest, "body is required")
		return
	}

	msg, err := s.store.GetByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "email not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	acct, ok := s.accounts[msg.AccountID]
	if !ok {
		s.writeError(w, http.StatusConflict, "account no longer configured")
		return
	}

	if err := mailbox.SendReply(acct, msg, req.Body); err != nil {
		s.log.Error().Err(err).Str("id", id).Msg("sending reply failed")
		s.writeError(w, http.StatusBadGateway, "sending reply failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

type accountInfo struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	LastSync string `json:"lastSync,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleAccounts merges accounts known to the store with the live sync
// states. Accounts present in the index but no longer syncing report an
// empty state.
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.AccountIDs(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("listing accounts failed")
		s.writeError(w, http.StatusInternalServerError, "listing accounts failed")
		return
	}

	states := make(map[string]syncpkg.Status)
	for _, st := range s.manager.Statuses() {
		states[st.AccountID] = st
		found := false
		for _, id := range ids {
			if id == st.AccountID {
				found = true
				break
			}
		}
		if !found {
			ids = append(ids, st.AccountID)
		}
	}

	accounts := make([]accountInfo, 0, len(ids))
	for _, id := range ids {
		info := accountInfo{ID: id}
		if st, ok := states[id]; ok {
			info.State = st.State
			info.Error = st.Err
			if !st.LastSync.IsZero() {
				info.LastSync = st.LastSync.Format(time.RFC3339)
			}
		}
		accounts = append(accounts, info)
	}

	s.writeJSON(w, http.StatusOK, map[string][]accountInfo{"accounts": accounts})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var accountID *string
	if v := r.URL.Query().Get("account"); v != "" {
		accountID = &v
	}

	counts, err := s.store.CategoryCounts(r.Context(), accountID)
	if err != nil {
		s.log.Error().Err(err).Msg("stats failed")
		s.writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}

	total := 0
	byCategory := make(map[string]int, len(counts))
	for cat, n := range counts {
		byCategory[string(cat)] = n
		total += n
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":      total,
		"categories": byCategory,
	})
}

func (s *Server) handleTestWebhooks(w http.ResponseWriter, r *http.Request) {
	results := s.notifier.Test(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"channels": results})
}

func (s *Server) handleLeads(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r.URL.Query().Get("limit"), 50)

	leads, err := s.store.RecentLeads(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("listing leads failed")
		s.writeError(w, http.StatusInternalServerError, "listing leads failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"leads": leads})
}

func intQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
