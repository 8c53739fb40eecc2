package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saffronlabs/saffron/pkg/account"
)

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Status())
}

type addAccountRequest struct {
	CookieValue      string              `json:"cookie_value,omitempty"`
	OAuthToken       *account.OAuthToken `json:"oauth_token,omitempty"`
	OrganizationUUID string              `json:"organization_uuid,omitempty"`
	Capabilities     []string            `json:"capabilities,omitempty"`
}

func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var req addAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed request body")
		return
	}

	acct, err := s.pool.Add(r.Context(), account.AddOptions{
		CookieValue:      req.CookieValue,
		OAuthToken:       req.OAuthToken,
		OrganizationUUID: req.OrganizationUUID,
		Capabilities:     req.Capabilities,
	})
	if err != nil {
		if errors.Is(err, account.ErrNoCredentials) {
			writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "api_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"organization_uuid": acct.OrganizationUUID,
		"auth_type":         acct.AuthType,
		"status":            acct.Status,
		"capabilities":      acct.Capabilities,
	})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	if err := s.pool.Remove(uuid); err != nil {
		writeError(w, http.StatusNotFound, "not_found_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchRequest struct {
	OrganizationUUIDs []string `json:"organization_uuids"`
	Concurrency       int      `json:"concurrency,omitempty"`
}

func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed request body")
		return
	}
	writeJSON(w, http.StatusOK, s.pool.BatchRemove(req.OrganizationUUIDs))
}

func (s *Server) handleRefreshAccount(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	result := s.pool.RefreshStatus(r.Context(), uuid)
	if result.Error == "account not found" {
		writeError(w, http.StatusNotFound, "not_found_error", result.Error)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBatchRefresh(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed request body")
		return
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = s.cfg.Accounts.RefreshConcurrency
	}
	writeJSON(w, http.StatusOK, s.pool.BatchRefresh(r.Context(), req.OrganizationUUIDs, concurrency))
}
