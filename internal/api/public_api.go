package api

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tinywideclouds/go-dispatch-service/internal/orchestrator"
	"github.com/tinywideclouds/go-dispatch-service/pkg/dispatch"
)

// PublicAPI serves the unauthenticated endpoints. The only access control
// is a pre-shared key in the body, compared against configuration.
type PublicAPI struct {
	dispatcher Dispatcher
	apiKey     string
	logger     *slog.Logger
}

// NewPublicAPI builds the handlers. An empty apiKey rejects every request.
func NewPublicAPI(dispatcher Dispatcher, apiKey string, logger *slog.Logger) *PublicAPI {
	return &PublicAPI{
		dispatcher: dispatcher,
		apiKey:     apiKey,
		logger:     logger.With("component", "PublicAPI"),
	}
}

type PublicSendRequest struct {
	Token  string         `json:"token"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Type   string         `json:"type"`
	Data   map[string]any `json:"data"`
	APIKey string         `json:"apiKey"`
}

type PillTakenRequest struct {
	Token      string `json:"token"`
	ElderName  string `json:"elderName"`
	PillName   string `json:"pillName"`
	GuardianID string `json:"guardianId"`
	APIKey     string `json:"apiKey"`
}

// SendNotification is the generic public send. A success is recorded in the
// sent-notifications log.
func (api *PublicAPI) SendNotification(w http.ResponseWriter, r *http.Request) {
	if !api.acceptPost(w, r) {
		return
	}

	var req PublicSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePublicError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !api.authorized(req.APIKey) {
		api.logger.Warn("Rejected request with bad api key", "remote", r.RemoteAddr)
		writePublicError(w, http.StatusForbidden, "Unauthorized")
		return
	}

	api.dispatch(w, r, orchestrator.Job{
		Intent: dispatch.NotificationIntent{
			RecipientToken: req.Token,
			Title:          req.Title,
			Body:           req.Body,
			Category:       dispatch.Category(req.Type),
			StructuredData: req.Data,
		},
		Audit: orchestrator.Audit{SentLog: true},
	})
}

// SendPillTaken tells a guardian that a medication was taken. Title and body
// are composed here; the entry also lands in the guardian's history.
func (api *PublicAPI) SendPillTaken(w http.ResponseWriter, r *http.Request) {
	if !api.acceptPost(w, r) {
		return
	}

	var req PillTakenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePublicError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !api.authorized(req.APIKey) {
		api.logger.Warn("Rejected pill-taken request with bad api key", "remote", r.RemoteAddr)
		writePublicError(w, http.StatusForbidden, "Unauthorized")
		return
	}

	api.dispatch(w, r, orchestrator.Job{
		Intent: dispatch.NotificationIntent{
			RecipientToken: req.Token,
			Title:          "Medication Taken",
			Body:           fmt.Sprintf("%s has taken %s", req.ElderName, req.PillName),
			Category:       dispatch.CategoryMedicationTaken,
			StructuredData: map[string]any{
				"elderName":  req.ElderName,
				"pillName":   req.PillName,
				"guardianId": req.GuardianID,
			},
			SourceID: req.GuardianID,
		},
		Audit: orchestrator.Audit{SentLog: true, OwnerLog: true},
	})
}

func (api *PublicAPI) dispatch(w http.ResponseWriter, r *http.Request, job orchestrator.Job) {
	if strings.TrimSpace(job.Intent.RecipientToken) == "" {
		writePublicError(w, http.StatusBadRequest, "missing token")
		return
	}

	outcome, err := api.dispatcher.Dispatch(r.Context(), job)
	if err != nil {
		api.logger.Error("Public dispatch failed", "state", outcome.State, "err", err)
		writePublicError(w, httpStatus(err), clientMessage(err, "failed to send notification"))
		return
	}

	writeJSON(w, http.StatusOK, SendResponse{Success: true, MessageID: outcome.MessageID})
}

// acceptPost answers preflight and wrong-method requests. It reports whether
// the handler should go on.
func (api *PublicAPI) acceptPost(w http.ResponseWriter, r *http.Request) bool {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")

	switch r.Method {
	case http.MethodPost:
		return true
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return false
	default:
		h.Set("Allow", http.MethodPost)
		writePublicError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return false
	}
}

func (api *PublicAPI) authorized(key string) bool {
	if api.apiKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(api.apiKey)) == 1
}

func writePublicError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
