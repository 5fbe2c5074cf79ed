package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/anddigital/diagnosis-platform/internal/diagnosis"
	"github.com/anddigital/diagnosis-platform/internal/reconcile"
	"github.com/anddigital/diagnosis-platform/pkg/logging"
)

// DiagnosisHandler drives a submission through the reconciliation race and
// serves the per-session result endpoints.
type DiagnosisHandler struct {
	reconciler Reconciler
	logger     *logging.Logger
}

func NewDiagnosisHandler(reconciler Reconciler, logger *logging.Logger) *DiagnosisHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &DiagnosisHandler{reconciler: reconciler, logger: logger}
}

// HandleSubmit runs the survey answers through the workflow and blocks until
// a result is reconciled or the wait window closes.
func (h *DiagnosisHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req diagnosis.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "invalid_body",
			"message": "request body is not valid JSON",
		})
		return
	}

	sessionID := sessionFromRequest(r)
	tenant := tenantFromHost(r.Host)

	res, err := h.reconciler.Submit(r.Context(), sessionID, tenant, &req)
	if err != nil {
		h.writeSubmitError(w, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *DiagnosisHandler) writeSubmitError(w http.ResponseWriter, sessionID string, err error) {
	var verr *diagnosis.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation_failed",
			"step":   verr.Step,
			"fields": verr.Fields,
		})
	case errors.Is(err, reconcile.ErrNoResultAvailable):
		h.logger.Warn("diagnosis timed out", "session_id", sessionID)
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{
			"error":   "timeout",
			"message": "診断結果の取得がタイムアウトしました。もう一度お試しください。",
			"timeout": true,
		})
	default:
		h.logger.Error("diagnosis submission failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal_error",
		})
	}
}

// HandleResult serves the session's result: a live resolved session first,
// then whatever the durable store still holds (page reloads).
func (h *DiagnosisHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")

	if sess := h.reconciler.Lookup(sessionID); sess != nil {
		if res, ch, ok := sess.Result(); ok {
			writeJSON(w, http.StatusOK, reconcile.Resolution{
				SessionID: sessionID,
				Channel:   ch,
				Result:    res,
				Report:    diagnosis.ParseReport(res),
			})
			return
		}
	}

	res, err := h.reconciler.StoredResult(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to read stored result", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if res == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "no_result",
			"message": "診断結果データがありません",
		})
		return
	}
	writeJSON(w, http.StatusOK, reconcile.Resolution{
		SessionID: sessionID,
		Channel:   reconcile.ChannelStore,
		Result:    res,
		Report:    diagnosis.ParseReport(res),
	})
}

// HandleRestart returns the session to a clean idle state.
func (h *DiagnosisHandler) HandleRestart(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	if err := h.reconciler.Restart(r.Context(), sessionID); err != nil {
		h.logger.Error("restart failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	h.logger.Info("session restarted", "session_id", sessionID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "restarted",
		"session_id": sessionID,
	})
}
