package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/anddigital/diagnosis-platform/internal/diagnosis"
	"github.com/anddigital/diagnosis-platform/pkg/logging"
)

// EntryHandler consumes result payloads smuggled through the app's entry
// URL. The webhook redirect and older relays deliver results as query
// parameters; the handler injects them into the session and then redirects
// to the bare URL so the payload never survives in browser history.
type EntryHandler struct {
	reconciler Reconciler
	logger     *logging.Logger
}

func NewEntryHandler(reconciler Reconciler, logger *logging.Logger) *EntryHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &EntryHandler{reconciler: reconciler, logger: logger}
}

func (h *EntryHandler) Handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := sessionFromRequest(r)

	payload, source := entryPayload(q.Get("step"), q)
	if payload != "" {
		if !json.Valid([]byte(payload)) {
			// Defensive: a truncated or mangled parameter must not break
			// entry. Drop it and fall through to the clean state.
			h.logger.Warn("ignoring malformed entry payload",
				"session_id", sessionID, "source", source, "bytes", len(payload))
		} else if err := h.reconciler.Inject(r.Context(), sessionID, []byte(payload)); err != nil {
			h.logger.Error("failed to inject entry payload", "session_id", sessionID, "error", err)
		} else {
			h.logger.Info("entry payload consumed", "session_id", sessionID, "source", source)
		}
		// Scrub the URL regardless of outcome.
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	if q.Get("step") == "5" {
		h.handleResultStep(w, r, sessionID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "diagnosis-platform",
	})
}

// handleResultStep answers a bare step=5 entry: the page landed on the
// result step with nothing in the URL, so report whatever is known.
func (h *EntryHandler) handleResultStep(w http.ResponseWriter, r *http.Request, sessionID string) {
	res, err := h.reconciler.StoredResult(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to read stored result", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"step":    5,
			"result":  nil,
			"message": "診断結果データがありません",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"step":   5,
		"result": res,
		"report": diagnosis.ParseReport(res),
	})
}

// entryPayload picks the first recognized parameter carrying a result.
func entryPayload(step string, q map[string][]string) (payload, source string) {
	first := func(key string) string {
		if vs := q[key]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}
	if step == "5" {
		if v := first("webhook_data"); v != "" {
			return v, "webhook_data"
		}
		if v := first("result"); v != "" {
			return v, "result"
		}
	}
	// Legacy relay format predating the step parameter.
	if first("webhook") == "received" {
		if v := first("data"); v != "" {
			return v, "legacy_data"
		}
	}
	return "", ""
}
