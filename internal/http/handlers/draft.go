package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/anddigital/diagnosis-platform/internal/diagnosis"
	"github.com/anddigital/diagnosis-platform/internal/resultstore"
	"github.com/anddigital/diagnosis-platform/pkg/logging"
)

// DraftHandler persists partially filled survey forms so a reload or a
// restarted device resumes where the user left off. Drafts are never
// validated; any subset of answers is storable.
type DraftHandler struct {
	store  *resultstore.Store
	logger *logging.Logger
}

func NewDraftHandler(store *resultstore.Store, logger *logging.Logger) *DraftHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &DraftHandler{store: store, logger: logger}
}

func (h *DraftHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")

	var req diagnosis.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "invalid_body",
			"message": "draft body is not valid JSON",
		})
		return
	}
	if err := h.store.SaveDraft(r.Context(), sessionID, &req); err != nil {
		h.logger.Error("failed to save draft", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "session_id": sessionID})
}

func (h *DraftHandler) HandleLoad(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")

	draft, err := h.store.LoadDraft(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to load draft", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if draft == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no_draft"})
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (h *DraftHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")

	if err := h.store.DeleteDraft(r.Context(), sessionID); err != nil {
		h.logger.Error("failed to delete draft", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": sessionID})
}
