package handlers

import (
	"net/http"
	"strconv"

	"github.com/anddigital/diagnosis-platform/internal/archive"
	"github.com/anddigital/diagnosis-platform/pkg/logging"
)

// ArchiveHandler lists past diagnoses from the Postgres archive.
type ArchiveHandler struct {
	store  *archive.Store
	logger *logging.Logger
}

func NewArchiveHandler(store *archive.Store, logger *logging.Logger) *ArchiveHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ArchiveHandler{store: store, logger: logger}
}

func (h *ArchiveHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromHost(r.Host)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.store.Recent(r.Context(), tenant, limit)
	if err != nil {
		h.logger.Error("failed to list archive", "tenant", tenant, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if entries == nil {
		entries = []archive.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
