package handlers

import (
	"net/http"
	"time"

	"golang.org/x/net/websocket"

	"github.com/anddigital/diagnosis-platform/internal/diagnosis"
	"github.com/anddigital/diagnosis-platform/pkg/logging"
)

// ResultsSocketHandler pushes the resolved result over a websocket so the
// waiting page hears about it without polling.
type ResultsSocketHandler struct {
	reconciler Reconciler
	logger     *logging.Logger

	pollEvery time.Duration
	maxWait   time.Duration
}

func NewResultsSocketHandler(reconciler Reconciler, logger *logging.Logger) *ResultsSocketHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ResultsSocketHandler{
		reconciler: reconciler,
		logger:     logger,
		pollEvery:  500 * time.Millisecond,
		maxWait:    60 * time.Second,
	}
}

type socketEvent struct {
	Type   string            `json:"type"` // "result", "pending", "error"
	Result *diagnosis.Result `json:"result,omitempty"`
	Report *diagnosis.Report `json:"report,omitempty"`
	Error  string            `json:"error,omitempty"`
}

func (h *ResultsSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serve(conn, r)
	}).ServeHTTP(w, r)
}

func (h *ResultsSocketHandler) serve(conn *websocket.Conn, r *http.Request) {
	sessionID := sessionFromRequest(r)
	h.logger.Info("results socket opened", "session_id", sessionID)
	defer h.logger.Info("results socket closed", "session_id", sessionID)

	// A session already tracked in memory resolves through its done
	// channel; otherwise fall back to watching the durable store.
	if sess := h.reconciler.Lookup(sessionID); sess != nil {
		select {
		case <-sess.Done():
			if res, _, ok := sess.Result(); ok {
				h.send(conn, res)
				return
			}
			_ = websocket.JSON.Send(conn, socketEvent{Type: "error", Error: "no result available"})
			return
		case <-time.After(h.maxWait):
			_ = websocket.JSON.Send(conn, socketEvent{Type: "error", Error: "timed out"})
			return
		case <-r.Context().Done():
			return
		}
	}

	ticker := time.NewTicker(h.pollEvery)
	defer ticker.Stop()
	deadline := time.NewTimer(h.maxWait)
	defer deadline.Stop()

	_ = websocket.JSON.Send(conn, socketEvent{Type: "pending"})
	for {
		select {
		case <-ticker.C:
			res, err := h.reconciler.StoredResult(r.Context(), sessionID)
			if err != nil {
				h.logger.Warn("results socket store read failed", "session_id", sessionID, "error", err)
				continue
			}
			if res != nil {
				h.send(conn, res)
				return
			}
		case <-deadline.C:
			_ = websocket.JSON.Send(conn, socketEvent{Type: "error", Error: "timed out"})
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *ResultsSocketHandler) send(conn *websocket.Conn, res *diagnosis.Result) {
	report := diagnosis.ParseReport(res)
	_ = websocket.JSON.Send(conn, socketEvent{Type: "result", Result: res, Report: &report})
}
