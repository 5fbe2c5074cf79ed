package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anddigital/diagnosis-platform/internal/diagnosis"
	"github.com/anddigital/diagnosis-platform/internal/observability/metrics"
	"github.com/anddigital/diagnosis-platform/internal/reconcile"
	"github.com/anddigital/diagnosis-platform/pkg/logging"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// Reconciler is the controller surface the HTTP layer needs.
type Reconciler interface {
	Submit(ctx context.Context, sessionID, tenant string, req *diagnosis.Request) (*reconcile.Resolution, error)
	Inject(ctx context.Context, sessionID string, raw []byte) error
	Restart(ctx context.Context, sessionID string) error
	Lookup(sessionID string) *reconcile.Session
	StoredResult(ctx context.Context, sessionID string) (*diagnosis.Result, error)
}

// WebhookHandler receives out-of-band result deliveries from the workflow
// provider and its relays.
type WebhookHandler struct {
	reconciler Reconciler
	metrics    *metrics.ReconcileMetrics
	logger     *logging.Logger
	baseURL    string
}

func NewWebhookHandler(reconciler Reconciler, m *metrics.ReconcileMetrics, baseURL string, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		reconciler: reconciler,
		metrics:    m,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		h.handleStatus(w)
	case http.MethodPost:
		h.handleDelivery(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleStatus answers relay health probes.
func (h *WebhookHandler) handleStatus(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "active",
		"message": "webhook endpoint is running",
		"methods": []string{"GET", "POST", "OPTIONS"},
	})
}

// handleDelivery accepts a result payload in whatever shape the relay chose
// and always answers 200: a non-2xx would make the relay retry a delivery we
// have already recorded, and the user's browser may be following this
// response directly.
func (h *WebhookHandler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sessionID := sessionFromRequest(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("failed to read webhook body", "session_id", sessionID, "error", err)
		body = nil
	}

	ctKind := contentKind(r.Header.Get("Content-Type"))
	payload := body
	if ctKind == "form" {
		payload = formToJSON(body)
	}

	status := "accepted"
	if len(payload) == 0 {
		status = "empty"
		h.logger.Warn("empty webhook delivery", "session_id", sessionID)
	} else if err := h.reconciler.Inject(r.Context(), sessionID, payload); err != nil {
		// The bus publish still happened or the store write failed; either
		// way the waiting page can fall back to the redirect below.
		status = "store_error"
		h.logger.Error("failed to record webhook delivery", "session_id", sessionID, "error", err)
	} else {
		h.logger.Info("webhook delivery recorded",
			"session_id", sessionID,
			"content_type", ctKind,
			"bytes", len(payload),
		)
	}

	h.metrics.ObserveWebhook(ctKind, status)
	h.metrics.ObserveWebhookLatency(ctKind, time.Since(start).Seconds())

	h.writeRedirect(w, payload)
}

// writeRedirect answers with an HTML document that carries the payload back
// into the app via the entry URL, for the browser-navigation delivery path.
func (h *WebhookHandler) writeRedirect(w http.ResponseWriter, payload []byte) {
	target := h.baseURL + "/?step=5&webhook_data=" + url.QueryEscape(string(payload))
	escaped := html.EscapeString(target)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="ja">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="0;url=%s">
<title>診断結果を受信しました</title>
</head>
<body>
<p>診断結果ページへ移動しています…</p>
<p><a href="%s">自動で移動しない場合はこちら</a></p>
<script>window.location.href=%s;</script>
</body>
</html>
`, escaped, escaped, mustScriptString(target))
}

// contentKind buckets the Content-Type header for branching and metrics.
func contentKind(ct string) string {
	ct = strings.ToLower(ct)
	if strings.Contains(ct, "application/x-www-form-urlencoded") {
		return "form"
	}
	return "json"
}

// formToJSON re-encodes a form-urlencoded body as a flat JSON object, first
// value per key, so the normalizer sees one payload shape.
func formToJSON(body []byte) []byte {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return body
	}
	flat := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			flat[k] = vs[0]
		}
	}
	out, err := json.Marshal(flat)
	if err != nil {
		return body
	}
	return out
}

func mustScriptString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `"/"`
	}
	return string(b)
}
