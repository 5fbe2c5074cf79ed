package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"

	"github.com/anddigital/diagnosis-platform/internal/diagnosis"
	"github.com/anddigital/diagnosis-platform/internal/http/handlers"
	"github.com/anddigital/diagnosis-platform/internal/reconcile"
)

type stubReconciler struct{}

func (stubReconciler) Submit(context.Context, string, string, *diagnosis.Request) (*reconcile.Resolution, error) {
	return nil, reconcile.ErrNoResultAvailable
}
func (stubReconciler) Inject(context.Context, string, []byte) error { return nil }
func (stubReconciler) Restart(context.Context, string) error        { return nil }
func (stubReconciler) Lookup(string) *reconcile.Session             { return nil }
func (stubReconciler) StoredResult(context.Context, string) (*diagnosis.Result, error) {
	return nil, nil
}

func testRouter() http.Handler {
	rec := stubReconciler{}
	return New(&Config{
		Entry:          handlers.NewEntryHandler(rec, nil),
		Webhook:        handlers.NewWebhookHandler(rec, nil, "https://diagnosis.example.com", nil),
		Diagnosis:      handlers.NewDiagnosisHandler(rec, nil),
		MetricsHandler: promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
	})
}

func TestHealthEndpoint(t *testing.T) {
	r := testRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	r := testRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookRouteIsPermissive(t *testing.T) {
	r := testRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/webhook", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{"result":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestResultRoute(t *testing.T) {
	r := testRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/result/sess-1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no_result")
}

func TestEntryRoute(t *testing.T) {
	r := testRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?step=5&webhook_data=%7B%22result%22%3A%22x%22%7D", nil))
	assert.Equal(t, http.StatusFound, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	r := testRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
