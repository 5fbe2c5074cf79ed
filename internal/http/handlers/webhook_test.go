package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anddigital/diagnosis-platform/internal/diagnosis"
	"github.com/anddigital/diagnosis-platform/internal/reconcile"
)

type fakeReconciler struct {
	mu sync.Mutex

	submitFn func(sessionID, tenant string, req *diagnosis.Request) (*reconcile.Resolution, error)
	stored   *diagnosis.Result

	injectedSessions []string
	injectedPayloads [][]byte
	injectErr        error
	restarted        []string
}

func (f *fakeReconciler) Submit(_ context.Context, sessionID, tenant string, req *diagnosis.Request) (*reconcile.Resolution, error) {
	if f.submitFn != nil {
		return f.submitFn(sessionID, tenant, req)
	}
	return nil, reconcile.ErrNoResultAvailable
}

func (f *fakeReconciler) Inject(_ context.Context, sessionID string, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.injectErr != nil {
		return f.injectErr
	}
	f.injectedSessions = append(f.injectedSessions, sessionID)
	f.injectedPayloads = append(f.injectedPayloads, raw)
	return nil
}

func (f *fakeReconciler) Restart(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarted = append(f.restarted, sessionID)
	return nil
}

func (f *fakeReconciler) Lookup(string) *reconcile.Session { return nil }

func (f *fakeReconciler) StoredResult(context.Context, string) (*diagnosis.Result, error) {
	return f.stored, nil
}

func (f *fakeReconciler) lastInjected() (string, []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.injectedSessions) == 0 {
		return "", nil
	}
	i := len(f.injectedSessions) - 1
	return f.injectedSessions[i], f.injectedPayloads[i]
}

func TestWebhookPostJSONDelivery(t *testing.T) {
	rec := &fakeReconciler{}
	h := NewWebhookHandler(rec, nil, "https://diagnosis.example.com", nil)

	payload := `{"data":{"status":"succeeded","outputs":{"result":"<p>ok</p>"}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/webhook?session=sess-1", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Handle(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	sess, raw := rec.lastInjected()
	assert.Equal(t, "sess-1", sess)
	assert.JSONEq(t, payload, string(raw))

	body := w.Body.String()
	assert.Contains(t, body, "step=5&webhook_data=")
	assert.Contains(t, body, "http-equiv=\"refresh\"")
	assert.Contains(t, body, "window.location.href")
}

func TestWebhookPostFormDelivery(t *testing.T) {
	rec := &fakeReconciler{}
	h := NewWebhookHandler(rec, nil, "https://diagnosis.example.com", nil)

	form := "output=image%3Chr%3Etype%3Chr%3Etext%3Chr%3Eguide&name=%E5%B1%B1%E7%94%B0"
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.Handle(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	_, raw := rec.lastInjected()
	var flat map[string]string
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Equal(t, "image<hr>type<hr>text<hr>guide", flat["output"])
	assert.Equal(t, "山田", flat["name"])
}

func TestWebhookStringWrappedJSONPassesThrough(t *testing.T) {
	rec := &fakeReconciler{}
	h := NewWebhookHandler(rec, nil, "https://diagnosis.example.com", nil)

	wrapped := `"{\"result\":\"ok\"}"`
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(wrapped))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Handle(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	_, raw := rec.lastInjected()
	assert.Equal(t, wrapped, string(raw))
}

func TestWebhookAlways200OnStoreError(t *testing.T) {
	rec := &fakeReconciler{injectErr: assert.AnError}
	h := NewWebhookHandler(rec, nil, "https://diagnosis.example.com", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{"result":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Handle(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "webhook_data=")
}

func TestWebhookGetStatus(t *testing.T) {
	h := NewWebhookHandler(&fakeReconciler{}, nil, "https://diagnosis.example.com", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/webhook", nil)
	w := httptest.NewRecorder()
	h.Handle(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "active", status["status"])
}

func TestWebhookOptions(t *testing.T) {
	h := NewWebhookHandler(&fakeReconciler{}, nil, "https://diagnosis.example.com", nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/webhook", nil)
	w := httptest.NewRecorder()
	h.Handle(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookDefaultsToSharedSession(t *testing.T) {
	rec := &fakeReconciler{}
	h := NewWebhookHandler(rec, nil, "https://diagnosis.example.com", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{"result":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Handle(w, req)

	sess, _ := rec.lastInjected()
	assert.Equal(t, "default", sess)
}
