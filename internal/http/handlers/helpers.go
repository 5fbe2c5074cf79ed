package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/anddigital/diagnosis-platform/internal/resultstore"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sessionFromRequest resolves the caller's session id from the X-Session-Id
// header or the session query parameter, falling back to the shared slot.
func sessionFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Session-Id")); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.URL.Query().Get("session")); id != "" {
		return id
	}
	return resultstore.DefaultSession
}

// tenantFromHost extracts the tenant subdomain, e.g. "acme" from
// acme.diagnosis.example.com. Bare or two-label hosts have no tenant.
func tenantFromHost(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	sub := labels[0]
	switch sub {
	case "www", "api":
		return ""
	}
	return sub
}
