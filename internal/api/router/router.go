package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/anddigital/diagnosis-platform/internal/http/handlers"
	httpmiddleware "github.com/anddigital/diagnosis-platform/internal/http/middleware"
	"github.com/anddigital/diagnosis-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger        *logging.Logger
	Entry         *handlers.EntryHandler
	Webhook       *handlers.WebhookHandler
	Diagnosis     *handlers.DiagnosisHandler
	Draft         *handlers.DraftHandler
	Archive       *handlers.ArchiveHandler
	ResultsSocket *handlers.ResultsSocketHandler

	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Submission rate limit per client; zero disables it.
	SubmitRate  float64
	SubmitBurst int
}

// New creates a Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", handleHealth)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Entry URL: result payloads arrive here as query parameters.
	if cfg.Entry != nil {
		r.Get("/", cfg.Entry.Handle)
	}

	// The webhook receiver accepts posts from arbitrary provider
	// infrastructure, so it gets its own fully open CORS policy and
	// handles GET/POST/OPTIONS itself.
	if cfg.Webhook != nil {
		r.With(httpmiddleware.PermissiveCORS).Handle("/api/webhook", http.HandlerFunc(cfg.Webhook.Handle))
	}

	if cfg.Diagnosis != nil {
		submit := chi.Chain()
		if cfg.SubmitRate > 0 {
			submit = chi.Chain(httpmiddleware.RateLimit(cfg.SubmitRate, cfg.SubmitBurst))
		}
		r.With(submit...).Post("/api/diagnosis", cfg.Diagnosis.HandleSubmit)
		r.Get("/api/result/{session}", cfg.Diagnosis.HandleResult)
		r.Post("/api/restart/{session}", cfg.Diagnosis.HandleRestart)
	}

	if cfg.Draft != nil {
		r.Route("/api/draft/{session}", func(draft chi.Router) {
			draft.Put("/", cfg.Draft.HandleSave)
			draft.Get("/", cfg.Draft.HandleLoad)
			draft.Delete("/", cfg.Draft.HandleDelete)
		})
	}

	if cfg.Archive != nil {
		r.Get("/api/archive", cfg.Archive.HandleList)
	}

	if cfg.ResultsSocket != nil {
		r.Get("/ws/results", cfg.ResultsSocket.Handle)
	}

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
