package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/WessleyAI/pricing-engine/engine/app"
	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/pkg/mid"
)

// maxUpload bounds spreadsheet uploads.
const maxUpload = 32 << 20

type server struct {
	engine *app.App
	log    *slog.Logger
}

func newServer(engine *app.App, log *slog.Logger) *server {
	if log == nil {
		log = slog.Default()
	}
	return &server{engine: engine, log: log}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("GET /metrics", s.engine.Metrics.Handler())

	mux.HandleFunc("GET /api/analysis", s.handleAnalyzeAll)
	mux.HandleFunc("POST /api/analysis", s.handleAnalyzeVehicle)
	mux.HandleFunc("GET /api/vehicles/{id}/analysis", s.handleAnalyze)
	mux.HandleFunc("POST /api/vehicles/{id}/simulate", s.handleSimulate)
	mux.HandleFunc("POST /api/vehicles/{id}/simulate-range", s.handleSimulateRange)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("POST /api/scrape", s.handleScrape)
	mux.HandleFunc("GET /api/sources", s.handleSources)
	mux.HandleFunc("POST /api/normalize", s.handleNormalize)
	mux.HandleFunc("POST /api/import", s.handleImport)
	mux.HandleFunc("GET /api/import/template", s.handleTemplate)

	return mid.Chain(mux,
		mid.Recover(s.log),
		mid.RequestID(),
		mid.OTel("pricing-api"),
		mid.Logger(s.log),
		mid.CORS(s.engine.Config.HTTP.CORSOrigin),
		mid.Metrics(s.engine.Metrics),
	)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve),
		errors.Is(err, domain.ErrInvalidPriceRange),
		errors.Is(err, domain.ErrInvalidSteps),
		errors.Is(err, domain.ErrNoSheets):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidVehicle):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	if status == http.StatusInternalServerError {
		s.log.Error("api: request failed", "path", r.URL.Path, "request_id", mid.RequestIDFrom(r.Context()), "err", err)
		body = errorBody{Error: "internal server error"}
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
