package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/engine/importer"
	"github.com/WessleyAI/pricing-engine/engine/pricing"
)

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// analysisOptions reads ?year_window=N and ?reference=false.
func analysisOptions(r *http.Request) ([]pricing.Option, error) {
	var opts []pricing.Option
	q := r.URL.Query()
	if v := q.Get("year_window"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, domain.NewValidationError("year_window", v, domain.ErrUnparseable)
		}
		opts = append(opts, pricing.WithYearWindow(n))
	}
	if v := q.Get("reference"); v != "" {
		with, err := strconv.ParseBool(v)
		if err != nil {
			return nil, domain.NewValidationError("reference", v, domain.ErrUnparseable)
		}
		if !with {
			opts = append(opts, pricing.WithoutReferencePrices())
		}
	}
	return opts, nil
}

// vehicle resolves {id} against the inventory, writing the error response
// itself when it returns false.
func (s *server) vehicle(w http.ResponseWriter, r *http.Request) (domain.Vehicle, bool) {
	id := r.PathValue("id")
	v, ok, err := s.engine.Inventory.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return v, false
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "vehicle not found", Field: "id"})
		return v, false
	}
	return v, true
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	opts, err := analysisOptions(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, ok := s.vehicle(w, r)
	if !ok {
		return
	}
	pa, err := s.engine.Analyzer.Analyze(r.Context(), v, opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pa)
}

// handleAnalyzeVehicle analyzes a vehicle given in the body, for callers
// pricing a unit before it enters the inventory.
func (s *server) handleAnalyzeVehicle(w http.ResponseWriter, r *http.Request) {
	opts, err := analysisOptions(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var v domain.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	pa, err := s.engine.Analyzer.Analyze(r.Context(), v, opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pa)
}

func (s *server) handleAnalyzeAll(w http.ResponseWriter, r *http.Request) {
	opts, err := analysisOptions(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vehicles, err := s.engine.Inventory.InStock(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	all, err := s.engine.Analyzer.AnalyzeAll(r.Context(), vehicles, opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if all == nil {
		all = []domain.PriceAnalysis{}
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	opts, err := analysisOptions(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vehicles, err := s.engine.Inventory.InStock(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.engine.Analyzer.Aggregate(r.Context(), vehicles, opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// SimulateRequest is the JSON body for POST /api/vehicles/{id}/simulate.
type SimulateRequest struct {
	Price float64 `json:"precio_propuesto"`
}

func (s *server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	v, ok := s.vehicle(w, r)
	if !ok {
		return
	}
	point, err := s.engine.Simulator.Simulate(r.Context(), v, req.Price)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, point)
}

// SimulateRangeRequest is the JSON body for
// POST /api/vehicles/{id}/simulate-range.
type SimulateRangeRequest struct {
	Min   float64 `json:"precio_min"`
	Max   float64 `json:"precio_max"`
	Steps int     `json:"pasos"`
}

func (s *server) handleSimulateRange(w http.ResponseWriter, r *http.Request) {
	var req SimulateRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	v, ok := s.vehicle(w, r)
	if !ok {
		return
	}
	points, err := s.engine.Simulator.SimulateRange(r.Context(), v, req.Min, req.Max, req.Steps)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// ScrapeRequest is the optional JSON body for POST /api/scrape. No sources
// runs every connector.
type ScrapeRequest struct {
	Sources []domain.Source `json:"fuentes"`
}

func (s *server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid request body")
		return
	}
	res, err := s.engine.Scraper.Run(r.Context(), req.Sources...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type sourceStatus struct {
	Source  domain.Source `json:"fuente"`
	Breaker string        `json:"circuito"`
}

func (s *server) handleSources(w http.ResponseWriter, _ *http.Request) {
	states := s.engine.Scraper.Breakers()
	out := []sourceStatus{}
	for _, src := range s.engine.Scraper.Sources() {
		out = append(out, sourceStatus{Source: src, Breaker: states[src].String()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Normalizer.Normalize(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleImport takes a multipart upload with the workbook in "file" and an
// optional "overwrite" flag.
func (s *server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		badRequest(w, "invalid multipart form")
		return
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing file", Field: "file"})
		return
	}
	defer f.Close()

	overwrite := false
	if v := r.FormValue("overwrite"); v != "" {
		if overwrite, err = strconv.ParseBool(v); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid overwrite flag", Field: "overwrite"})
			return
		}
	}
	res, err := s.engine.Importer.Import(r.Context(), f, overwrite)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="precios_plantilla.xlsx"`)
	if err := importer.WriteTemplate(w); err != nil {
		s.log.Error("api: write template", "err", err)
	}
}
