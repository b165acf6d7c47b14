// Package api serves the monitor's HTTP surface: the latest fused state,
// the calibrated baseline, pipeline counters and a live SSE update stream.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/biotrace-data/vitals.monitor/internal/db"
	"github.com/biotrace-data/vitals.monitor/internal/expression"
	"github.com/biotrace-data/vitals.monitor/internal/fusion"
	"github.com/biotrace-data/vitals.monitor/internal/fusion/network"
	"github.com/biotrace-data/vitals.monitor/internal/hub"
	"github.com/biotrace-data/vitals.monitor/internal/market"
	"github.com/biotrace-data/vitals.monitor/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Config wires the server's data sources. Processor and Store are required;
// every other field is optional and a nil disables its endpoints or stats
// section.
type Config struct {
	Processor  *fusion.Processor
	Store      *fusion.Store
	Updates    *hub.Hub[fusion.Update]
	DB         *db.DB
	Recorder   *db.Recorder
	Market     *market.Tracker
	Expression *expression.Client
	Ingest     *network.IngestStats
}

type Server struct {
	proc    *fusion.Processor
	store   *fusion.Store
	updates *hub.Hub[fusion.Update]
	db      *db.DB
	rec     *db.Recorder
	market  *market.Tracker
	expr    *expression.Client
	ingest  *network.IngestStats
	started time.Time
}

func NewServer(cfg Config) *Server {
	return &Server{
		proc:    cfg.Processor,
		store:   cfg.Store,
		updates: cfg.Updates,
		db:      cfg.DB,
		rec:     cfg.Recorder,
		market:  cfg.Market,
		expr:    cfg.Expression,
		ingest:  cfg.Ingest,
		started: time.Now(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/baseline", s.showBaseline)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/health", s.showHealth)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/cycles", s.listCycles)
	mux.HandleFunc("/api/stream", s.streamUpdates)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	snapshot := s.proc.Snapshot()
	if snapshot.At.IsZero() {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No update published yet")
		return
	}

	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write state")
		return
	}
}

// baselineResponse wraps the calibrated statistics with an explicit flag so
// the dashboard can tell "still calibrating" from "calibrated with gaps".
type baselineResponse struct {
	Calibrated bool `json:"calibrated"`
	fusion.Baseline
}

func (s *Server) showBaseline(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	b := s.store.GetBaseline()
	resp := baselineResponse{
		Calibrated: b.Complete(),
		Baseline:   b,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write baseline")
		return
	}
}

type processorStats struct {
	Cycles   uint64 `json:"cycles"`
	Stale    uint64 `json:"stale_cycles"`
	Dropped  uint64 `json:"dropped_notifications"`
	Degraded uint64 `json:"degraded_cycles"`
}

type bufferStats struct {
	EEGSamples int    `json:"eeg_samples"`
	PPGSamples int    `json:"ppg_samples"`
	ACCSamples int    `json:"acc_samples"`
	EEGDropped uint64 `json:"eeg_dropped"`
	PPGDropped uint64 `json:"ppg_dropped"`
}

type streamStats struct {
	Subscribers int    `json:"subscribers"`
	Dropped     uint64 `json:"dropped"`
}

type marketStats struct {
	Trend    fusion.Trend `json:"trend"`
	Price    *float64     `json:"price,omitempty"`
	Fetches  uint64       `json:"fetches"`
	Failures uint64       `json:"failures"`
}

type expressionStats struct {
	Failures uint64 `json:"failures"`
}

type recorderStats struct {
	Written     uint64 `json:"written"`
	Dropped     uint64 `json:"dropped"`
	WriteErrors uint64 `json:"write_errors"`
}

type statsResponse struct {
	Uptime     string                 `json:"uptime"`
	Processor  processorStats         `json:"processor"`
	Buffers    bufferStats            `json:"buffers"`
	Stream     *streamStats           `json:"stream,omitempty"`
	Ingest     *network.StatsSnapshot `json:"ingest,omitempty"`
	Market     *marketStats           `json:"market,omitempty"`
	Expression *expressionStats       `json:"expression,omitempty"`
	Recorder   *recorderStats         `json:"recorder,omitempty"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	cycles, stale, dropped, degraded := s.proc.Stats()
	eegN, ppgN, accN := s.store.Lengths()
	eegDrop, ppgDrop := s.store.Dropped()

	resp := statsResponse{
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Processor: processorStats{
			Cycles:   cycles,
			Stale:    stale,
			Dropped:  dropped,
			Degraded: degraded,
		},
		Buffers: bufferStats{
			EEGSamples: eegN,
			PPGSamples: ppgN,
			ACCSamples: accN,
			EEGDropped: eegDrop,
			PPGDropped: ppgDrop,
		},
	}

	if s.updates != nil {
		resp.Stream = &streamStats{
			Subscribers: s.updates.Subscribers(),
			Dropped:     s.updates.Dropped(),
		}
	}
	if s.ingest != nil {
		resp.Ingest = s.ingest.GetLatestSnapshot()
	}
	if s.market != nil {
		fetches, failures := s.market.Stats()
		m := &marketStats{
			Trend:    s.market.Trend(),
			Fetches:  fetches,
			Failures: failures,
		}
		if price, ok := s.market.Quote(); ok {
			m.Price = &price
		}
		resp.Market = m
	}
	if s.expr != nil {
		resp.Expression = &expressionStats{Failures: s.expr.Failures()}
	}
	if s.rec != nil {
		written, recDropped, writeErrs := s.rec.Stats()
		resp.Recorder = &recorderStats{
			Written:     written,
			Dropped:     recDropped,
			WriteErrors: writeErrs,
		}
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write stats")
		return
	}
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	health := map[string]interface{}{
		"status":  "ok",
		"version": version.Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	}

	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write health")
		return
	}
}

// sessionAPI controls the wire shape of a recorded session.
type sessionAPI struct {
	ID        string     `json:"session_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	Cycles    int        `json:"cycles"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Recording disabled")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	sessions, err := s.db.Sessions(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}

	apiSessions := make([]sessionAPI, len(sessions))
	for i, sess := range sessions {
		n, err := s.db.CycleCount(sess.ID)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to count cycles: %v", err))
			return
		}
		apiSessions[i] = sessionAPI{
			ID:        sess.ID,
			StartedAt: sess.StartedAt,
			EndedAt:   sess.EndedAt,
			Notes:     sess.Notes,
			Cycles:    n,
		}
	}

	if err := json.NewEncoder(w).Encode(apiSessions); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write sessions")
		return
	}
}

func (s *Server) listCycles(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Recording disabled")
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		latest, err := s.db.LatestSession()
		if errors.Is(err, sql.ErrNoRows) {
			s.writeJSONError(w, http.StatusNotFound, "No sessions recorded")
			return
		}
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to find latest session: %v", err))
			return
		}
		sessionID = latest.ID
	}

	limit := 0 // everything
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	cycles, err := s.db.Cycles(sessionID, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve cycles: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(cycles); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write cycles")
		return
	}
}

// streamUpdates issues Server-Side Events (SSE) carrying each published
// cycle update as a JSON payload.
func (s *Server) streamUpdates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.updates == nil {
		http.Error(w, "Streaming disabled", http.StatusServiceUnavailable)
		return
	}

	id, c := s.updates.Subscribe()
	if id == "" {
		http.Error(w, "Stream closed", http.StatusServiceUnavailable)
		return
	}
	defer s.updates.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	w.(http.Flusher).Flush()

	// Late subscribers start from the latest published update.
	if last := s.proc.Snapshot(); !last.At.IsZero() {
		if !writeEvent(w, last) {
			return
		}
	}

	for {
		select {
		case update, ok := <-c:
			if !ok {
				// Channel closed, exit gracefully
				return
			}
			if !writeEvent(w, update) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, u fusion.Update) bool {
	payload, err := json.Marshal(u)
	if err != nil {
		log.Printf("Failed to encode update for stream: %v", err)
		return true
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return false
	}
	w.(http.Flusher).Flush()
	return true
}
