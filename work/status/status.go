// Package status serves a loopback HTTP endpoint exposing what the engine
// is doing: cache entries, EPG state, recent flows and Prometheus metrics.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"sfvip-launcher/work/cache"
	"sfvip-launcher/work/epg"
	"sfvip-launcher/work/journal"
	"sfvip-launcher/work/logger"
	"sfvip-launcher/work/middleware"
)

const passwordHeader = "X-Admin-Password"

// Server is the status endpoint.
type Server struct {
	cache   *cache.Store
	epg     *epg.Store
	journal *journal.Journal

	// bcrypt hash gating the admin routes; empty disables them
	adminHash string

	server *http.Server
}

// New wires the endpoint around the engine's stores. flows may be nil.
func New(cacheStore *cache.Store, epgStore *epg.Store, flows *journal.Journal, adminHash string) *Server {
	s := &Server{
		cache:     cacheStore,
		epg:       epgStore,
		journal:   flows,
		adminHash: adminHash,
	}

	router := mux.NewRouter()
	router.Handle("/api/status", middleware.Gzip(http.HandlerFunc(s.handleStatus))).Methods("GET")
	router.Handle("/api/cache", middleware.Gzip(http.HandlerFunc(s.handleCache))).Methods("GET")
	router.Handle("/api/journal", middleware.Gzip(http.HandlerFunc(s.handleJournal))).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/api/cache/stop", s.admin(s.handleStopBuilds)).Methods("POST")
	router.HandleFunc("/api/epg/url", s.admin(s.handleEPGURL)).Methods("POST")
	router.HandleFunc("/api/epg/confidence", s.admin(s.handleConfidence)).Methods("POST")

	s.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the endpoint on the loopback interface.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	tcp, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status: listen %s: %w", addr, err)
	}
	go func() {
		if err := s.server.Serve(tcp); err != nil && err != http.ErrServerClosed {
			logger.Error("status: %v", err)
		}
	}()
	logger.Info("status: listening on %s", addr)
	return nil
}

// Stop shuts the endpoint down.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.server.Shutdown(ctx)
}

// admin gates a handler behind the bcrypt-hashed password.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminHash == "" {
			http.Error(w, "admin disabled", http.StatusForbidden)
			return
		}
		password := r.Header.Get(passwordHeader)
		if bcrypt.CompareHashAndPassword([]byte(s.adminHash), []byte(password)) != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"epg_status":     s.epg.Status().String(),
		"epg_confidence": s.epg.Confidence(),
	})
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	type entryInfo struct {
		Server          string  `json:"server"`
		Type            string  `json:"type"`
		TotalItems      int     `json:"total_items"`
		ActualItems     int     `json:"actual_items"`
		MissingFraction float64 `json:"missing_fraction"`
		Age             string  `json:"age"`
	}
	var entries []entryInfo
	for _, e := range s.cache.Entries() {
		entries = append(entries, entryInfo{
			Server:          e.Key.Server,
			Type:            string(e.Key.Type),
			TotalItems:      e.TotalItems,
			ActualItems:     e.ActualItems,
			MissingFraction: e.MissingFraction(),
			Age:             e.Age(now),
		})
	}
	writeJSON(w, entries)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, []journal.Entry{})
		return
	}
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 1000 {
			n = parsed
		}
	}
	entries, err := s.journal.Tail(n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

func (s *Server) handleStopBuilds(w http.ResponseWriter, r *http.Request) {
	s.cache.StopAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEPGURL(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.epg.Update(body.URL)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleConfidence(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Confidence int `json:"confidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.epg.PostConfidence(body.Confidence)
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("status: encode: %v", err)
	}
}

// HashPassword produces the bcrypt hash stored in the config file.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}
