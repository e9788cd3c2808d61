// Package microservice exposes a query client over HTTP: health, fetch
// activity, cache inspection and external invalidation.
package microservice

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/fetchevents"
	"github.com/illmade-knight/go-querycache/pkg/querycache"
	"github.com/rs/zerolog"
)

// FocusNotifier is pulsed by POST /focus.
type FocusNotifier interface {
	Regained()
}

// QueryServer serves the query client's HTTP surface and owns its listener.
type QueryServer struct {
	client     *querycache.Client
	aggregator *fetchevents.Aggregator
	focus      FocusNotifier
	logger     zerolog.Logger

	httpServer *http.Server
	draining   atomic.Bool

	mu         sync.RWMutex
	listenAddr string
}

// CacheEntryView is the JSON shape returned by GET /cache/{key}.
type CacheEntryView struct {
	Key         string    `json:"key"`
	WrittenAt   time.Time `json:"written_at"`
	Stale       bool      `json:"stale"`
	Collectible bool      `json:"collectible"`
	Registered  bool      `json:"registered"`
}

// NewQueryServer builds the routes for addr without listening. focus may be
// nil, in which case POST /focus is not served.
func NewQueryServer(
	addr string,
	client *querycache.Client,
	aggregator *fetchevents.Aggregator,
	focus FocusNotifier,
	logger zerolog.Logger,
) *QueryServer {
	s := &QueryServer{
		client:     client,
		aggregator: aggregator,
		focus:      focus,
		logger:     logger.With().Str("component", "QueryServer").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /fetching", s.handleFetching)
	mux.HandleFunc("GET /cache", s.handleKeys)
	mux.HandleFunc("GET /cache/{key}", s.handleEntry)
	mux.HandleFunc("POST /invalidate/{key}", s.handleInvalidate)
	if focus != nil {
		mux.HandleFunc("POST /focus", s.handleFocus)
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           accessLog(s.logger, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *QueryServer) handleFetching(w http.ResponseWriter, r *http.Request) {
	filter := fetchevents.Filter{Keys: r.URL.Query()["key"]}
	s.writeJSON(w, http.StatusOK, map[string]bool{"fetching": s.aggregator.Matching(filter)})
}

func (s *QueryServer) handleKeys(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"keys": s.client.Keys()})
}

func (s *QueryServer) handleEntry(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	entry, ok := s.client.Read(key)
	if !ok {
		http.Error(w, "no cache entry for "+key, http.StatusNotFound)
		return
	}
	_, registered := s.client.Definition(key)
	s.writeJSON(w, http.StatusOK, CacheEntryView{
		Key:         key,
		WrittenAt:   entry.WrittenAt,
		Stale:       s.client.IsStale(key),
		Collectible: s.client.IsCollectible(key),
		Registered:  registered,
	})
}

func (s *QueryServer) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	s.client.Invalidate(key)
	s.logger.Info().Str("query_key", key).Str("remote_addr", r.RemoteAddr).Msg("Invalidation requested over HTTP.")
	w.WriteHeader(http.StatusNoContent)
}

func (s *QueryServer) handleFocus(w http.ResponseWriter, _ *http.Request) {
	s.focus.Regained()
	w.WriteHeader(http.StatusNoContent)
}

func (s *QueryServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response.")
	}
}
