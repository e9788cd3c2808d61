package microservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// BaseConfig holds common configuration fields for query services.
type BaseConfig struct {
	LogLevel        string `yaml:"log_level"`
	HTTPPort        string `yaml:"http_port"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	ServiceName     string `yaml:"service_name"`
}

// accessLog wraps h so every request is logged with the query key it touched.
func accessLog(logger zerolog.Logger, h http.Handler) http.Handler {
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		event := hlog.FromRequest(r).Debug()
		if status >= http.StatusInternalServerError {
			event = hlog.FromRequest(r).Warn()
		}
		if key := r.PathValue("key"); key != "" {
			event = event.Str("query_key", key)
		}
		event.
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request served.")
	})(h)
	h = hlog.URLHandler("url")(h)
	h = hlog.MethodHandler("method")(h)
	return hlog.NewHandler(logger)(h)
}

// Start listens on the configured address and serves in a background
// goroutine. /healthz reports OK from this point until Shutdown begins.
func (s *QueryServer) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	s.mu.Lock()
	s.listenAddr = listener.Addr().String()
	s.mu.Unlock()
	s.draining.Store(false)

	s.logger.Info().
		Str("address", s.listenAddr).
		Int("cached_keys", len(s.client.Keys())).
		Msg("Query server listening.")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Query server failed.")
		}
	}()
	return nil
}

// Shutdown marks the server as draining, so /healthz turns 503, then stops
// it gracefully within ctx's deadline.
func (s *QueryServer) Shutdown(ctx context.Context) error {
	s.draining.Store(true)
	s.logger.Info().
		Int("cached_keys", len(s.client.Keys())).
		Interface("in_flight", s.aggregator.InFlight()).
		Msg("Query server shutting down.")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Query server shutdown did not complete.")
		return err
	}
	s.logger.Info().Msg("Query server stopped.")
	return nil
}

// Port returns the port the server is listening on, in ":port" form. Before
// Start it returns the configured address.
func (s *QueryServer) Port() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.listenAddr)
	if err != nil {
		return s.httpServer.Addr
	}
	return ":" + port
}

// Handler returns the routed, access-logged handler the server serves.
func (s *QueryServer) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *QueryServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if s.draining.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
