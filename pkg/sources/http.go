package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/querycache"
	"github.com/rs/zerolog"
)

// HTTPConfig holds configuration for an HTTP JSON source.
type HTTPConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPSource fetches JSON documents relative to a base URL.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPSource creates an HTTP source. A nil client gets a fresh http.Client
// with the configured timeout (10s when unset).
func NewHTTPSource(cfg *HTTPConfig, client *http.Client, logger zerolog.Logger) (*HTTPSource, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url cannot be empty")
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	logger.Info().Str("base_url", cfg.BaseURL).Msg("HTTPSource initialized.")
	return &HTTPSource{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		logger:  logger.With().Str("component", "HTTPSource").Logger(),
	}, nil
}

// JSON returns a fetch function decoding the document at path into a
// generic JSON value (maps, slices, strings, float64s, bools).
func (s *HTTPSource) JSON(path string) querycache.FetchFunc {
	return HTTPJSON[any](s, path)
}

// HTTPJSON returns a fetch function decoding the document at path into V.
func HTTPJSON[V any](s *HTTPSource, path string) querycache.FetchFunc {
	return querycache.Typed(func(ctx context.Context) (V, error) {
		var value V
		err := s.get(ctx, path, &value)
		return value, err
	})
}

func (s *HTTPSource) get(ctx context.Context, path string, out any) error {
	url := s.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Str("url", url).Msg("HTTP request failed.")
		return fmt.Errorf("http get %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		s.logger.Warn().Str("url", url).Msg("Document not found.")
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http get %s: unexpected status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		s.logger.Error().Err(err).Str("url", url).Msg("Failed to decode JSON response.")
		return fmt.Errorf("failed to decode %s: %w", url, err)
	}

	s.logger.Debug().Str("url", url).Msg("Successfully fetched document.")
	return nil
}
