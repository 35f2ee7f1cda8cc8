// Package service implements the core mirror fetch flow.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"gh-media-proxy/internal/client"
	"gh-media-proxy/internal/config"
	"gh-media-proxy/internal/metrics"
	"gh-media-proxy/internal/model"
	"gh-media-proxy/internal/rewrite"
)

// ErrNotServed is returned for paths outside the configured serve prefix.
var ErrNotServed = errors.New("path outside serve prefix")

const userAgent = "Mozilla/5.0 (compatible; gh-media-proxy/1.0)"

// responseHopByHopHeaders are stripped from mirror responses; the server
// manages the connection and transfer encoding itself.
var responseHopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// MirrorService rewrites inbound requests to delivery-mirror URLs and
// fetches them, with a single alternate-root retry on 404.
type MirrorService struct {
	client  *client.MirrorClient
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	baseURL string
}

// NewMirrorService creates a MirrorService. The delivery base URL is derived
// once from the configured mirror coordinates and hosting template.
// The metrics parameter is optional; pass nil to disable fallback metrics.
func NewMirrorService(c *client.MirrorClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *MirrorService {
	return &MirrorService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "mirror_service"),
		metrics: m,
		baseURL: cfg.MirrorSpec().BaseURL(),
	}
}

// NewMirrorServiceForTest creates a MirrorService with an explicit base URL
// instead of the GitHub delivery templates. This is intended only for tests
// that use httptest servers on localhost.
func NewMirrorServiceForTest(c *client.MirrorClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, baseURL string) *MirrorService {
	return &MirrorService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "mirror_service"),
		metrics: m,
		baseURL: baseURL,
	}
}

// BaseURL returns the delivery base URL the service forwards to.
func (s *MirrorService) BaseURL() string {
	return s.baseURL
}

// Fetch resolves pr against the delivery mirror and returns the response to
// relay. The caller is responsible for closing the response body.
//
// Paths outside the serve prefix return ErrNotServed. A primary 404 triggers
// exactly one retry with the alternate root prepended to the original full
// path; a 200 from the retry replaces the response, anything else keeps the
// original 404. Transport errors from either attempt are returned wrapped —
// the fallback is treated the same as the primary so both surface as a 500.
func (s *MirrorService) Fetch(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	rel, ok := rewrite.StripPrefix(s.cfg.Mirror.Prefix, pr.Path)
	if !ok {
		return nil, ErrNotServed
	}

	header := s.forwardHeaders(pr.Header)
	primaryURL := rewrite.TargetURL(s.baseURL, rel, pr.RawQuery)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"target", primaryURL,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, primaryURL, header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("primary fetch: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		altPath := rewrite.FallbackPath(s.cfg.Mirror.FallbackRoot, pr.Path)
		altURL := rewrite.TargetURL(s.baseURL, altPath, pr.RawQuery)

		if s.metrics != nil {
			s.metrics.FallbackAttempts.Inc()
		}
		s.logger.Debug("primary target missing, trying alternate root",
			"method", pr.Method,
			"target", altURL,
		)

		// The inbound body was consumed by the primary attempt; the retry
		// goes out without one.
		altResp, altErr := s.client.DoStream(pr.Ctx, pr.Method, altURL, header, nil)
		if altErr != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("fallback fetch: %w", altErr)
		}

		if altResp.StatusCode == http.StatusOK {
			if s.metrics != nil {
				s.metrics.FallbackHits.Inc()
			}
			_ = resp.Body.Close()
			resp = altResp
		} else {
			_ = altResp.Body.Close()
		}
	}

	resp.Header = mergeResponseHeaders(resp.Header)
	return resp, nil
}

// forwardHeaders clones the inbound headers and overrides the User-Agent.
// Everything else is forwarded as-is; hop-by-hop request headers are already
// stripped by the security middleware.
func (s *MirrorService) forwardHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src)+1)
	for key, vals := range src {
		dst[key] = append([]string(nil), vals...)
	}
	dst.Set("User-Agent", userAgent)
	return dst
}

// mergeResponseHeaders keeps all mirror response headers except hop-by-hop
// ones and upserts the CORS and immutable-cache overrides.
func mergeResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src)+3)
	for key, vals := range src {
		dst[key] = vals
	}
	for _, h := range responseHopByHopHeaders {
		dst.Del(h)
	}
	dst.Set("Access-Control-Allow-Origin", "*")
	dst.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	dst.Set("Cache-Control", "public, max-age=31536000, immutable")
	return dst
}
