// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"bomcontrole-proxy/internal/client"
	"bomcontrole-proxy/internal/config"
	"bomcontrole-proxy/internal/model"
)

// forwardableRequestHeaders are the only request headers forwarded upstream.
var forwardableRequestHeaders = []string{
	"Accept",
	"Accept-Encoding",
	"Accept-Language",
	"Content-Type",
	"Content-Length",
	"X-Request-Id",
}

// forwardableResponseHeaders are the only response headers forwarded to the client.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Length":   true,
	"Content-Encoding": true,
	"Cache-Control":    true,
	"Date":             true,
	"Etag":             true,
	"Last-Modified":    true,
	"Location":         true,
}

// credentialQueryParams are query keys (compared case-insensitively) that
// callers must not be able to smuggle upstream.
var credentialQueryParams = map[string]bool{
	"apikey":  true,
	"api_key": true,
}

// keyPatterns match credentials embedded in URLs or headers quoted in error messages.
var keyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api_?key=)[^&\s"]+`),
	regexp.MustCompile(`(?i)(ApiKey\s+)[^\s"]+`),
}

const (
	userAgent     = "bomcontrole-proxy/1.0"
	authScheme    = "ApiKey"
	jsonMediaType = "application/json"
	redacted      = "[REDACTED]"
)

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client        *client.UpstreamClient
	logger        *slog.Logger
	baseURL       *url.URL
	apiKey        string
	queryDefaults map[string]url.Values
}

// NewProxyService creates a ProxyService bound to the configured upstream.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if cfg.Upstream.APIKey == "" {
		return nil, fmt.Errorf("upstream api key is not configured")
	}

	defaults := make(map[string]url.Values, len(cfg.Upstream.QueryDefaults))
	for _, qd := range cfg.Upstream.QueryDefaults {
		vals := defaults[qd.Path]
		if vals == nil {
			vals = make(url.Values)
			defaults[qd.Path] = vals
		}
		for k, v := range qd.Params {
			vals.Set(k, v)
		}
	}

	return &ProxyService{
		client:        c,
		logger:        logger.With("component", "proxy_service"),
		baseURL:       u,
		apiKey:        cfg.Upstream.APIKey,
		queryDefaults: defaults,
	}, nil
}

// Forward sends a ProxyRequest to the upstream API with the server-held key
// injected and returns the response. The caller is responsible for closing the
// response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	upstreamURL := s.buildUpstreamURL(pr.Path, pr.RawPath, pr.RawQuery)
	header := s.filterRequestHeaders(pr.Header, pr.Body != nil && pr.Body != http.NoBody)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"query", s.Redact(pr.RawQuery),
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, upstreamURL, header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = s.filterResponseHeaders(resp.Header)
	return resp, nil
}

// Redact removes the configured key and anything that looks like a key from msg.
func (s *ProxyService) Redact(msg string) string {
	if s.apiKey != "" {
		msg = strings.ReplaceAll(msg, s.apiKey, redacted)
	}
	for _, re := range keyPatterns {
		msg = re.ReplaceAllString(msg, "${1}"+redacted)
	}
	return msg
}

// buildUpstreamURL appends the request path to the base URL path and carries
// the caller's raw query over, minus credential params, plus any configured
// defaults the caller did not send.
func (s *ProxyService) buildUpstreamURL(path, rawPath, rawQuery string) string {
	u := *s.baseURL
	base := strings.TrimSuffix(s.baseURL.Path, "/")
	u.Path = base + path
	if rawPath != "" {
		u.RawPath = strings.TrimSuffix(s.baseURL.EscapedPath(), "/") + rawPath
	} else {
		u.RawPath = ""
	}

	query, sent := stripCredentialParams(rawQuery)

	missing := make(url.Values)
	for k, v := range s.queryDefaults[path] {
		if !sent[k] {
			missing[k] = v
		}
	}
	if len(missing) > 0 {
		if query != "" {
			query += "&"
		}
		query += missing.Encode()
	}
	u.RawQuery = query

	return u.String()
}

// stripCredentialParams removes credential pairs from a raw query and keeps
// every other pair byte for byte, in order, including pairs url.ParseQuery
// would reject. It also reports the (unescaped) keys that remain.
func stripCredentialParams(rawQuery string) (string, map[string]bool) {
	if rawQuery == "" {
		return "", nil
	}

	pairs := strings.Split(rawQuery, "&")
	kept := make([]string, 0, len(pairs))
	sent := make(map[string]bool, len(pairs))
	for _, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if credentialQueryParams[strings.ToLower(key)] {
			continue
		}
		sent[key] = true
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&"), sent
}

func (s *ProxyService) filterRequestHeaders(src http.Header, hasBody bool) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	if dst.Get("Accept") == "" {
		dst.Set("Accept", jsonMediaType)
	}
	if hasBody && dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", jsonMediaType)
	}
	dst.Set("User-Agent", userAgent)
	dst.Set("Authorization", authScheme+" "+s.apiKey)
	return dst
}

func (s *ProxyService) filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[key] = vals
		}
	}
	return dst
}
