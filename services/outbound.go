package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrBlockedURL wraps every refusal by the outbound guard
var ErrBlockedURL = errors.New("outbound request blocked")

// ErrHostNotWhitelisted is returned when the host is not on the caller's whitelist
var ErrHostNotWhitelisted = errors.New("host not whitelisted")

// RequestOptions describes the outbound call
type RequestOptions struct {
	Method string
	Header http.Header
	Body   io.Reader
	// Request carries the inbound request attributes for event logging
	Request RequestInfo
}

// OutboundGuardConfig configures an OutboundGuard
type OutboundGuardConfig struct {
	// Client performs the call once the URL is validated. Nil builds a
	// client whose redirects are validated too.
	Client *http.Client
	// Transport is used by the client built when Client is nil
	Transport http.RoundTripper
	// ResolveHosts additionally checks the addresses the host resolves to
	ResolveHosts bool
	Resolver     HostResolver
}

// OutboundGuard validates outbound URLs before any network call is made
type OutboundGuard struct {
	client       *http.Client
	logger       *SecurityLogger
	resolveHosts bool
	resolver     HostResolver
}

func NewOutboundGuard(cfg OutboundGuardConfig, logger *SecurityLogger) *OutboundGuard {
	if logger == nil {
		logger = NewSecurityLogger(nil)
	}
	g := &OutboundGuard{
		client:       cfg.Client,
		logger:       logger,
		resolveHosts: cfg.ResolveHosts,
		resolver:     cfg.Resolver,
	}
	if g.client == nil {
		g.client = &http.Client{Transport: cfg.Transport, CheckRedirect: g.checkRedirect}
	}
	return g
}

func (g *OutboundGuard) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	target := req.URL.String()
	if err := g.validate(req.Context(), target); err != nil {
		g.logger.LogSSRFAttempt(target, "redirect: "+err.Error(), RequestInfo{})
		return fmt.Errorf("%w: redirect to %s: %v", ErrBlockedURL, target, err)
	}
	return nil
}

func (g *OutboundGuard) validate(ctx context.Context, rawURL string) error {
	if g.resolveHosts {
		return ValidateResolvedURL(ctx, rawURL, g.resolver)
	}
	return ValidateURL(rawURL)
}

// SafeRequest validates rawURL and, if safe, performs the request.
// Blocked URLs are logged as ssrf_attempt and never dialed.
func (g *OutboundGuard) SafeRequest(ctx context.Context, rawURL string, opts RequestOptions) (*http.Response, error) {
	if err := g.validate(ctx, rawURL); err != nil {
		g.logger.LogSSRFAttempt(rawURL, err.Error(), opts.Request)
		return nil, fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}
	return g.do(ctx, rawURL, opts)
}

// SafeRequestWithWhitelist is SafeRequest restricted to whitelisted hostnames
func (g *OutboundGuard) SafeRequestWithWhitelist(ctx context.Context, rawURL string, whitelist []string, opts RequestOptions) (*http.Response, error) {
	host := ""
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil {
		host = u.Hostname()
	}
	if !IsWhitelistedHostname(host, whitelist) {
		g.logger.LogSSRFAttempt(rawURL, ErrHostNotWhitelisted.Error(), opts.Request)
		return nil, fmt.Errorf("%w: %w: %q", ErrBlockedURL, ErrHostNotWhitelisted, host)
	}
	return g.SafeRequest(ctx, rawURL, opts)
}

func (g *OutboundGuard) do(ctx context.Context, rawURL string, opts RequestOptions) (*http.Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, opts.Body)
	if err != nil {
		return nil, err
	}
	for k, vals := range opts.Header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	return g.client.Do(req)
}
