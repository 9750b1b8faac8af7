package webhook

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorax/gorax/internal/credential"
	"github.com/gorax/gorax/internal/workflow"
)

// builtinBotSignatures is the built-in list of User-Agent substrings the
// bot filter matches against when a webhook has IgnoreBots set, per
// §4.1. It covers common crawlers and HTTP libraries, not an exhaustive
// bot-detection service.
var builtinBotSignatures = []string{
	"bot", "crawler", "spider", "slurp", "bingpreview",
	"facebookexternalhit", "whatsapp", "telegrambot",
	"curl/", "wget/", "python-requests", "go-http-client",
}

// segment is one path-pattern component: either a literal or a
// ":name"-style capture.
type segment struct {
	literal string
	param   string // non-empty if this segment captures a path param
}

func parsePattern(pattern string) []segment {
	parts := strings.Split(strings.Trim(pattern, "/"), "/")
	segments := make([]segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, ":") {
			segments = append(segments, segment{param: strings.TrimPrefix(p, ":")})
		} else {
			segments = append(segments, segment{literal: p})
		}
	}
	return segments
}

// Route is one registered webhook trigger, matched by path pattern.
type Route struct {
	WorkflowID string
	Trigger    workflow.TriggerDefinition
	segments   []segment
}

func newRoute(workflowID string, t workflow.TriggerDefinition) *Route {
	return &Route{WorkflowID: workflowID, Trigger: t, segments: parsePattern(t.PathPattern())}
}

// match checks path against the route's pattern, returning captured
// path params on success.
func (rt *Route) match(path string) (map[string]string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	var cleaned []string
	for _, p := range parts {
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) != len(rt.segments) {
		return nil, false
	}
	params := make(map[string]string)
	for i, seg := range rt.segments {
		if seg.param != "" {
			params[seg.param] = cleaned[i]
			continue
		}
		if seg.literal != cleaned[i] {
			return nil, false
		}
	}
	return params, true
}

// Router is the Trigger Registry & Webhook Router of §4.1: it holds the
// active webhook trigger definitions, matches an incoming request's
// method and path against them, and runs the access-control chain.
// It implements workflow.TriggerSync for its webhook subset; the
// schedule.Manager implements it for the cron subset.
type Router struct {
	mu     sync.RWMutex
	routes map[string][]*Route // workflowID -> its active webhook routes
	store  credential.Store
}

// NewRouter creates an empty Router. store resolves "credential"
// auth-type webhooks' secret by credential id.
func NewRouter(store credential.Store) *Router {
	return &Router{routes: make(map[string][]*Route), store: store}
}

// SyncTriggers replaces workflowID's registered webhook routes with the
// webhook-variant entries of triggers, discarding any previous set.
// Non-webhook triggers (schedule, manual, workflow-called) are ignored
// here; the schedule manager and direct invocation handler own those.
func (r *Router) SyncTriggers(ctx context.Context, workflowID string, triggers []workflow.TriggerDefinition) error {
	var routes []*Route
	for _, t := range triggers {
		if t.Variant != workflow.TriggerVariantWebhook || !t.Active || t.Webhook == nil {
			continue
		}
		routes = append(routes, newRoute(workflowID, t))
	}
	r.mu.Lock()
	if len(routes) == 0 {
		delete(r.routes, workflowID)
	} else {
		r.routes[workflowID] = routes
	}
	r.mu.Unlock()
	return nil
}

// RemoveTriggers withdraws all of workflowID's registered webhook routes.
func (r *Router) RemoveTriggers(ctx context.Context, workflowID string) error {
	r.mu.Lock()
	delete(r.routes, workflowID)
	r.mu.Unlock()
	return nil
}

// ErrMethodNotAllowed is returned when a path matches a route's pattern
// but not its configured method.
var ErrMethodNotAllowed = fmt.Errorf("webhook: method not allowed")

// Match finds the registered route whose pattern matches path, checking
// method last so a path-only match against the wrong method reports
// ErrMethodNotAllowed rather than "not found".
func (r *Router) Match(method, path string) (*Route, map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pathMatched bool
	for _, routes := range r.routes {
		for _, rt := range routes {
			params, ok := rt.match(path)
			if !ok {
				continue
			}
			pathMatched = true
			if strings.EqualFold(rt.Trigger.Webhook.Method, method) {
				return rt, params, nil
			}
		}
	}
	if pathMatched {
		return nil, nil, ErrMethodNotAllowed
	}
	return nil, nil, nil
}

// CheckAccess runs the §4.1 access-control chain in order: auth, CORS
// origin, IP allowlist, bot filter. Method is checked by Match. It
// returns a human-readable reason and false on the first failing check.
func (r *Router) CheckAccess(ctx context.Context, rt *Route, req *http.Request) (reason string, allowed bool) {
	ws := rt.Trigger.Webhook

	if ok, why := r.checkAuth(ctx, ws, req); !ok {
		return why, false
	}
	if ok, why := checkOrigin(ws.AllowedOrigins, req.Header.Get("Origin")); !ok {
		return why, false
	}
	if ok, why := checkIPAllowlist(ws.IPWhitelist, req); !ok {
		return why, false
	}
	if ws.IgnoreBots && isBot(req.UserAgent()) {
		return "request blocked: bot user agent", false
	}
	return "", true
}

func (r *Router) checkAuth(ctx context.Context, ws *workflow.WebhookSettings, req *http.Request) (bool, string) {
	switch ws.AuthType {
	case "", workflow.WebhookAuthNone:
		return true, ""

	case workflow.WebhookAuthBasic:
		user, pass, ok := req.BasicAuth()
		if !ok || !secureEqual(user, ws.AuthUser) || !secureEqual(pass, ws.AuthPass) {
			return false, "basic auth failed"
		}
		return true, ""

	case workflow.WebhookAuthHeader:
		if !secureEqual(req.Header.Get(ws.AuthHeaderName), ws.AuthHeaderValue) {
			return false, "header auth failed"
		}
		return true, ""

	case workflow.WebhookAuthQuery:
		if !secureEqual(req.URL.Query().Get(ws.AuthQueryName), ws.AuthQueryValue) {
			return false, "query auth failed"
		}
		return true, ""

	case workflow.WebhookAuthCredential:
		if r.store == nil {
			return false, "credential auth unavailable"
		}
		secret, err := r.store.GetSecret(ctx, ws.CredentialID)
		if err != nil {
			return false, "credential auth failed"
		}
		token := req.Header.Get("Authorization")
		token = strings.TrimPrefix(token, "Bearer ")
		if !secureEqual(token, secret) {
			return false, "credential auth failed"
		}
		return true, ""

	default:
		return false, "unknown auth type"
	}
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// checkOrigin allows the request when allowedOrigins is empty (no CORS
// restriction configured), "*", an exact match, or a "*.example.com"
// wildcard-subdomain match against a non-empty Origin header. A
// configured allowlist with no Origin header present is allowed — CORS
// restricts browser script access, not direct server-to-server calls.
func checkOrigin(allowedOrigins, origin string) (bool, string) {
	if allowedOrigins == "" || origin == "" {
		return true, ""
	}
	originHost := strings.ToLower(stripScheme(origin))
	for _, raw := range strings.Split(allowedOrigins, ",") {
		allowed := strings.ToLower(strings.TrimSpace(raw))
		if allowed == "" {
			continue
		}
		if allowed == "*" || allowed == originHost || strings.ToLower(origin) == allowed {
			return true, ""
		}
		if strings.HasPrefix(allowed, "*.") {
			suffix := strings.TrimPrefix(allowed, "*")
			if strings.HasSuffix(originHost, suffix) && originHost != strings.TrimPrefix(suffix, ".") {
				return true, ""
			}
		}
	}
	return false, "origin not allowed: " + origin
}

func stripScheme(origin string) string {
	if idx := strings.Index(origin, "://"); idx >= 0 {
		return origin[idx+3:]
	}
	return origin
}

// checkIPAllowlist allows the request when ipWhitelist is empty, or the
// client IP (from X-Forwarded-For's first hop, falling back to
// RemoteAddr) matches a listed individual IP or CIDR range.
func checkIPAllowlist(ipWhitelist string, req *http.Request) (bool, string) {
	if ipWhitelist == "" {
		return true, ""
	}
	clientIP := clientIPOf(req)
	if clientIP == nil {
		return false, "unable to determine client IP"
	}
	for _, raw := range strings.Split(ipWhitelist, ",") {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err == nil && network.Contains(clientIP) {
				return true, ""
			}
			continue
		}
		if ip := net.ParseIP(entry); ip != nil && ip.Equal(clientIP) {
			return true, ""
		}
	}
	return false, "client IP not allowlisted"
}

func clientIPOf(req *http.Request) net.IP {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	return net.ParseIP(host)
}

func isBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, sig := range builtinBotSignatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}
