package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/oauth-engine/security"
)

// contextKey is a private type for context values set by the middleware.
type contextKey struct{ name string }

var authorizationContextKey = contextKey{"oauth-authorization"}

// ContextWithAuthorization returns a context carrying the authorization
// produced by bearer token verification.
func ContextWithAuthorization(ctx context.Context, authCtx *AuthorizationContext) context.Context {
	return context.WithValue(ctx, authorizationContextKey, authCtx)
}

// AuthorizationFromContext retrieves the authorization stored by the
// middleware, or nil when the request was not verified.
func AuthorizationFromContext(ctx context.Context) *AuthorizationContext {
	authCtx, _ := ctx.Value(authorizationContextKey).(*AuthorizationContext)
	return authCtx
}

// Handler adapts the Server to net/http. It owns response encoding, cache
// headers, rate limiting and the translation of engine errors to HTTP
// status codes.
type Handler struct {
	server      *Server
	logger      *slog.Logger
	rateLimiter *security.RateLimiter
}

// NewHandler creates an HTTP adapter for the server.
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		server: server,
		logger: logger,
	}
}

// SetRateLimiter enables per-source rate limiting on the token and
// revocation endpoints. Optional.
func (h *Handler) SetRateLimiter(rl *security.RateLimiter) {
	h.rateLimiter = rl
}

// ServeToken handles POST requests to the token endpoint.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	security.SetTokenEndpointHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, NewError(ErrorCodeInvalidRequest, "token requests must use POST", http.StatusMethodNotAllowed))
		h.recordHTTP(r, "/token", http.StatusMethodNotAllowed, start)
		return
	}
	if !h.allow(r) {
		h.writeError(w, NewError(ErrorCodeInvalidRequest, "too many requests", http.StatusTooManyRequests))
		h.recordHTTP(r, "/token", http.StatusTooManyRequests, start)
		return
	}

	req, err := NewRequest(r)
	if err != nil {
		status := h.writeTokenError(w, err)
		h.recordHTTP(r, "/token", status, start)
		return
	}

	resp, err := h.server.Token(r.Context(), req)
	if err != nil {
		status := h.writeTokenError(w, err)
		h.recordHTTP(r, "/token", status, start)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
	h.recordHTTP(r, "/token", http.StatusOK, start)
}

// ServeRevocation handles POST requests to the revocation endpoint
// (RFC 7009).
func (h *Handler) ServeRevocation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	security.SetTokenEndpointHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, NewError(ErrorCodeInvalidRequest, "revocation requests must use POST", http.StatusMethodNotAllowed))
		h.recordHTTP(r, "/revoke", http.StatusMethodNotAllowed, start)
		return
	}
	if !h.allow(r) {
		h.writeError(w, NewError(ErrorCodeInvalidRequest, "too many requests", http.StatusTooManyRequests))
		h.recordHTTP(r, "/revoke", http.StatusTooManyRequests, start)
		return
	}

	req, err := NewRequest(r)
	if err != nil {
		status := h.writeTokenError(w, err)
		h.recordHTTP(r, "/revoke", status, start)
		return
	}

	if err := h.server.Revoke(r.Context(), req); err != nil {
		status := h.writeTokenError(w, err)
		h.recordHTTP(r, "/revoke", status, start)
		return
	}

	w.WriteHeader(http.StatusOK)
	h.recordHTTP(r, "/revoke", http.StatusOK, start)
}

// Middleware verifies the bearer token on incoming requests and stores the
// resulting authorization in the request context for downstream handlers.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	verifier := h.server.Verifier()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &Request{
			Header:   r.Header,
			RawQuery: r.URL.RawQuery,
		}

		authCtx, err := verifier.Verify(r.Context(), req)
		if err != nil {
			h.writeVerificationError(w, r, err)
			return
		}

		if h.server.instr != nil {
			h.server.instr.Metrics().RecordTokenVerified(r.Context(), true, "")
		}
		next.ServeHTTP(w, r.WithContext(ContextWithAuthorization(r.Context(), authCtx)))
	})
}

// RequireScopes wraps a handler with bearer verification plus a scope
// check. Missing scopes yield 403 insufficient_scope (RFC 6750
// section 3.1).
func (h *Handler) RequireScopes(next http.Handler, scopes ...string) http.Handler {
	return h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := AuthorizationFromContext(r.Context())
		for _, scope := range scopes {
			if !authCtx.HasScope(scope) {
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
				h.writeJSON(w, http.StatusForbidden, ErrorResponse{
					Error:            "insufficient_scope",
					ErrorDescription: "token does not carry the required scope",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	}))
}

// writeTokenError maps an engine error to an HTTP response and returns the
// status written. Non-taxonomy errors are logged and masked as
// server_error; their detail never reaches the client.
func (h *Handler) writeTokenError(w http.ResponseWriter, err error) int {
	var oauthErr *Error
	if !errors.As(err, &oauthErr) {
		h.logger.Error("request failed", "error", err)
		oauthErr = ErrServerError("internal server error")
	}
	if oauthErr.Code == ErrorCodeInvalidClient && oauthErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
	}
	h.writeError(w, oauthErr)
	return oauthErr.Status
}

// writeVerificationError answers a failed bearer verification per RFC 6750.
func (h *Handler) writeVerificationError(w http.ResponseWriter, r *http.Request, err error) {
	var oauthErr *Error
	if !errors.As(err, &oauthErr) {
		h.logger.Error("token verification failed", "error", err)
		oauthErr = ErrServerError("internal server error")
	}
	if h.server.instr != nil {
		h.server.instr.Metrics().RecordTokenVerified(r.Context(), false, oauthErr.Code)
	}
	if oauthErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+oauthErr.Code+`"`)
	}
	h.writeError(w, oauthErr)
}

func (h *Handler) writeError(w http.ResponseWriter, oauthErr *Error) {
	h.writeJSON(w, oauthErr.Status, ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// allow applies the rate limiter keyed by remote address. A handler without
// a limiter allows everything.
func (h *Handler) allow(r *http.Request) bool {
	if h.rateLimiter == nil {
		return true
	}
	if h.rateLimiter.Allow(r.RemoteAddr) {
		return true
	}
	if h.server.instr != nil {
		h.server.instr.Metrics().RecordRateLimitExceeded(r.Context(), "endpoint")
	}
	h.logger.Warn("rate limit exceeded", "remote_addr", r.RemoteAddr)
	return false
}

func (h *Handler) recordHTTP(r *http.Request, endpoint string, status int, start time.Time) {
	if h.server.instr == nil {
		return
	}
	h.server.instr.Metrics().RecordHTTPRequest(r.Context(), r.Method, endpoint, status,
		float64(time.Since(start).Milliseconds()))
}
