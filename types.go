package oauth

import (
	"net/http"
	"net/url"

	"github.com/giantswarm/oauth-engine/storage"
)

// GrantType identifies the OAuth 2.0 flow used to obtain a token.
type GrantType string

// Supported grant types
const (
	GrantClientCredentials GrantType = "client_credentials"
	GrantPassword          GrantType = "password"
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// Request is the transport-agnostic view of an incoming request. The engine
// only sees headers, the raw query string and the form-encoded body; how
// those were carried (net/http, a test fixture, another transport) is the
// caller's concern.
//
// RawQuery is kept undecoded on purpose: the verifier decodes it itself so
// that an invalid percent escape surfaces as a malformed-request error
// instead of being silently dropped by an eager parse.
type Request struct {
	Header   http.Header
	RawQuery string
	Form     url.Values
}

// NewRequest adapts an *http.Request for the engine. Body parse failures are
// reported as a malformed-request error.
func NewRequest(r *http.Request) (*Request, error) {
	if err := r.ParseForm(); err != nil {
		return nil, ErrMalformedRequest("failed to parse request body")
	}
	return &Request{
		Header:   r.Header,
		RawQuery: r.URL.RawQuery,
		Form:     r.PostForm,
	}, nil
}

// FormValue returns the first value for the named body parameter, or "".
func (r *Request) FormValue(key string) string {
	if r.Form == nil {
		return ""
	}
	return r.Form.Get(key)
}

// queryValues decodes the raw query string. An invalid percent escape is a
// malformed request, never a silent pass-through.
func (r *Request) queryValues() (url.Values, error) {
	values, err := url.ParseQuery(r.RawQuery)
	if err != nil {
		return nil, ErrMalformedRequest("invalid percent-encoding in query string")
	}
	return values, nil
}

// GrantResult is the outcome of a successful grant validation: the
// authenticated client, the resolved user (nil for client_credentials), and
// any scope set the grant is already bound to (authorization codes and
// refresh tokens carry the scopes granted when they were created).
type GrantResult struct {
	GrantType GrantType
	Client    *storage.Client
	User      *storage.User

	// BoundScopes restricts issuance to the scopes granted earlier in the
	// flow. Nil means the grant carries no prior scope binding.
	BoundScopes []string

	// RotatedFrom is the refresh token being exchanged, set only by the
	// refresh_token validator so the issuer can rotate or echo it.
	RotatedFrom *storage.Token
}

// AuthorizationContext is the result of verifying a bearer token: who is
// calling (client, user-or-nil) and what they were granted. It is produced
// fresh per verified request and never persisted.
type AuthorizationContext struct {
	Client *storage.Client
	User   *storage.User
	Scopes []string
}

// HasScope reports whether the context includes the given scope.
func (a *AuthorizationContext) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenResponse represents an OAuth 2.0 token response
type TokenResponse struct {
	// AccessToken is the access token
	AccessToken string `json:"access_token"`

	// TokenType is the type of token (always "Bearer")
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshToken is the refresh token. Omitted entirely (not null) when the
	// grant type does not permit one.
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the space-separated granted scope set
	Scope string `json:"scope,omitempty"`
}

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}
