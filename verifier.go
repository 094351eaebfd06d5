package oauth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// Verifier authenticates protected-resource requests carrying bearer tokens
// (RFC 6750). It is safe for concurrent use.
type Verifier struct {
	tokens      storage.TokenStore
	credentials storage.CredentialStore
	config      *Config
	logger      *slog.Logger
}

// NewVerifier creates a bearer token verifier. config may be nil, in which
// case secure defaults are applied.
func NewVerifier(tokens storage.TokenStore, credentials storage.CredentialStore, config *Config, logger *slog.Logger) (*Verifier, error) {
	if tokens == nil {
		return nil, errors.New("token store is required")
	}
	if credentials == nil {
		return nil, errors.New("credential store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	config = applySecureDefaults(config, logger)

	return &Verifier{
		tokens:      tokens,
		credentials: credentials,
		config:      config,
		logger:      logger,
	}, nil
}

// Verify extracts the bearer token from the request and resolves it to an
// authorization context. Every way the token can be unacceptable (missing,
// unknown, expired, revoked, wrong type) maps to an invalid_token error;
// a request whose query string cannot be parsed is rejected as a malformed
// request, never treated as unauthenticated. Storage faults other than
// "not found" propagate unchanged.
func (v *Verifier) Verify(ctx context.Context, req *Request) (*AuthorizationContext, error) {
	tokenString, err := v.bearerToken(req)
	if err != nil {
		return nil, err
	}

	token, err := v.tokens.GetToken(ctx, tokenString)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrInvalidToken("token is invalid or expired")
		}
		return nil, err
	}

	if token.Type != storage.TokenTypeAccess {
		return nil, ErrInvalidToken("presented token is not an access token")
	}
	if token.Revoked {
		return nil, ErrInvalidToken("token has been revoked")
	}
	if security.IsExpired(v.config.Clock.Now(), token.ExpiresAt, v.config.clockSkewGracePeriod()) {
		return nil, ErrInvalidToken("token is invalid or expired")
	}

	client, err := v.credentials.GetClient(ctx, token.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidToken("token was issued to a client that no longer exists")
		}
		return nil, err
	}

	authCtx := &AuthorizationContext{
		Client: client,
		Scopes: append([]string(nil), token.Scopes...),
	}
	if token.UserID != "" {
		authCtx.User = &storage.User{ID: token.UserID}
	}
	return authCtx, nil
}

// bearerToken locates the bearer token, preferring the Authorization header
// over the query parameter. The query parameter is consulted only when the
// server is configured to accept it.
func (v *Verifier) bearerToken(req *Request) (string, error) {
	header := req.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", ErrInvalidToken("malformed Authorization header")
		}
		return parts[1], nil
	}

	if v.config.AllowQueryToken {
		values, err := req.queryValues()
		if err != nil {
			return "", err
		}
		if token := values.Get(v.config.QueryTokenParam); token != "" {
			return token, nil
		}
	}

	return "", ErrInvalidToken("no bearer token presented")
}
