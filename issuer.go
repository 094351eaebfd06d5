package oauth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-engine/storage"
)

// maxTokenMintAttempts bounds regeneration when a freshly minted token
// string collides with one already persisted. Collisions are effectively
// impossible with 256-bit random tokens, but stores are allowed to report
// them and the issuer must not fail a request over one.
const maxTokenMintAttempts = 5

// issuer turns a validated grant into persisted tokens and a wire response.
type issuer struct {
	tokens storage.TokenStore
	config *Config
	logger *slog.Logger
}

func newIssuer(tokens storage.TokenStore, config *Config, logger *slog.Logger) *issuer {
	return &issuer{
		tokens: tokens,
		config: config,
		logger: logger,
	}
}

// Issue resolves the effective scopes, mints and persists the token pair and
// builds the token response. requestedScopes is the parsed scope parameter
// of the token request, nil or empty when the client sent none.
func (i *issuer) Issue(ctx context.Context, grant *GrantResult, requestedScopes []string) (*TokenResponse, error) {
	scopes, err := i.resolveScopes(grant, requestedScopes)
	if err != nil {
		return nil, err
	}

	now := i.config.Clock.Now()
	userID := ""
	if grant.User != nil {
		userID = grant.User.ID
	}

	access := &storage.Token{
		Type:      storage.TokenTypeAccess,
		ClientID:  grant.Client.ClientID,
		UserID:    userID,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.config.accessTokenTTL()),
	}

	var refresh *storage.Token
	if i.refreshPermitted(grant) {
		refresh = &storage.Token{
			Type:      storage.TokenTypeRefresh,
			ClientID:  grant.Client.ClientID,
			UserID:    userID,
			Scopes:    scopes,
			IssuedAt:  now,
			ExpiresAt: now.Add(i.config.refreshTokenTTL()),
		}
	}

	if err := i.mint(ctx, access, refresh); err != nil {
		return nil, err
	}

	// Rotation: the exchanged refresh token dies only after its
	// replacement is safely persisted, so a storage failure above never
	// strands the client without a usable refresh token.
	if grant.RotatedFrom != nil && refresh != nil {
		if err := i.tokens.DeleteToken(ctx, grant.RotatedFrom.Token); err != nil {
			i.logger.Warn("failed to delete rotated refresh token",
				"client_id", grant.Client.ClientID,
				"error", err)
		}
	}

	resp := &TokenResponse{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   i.config.AccessTokenTTL,
		Scope:       strings.Join(scopes, " "),
	}
	switch {
	case refresh != nil:
		resp.RefreshToken = refresh.Token
	case grant.RotatedFrom != nil && !i.config.DisableRefreshTokens:
		// Rotation disabled: the presented refresh token stays valid and
		// is echoed back.
		resp.RefreshToken = grant.RotatedFrom.Token
	}
	return resp, nil
}

// refreshPermitted reports whether this grant should receive a new refresh
// token. The client_credentials grant never gets one (RFC 6749 section 4.4.3).
func (i *issuer) refreshPermitted(grant *GrantResult) bool {
	if i.config.DisableRefreshTokens {
		return false
	}
	switch grant.GrantType {
	case GrantClientCredentials:
		return false
	case GrantRefreshToken:
		return !i.config.DisableRefreshTokenRotation
	default:
		return true
	}
}

// resolveScopes computes the scopes the new tokens will carry.
//
// For grants bound to a prior authorization (authorization_code,
// refresh_token) the request may only narrow the bound scopes. For the
// others the request is intersected with what the client and the server
// allow; an empty request falls back to the configured defaults. A
// non-empty request that resolves to nothing is an invalid_scope error.
func (i *issuer) resolveScopes(grant *GrantResult, requested []string) ([]string, error) {
	if grant.BoundScopes != nil {
		if len(requested) == 0 {
			return append([]string(nil), grant.BoundScopes...), nil
		}
		if !scopeSubset(requested, grant.BoundScopes) {
			return nil, ErrInvalidScope("requested scopes exceed the originally granted scopes")
		}
		return append([]string(nil), requested...), nil
	}

	if len(requested) == 0 {
		return append([]string(nil), i.config.DefaultScopes...), nil
	}

	effective := requested
	if len(grant.Client.Scopes) > 0 {
		effective = scopeIntersect(effective, grant.Client.Scopes)
	}
	if len(i.config.SupportedScopes) > 0 {
		effective = scopeIntersect(effective, i.config.SupportedScopes)
	}
	if len(effective) == 0 {
		return nil, ErrInvalidScope("none of the requested scopes are available to this client")
	}
	return effective, nil
}

// mint assigns fresh random token strings and persists the pair, retrying
// with new strings when the store reports a collision.
func (i *issuer) mint(ctx context.Context, access, refresh *storage.Token) error {
	for attempt := 1; attempt <= maxTokenMintAttempts; attempt++ {
		access.Token = generateToken()
		if refresh != nil {
			refresh.Token = generateToken()
		}

		err := i.save(ctx, access, refresh)
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrTokenExists) {
			i.logger.Warn("token string collision, regenerating", "attempt", attempt)
			continue
		}
		return err
	}
	return ErrServerError("could not generate a unique token")
}

// save persists the token pair, atomically when the store supports it.
// Stores that implement storage.TokenPairStore get both tokens in one call;
// otherwise the tokens are saved sequentially and the access token is
// removed again if the refresh token cannot be persisted.
func (i *issuer) save(ctx context.Context, access, refresh *storage.Token) error {
	if refresh == nil {
		return i.tokens.SaveToken(ctx, access)
	}
	if pairStore, ok := i.tokens.(storage.TokenPairStore); ok {
		return pairStore.SaveTokenPair(ctx, access, refresh)
	}
	if err := i.tokens.SaveToken(ctx, access); err != nil {
		return err
	}
	if err := i.tokens.SaveToken(ctx, refresh); err != nil {
		if delErr := i.tokens.DeleteToken(ctx, access.Token); delErr != nil {
			i.logger.Warn("failed to clean up access token after refresh save failure",
				"error", delErr)
		}
		return err
	}
	return nil
}

// generateToken returns a cryptographically random opaque token string
// (256 bits of entropy, base64url encoded).
func generateToken() string {
	return oauth2.GenerateVerifier()
}

// scopeIntersect returns the elements of a that are also in b, preserving
// the order of a.
func scopeIntersect(a, b []string) []string {
	allowed := make(map[string]struct{}, len(b))
	for _, s := range b {
		allowed[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := allowed[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// scopeSubset reports whether every element of sub is present in super.
func scopeSubset(sub, super []string) bool {
	allowed := make(map[string]struct{}, len(super))
	for _, s := range super {
		allowed[s] = struct{}{}
	}
	for _, s := range sub {
		if _, ok := allowed[s]; !ok {
			return false
		}
	}
	return true
}

// splitScopes parses a space-delimited scope parameter (RFC 6749
// section 3.3).
func splitScopes(raw string) []string {
	return strings.Fields(raw)
}
