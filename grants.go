package oauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"

	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// grantValidator checks the grant-specific preconditions of a token request.
// The client has already been authenticated by the server before dispatch.
//
// Validators return *Error for every policy failure. Any other error they
// return is a storage or system fault and propagates unchanged.
type grantValidator interface {
	Validate(ctx context.Context, req *Request, client *storage.Client) (*GrantResult, error)
}

// clientCredentialsValidator implements the client_credentials grant
// (RFC 6749 section 4.4). The token is issued to the client itself: the
// grant result carries no user.
type clientCredentialsValidator struct{}

func (clientCredentialsValidator) Validate(_ context.Context, _ *Request, client *storage.Client) (*GrantResult, error) {
	if !client.AllowsGrantType(string(GrantClientCredentials)) {
		return nil, ErrUnauthorizedClient("client is not authorized for the client_credentials grant")
	}
	return &GrantResult{
		GrantType: GrantClientCredentials,
		Client:    client,
	}, nil
}

// passwordValidator implements the resource owner password grant
// (RFC 6749 section 4.3). Public clients are rejected unless the server is
// explicitly configured to allow them, since they cannot keep the secret
// that would make handing them user credentials defensible.
type passwordValidator struct {
	credentials storage.CredentialStore
	config      *Config
}

func (v passwordValidator) Validate(ctx context.Context, req *Request, client *storage.Client) (*GrantResult, error) {
	if !client.AllowsGrantType(string(GrantPassword)) {
		return nil, ErrUnauthorizedClient("client is not authorized for the password grant")
	}
	if client.Type != storage.ClientTypeConfidential && !v.config.AllowPublicPasswordGrant {
		return nil, ErrUnauthorizedClient("public clients may not use the password grant")
	}

	username := req.FormValue("username")
	password := req.FormValue("password")
	if username == "" || password == "" {
		return nil, ErrInvalidRequest("username and password parameters are required")
	}

	user, err := v.credentials.VerifyUserPassword(ctx, username, password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidUserCredentials) {
			return nil, ErrInvalidGrant("invalid resource owner credentials")
		}
		return nil, err
	}

	return &GrantResult{
		GrantType: GrantPassword,
		Client:    client,
		User:      user,
	}, nil
}

// authorizationCodeValidator implements the authorization_code grant
// (RFC 6749 section 4.1). Codes are one-time use: consumption is atomic in
// the store, so two concurrent exchanges of the same code cannot both
// succeed.
type authorizationCodeValidator struct {
	codes  storage.CodeStore
	config *Config
}

func (v authorizationCodeValidator) Validate(ctx context.Context, req *Request, client *storage.Client) (*GrantResult, error) {
	if !client.AllowsGrantType(string(GrantAuthorizationCode)) {
		return nil, ErrUnauthorizedClient("client is not authorized for the authorization_code grant")
	}

	code := req.FormValue("code")
	if code == "" {
		return nil, ErrInvalidRequest("code parameter is required")
	}

	record, err := v.codes.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCodeNotFound):
			return nil, ErrInvalidGrant("authorization code is invalid or expired")
		case errors.Is(err, storage.ErrCodeUsed):
			return nil, ErrInvalidGrant("authorization code has already been used")
		}
		return nil, err
	}

	now := v.config.Clock.Now()
	if security.IsExpired(now, record.ExpiresAt, v.config.clockSkewGracePeriod()) {
		return nil, ErrInvalidGrant("authorization code is invalid or expired")
	}
	if record.ClientID != client.ClientID {
		return nil, ErrInvalidGrant("authorization code was issued to another client")
	}
	if record.RedirectURI != "" && record.RedirectURI != req.FormValue("redirect_uri") {
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	if record.CodeChallenge != "" {
		if err := validatePKCE(record.CodeChallenge, record.CodeChallengeMethod, req.FormValue("code_verifier")); err != nil {
			return nil, err
		}
	}

	result := &GrantResult{
		GrantType:   GrantAuthorizationCode,
		Client:      client,
		BoundScopes: record.Scopes,
	}
	if record.UserID != "" {
		result.User = &storage.User{ID: record.UserID}
	}
	return result, nil
}

// validatePKCE validates the PKCE code verifier against the challenge per
// RFC 7636. Only the S256 method is accepted.
func validatePKCE(challenge, method, verifier string) error {
	if verifier == "" {
		return ErrInvalidRequest("code_verifier is required when the authorization request used PKCE")
	}

	// RFC 7636: code_verifier must be 43-128 characters from [A-Za-z0-9-._~]
	if len(verifier) < 43 || len(verifier) > 128 {
		return ErrInvalidGrant("code_verifier must be between 43 and 128 characters")
	}
	for _, ch := range verifier {
		if (ch < 'A' || ch > 'Z') && (ch < 'a' || ch > 'z') && (ch < '0' || ch > '9') &&
			ch != '-' && ch != '.' && ch != '_' && ch != '~' {
			return ErrInvalidGrant("code_verifier contains invalid characters")
		}
	}

	if method != "S256" {
		return ErrInvalidGrant("unsupported code_challenge_method")
	}

	hash := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(hash[:])

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return ErrInvalidGrant("code_verifier does not match code_challenge")
	}

	return nil
}

// refreshTokenValidator implements the refresh_token grant
// (RFC 6749 section 6). The presented token must be a live refresh token
// owned by the authenticated client; the issuer handles rotation.
type refreshTokenValidator struct {
	tokens storage.TokenStore
	config *Config
}

func (v refreshTokenValidator) Validate(ctx context.Context, req *Request, client *storage.Client) (*GrantResult, error) {
	if !client.AllowsGrantType(string(GrantRefreshToken)) {
		return nil, ErrUnauthorizedClient("client is not authorized for the refresh_token grant")
	}

	refreshToken := req.FormValue("refresh_token")
	if refreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token parameter is required")
	}

	token, err := v.tokens.GetToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrInvalidGrant("refresh token is invalid or expired")
		}
		return nil, err
	}

	if token.Type != storage.TokenTypeRefresh {
		return nil, ErrInvalidGrant("presented token is not a refresh token")
	}
	if token.Revoked {
		return nil, ErrInvalidGrant("refresh token has been revoked")
	}
	if token.ClientID != client.ClientID {
		return nil, ErrInvalidGrant("refresh token was issued to another client")
	}
	if security.IsExpired(v.config.Clock.Now(), token.ExpiresAt, v.config.clockSkewGracePeriod()) {
		return nil, ErrInvalidGrant("refresh token is invalid or expired")
	}

	result := &GrantResult{
		GrantType:   GrantRefreshToken,
		Client:      client,
		BoundScopes: token.Scopes,
		RotatedFrom: token,
	}
	if token.UserID != "" {
		result.User = &storage.User{ID: token.UserID}
	}
	return result, nil
}
