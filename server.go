package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// Server is the OAuth 2.0 authorization server core: it authenticates
// clients, dispatches token requests to the grant validators, issues tokens
// and handles revocation. It carries no HTTP concerns; see Handler for the
// net/http adapter.
type Server struct {
	credentials storage.CredentialStore
	tokens      storage.TokenStore
	codes       storage.CodeStore

	issuer     *issuer
	verifier   *Verifier
	validators map[GrantType]grantValidator

	config  *Config
	logger  *slog.Logger
	auditor *security.Auditor
	instr   *instrumentation.Instrumentation
	tracer  trace.Tracer
}

// NewServer creates an authorization server. codes may be nil, which
// disables the authorization_code grant. config may be nil; secure defaults
// are applied either way.
func NewServer(credentials storage.CredentialStore, tokens storage.TokenStore, codes storage.CodeStore, config *Config, logger *slog.Logger) (*Server, error) {
	if credentials == nil {
		return nil, errors.New("credential store is required")
	}
	if tokens == nil {
		return nil, errors.New("token store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	config = applySecureDefaults(config, logger)

	verifier, err := NewVerifier(tokens, credentials, config, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		credentials: credentials,
		tokens:      tokens,
		codes:       codes,
		issuer:      newIssuer(tokens, config, logger),
		verifier:    verifier,
		config:      config,
		logger:      logger,
	}

	s.validators = map[GrantType]grantValidator{
		GrantClientCredentials: clientCredentialsValidator{},
		GrantPassword:          passwordValidator{credentials: credentials, config: config},
		GrantRefreshToken:      refreshTokenValidator{tokens: tokens, config: config},
	}
	if codes != nil {
		s.validators[GrantAuthorizationCode] = authorizationCodeValidator{codes: codes, config: config}
	}

	return s, nil
}

// SetAuditor wires a security audit logger. Optional.
func (s *Server) SetAuditor(auditor *security.Auditor) {
	s.auditor = auditor
}

// SetInstrumentation wires OpenTelemetry metrics and tracing. Optional.
func (s *Server) SetInstrumentation(instr *instrumentation.Instrumentation) {
	s.instr = instr
	if instr != nil {
		s.tracer = instr.Tracer("server")
	}
}

// Verifier returns the bearer token verifier sharing this server's stores
// and configuration.
func (s *Server) Verifier() *Verifier {
	return s.verifier
}

// Token processes a token endpoint request (RFC 6749 section 3.2): it
// authenticates the client, validates the grant and issues tokens.
//
// Failures the client caused come back as *Error with the proper OAuth
// error code. Anything else (storage faults and the like) propagates
// unchanged and should be treated as a server error by the transport.
func (s *Server) Token(ctx context.Context, req *Request) (*TokenResponse, error) {
	grantType := GrantType(req.FormValue("grant_type"))

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "oauth.token")
		defer span.End()
	}

	validator, ok := s.validators[grantType]
	if !ok {
		err := ErrUnsupportedGrantType(fmt.Sprintf("grant type %q is not supported", string(grantType)))
		return nil, s.rejectGrant(ctx, "", grantType, err)
	}

	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		var oauthErr *Error
		if errors.As(err, &oauthErr) {
			s.auditor.LogAuthFailure("", req.FormValue("client_id"), oauthErr.Description)
		}
		return nil, s.rejectGrant(ctx, req.FormValue("client_id"), grantType, err)
	}

	if s.tracer != nil {
		instrumentation.AddGrantAttributes(trace.SpanFromContext(ctx),
			client.ClientID, client.Type, string(grantType))
	}

	grant, err := validator.Validate(ctx, req, client)
	if err != nil {
		return nil, s.rejectGrant(ctx, client.ClientID, grantType, err)
	}

	resp, err := s.issuer.Issue(ctx, grant, splitScopes(req.FormValue("scope")))
	if err != nil {
		return nil, s.rejectGrant(ctx, client.ClientID, grantType, err)
	}

	userID := ""
	if grant.User != nil {
		userID = grant.User.ID
	}
	s.auditor.LogTokenIssued(userID, client.ClientID, string(grantType), resp.Scope)
	if s.instr != nil {
		s.instr.Metrics().RecordTokenIssued(ctx, string(grantType), resp.RefreshToken != "")
	}
	instrumentation.SetSpanSuccess(trace.SpanFromContext(ctx))
	s.logger.Info("token issued",
		"client_id", client.ClientID,
		"grant_type", string(grantType),
		"scope", resp.Scope)

	return resp, nil
}

// IssueAuthorizationCode creates a one-time authorization code bound to a
// client, user, redirect URI and scope set. The host application calls this
// from its consent flow after the resource owner approves the request.
func (s *Server) IssueAuthorizationCode(ctx context.Context, clientID, userID, redirectURI string, scopes []string, codeChallenge, codeChallengeMethod string) (*storage.AuthorizationCode, error) {
	if s.codes == nil {
		return nil, errors.New("authorization codes are not enabled: no code store configured")
	}

	client, err := s.credentials.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidClient("unknown client")
		}
		return nil, err
	}
	if !client.AllowsGrantType(string(GrantAuthorizationCode)) {
		return nil, ErrUnauthorizedClient("client is not authorized for the authorization_code grant")
	}
	if len(client.RedirectURIs) > 0 && !containsString(client.RedirectURIs, redirectURI) {
		return nil, ErrInvalidRequest("redirect_uri is not registered for this client")
	}
	if codeChallenge != "" && codeChallengeMethod != "S256" {
		return nil, ErrInvalidRequest("unsupported code_challenge_method")
	}
	if len(client.Scopes) > 0 && !scopeSubset(scopes, client.Scopes) {
		return nil, ErrInvalidScope("requested scopes exceed the client's registered scopes")
	}
	if len(s.config.SupportedScopes) > 0 && !scopeSubset(scopes, s.config.SupportedScopes) {
		return nil, ErrInvalidScope("requested scopes are not supported")
	}

	now := s.config.Clock.Now()
	code := &storage.AuthorizationCode{
		Code:                generateToken(),
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scopes:              append([]string(nil), scopes...),
		UserID:              userID,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.config.authorizationCodeTTL()),
	}

	if err := s.codes.SaveAuthorizationCode(ctx, code); err != nil {
		return nil, err
	}

	s.auditor.LogCodeIssued(userID, clientID, strings.Join(code.Scopes, " "))
	if s.instr != nil {
		s.instr.Metrics().RecordCodeIssued(ctx, clientID)
	}
	s.logger.Info("authorization code issued", "client_id", clientID)

	return code, nil
}

// Revoke invalidates a token presented by its owning client (RFC 7009).
// Unknown tokens and tokens owned by other clients revoke "successfully":
// the endpoint never discloses whether a given string is a live token.
func (s *Server) Revoke(ctx context.Context, req *Request) error {
	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		return err
	}

	tokenString := req.FormValue("token")
	if tokenString == "" {
		return ErrInvalidRequest("token parameter is required")
	}

	token, err := s.tokens.GetToken(ctx, tokenString)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil
		}
		return err
	}
	if token.ClientID != client.ClientID {
		return nil
	}

	if err := s.tokens.DeleteToken(ctx, tokenString); err != nil {
		return err
	}

	s.auditor.LogTokenRevoked(client.ClientID, token.Type)
	if s.instr != nil {
		s.instr.Metrics().RecordTokenRevoked(ctx, token.Type)
	}
	s.logger.Info("token revoked", "client_id", client.ClientID, "token_type", token.Type)

	return nil
}

// authenticateClient resolves and authenticates the requesting client.
// HTTP Basic credentials take precedence over body parameters
// (RFC 6749 section 2.3.1); Basic credentials are form-urlencoded before
// base64, so both parts are percent-decoded after extraction.
//
// Secret comparison is constant-time. Public clients registered without a
// secret authenticate by identifier alone.
func (s *Server) authenticateClient(ctx context.Context, req *Request) (*storage.Client, error) {
	clientID, clientSecret, err := clientCredentialsFromRequest(req)
	if err != nil {
		return nil, err
	}
	if clientID == "" {
		return nil, ErrInvalidClient("client authentication required")
	}

	client, err := s.credentials.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidClient("client authentication failed")
		}
		return nil, err
	}

	if client.Secret != "" {
		if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(clientSecret)) != 1 {
			return nil, ErrInvalidClient("client authentication failed")
		}
		return client, nil
	}

	// No registered secret: only public clients may authenticate by ID
	// alone, and presenting a secret anyway is a mismatch.
	if client.Type != storage.ClientTypePublic || clientSecret != "" {
		return nil, ErrInvalidClient("client authentication failed")
	}
	return client, nil
}

// clientCredentialsFromRequest extracts the client credentials from the
// Authorization header or, failing that, from the request body.
func clientCredentialsFromRequest(req *Request) (string, string, error) {
	header := req.Header.Get("Authorization")
	if rest, ok := cutPrefixFold(header, "Basic "); ok {
		payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest))
		if err != nil {
			return "", "", ErrInvalidClient("malformed Basic authentication header")
		}
		id, secret, ok := strings.Cut(string(payload), ":")
		if !ok {
			return "", "", ErrInvalidClient("malformed Basic authentication header")
		}
		decodedID, err := url.QueryUnescape(id)
		if err != nil {
			return "", "", ErrInvalidClient("malformed Basic authentication header")
		}
		decodedSecret, err := url.QueryUnescape(secret)
		if err != nil {
			return "", "", ErrInvalidClient("malformed Basic authentication header")
		}
		return decodedID, decodedSecret, nil
	}

	return req.FormValue("client_id"), req.FormValue("client_secret"), nil
}

// rejectGrant records metrics, audit and span state for a failed token
// request and returns the error unchanged. Only taxonomy errors are
// recorded as grant rejections; system faults are logged as failures.
func (s *Server) rejectGrant(ctx context.Context, clientID string, grantType GrantType, err error) error {
	span := trace.SpanFromContext(ctx)
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		s.auditor.LogGrantRejected(clientID, string(grantType), oauthErr.Code)
		if s.instr != nil {
			s.instr.Metrics().RecordGrantRejected(ctx, string(grantType), oauthErr.Code)
		}
		instrumentation.SetSpanError(span, oauthErr.Code)
		s.logger.Info("token request rejected",
			"client_id", clientID,
			"grant_type", string(grantType),
			"error", oauthErr.Code)
		return err
	}

	instrumentation.RecordError(span, err)
	s.logger.Error("token request failed",
		"client_id", clientID,
		"grant_type", string(grantType),
		"error", err)
	return err
}

// cutPrefixFold is strings.CutPrefix with ASCII case-insensitive matching
// of the prefix, for auth scheme names.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
