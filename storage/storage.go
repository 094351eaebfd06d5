// Package storage defines interfaces for persisting OAuth clients, users,
// tokens and authorization codes. It supports various backend implementations
// including in-memory and SQL databases.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by storage backends. The engine translates these
// (and only these) into OAuth error responses; any other error a backend
// returns is treated as a system fault and propagated unchanged.
var (
	// ErrClientNotFound is returned when no client exists for the given ID.
	ErrClientNotFound = errors.New("storage: client not found")

	// ErrInvalidUserCredentials is returned when a username/password pair
	// does not resolve to an active user. Backends return the same error for
	// unknown users and wrong passwords so callers cannot probe for accounts.
	ErrInvalidUserCredentials = errors.New("storage: invalid user credentials")

	// ErrTokenNotFound is returned when no token exists for the given string.
	ErrTokenNotFound = errors.New("storage: token not found")

	// ErrTokenExists is returned by SaveToken when the token string is
	// already present. Token strings are randomly generated; the issuer
	// reacts to this by minting a fresh string and retrying.
	ErrTokenExists = errors.New("storage: token already exists")

	// ErrCodeNotFound is returned when no authorization code exists.
	ErrCodeNotFound = errors.New("storage: authorization code not found")

	// ErrCodeUsed is returned when an authorization code has already been
	// consumed. Codes are strictly one-time use.
	ErrCodeUsed = errors.New("storage: authorization code already used")
)

// Client types
const (
	ClientTypePublic       = "public"
	ClientTypeConfidential = "confidential"
)

// Token types
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Client represents a registered OAuth client
type Client struct {
	ClientID     string
	Secret       string // opaque; compared in constant time by the engine
	Type         string // "public" or "confidential"
	RedirectURIs []string
	GrantTypes   []string // fixed at creation
	ClientName   string
	Scopes       []string // scopes this client may be granted; empty = server-wide set
	CreatedAt    time.Time
}

// AllowsGrantType reports whether the client's allowed grant type set
// includes the given grant type.
func (c *Client) AllowsGrantType(grantType string) bool {
	for _, gt := range c.GrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}

// User represents a resource owner. Tokens issued via the client_credentials
// grant carry no user.
type User struct {
	ID       string
	Username string
}

// Token represents a persisted access or refresh token
type Token struct {
	Token     string // unique, unguessable token string
	Type      string // "access" or "refresh"
	ClientID  string
	UserID    string // empty when the token was issued to the client itself
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// AuthorizationCode represents an issued authorization code
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	UserID              string
	CodeChallenge       string // PKCE challenge, empty if the flow did not use PKCE
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
}

// CredentialStore looks up client and user records. Implementations must be
// safe for concurrent use.
type CredentialStore interface {
	// GetClient retrieves a client by ID. Returns ErrClientNotFound when the
	// client does not exist.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// VerifyUserPassword resolves a username/password pair to an active user.
	// Returns ErrInvalidUserCredentials when the pair does not resolve.
	VerifyUserPassword(ctx context.Context, username, password string) (*User, error)
}

// TokenStore persists and retrieves tokens. Implementations must be safe for
// concurrent use and must enforce token string uniqueness atomically: two
// concurrent SaveToken calls with the same string must not both succeed.
type TokenStore interface {
	// SaveToken saves a token. Returns ErrTokenExists if a token with the
	// same string is already stored.
	SaveToken(ctx context.Context, token *Token) error

	// GetToken retrieves a token by its string. Returns ErrTokenNotFound
	// when absent.
	GetToken(ctx context.Context, tokenString string) (*Token, error)

	// DeleteToken removes a token. Deleting an absent token is not an error.
	DeleteToken(ctx context.Context, tokenString string) error
}

// TokenPairStore is an optional extension of TokenStore for backends that can
// persist an access/refresh pair atomically. The issuer type-asserts for it
// and falls back to sequential saves with a compensating delete otherwise.
type TokenPairStore interface {
	// SaveTokenPair saves both tokens or neither. Returns ErrTokenExists if
	// either token string is already stored.
	SaveTokenPair(ctx context.Context, access, refresh *Token) error
}

// CodeStore persists authorization codes. Optional: servers constructed
// without one do not offer the authorization_code grant.
type CodeStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code. Returns
	// ErrCodeNotFound when absent.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically checks that a code is unused and
	// marks it used, returning the code record. Returns ErrCodeNotFound when
	// absent and ErrCodeUsed when the code was already consumed.
	// This operation MUST be atomic to prevent concurrent code exchange.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code
	DeleteAuthorizationCode(ctx context.Context, code string) error
}
