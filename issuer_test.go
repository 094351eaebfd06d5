package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/oauth-engine/internal/testutil"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/storage/memory"
)

func newTestIssuer(t *testing.T, tokens storage.TokenStore, clock Clock) *issuer {
	t.Helper()
	return newIssuer(tokens, testConfig(clock), discardLogger())
}

func clientCredentialsGrant() *GrantResult {
	return &GrantResult{
		GrantType: GrantClientCredentials,
		Client:    testutil.GenerateTestClient(),
	}
}

func passwordGrant() *GrantResult {
	return &GrantResult{
		GrantType: GrantPassword,
		Client:    testutil.GenerateTestClient(),
		User:      &storage.User{ID: "test-user-123", Username: "alice"},
	}
}

func TestIssueClientCredentials(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defer store.Close()
	clock := testutil.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	iss := newTestIssuer(t, store, clock)

	resp, err := iss.Issue(ctx, clientCredentialsGrant(), []string{"read"})
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, resp.TokenType, "Bearer")
	testutil.AssertEqual(t, resp.ExpiresIn, int64(3600))
	testutil.AssertEqual(t, resp.Scope, "read")
	testutil.AssertEqual(t, resp.RefreshToken, "")

	// The persisted token belongs to the client itself, not to a user.
	token, err := store.GetToken(ctx, resp.AccessToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, token.UserID, "")
	testutil.AssertEqual(t, token.Type, storage.TokenTypeAccess)
	testutil.AssertEqual(t, token.ExpiresAt, clock.Now().Add(time.Hour))
}

func TestClientCredentialsResponseOmitsRefreshTokenField(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defer store.Close()
	clock := testutil.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	iss := newTestIssuer(t, store, clock)

	resp, err := iss.Issue(ctx, clientCredentialsGrant(), nil)
	testutil.AssertNoError(t, err)

	// The field must be absent from the wire format, not null or empty.
	raw, err := json.Marshal(resp)
	testutil.AssertNoError(t, err)
	if strings.Contains(string(raw), "refresh_token") {
		t.Errorf("client_credentials response must not contain a refresh_token field: %s", raw)
	}
}

func TestIssuePasswordGrantWithRefreshToken(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defer store.Close()
	clock := testutil.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	iss := newTestIssuer(t, store, clock)

	resp, err := iss.Issue(ctx, passwordGrant(), []string{"read"})
	testutil.AssertNoError(t, err)
	testutil.AssertNotEqual(t, resp.RefreshToken, "")
	testutil.AssertNotEqual(t, resp.RefreshToken, resp.AccessToken)

	refresh, err := store.GetToken(ctx, resp.RefreshToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, refresh.Type, storage.TokenTypeRefresh)
	testutil.AssertEqual(t, refresh.UserID, "test-user-123")
	testutil.AssertEqual(t, refresh.ExpiresAt, clock.Now().Add(90*24*time.Hour))
}

func TestIssueRefreshTokensDisabled(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defer store.Close()
	clock := testutil.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	config := testConfig(clock)
	config.DisableRefreshTokens = true
	iss := newIssuer(store, config, discardLogger())

	resp, err := iss.Issue(ctx, passwordGrant(), nil)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.RefreshToken, "")
}

func TestIssueScopeResolution(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	tests := []struct {
		name       string
		config     func(*Config)
		grant      func() *GrantResult
		requested  []string
		wantScope  string
		wantErrMsg string // empty means success
	}{
		{
			name:      "empty request gets default scopes",
			config:    func(c *Config) { c.DefaultScopes = []string{"read"} },
			grant:     passwordGrant,
			requested: nil,
			wantScope: "read",
		},
		{
			name:      "request intersected with client scopes",
			config:    func(c *Config) {},
			grant:     passwordGrant, // client allows read, write
			requested: []string{"read", "admin"},
			wantScope: "read",
		},
		{
			name:      "request intersected with supported scopes",
			config:    func(c *Config) { c.SupportedScopes = []string{"write"} },
			grant:     passwordGrant,
			requested: []string{"read", "write"},
			wantScope: "write",
		},
		{
			name:       "no overlap is invalid_scope",
			config:     func(c *Config) {},
			grant:      passwordGrant,
			requested:  []string{"admin"},
			wantErrMsg: ErrorCodeInvalidScope,
		},
		{
			name:   "bound scopes are inherited",
			config: func(c *Config) {},
			grant: func() *GrantResult {
				g := passwordGrant()
				g.BoundScopes = []string{"read"}
				return g
			},
			requested: nil,
			wantScope: "read",
		},
		{
			name:   "bound scopes may be narrowed",
			config: func(c *Config) {},
			grant: func() *GrantResult {
				g := passwordGrant()
				g.BoundScopes = []string{"read", "write"}
				return g
			},
			requested: []string{"read"},
			wantScope: "read",
		},
		{
			name:   "bound scopes may not be exceeded",
			config: func(c *Config) {},
			grant: func() *GrantResult {
				g := passwordGrant()
				g.BoundScopes = []string{"read"}
				return g
			},
			requested:  []string{"read", "write"},
			wantErrMsg: ErrorCodeInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			defer store.Close()
			config := testConfig(clock)
			tt.config(config)
			iss := newIssuer(store, config, discardLogger())

			resp, err := iss.Issue(ctx, tt.grant(), tt.requested)
			if tt.wantErrMsg != "" {
				assertOAuthError(t, err, tt.wantErrMsg)
				return
			}
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, resp.Scope, tt.wantScope)
		})
	}
}

func TestIssueRefreshRotation(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	newRefreshGrant := func(t *testing.T, store *memory.Store) *GrantResult {
		t.Helper()
		old := &storage.Token{
			Token:     testutil.GenerateRandomString(32),
			Type:      storage.TokenTypeRefresh,
			ClientID:  "test-client-id",
			UserID:    "test-user-123",
			Scopes:    []string{"read"},
			IssuedAt:  clock.Now(),
			ExpiresAt: clock.Now().Add(24 * time.Hour),
		}
		testutil.AssertNoError(t, store.SaveToken(ctx, old))
		return &GrantResult{
			GrantType:   GrantRefreshToken,
			Client:      testutil.GenerateTestClient(),
			User:        &storage.User{ID: "test-user-123"},
			BoundScopes: old.Scopes,
			RotatedFrom: old,
		}
	}

	t.Run("rotation replaces the old token", func(t *testing.T) {
		store := memory.New()
		defer store.Close()
		iss := newTestIssuer(t, store, clock)
		grant := newRefreshGrant(t, store)

		resp, err := iss.Issue(ctx, grant, nil)
		testutil.AssertNoError(t, err)
		testutil.AssertNotEqual(t, resp.RefreshToken, grant.RotatedFrom.Token)

		_, err = store.GetToken(ctx, grant.RotatedFrom.Token)
		if !errors.Is(err, storage.ErrTokenNotFound) {
			t.Fatalf("rotated refresh token should be deleted, got %v", err)
		}
	})

	t.Run("rotation disabled echoes the old token", func(t *testing.T) {
		store := memory.New()
		defer store.Close()
		config := testConfig(clock)
		config.DisableRefreshTokenRotation = true
		iss := newIssuer(store, config, discardLogger())
		grant := newRefreshGrant(t, store)

		resp, err := iss.Issue(ctx, grant, nil)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, resp.RefreshToken, grant.RotatedFrom.Token)

		_, err = store.GetToken(ctx, grant.RotatedFrom.Token)
		testutil.AssertNoError(t, err)
	})
}

// collidingTokenStore reports ErrTokenExists for the first n saves, then
// delegates to the wrapped store.
type collidingTokenStore struct {
	storage.TokenStore
	remaining int
	attempts  int
}

func (c *collidingTokenStore) SaveToken(ctx context.Context, token *storage.Token) error {
	c.attempts++
	if c.remaining > 0 {
		c.remaining--
		return storage.ErrTokenExists
	}
	return c.TokenStore.SaveToken(ctx, token)
}

func TestIssueRetriesOnTokenCollision(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defer store.Close()
	colliding := &collidingTokenStore{TokenStore: store, remaining: 2}
	clock := testutil.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	iss := newTestIssuer(t, colliding, clock)

	resp, err := iss.Issue(ctx, clientCredentialsGrant(), nil)
	testutil.AssertNoError(t, err)
	testutil.AssertNotEqual(t, resp.AccessToken, "")
	testutil.AssertEqual(t, colliding.attempts, 3)
}

func TestIssueGivesUpAfterPersistentCollisions(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defer store.Close()
	colliding := &collidingTokenStore{TokenStore: store, remaining: 1 << 30}
	clock := testutil.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	iss := newTestIssuer(t, colliding, clock)

	_, err := iss.Issue(ctx, clientCredentialsGrant(), nil)
	assertOAuthError(t, err, ErrorCodeServerError)
	testutil.AssertEqual(t, colliding.attempts, maxTokenMintAttempts)
}

// sequentialTokenStore hides the pair-save capability of the wrapped store
// and fails refresh token saves, to exercise the compensating delete.
type sequentialTokenStore struct {
	inner   storage.TokenStore
	deleted []string
}

func (s *sequentialTokenStore) SaveToken(ctx context.Context, token *storage.Token) error {
	if token.Type == storage.TokenTypeRefresh {
		return errors.New("disk full")
	}
	return s.inner.SaveToken(ctx, token)
}

func (s *sequentialTokenStore) GetToken(ctx context.Context, tokenString string) (*storage.Token, error) {
	return s.inner.GetToken(ctx, tokenString)
}

func (s *sequentialTokenStore) DeleteToken(ctx context.Context, tokenString string) error {
	s.deleted = append(s.deleted, tokenString)
	return s.inner.DeleteToken(ctx, tokenString)
}

func TestIssueCompensatesWhenRefreshSaveFails(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defer store.Close()
	seq := &sequentialTokenStore{inner: store}
	clock := testutil.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	iss := newTestIssuer(t, seq, clock)

	_, err := iss.Issue(ctx, passwordGrant(), nil)
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, len(seq.deleted), 1)

	_, err = store.GetToken(ctx, seq.deleted[0])
	if !errors.Is(err, storage.ErrTokenNotFound) {
		t.Fatalf("orphaned access token should have been deleted, got %v", err)
	}
}
