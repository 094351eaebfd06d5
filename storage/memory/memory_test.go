package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oauth-engine/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewWithInterval(0)
	t.Cleanup(s.Close)
	return s
}

func testToken(tokenString string) *storage.Token {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &storage.Token{
		Token:     tokenString,
		Type:      storage.TokenTypeAccess,
		ClientID:  "client-1",
		UserID:    "user-1",
		Scopes:    []string{"read"},
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestClientRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	client := &storage.Client{
		ClientID:   "client-1",
		Secret:     "secret",
		Type:       storage.ClientTypeConfidential,
		GrantTypes: []string{"client_credentials"},
		Scopes:     []string{"read"},
		CreatedAt:  time.Now(),
	}
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient: %v", err)
	}

	got, err := s.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if got.ClientID != "client-1" || got.Secret != "secret" {
		t.Errorf("got %+v", got)
	}

	// Mutating the returned copy must not affect the stored record.
	got.Scopes[0] = "mutated"
	again, err := s.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if again.Scopes[0] != "read" {
		t.Error("stored client was mutated through a returned copy")
	}

	if _, err := s.GetClient(ctx, "absent"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("expected ErrClientNotFound, got %v", err)
	}
}

func TestUserPasswordVerification(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected a generated user ID")
	}

	got, err := s.VerifyUserPassword(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("VerifyUserPassword: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("got user %q, want %q", got.ID, user.ID)
	}

	// Wrong password and unknown user return the same error.
	_, wrongErr := s.VerifyUserPassword(ctx, "alice", "wrong")
	_, unknownErr := s.VerifyUserPassword(ctx, "bob", "whatever")
	if !errors.Is(wrongErr, storage.ErrInvalidUserCredentials) {
		t.Errorf("wrong password: got %v", wrongErr)
	}
	if !errors.Is(unknownErr, storage.ErrInvalidUserCredentials) {
		t.Errorf("unknown user: got %v", unknownErr)
	}
}

func TestTokenSaveIsInsertIfAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveToken(ctx, testToken("tok-1")); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if err := s.SaveToken(ctx, testToken("tok-1")); !errors.Is(err, storage.ErrTokenExists) {
		t.Fatalf("duplicate save: got %v, want ErrTokenExists", err)
	}

	got, err := s.GetToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got.ClientID != "client-1" {
		t.Errorf("got %+v", got)
	}
}

func TestConcurrentSaveSameToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.SaveToken(ctx, testToken("contested"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, storage.ErrTokenExists) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("exactly one concurrent save should succeed, got %d", succeeded)
	}
}

func TestDeleteToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveToken(ctx, testToken("tok-1")); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if err := s.DeleteToken(ctx, "tok-1"); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	if _, err := s.GetToken(ctx, "tok-1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound after delete, got %v", err)
	}
	// Deleting an absent token is not an error.
	if err := s.DeleteToken(ctx, "tok-1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestSaveTokenPairAtomicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	refresh := testToken("refresh-1")
	refresh.Type = storage.TokenTypeRefresh
	if err := s.SaveToken(ctx, refresh); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	// Pair save colliding on the refresh string must store neither token.
	access := testToken("access-1")
	dupRefresh := testToken("refresh-1")
	dupRefresh.Type = storage.TokenTypeRefresh
	if err := s.SaveTokenPair(ctx, access, dupRefresh); !errors.Is(err, storage.ErrTokenExists) {
		t.Fatalf("got %v, want ErrTokenExists", err)
	}
	if _, err := s.GetToken(ctx, "access-1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("access token must not be stored when the pair save fails, got %v", err)
	}

	// A clean pair stores both.
	if err := s.SaveTokenPair(ctx, testToken("access-2"), func() *storage.Token {
		tok := testToken("refresh-2")
		tok.Type = storage.TokenTypeRefresh
		return tok
	}()); err != nil {
		t.Fatalf("SaveTokenPair: %v", err)
	}
	if _, err := s.GetToken(ctx, "access-2"); err != nil {
		t.Errorf("GetToken access-2: %v", err)
	}
	if _, err := s.GetToken(ctx, "refresh-2"); err != nil {
		t.Errorf("GetToken refresh-2: %v", err)
	}
}

func TestConsumeAuthorizationCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	code := &storage.AuthorizationCode{
		Code:      "code-1",
		ClientID:  "client-1",
		UserID:    "user-1",
		Scopes:    []string{"read"},
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode: %v", err)
	}

	got, err := s.ConsumeAuthorizationCode(ctx, "code-1")
	if err != nil {
		t.Fatalf("ConsumeAuthorizationCode: %v", err)
	}
	if !got.Used {
		t.Error("consumed code should be marked used")
	}

	if _, err := s.ConsumeAuthorizationCode(ctx, "code-1"); !errors.Is(err, storage.ErrCodeUsed) {
		t.Errorf("second consume: got %v, want ErrCodeUsed", err)
	}
	if _, err := s.ConsumeAuthorizationCode(ctx, "absent"); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("absent code: got %v, want ErrCodeNotFound", err)
	}
}

func TestConcurrentConsumeSameCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code:      "contested",
		ClientID:  "client-1",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("SaveAuthorizationCode: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ConsumeAuthorizationCode(ctx, "contested")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Errorf("exactly one concurrent consume should succeed, got %d", succeeded)
	}
}

func TestRemoveExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	live := testToken("live")
	expired := testToken("expired")
	expired.ExpiresAt = now.Add(-time.Minute)
	if err := s.SaveToken(ctx, live); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveToken(ctx, expired); err != nil {
		t.Fatal(err)
	}

	s.removeExpired(now)

	if _, err := s.GetToken(ctx, "live"); err != nil {
		t.Errorf("live token removed: %v", err)
	}
	if _, err := s.GetToken(ctx, "expired"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expired token should be removed, got %v", err)
	}
}
