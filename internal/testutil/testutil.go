package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/oauth-engine/storage"
)

// MockClock provides a controllable time source for deterministic testing
type MockClock struct {
	now time.Time
}

// NewMockClock creates a new mock clock
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the current mock time
func (m *MockClock) Now() time.Time {
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockClock) Advance(d time.Duration) {
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockClock) Set(t time.Time) {
	m.now = t
}

// GenerateTestClient creates a confidential test client allowed every grant
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID: "test-client-id",
		Secret:   "test-client-secret",
		Type:     storage.ClientTypeConfidential,
		RedirectURIs: []string{
			"https://example.com/callback",
		},
		GrantTypes: []string{
			"client_credentials",
			"password",
			"authorization_code",
			"refresh_token",
		},
		ClientName: "Test Client",
		Scopes:     []string{"read", "write"},
		CreatedAt:  time.Now(),
	}
}

// GenerateTestPublicClient creates a public test client with no secret
func GenerateTestPublicClient() *storage.Client {
	client := GenerateTestClient()
	client.ClientID = "test-public-client-id"
	client.Secret = ""
	client.Type = storage.ClientTypePublic
	return client
}

// GenerateTestToken creates a live access token for the test client
func GenerateTestToken(now time.Time) *storage.Token {
	return &storage.Token{
		Token:     GenerateRandomString(32),
		Type:      storage.TokenTypeAccess,
		ClientID:  "test-client-id",
		UserID:    "test-user-123",
		Scopes:    []string{"read"},
		IssuedAt:  now,
		ExpiresAt: now.Add(1 * time.Hour),
	}
}

// GenerateTestAuthorizationCode creates an unused authorization code for the
// test client
func GenerateTestAuthorizationCode(now time.Time) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        GenerateRandomString(32),
		ClientID:    "test-client-id",
		RedirectURI: "https://example.com/callback",
		Scopes:      []string{"read"},
		UserID:      "test-user-123",
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid PKCE challenge and verifier pair for
// testing. The challenge is the S256 hash of the verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// BasicAuth builds an HTTP Basic Authorization header value from already
// percent-encoded client credentials (RFC 6749 section 2.3.1).
func BasicAuth(clientID, clientSecret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(clientID+":"+clientSecret))
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertNotEqual fails the test if got == want
func AssertNotEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got == want {
		t.Errorf("got %v, want different value", got)
	}
}

// AssertStringContains fails the test if s does not contain substr
func AssertStringContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("string %q does not contain %q", s, substr)
	}
}

// AssertTrue fails the test if condition is false
func AssertTrue(t *testing.T, condition bool, message string) {
	t.Helper()
	if !condition {
		t.Errorf("assertion failed: %s", message)
	}
}

// AssertFalse fails the test if condition is true
func AssertFalse(t *testing.T, condition bool, message string) {
	t.Helper()
	if condition {
		t.Errorf("assertion failed: %s", message)
	}
}
