package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-engine/storage"
)

// Compile-time interface checks
var (
	_ storage.CredentialStore = (*Store)(nil)
	_ storage.TokenStore      = (*Store)(nil)
	_ storage.TokenPairStore  = (*Store)(nil)
	_ storage.CodeStore       = (*Store)(nil)
)

// dummyHash is compared against when a username is unknown, so lookups for
// existing and non-existing users take comparable time.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("no-such-user"), bcrypt.DefaultCost)

type userRecord struct {
	user         storage.User
	passwordHash []byte
}

// Store is a thread-safe in-memory implementation of the storage interfaces.
type Store struct {
	mu      sync.RWMutex
	clients map[string]*storage.Client
	users   map[string]*userRecord // keyed by username
	tokens  map[string]*storage.Token
	codes   map[string]*storage.AuthorizationCode

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// New creates an in-memory store with a background sweep of expired tokens
// and codes every 5 minutes.
func New() *Store {
	return NewWithInterval(5 * time.Minute)
}

// NewWithInterval creates an in-memory store sweeping at the given interval.
// A non-positive interval disables the sweep.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	s := &Store{
		clients:     make(map[string]*storage.Client),
		users:       make(map[string]*userRecord),
		tokens:      make(map[string]*storage.Token),
		codes:       make(map[string]*storage.AuthorizationCode),
		stopCleanup: make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.cleanupLoop(cleanupInterval)
	}
	return s
}

// Close stops the background cleanup goroutine. Safe to call more than once.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// SaveClient registers or replaces a client.
func (s *Store) SaveClient(_ context.Context, client *storage.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := copyClient(client)
	s.clients[client.ClientID] = c
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return copyClient(client), nil
}

// CreateUser registers a user with a bcrypt-hashed password and returns the
// created record.
func (s *Store) CreateUser(_ context.Context, username, password string) (*storage.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := storage.User{
		ID:       uuid.NewString(),
		Username: username,
	}

	s.mu.Lock()
	s.users[username] = &userRecord{user: user, passwordHash: hash}
	s.mu.Unlock()

	return &user, nil
}

// VerifyUserPassword resolves a username/password pair. Unknown users and
// wrong passwords return the same error, and both paths run a bcrypt
// comparison so they are not distinguishable by timing.
func (s *Store) VerifyUserPassword(_ context.Context, username, password string) (*storage.User, error) {
	s.mu.RLock()
	record, ok := s.users[username]
	s.mu.RUnlock()

	hash := dummyHash
	if ok {
		hash = record.passwordHash
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || !ok {
		return nil, storage.ErrInvalidUserCredentials
	}

	user := record.user
	return &user, nil
}

// SaveToken saves a token, refusing duplicates. The existence check and the
// insert happen under one lock, so concurrent saves of the same string
// cannot both succeed.
func (s *Store) SaveToken(_ context.Context, token *storage.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.Token]; exists {
		return storage.ErrTokenExists
	}
	s.tokens[token.Token] = copyToken(token)
	return nil
}

// SaveTokenPair saves an access/refresh pair atomically: either both tokens
// are stored or neither is.
func (s *Store) SaveTokenPair(_ context.Context, access, refresh *storage.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[access.Token]; exists {
		return storage.ErrTokenExists
	}
	if _, exists := s.tokens[refresh.Token]; exists {
		return storage.ErrTokenExists
	}
	s.tokens[access.Token] = copyToken(access)
	s.tokens[refresh.Token] = copyToken(refresh)
	return nil
}

// GetToken retrieves a token by its string.
func (s *Store) GetToken(_ context.Context, tokenString string) (*storage.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[tokenString]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return copyToken(token), nil
}

// DeleteToken removes a token. Deleting an absent token is not an error.
func (s *Store) DeleteToken(_ context.Context, tokenString string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenString)
	return nil
}

// SaveAuthorizationCode saves an issued authorization code.
func (s *Store) SaveAuthorizationCode(_ context.Context, code *storage.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = copyCode(code)
	return nil
}

// GetAuthorizationCode retrieves an authorization code.
func (s *Store) GetAuthorizationCode(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}
	return copyCode(record), nil
}

// ConsumeAuthorizationCode atomically marks a code used and returns it.
// The check and the mark happen under one lock, so two concurrent exchanges
// of the same code cannot both succeed.
func (s *Store) ConsumeAuthorizationCode(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}
	if record.Used {
		return nil, storage.ErrCodeUsed
	}
	record.Used = true
	return copyCode(record), nil
}

// DeleteAuthorizationCode removes an authorization code.
func (s *Store) DeleteAuthorizationCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, code)
	return nil
}

func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.removeExpired(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

// removeExpired drops tokens and codes whose expiry is past.
func (s *Store) removeExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, token := range s.tokens {
		if now.After(token.ExpiresAt) {
			delete(s.tokens, key)
		}
	}
	for key, code := range s.codes {
		if now.After(code.ExpiresAt) {
			delete(s.codes, key)
		}
	}
}

// Copies keep callers from mutating shared state through returned pointers.

func copyClient(c *storage.Client) *storage.Client {
	out := *c
	out.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	out.GrantTypes = append([]string(nil), c.GrantTypes...)
	out.Scopes = append([]string(nil), c.Scopes...)
	return &out
}

func copyToken(t *storage.Token) *storage.Token {
	out := *t
	out.Scopes = append([]string(nil), t.Scopes...)
	return &out
}

func copyCode(c *storage.AuthorizationCode) *storage.AuthorizationCode {
	out := *c
	out.Scopes = append([]string(nil), c.Scopes...)
	return &out
}
