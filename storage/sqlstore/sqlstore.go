package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
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

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("no-such-user"), bcrypt.DefaultCost)

const schema = `
CREATE TABLE IF NOT EXISTS clients (
	client_id     TEXT PRIMARY KEY,
	secret        TEXT NOT NULL,
	type          TEXT NOT NULL,
	redirect_uris TEXT NOT NULL,
	grant_types   TEXT NOT NULL,
	client_name   TEXT NOT NULL,
	scopes        TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
	token      TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	client_id  TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	scopes     TEXT NOT NULL,
	issued_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	revoked    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tokens_expires_at ON tokens (expires_at);

CREATE TABLE IF NOT EXISTS auth_codes (
	code                  TEXT PRIMARY KEY,
	client_id             TEXT NOT NULL,
	redirect_uri          TEXT NOT NULL,
	scopes                TEXT NOT NULL,
	user_id               TEXT NOT NULL,
	code_challenge        TEXT NOT NULL,
	code_challenge_method TEXT NOT NULL,
	created_at            INTEGER NOT NULL,
	expires_at            INTEGER NOT NULL,
	used                  INTEGER NOT NULL DEFAULT 0
);
`

// Store is a SQLite-backed implementation of the storage interfaces.
type Store struct {
	db *sqlx.DB
}

// Open connects to the SQLite database at dsn (":memory:" works for tests)
// and applies the schema.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type clientRow struct {
	ClientID     string `db:"client_id"`
	Secret       string `db:"secret"`
	Type         string `db:"type"`
	RedirectURIs string `db:"redirect_uris"`
	GrantTypes   string `db:"grant_types"`
	ClientName   string `db:"client_name"`
	Scopes       string `db:"scopes"`
	CreatedAt    int64  `db:"created_at"`
}

type tokenRow struct {
	Token     string `db:"token"`
	Type      string `db:"type"`
	ClientID  string `db:"client_id"`
	UserID    string `db:"user_id"`
	Scopes    string `db:"scopes"`
	IssuedAt  int64  `db:"issued_at"`
	ExpiresAt int64  `db:"expires_at"`
	Revoked   bool   `db:"revoked"`
}

type codeRow struct {
	Code                string `db:"code"`
	ClientID            string `db:"client_id"`
	RedirectURI         string `db:"redirect_uri"`
	Scopes              string `db:"scopes"`
	UserID              string `db:"user_id"`
	CodeChallenge       string `db:"code_challenge"`
	CodeChallengeMethod string `db:"code_challenge_method"`
	CreatedAt           int64  `db:"created_at"`
	ExpiresAt           int64  `db:"expires_at"`
	Used                bool   `db:"used"`
}

// SaveClient registers or replaces a client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO clients
			(client_id, secret, type, redirect_uris, grant_types, client_name, scopes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ClientID, client.Secret, client.Type,
		encodeStrings(client.RedirectURIs), encodeStrings(client.GrantTypes),
		client.ClientName, encodeStrings(client.Scopes), client.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var row clientRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM clients WHERE client_id = ?`, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &storage.Client{
		ClientID:     row.ClientID,
		Secret:       row.Secret,
		Type:         row.Type,
		RedirectURIs: decodeStrings(row.RedirectURIs),
		GrantTypes:   decodeStrings(row.GrantTypes),
		ClientName:   row.ClientName,
		Scopes:       decodeStrings(row.Scopes),
		CreatedAt:    time.Unix(row.CreatedAt, 0).UTC(),
	}, nil
}

// CreateUser registers a user with a bcrypt-hashed password.
func (s *Store) CreateUser(ctx context.Context, username, password string) (*storage.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &storage.User{
		ID:       uuid.NewString(),
		Username: username,
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO users (id, username, password_hash) VALUES (?, ?, ?)`,
		user.ID, user.Username, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// VerifyUserPassword resolves a username/password pair. Unknown users and
// wrong passwords return the same error, and both paths run a bcrypt
// comparison.
func (s *Store) VerifyUserPassword(ctx context.Context, username, password string) (*storage.User, error) {
	var row struct {
		ID           string `db:"id"`
		Username     string `db:"username"`
		PasswordHash []byte `db:"password_hash"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT id, username, password_hash FROM users WHERE username = ?`, username)
	found := true
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to look up user: %w", err)
		}
		found = false
		row.PasswordHash = dummyHash
	}

	if err := bcrypt.CompareHashAndPassword(row.PasswordHash, []byte(password)); err != nil || !found {
		return nil, storage.ErrInvalidUserCredentials
	}

	return &storage.User{ID: row.ID, Username: row.Username}, nil
}

// SaveToken saves a token. The primary key makes duplicate token strings a
// constraint violation, reported as ErrTokenExists.
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (token, type, client_id, user_id, scopes, issued_at, expires_at, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		token.Token, token.Type, token.ClientID, token.UserID,
		encodeStrings(token.Scopes), token.IssuedAt.Unix(), token.ExpiresAt.Unix(), token.Revoked)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrTokenExists
		}
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// SaveTokenPair saves both tokens in one transaction.
func (s *Store) SaveTokenPair(ctx context.Context, access, refresh *storage.Token) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, token := range []*storage.Token{access, refresh} {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tokens (token, type, client_id, user_id, scopes, issued_at, expires_at, revoked)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			token.Token, token.Type, token.ClientID, token.UserID,
			encodeStrings(token.Scopes), token.IssuedAt.Unix(), token.ExpiresAt.Unix(), token.Revoked)
		if err != nil {
			if isUniqueViolation(err) {
				return storage.ErrTokenExists
			}
			return fmt.Errorf("failed to save token: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit token pair: %w", err)
	}
	return nil
}

// GetToken retrieves a token by its string.
func (s *Store) GetToken(ctx context.Context, tokenString string) (*storage.Token, error) {
	var row tokenRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM tokens WHERE token = ?`, tokenString)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &storage.Token{
		Token:     row.Token,
		Type:      row.Type,
		ClientID:  row.ClientID,
		UserID:    row.UserID,
		Scopes:    decodeStrings(row.Scopes),
		IssuedAt:  time.Unix(row.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(row.ExpiresAt, 0).UTC(),
		Revoked:   row.Revoked,
	}, nil
}

// DeleteToken removes a token. Deleting an absent token is not an error.
func (s *Store) DeleteToken(ctx context.Context, tokenString string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE token = ?`, tokenString); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// DeleteExpiredTokens removes tokens whose expiry is before now. Intended
// to be run periodically by the host application.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}

// SaveAuthorizationCode saves an issued authorization code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_codes
			(code, client_id, redirect_uri, scopes, user_id, code_challenge, code_challenge_method, created_at, expires_at, used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.Code, code.ClientID, code.RedirectURI, encodeStrings(code.Scopes),
		code.UserID, code.CodeChallenge, code.CodeChallengeMethod,
		code.CreatedAt.Unix(), code.ExpiresAt.Unix(), code.Used)
	if err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

// GetAuthorizationCode retrieves an authorization code.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	var row codeRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM auth_codes WHERE code = ?`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	return row.toCode(), nil
}

// ConsumeAuthorizationCode marks a code used with a conditional UPDATE. The
// database serializes the updates, so two concurrent exchanges of the same
// code cannot both see rows affected.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE auth_codes SET used = 1 WHERE code = ? AND used = 0`, code)
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if affected == 0 {
		var row codeRow
		err := s.db.GetContext(ctx, &row, `SELECT * FROM auth_codes WHERE code = ?`, code)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, storage.ErrCodeNotFound
			}
			return nil, fmt.Errorf("failed to get authorization code: %w", err)
		}
		return nil, storage.ErrCodeUsed
	}

	record, err := s.GetAuthorizationCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// DeleteAuthorizationCode removes an authorization code.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_codes WHERE code = ?`, code); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}

func (r codeRow) toCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                r.Code,
		ClientID:            r.ClientID,
		RedirectURI:         r.RedirectURI,
		Scopes:              decodeStrings(r.Scopes),
		UserID:              r.UserID,
		CodeChallenge:       r.CodeChallenge,
		CodeChallengeMethod: r.CodeChallengeMethod,
		CreatedAt:           time.Unix(r.CreatedAt, 0).UTC(),
		ExpiresAt:           time.Unix(r.ExpiresAt, 0).UTC(),
		Used:                r.Used,
	}
}

// isUniqueViolation reports whether err is a SQLite unique or primary key
// constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// String slices are stored as JSON in TEXT columns.

func encodeStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	return values
}
