package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	GrantType string
	Details   map[string]any
	Timestamp time.Time
}

// Audit event types
const (
	EventTokenIssued      = "token_issued"
	EventTokenRevoked     = "token_revoked"
	EventGrantRejected    = "grant_rejected"
	EventAuthFailure      = "auth_failure"
	EventTokenVerifyFail  = "token_verification_failed"
	EventCodeIssued       = "authorization_code_issued"
	EventCodeReuse        = "authorization_code_reuse_detected"
	EventRateLimitExceeded = "rate_limit_exceeded"
)

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"grant_type", event.GrantType,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs when a token is issued
func (a *Auditor) LogTokenIssued(userID, clientID string, grantType, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		UserID:    userID,
		ClientID:  clientID,
		GrantType: grantType,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenRevoked logs when a token is revoked
func (a *Auditor) LogTokenRevoked(clientID, tokenType string) {
	a.LogEvent(Event{
		Type:     EventTokenRevoked,
		ClientID: clientID,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogGrantRejected logs a grant validation failure
func (a *Auditor) LogGrantRejected(clientID string, grantType, reason string) {
	a.LogEvent(Event{
		Type:      EventGrantRejected,
		ClientID:  clientID,
		GrantType: grantType,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogAuthFailure logs a client or token authentication failure
func (a *Auditor) LogAuthFailure(userID, clientID, reason string) {
	a.LogEvent(Event{
		Type:     EventAuthFailure,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogCodeIssued logs when an authorization code is issued
func (a *Auditor) LogCodeIssued(userID, clientID, scope string) {
	a.LogEvent(Event{
		Type:     EventCodeIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// hashForLogging hashes a sensitive value so audit logs stay correlatable
// without storing the raw identifier.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(sum[:8])
}
