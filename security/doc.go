// Package security provides security features for the OAuth engine:
// audit logging with PII protection, rate limiting, token expiry checks
// and secure HTTP response headers.
package security
