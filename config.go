package oauth

import (
	"log/slog"
	"time"
)

// Clock is the engine's single time source. Issuance and verification both
// read it, which keeps expiry behavior consistent and testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config holds OAuth server configuration
type Config struct {
	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 7776000 (90 days)

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// ClockSkewGracePeriod is the grace period for token expiration checks (in seconds)
	// This prevents false expiration errors due to time synchronization issues
	// Default: 5 seconds
	ClockSkewGracePeriod int64 // seconds, default: 5

	// DefaultScopes is the scope set granted when a token request carries no
	// scope parameter
	DefaultScopes []string

	// SupportedScopes lists the scopes that are allowed for clients.
	// If empty, all requested scopes are allowed.
	SupportedScopes []string

	// AllowPublicPasswordGrant permits public clients to use the password
	// grant. Public clients cannot keep a secret, so handing them resource
	// owner credentials is normally rejected.
	// Default: false (confidential clients only)
	AllowPublicPasswordGrant bool

	// DisableRefreshTokens suppresses refresh token issuance for all grant
	// types. client_credentials never receives one regardless.
	// Default: false
	DisableRefreshTokens bool

	// DisableRefreshTokenRotation keeps the presented refresh token valid
	// after use instead of rotating it. Rotation is the secure default.
	// Default: false (rotate)
	DisableRefreshTokenRotation bool

	// AllowQueryToken permits bearer tokens in a query parameter as a
	// fallback when no Authorization header is present. Query parameters end
	// up in access logs, so this is off unless explicitly enabled.
	// Default: false
	AllowQueryToken bool

	// QueryTokenParam is the query parameter consulted when AllowQueryToken
	// is set. Default: "auth_token"
	QueryTokenParam string

	// Clock is the time source for issued-at and expiry calculations.
	// Default: the system clock.
	Clock Clock
}

// applySecureDefaults applies secure-by-default configuration values
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config == nil {
		config = &Config{}
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7776000 // 90 days
	}
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5 // 5 seconds
	}
	if config.QueryTokenParam == "" {
		config.QueryTokenParam = "auth_token"
	}
	if config.Clock == nil {
		config.Clock = systemClock{}
	}

	if config.AllowPublicPasswordGrant {
		logger.Warn("SECURITY WARNING: password grant is enabled for public clients",
			"risk", "resource owner credentials exposed to clients that cannot hold a secret",
			"recommendation", "leave AllowPublicPasswordGrant=false unless a legacy client requires it")
	}
	if config.AllowQueryToken {
		logger.Warn("SECURITY NOTICE: bearer tokens accepted via query parameter",
			"risk", "tokens may leak into access logs and referrer headers",
			"param", config.QueryTokenParam)
	}
	if config.DisableRefreshTokenRotation {
		logger.Warn("SECURITY NOTICE: refresh token rotation is disabled",
			"risk", "a stolen refresh token stays valid until expiry")
	}

	return config
}

// accessTokenTTL returns the configured access token lifetime as a Duration.
func (c *Config) accessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

// refreshTokenTTL returns the configured refresh token lifetime as a Duration.
func (c *Config) refreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTL) * time.Second
}

// authorizationCodeTTL returns the configured code lifetime as a Duration.
func (c *Config) authorizationCodeTTL() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

// clockSkewGracePeriod returns the expiry grace period as a Duration.
func (c *Config) clockSkewGracePeriod() time.Duration {
	return time.Duration(c.ClockSkewGracePeriod) * time.Second
}
