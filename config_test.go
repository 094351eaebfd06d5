package oauth

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/giantswarm/oauth-engine/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestApplySecureDefaults(t *testing.T) {
	config := applySecureDefaults(&Config{}, discardLogger())

	testutil.AssertEqual(t, config.AccessTokenTTL, int64(3600))
	testutil.AssertEqual(t, config.RefreshTokenTTL, int64(7776000))
	testutil.AssertEqual(t, config.AuthorizationCodeTTL, int64(600))
	testutil.AssertEqual(t, config.ClockSkewGracePeriod, int64(5))
	testutil.AssertEqual(t, config.QueryTokenParam, "auth_token")
	testutil.AssertFalse(t, config.AllowPublicPasswordGrant, "password grant for public clients must default off")
	testutil.AssertFalse(t, config.AllowQueryToken, "query tokens must default off")
	testutil.AssertFalse(t, config.DisableRefreshTokenRotation, "rotation must default on")
	if config.Clock == nil {
		t.Fatal("expected a default clock")
	}
}

func TestApplySecureDefaultsNilConfig(t *testing.T) {
	config := applySecureDefaults(nil, discardLogger())
	testutil.AssertEqual(t, config.AccessTokenTTL, int64(3600))
}

func TestApplySecureDefaultsKeepsExplicitValues(t *testing.T) {
	clock := testutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	config := applySecureDefaults(&Config{
		AccessTokenTTL:  60,
		QueryTokenParam: "access_token",
		Clock:           clock,
	}, discardLogger())

	testutil.AssertEqual(t, config.AccessTokenTTL, int64(60))
	testutil.AssertEqual(t, config.QueryTokenParam, "access_token")
	testutil.AssertEqual(t, config.accessTokenTTL(), time.Minute)
	if config.Clock != clock {
		t.Error("explicit clock was replaced")
	}
}
