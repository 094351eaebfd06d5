package security

import "time"

// IsExpired reports whether a token or code with the given expiry is expired
// at the given instant, allowing a grace period for clock skew between the
// issuing and verifying hosts.
//
// The caller supplies now so that issuance and verification share a single
// injectable time source.
func IsExpired(now, expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(gracePeriod))
}

// IsExpiringSoon reports whether the expiry falls within the given threshold
// from now. Useful for proactive refresh decisions.
func IsExpiringSoon(now, expiresAt time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.Add(threshold).After(expiresAt)
}
