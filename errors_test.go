package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/giantswarm/oauth-engine/internal/testutil"
)

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *Error
		wantCode   string
		wantStatus int
	}{
		{"invalid request", ErrInvalidRequest("x"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"malformed request", ErrMalformedRequest("x"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"invalid grant", ErrInvalidGrant("x"), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"invalid client", ErrInvalidClient("x"), ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"invalid scope", ErrInvalidScope("x"), ErrorCodeInvalidScope, http.StatusBadRequest},
		{"invalid token", ErrInvalidToken("x"), ErrorCodeInvalidToken, http.StatusUnauthorized},
		{"unauthorized client", ErrUnauthorizedClient("x"), ErrorCodeUnauthorizedClient, http.StatusBadRequest},
		{"unsupported grant type", ErrUnsupportedGrantType("x"), ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
		{"server error", ErrServerError("x"), ErrorCodeServerError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertEqual(t, tt.err.Code, tt.wantCode)
			testutil.AssertEqual(t, tt.err.Status, tt.wantStatus)
			testutil.AssertEqual(t, tt.err.Description, "x")
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := ErrInvalidGrant("refresh token is invalid or expired")
	testutil.AssertEqual(t, err.Error(), "invalid_grant: refresh token is invalid or expired")
}

func TestErrorUnwrapsThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("token endpoint: %w", ErrInvalidClient("nope"))

	var oauthErr *Error
	testutil.AssertTrue(t, errors.As(wrapped, &oauthErr), "errors.As should find *Error")
	testutil.AssertEqual(t, oauthErr.Code, ErrorCodeInvalidClient)
}
