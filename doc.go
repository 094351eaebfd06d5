// Package oauth implements an embeddable OAuth 2.0 authorization server
// core: client authentication, grant validation, token issuance and bearer
// token verification.
//
// The engine is transport-agnostic. Server and Verifier operate on a small
// Request value; Handler adapts them to net/http. Persistence is pluggable
// through the storage interfaces, with in-memory and SQL backends provided
// under storage/memory and storage/sqlstore.
//
// Supported grants: client_credentials, password, authorization_code (with
// PKCE) and refresh_token with rotation. Revocation follows RFC 7009 and
// bearer token usage follows RFC 6750.
//
// Basic usage:
//
//	store := memory.New()
//	srv, err := oauth.NewServer(store, store, store, &oauth.Config{}, logger)
//	if err != nil { ... }
//	handler := oauth.NewHandler(srv, logger)
//	mux.HandleFunc("/oauth/token", handler.ServeToken)
package oauth
