// Package testutil provides testing utilities and helpers for the
// oauth-engine library.
package testutil
