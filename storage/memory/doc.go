// Package memory provides an in-memory storage backend. It implements every
// storage interface, including atomic token-pair saves and atomic
// authorization code consumption, and is suitable for tests, examples and
// single-process deployments that can afford to lose state on restart.
package memory
