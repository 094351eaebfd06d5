// Package storage defines the persistence interfaces the oauth-engine core
// depends on, plus the data types they exchange.
//
// Two backends ship with the module:
//
//   - memory: an in-memory store for development, testing and
//     single-instance deployments
//   - sqlstore: a SQL-backed store (sqlite) for deployments that need
//     persistence across restarts
//
// Backends may additionally implement the optional capability interfaces
// (TokenPairStore, CodeStore); the engine discovers them with type
// assertions at construction time.
package storage
