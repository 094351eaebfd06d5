// Package sqlstore provides a SQLite-backed storage backend using sqlx.
// Token string uniqueness is enforced by the primary key, token pairs are
// saved in a transaction, and authorization codes are consumed with a
// single conditional UPDATE, so all atomicity requirements of the storage
// interfaces hold across processes sharing the database.
package sqlstore
