// Package mysql provides the MySQL-backed persistence layer. A single Store
// satisfies the ledger, escrow and reputation store interfaces on top of one
// connection pool, with schema migrations applied from embedded SQL files.
package mysql
