// Package postgres implements [goIdentity.CredentialStore] on PostgreSQL
// through database/sql and the pgx stdlib driver.
//
// Reset-token writes run in transactions that lock the affected rows with
// SELECT ... FOR UPDATE, so concurrent redemptions of one token serialize
// and exactly one succeeds. The schema is embedded and applied with goose.
package postgres
