package mariadbtest

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// DefaultSqlx constructs the fastest available backend and opens a
// sqlx client on its default database with Go-compatible time handling.
// Callers own closing the backend.
func DefaultSqlx(t testing.TB) (Backend, *sqlx.DB) {
	backend := Default(t)
	config := *backend.MySQLConfig()
	if config.DBName == "" {
		config.DBName = "root"
	}
	config.ParseTime = true
	config.Loc = time.Local
	db, err := sqlx.Open("mysql", config.FormatDSN())
	require.NoError(t, err, "Opening sqlx client")
	return backend, db
}
