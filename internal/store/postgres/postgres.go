package postgres

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/store"
)

// DB implements store.Store for PostgreSQL through the pgx stdlib driver.
type DB struct {
	*store.SQL
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{SQL: store.NewSQL(d, store.DialectPostgres)}, nil
}
