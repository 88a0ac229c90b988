package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const postgresDriver = "pgx"

var postgresDialect = dialect{
	name:      "postgres",
	schema:    `CREATE TABLE IF NOT EXISTS registry_kv (k BYTEA PRIMARY KEY, v BYTEA NOT NULL)`,
	get:       `SELECT v FROM registry_kv WHERE k = $1`,
	upsert:    `INSERT INTO registry_kv (k, v) VALUES ($1, $2) ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`,
	del:       `DELETE FROM registry_kv WHERE k = $1`,
	rangeFrom: `SELECT k, v FROM registry_kv WHERE k >= $1 ORDER BY k`,
	rangeIn:   `SELECT k, v FROM registry_kv WHERE k >= $1 AND k < $2 ORDER BY k`,
}

// Postgres is a Store backed by a PostgreSQL table.
type Postgres struct {
	*sqlStore
}

// OpenPostgres connects using a pgx DSN and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open(postgresDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s, err := newSQLStore(ctx, db, postgresDialect)
	if err != nil {
		return nil, err
	}
	return &Postgres{sqlStore: s}, nil
}

// truncate removes every row. Used by tests sharing a database.
func (p *Postgres) truncate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `TRUNCATE registry_kv`)
	return err
}
