package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// dialect holds the statements of one database/sql backend.
type dialect struct {
	name      string
	schema    string
	get       string
	upsert    string
	del       string
	rangeFrom string // key >= lo
	rangeIn   string // lo <= key < hi
}

// sqlStore is a Store over a single key/value table.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", d.name, err)
	}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create %s schema: %w", d.name, err)
	}
	return &sqlStore{db: db, d: d}, nil
}

func (s *sqlStore) Get(key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRowContext(context.Background(), s.d.get, []byte(key)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	if v == nil {
		v = []byte{}
	}
	return v, true, nil
}

// Iterate reads the whole range before calling fn, so fn may use the
// store.
func (s *sqlStore) Iterate(prefix string, fn func(string, []byte) bool) error {
	ctx := context.Background()
	var (
		rows *sql.Rows
		err  error
	)
	if end := prefixEnd(prefix); end == "" {
		rows, err = s.db.QueryContext(ctx, s.d.rangeFrom, []byte(prefix))
	} else {
		rows, err = s.db.QueryContext(ctx, s.d.rangeIn, []byte(prefix), []byte(end))
	}
	if err != nil {
		return fmt.Errorf("iterate %q: %w", prefix, err)
	}
	var entries []Write
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan %q: %w", prefix, err)
		}
		if v == nil {
			v = []byte{}
		}
		entries = append(entries, Write{Key: string(k), Value: v})
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("iterate %q: %w", prefix, err)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %q: %w", prefix, err)
	}
	for _, e := range entries {
		if !fn(e.Key, e.Value) {
			return nil
		}
	}
	return nil
}

func (s *sqlStore) Apply(ctx context.Context, b Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx: %w", s.d.name, err)
	}
	for _, w := range b {
		if w.Delete {
			_, err = tx.ExecContext(ctx, s.d.del, []byte(w.Key))
		} else {
			v := w.Value
			if v == nil {
				v = []byte{}
			}
			_, err = tx.ExecContext(ctx, s.d.upsert, []byte(w.Key), v)
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write %q: %w", w.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s tx: %w", s.d.name, err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
