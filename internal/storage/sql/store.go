package sql

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// store is the query surface the backend needs from the database.
type store interface {
	Probe(ctx context.Context, path string) (exists bool, modified time.Time, err error)
	Content(ctx context.Context, path string) (data []byte, modified time.Time, found bool, err error)
	Close() error
}

// dbStore runs the asset queries against one table.
type dbStore struct {
	db         *stdsql.DB
	probeQuery string
	dataQuery  string
}

// openStore opens and pings the database.
func openStore(ctx context.Context, dsn, table string, maxOpen int) (*dbStore, error) {
	db, err := stdsql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return newDBStore(db, table), nil
}

func newDBStore(db *stdsql.DB, table string) *dbStore {
	return &dbStore{
		db: db,
		probeQuery: fmt.Sprintf(
			`SELECT EXISTS(SELECT 1 FROM %[1]s WHERE path = $1), (SELECT time FROM %[1]s WHERE path = $1 LIMIT 1)`,
			table),
		dataQuery: fmt.Sprintf(`SELECT data, time FROM %s WHERE path = $1 LIMIT 1`, table),
	}
}

func (s *dbStore) Probe(ctx context.Context, path string) (bool, time.Time, error) {
	var (
		exists   bool
		modified stdsql.NullTime
	)
	if err := s.db.QueryRowContext(ctx, s.probeQuery, path).Scan(&exists, &modified); err != nil {
		return false, time.Time{}, fmt.Errorf("probe %s: %w", path, err)
	}
	return exists, modified.Time, nil
}

func (s *dbStore) Content(ctx context.Context, path string) ([]byte, time.Time, bool, error) {
	var (
		data     []byte
		modified stdsql.NullTime
	)
	err := s.db.QueryRowContext(ctx, s.dataQuery, path).Scan(&data, &modified)
	if err == stdsql.ErrNoRows {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("query content %s: %w", path, err)
	}
	return data, modified.Time, true, nil
}

func (s *dbStore) Close() error {
	return s.db.Close()
}
