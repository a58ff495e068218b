package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

const sqlSchema = `create table if not exists ledger (
	id integer primary key check (id = 1),
	document text not null,
	updated_at integer not null
)`

// SqlStore keeps the ledger as a single-row document table, it serves both
// sqlite and libsql.
type SqlStore struct {
	db *sql.DB
}

// NewSqlStore wraps an open database and creates the ledger table.
func NewSqlStore(ctx context.Context, db *sql.DB) (SqlStore, error) {
	_, err := db.ExecContext(ctx, sqlSchema)
	if err != nil {
		return SqlStore{}, fmt.Errorf("create ledger table: %w", err)
	}
	return SqlStore{db: db}, nil
}

// OpenSqlite opens (and creates if needed) a local sqlite database.
func OpenSqlite(ctx context.Context, path string) (SqlStore, error) {
	if path == "" {
		return SqlStore{}, fmt.Errorf("a path was not specified")
	}
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0o755)
		if err != nil {
			return SqlStore{}, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return SqlStore{}, err
	}
	// sqlite only tolerates a single writer
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, err = db.ExecContext(ctx, "PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return SqlStore{}, err
		}
	}

	store, err := NewSqlStore(ctx, db)
	if err != nil {
		db.Close()
	}
	return store, err
}

// OpenLibsql connects to a remote libsql database.
func OpenLibsql(ctx context.Context, dsn, authToken string) (SqlStore, error) {
	if authToken != "" {
		u, err := url.Parse(dsn)
		if err != nil {
			return SqlStore{}, err
		}
		q := u.Query()
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return SqlStore{}, err
	}
	store, err := NewSqlStore(ctx, db)
	if err != nil {
		db.Close()
	}
	return store, err
}

func (s SqlStore) Load(ctx context.Context) (Ledger, error) {
	var document string
	err := s.db.QueryRowContext(ctx, "select document from ledger where id = 1").Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return WithDefaults(Ledger{})
	}
	if err != nil {
		return Ledger{}, err
	}
	return Decode([]byte(document))
}

func (s SqlStore) Save(ctx context.Context, l Ledger) error {
	data, err := Encode(l)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`insert into ledger (id, document, updated_at) values (1, ?, ?)
		on conflict (id) do update set document = excluded.document, updated_at = excluded.updated_at`,
		string(data),
		time.Now().Unix(),
	)
	return err
}

func (s SqlStore) Close() error {
	return s.db.Close()
}
