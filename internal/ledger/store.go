package ledger

import (
	"context"
	"fmt"
	"strings"
)

// Store persists the ledger document.
//
// note: fault injection point
type Store interface {
	// Load returns the stored ledger with defaults applied, a store that was
	// never written to yields an empty ledger.
	Load(ctx context.Context) (Ledger, error)
	Save(ctx context.Context, l Ledger) error
	Close() error
}

// Open selects a backend by the scheme of dsn.
//
//   - plain path or file://path: JSON document on disk
//   - sqlite://path: local sqlite database
//   - libsql://host or https://host: remote libsql database
//   - postgres:// or postgresql://: postgres database
func Open(ctx context.Context, dsn, authToken string) (Store, error) {
	scheme, rest, found := strings.Cut(dsn, "://")
	if !found {
		return NewFileStore(dsn), nil
	}

	switch scheme {
	case "file":
		return NewFileStore(rest), nil
	case "sqlite":
		return OpenSqlite(ctx, rest)
	case "libsql", "https":
		return OpenLibsql(ctx, dsn, authToken)
	case "postgres", "postgresql":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported ledger scheme %q", scheme)
	}
}

// MemoryStore keeps the encoded document in memory.
type MemoryStore struct {
	Data  []byte
	Saves int
}

func (m *MemoryStore) Load(ctx context.Context) (Ledger, error) {
	return Decode(m.Data)
}

func (m *MemoryStore) Save(ctx context.Context, l Ledger) error {
	data, err := Encode(l)
	if err != nil {
		return err
	}
	m.Data = data
	m.Saves++
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
