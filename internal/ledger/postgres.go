package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `create table if not exists portalbridge_ledger (
	id integer primary key check (id = 1),
	document jsonb not null,
	updated_at timestamptz not null default now()
)`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return PostgresStore{}, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return PostgresStore{}, fmt.Errorf("connect postgres: %w", err)
	}
	_, err = pool.Exec(ctx, postgresSchema)
	if err != nil {
		pool.Close()
		return PostgresStore{}, fmt.Errorf("create ledger table: %w", err)
	}
	return PostgresStore{pool: pool}, nil
}

func (s PostgresStore) Load(ctx context.Context) (Ledger, error) {
	var document []byte
	err := s.pool.QueryRow(ctx, "select document from portalbridge_ledger where id = 1").Scan(&document)
	if errors.Is(err, pgx.ErrNoRows) {
		return WithDefaults(Ledger{})
	}
	if err != nil {
		return Ledger{}, err
	}
	return Decode(document)
}

func (s PostgresStore) Save(ctx context.Context, l Ledger) error {
	data, err := Encode(l)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(
		ctx,
		`insert into portalbridge_ledger (id, document, updated_at) values (1, $1::jsonb, now())
		on conflict (id) do update set document = excluded.document, updated_at = now()`,
		string(data),
	)
	return err
}

func (s PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
