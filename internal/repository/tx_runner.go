package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/ragquery/internal/service"
)

// TxRunner hands out document and job repositories bound to one pgx
// transaction.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// WithTx commits when fn returns nil and rolls back otherwise.
func (r *TxRunner) WithTx(ctx context.Context, fn func(repos service.TxRepositories) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(txScope{tx})
	})
}

type txScope struct{ tx pgx.Tx }

func (s txScope) Documents() service.DocumentRepositoryInterface {
	return NewDocumentRepositoryWithTx(s.tx)
}

func (s txScope) IngestJobs() service.IngestJobRepositoryInterface {
	return NewIngestJobRepositoryWithTx(s.tx)
}
