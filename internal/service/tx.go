package service

import "context"

// TxRepositories are the repositories usable inside WithTx. Writes through
// them land atomically.
type TxRepositories interface {
	Documents() DocumentRepositoryInterface
	IngestJobs() IngestJobRepositoryInterface
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}
