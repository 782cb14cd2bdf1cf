package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/bookshelf-api/repositories"
)

// inTransaction runs fn in a transaction begun on txm and commits when fn
// succeeds. Any other outcome (fn error, commit failure, panic) rolls back.
func inTransaction[T any](ctx context.Context, txm repositories.TransactionManager, fn func(context.Context, repositories.Transaction) (T, error)) (result T, err error) {
	tx, err := txm.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("begin transaction: %w", err)
	}

	done := false
	defer func() {
		if done {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && err != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if result, err = fn(ctx, tx); err != nil {
		return result, err
	}
	if err = tx.Commit(); err != nil {
		return result, fmt.Errorf("commit transaction: %w", err)
	}
	done = true
	return result, nil
}
