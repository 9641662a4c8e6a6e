package services

import (
	"errors"
	"fmt"

	"github.com/temcen/ratingrec/internal/database"
	"github.com/temcen/ratingrec/internal/ml"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInsufficientData   = errors.New("insufficient data")
	ErrComputationFailure = errors.New("computation failure")
	ErrBatchInProgress    = errors.New("batch generation already in progress")
)

// classify maps errors from the storage and vectorizer layers onto the engine's taxonomy.
// Errors that already carry an engine sentinel pass through unchanged.
func classify(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrInsufficientData), errors.Is(err, ErrComputationFailure),
		errors.Is(err, ErrBatchInProgress):
		return err
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	case errors.Is(err, ml.ErrNoData):
		return fmt.Errorf("%s: %w: %w", op, ErrInsufficientData, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrComputationFailure, err)
	}
}
