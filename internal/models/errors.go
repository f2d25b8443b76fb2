package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection means a store or API is unreachable or rejected our credentials.
	ErrConnection = errors.New("connection error")
	// ErrIngestion covers per-file parse and per-batch upsert failures.
	ErrIngestion = errors.New("ingestion error")
	// ErrQuery covers anything failing while answering a question.
	ErrQuery = errors.New("query error")
	// ErrEmbedding means the model failed or produced an empty vector.
	ErrEmbedding = errors.New("embedding error")
	ErrConfig    = errors.New("invalid configuration")
)

// ErrDimensionMismatch indicates a vector whose length differs from the deployment dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return ErrEmbedding }

// Wrap tags err with the given sentinel kind and an operation name.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", kind, op, err)
}
