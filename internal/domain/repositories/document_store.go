package repositories

import (
	"context"

	"github.com/clinicledger/costing/internal/domain/entities"
)

// DocumentStore defines atomic whole-document access to the costing state
type DocumentStore interface {
	// Load returns a deep copy of the current document with defaults filled in
	Load(ctx context.Context) (*entities.Document, error)

	// Mutate applies fn to the live document and persists the result.
	// When fn returns an error nothing is written and the error is returned unchanged.
	// Mutate calls on the same store never interleave.
	Mutate(ctx context.Context, fn func(doc *entities.Document) error) error
}

// MutateWith runs Mutate and hands back the value computed by fn
func MutateWith[R any](ctx context.Context, store DocumentStore, fn func(doc *entities.Document) (R, error)) (R, error) {
	var result R
	err := store.Mutate(ctx, func(doc *entities.Document) error {
		r, err := fn(doc)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}
