package slot

import "context"

// Mutator mutates a loaded Registry in place. Returning an error aborts
// the update without persisting any change.
type Mutator func(*Registry) error

// Store is the sole persistence layer for slot state. Get returns
// errors.ErrTypeRegistryNotFound when no registry exists for the key.
// Update atomically reads, applies mutator, validates invariants, and
// writes back; concurrent Update calls for the same key are serialized,
// calls for different keys are independent.
type Store interface {
	Get(ctx context.Context, project, environment string) (*Registry, error)
	Update(ctx context.Context, project, environment string, mutator Mutator) (*Registry, error)
	List(ctx context.Context) ([]*Registry, error)
}
