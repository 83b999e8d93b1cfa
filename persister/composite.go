package persister

import (
	"context"
	"time"
)

type compositeStore struct {
	stores []Store
}

var _ Store = (*compositeStore)(nil)

// NewComposite chains stores: reads return the first hit in order, writes
// and deletes fan out to all. Enables in-memory L1 over Redis L2 layouts.
// At least one store must be provided; panics if empty.
func NewComposite(stores ...Store) Store {
	if len(stores) == 0 {
		panic("persister: NewComposite requires at least one store")
	}
	return &compositeStore{stores: stores}
}

func (s *compositeStore) GetContext(ctx context.Context, key string) (bool, Entry, error) {
	for _, store := range s.stores {
		found, entry, err := store.GetContext(ctx, key)
		if err != nil {
			return false, Entry{}, err
		}
		if found {
			return true, entry, nil
		}
	}
	return false, Entry{}, nil
}

func (s *compositeStore) SetContext(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	var firstErr error
	for _, store := range s.stores {
		if err := store.SetContext(ctx, key, entry, ttl); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *compositeStore) DeleteContext(ctx context.Context, key string) (bool, error) {
	var deleted bool
	var firstErr error
	for _, store := range s.stores {
		ok, err := store.DeleteContext(ctx, key)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		deleted = deleted || ok
	}
	return deleted, firstErr
}

func (s *compositeStore) CloseContext(ctx context.Context) error {
	var firstErr error
	for _, store := range s.stores {
		if err := store.CloseContext(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
