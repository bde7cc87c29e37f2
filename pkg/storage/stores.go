package storage

import (
	"context"
	"fmt"

	"github.com/ressKim-io/goeats/pkg/types"
)

// CatalogStore reads stores and menus from the store schema. The order
// flow only reads this data; writes belong to the (out of scope) store
// admin surface.
type CatalogStore struct{}

// NewCatalogStore creates a CatalogStore.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{}
}

// GetStore returns one store.
func (s *CatalogStore) GetStore(ctx context.Context, q Querier, id int64) (*types.Store, error) {
	var st types.Store
	err := q.GetContext(ctx, &st, `SELECT id, name, open FROM stores WHERE id = $1`, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &st, nil
}

// GetMenus returns the menus of a store.
func (s *CatalogStore) GetMenus(ctx context.Context, q Querier, storeID int64) ([]types.Menu, error) {
	var menus []types.Menu
	err := q.SelectContext(ctx, &menus, `
		SELECT id, store_id, name, price FROM menus WHERE store_id = $1 ORDER BY id`, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load menus for store %d: %w", storeID, err)
	}
	return menus, nil
}

// ListOpenStoreIDs returns the ids of currently open stores, the
// working set the cache warmer pre-populates.
func (s *CatalogStore) ListOpenStoreIDs(ctx context.Context, q Querier) ([]int64, error) {
	var ids []int64
	err := q.SelectContext(ctx, &ids, `SELECT id FROM stores WHERE open = TRUE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open stores: %w", err)
	}
	return ids, nil
}
