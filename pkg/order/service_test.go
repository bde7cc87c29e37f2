package order

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ressKim-io/goeats/pkg/apperr"
	"github.com/ressKim-io/goeats/pkg/store"
	"github.com/ressKim-io/goeats/pkg/types"
)

// fakeKeys remembers reserved idempotency keys.
type fakeKeys struct {
	used map[string]bool
}

func (f *fakeKeys) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if f.used == nil {
		f.used = make(map[string]bool)
	}
	if f.used[key] {
		return redis.NewBoolResult(false, nil)
	}
	f.used[key] = true
	return redis.NewBoolResult(true, nil)
}

// fakeStores serves a fixed store with two menus.
type fakeStores struct {
	open bool
}

func (f *fakeStores) GetStoreWithMenus(ctx context.Context, id int64) (*store.WithMenus, error) {
	if id != 10 {
		return nil, apperr.EntityNotFound("store", "10")
	}
	return &store.WithMenus{
		Store: types.Store{ID: 10, Name: "Chicken", Open: f.open},
		Menus: []types.Menu{
			{ID: 100, StoreID: 10, Name: "Fried", Price: 5000},
			{ID: 101, StoreID: 10, Name: "Seasoned", Price: 3000},
		},
	}, nil
}

func testService(open bool) *Service {
	return &Service{
		stores: &fakeStores{open: open},
		keys:   &fakeKeys{},
		now:    func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
		newID:  func() string { return "order-1" },
	}
}

// TestBuildOrderSnapshotsPrices mirrors the happy-path seed: menus
// [100, 101] at [5000, 3000] total 8000, prices captured at order
// time.
func TestBuildOrderSnapshotsPrices(t *testing.T) {
	svc := testService(true)

	order, err := svc.buildOrder(context.Background(), 1, &CreateRequest{
		StoreID: 10,
		Items:   []ItemInput{{MenuID: 100, Quantity: 1}, {MenuID: 101, Quantity: 1}},
		Method:  "CARD",
		Address: "A1",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(8000), order.TotalAmount)
	assert.Equal(t, types.OrderStatusPaymentPending, order.Status)
	require.Len(t, order.Items, 2)
	assert.Equal(t, int64(5000), order.Items[0].PriceSnapshot)
	assert.Equal(t, int64(3000), order.Items[1].PriceSnapshot)
}

func TestBuildOrderQuantityMultiplies(t *testing.T) {
	svc := testService(true)

	order, err := svc.buildOrder(context.Background(), 1, &CreateRequest{
		StoreID: 10,
		Items:   []ItemInput{{MenuID: 100, Quantity: 3}},
		Method:  "CARD",
		Address: "A1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(15000), order.TotalAmount)
}

func TestBuildOrderRejectsClosedStore(t *testing.T) {
	svc := testService(false)

	_, err := svc.buildOrder(context.Background(), 1, &CreateRequest{
		StoreID: 10,
		Items:   []ItemInput{{MenuID: 100, Quantity: 1}},
		Method:  "CARD",
		Address: "A1",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
}

func TestBuildOrderRejectsForeignMenu(t *testing.T) {
	svc := testService(true)

	_, err := svc.buildOrder(context.Background(), 1, &CreateRequest{
		StoreID: 10,
		Items:   []ItemInput{{MenuID: 999, Quantity: 1}},
		Method:  "CARD",
		Address: "A1",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
}

// TestIdempotencyKeyGuard: the same key within the retention window is
// rejected with DuplicateRequest before any business work.
func TestIdempotencyKeyGuard(t *testing.T) {
	keys := &fakeKeys{}

	first, err := keys.SetNX(context.Background(), "idem:1:abc", "t", idempotencyTTL).Result()
	require.NoError(t, err)
	assert.True(t, first)

	second, err := keys.SetNX(context.Background(), "idem:1:abc", "t", idempotencyTTL).Result()
	require.NoError(t, err)
	assert.False(t, second)

	// Different users never collide on the same opaque key.
	other, err := keys.SetNX(context.Background(), "idem:2:abc", "t", idempotencyTTL).Result()
	require.NoError(t, err)
	assert.True(t, other)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  *CreateRequest
		ok   bool
	}{
		{"valid", &CreateRequest{StoreID: 10, Items: []ItemInput{{MenuID: 100}}, Method: "CARD", Address: "A1"}, true},
		{"nil", nil, false},
		{"missing store", &CreateRequest{Items: []ItemInput{{MenuID: 100}}, Method: "CARD", Address: "A1"}, false},
		{"no items", &CreateRequest{StoreID: 10, Method: "CARD", Address: "A1"}, false},
		{"no method", &CreateRequest{StoreID: 10, Items: []ItemInput{{MenuID: 100}}, Address: "A1"}, false},
		{"no address", &CreateRequest{StoreID: 10, Items: []ItemInput{{MenuID: 100}}, Method: "CARD"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.req)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
			}
		})
	}
}
