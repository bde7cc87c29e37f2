// Package store serves the store/menu read model the order flow
// validates against, wrapped in the multi-level read-path fallback:
// cache first, storage behind a circuit breaker, cache again as the
// breaker fallback, then a typed failure.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/ressKim-io/goeats/pkg/apperr"
	"github.com/ressKim-io/goeats/pkg/cache"
	"github.com/ressKim-io/goeats/pkg/log"
	"github.com/ressKim-io/goeats/pkg/metrics"
	"github.com/ressKim-io/goeats/pkg/resilience"
	"github.com/ressKim-io/goeats/pkg/storage"
	"github.com/ressKim-io/goeats/pkg/types"
)

// TTLs vary by hotness: the identity record outlives the aggregate
// with details, which changes more often.
const (
	storeTTL = 30 * time.Minute
	menusTTL = 5 * time.Minute
)

// WithMenus is the aggregate-with-details read model.
type WithMenus struct {
	Store types.Store  `json:"store"`
	Menus []types.Menu `json:"menus"`
}

// Service reads stores and menus.
type Service struct {
	db       *sqlx.DB
	catalog  *storage.CatalogStore
	cache    *cache.Client
	envelope *resilience.Envelope
	logger   zerolog.Logger
}

// NewService creates the read service. The envelope guards the storage
// query; reads are idempotent so retry stays enabled.
func NewService(db *sqlx.DB, catalog *storage.CatalogStore, c *cache.Client, cfg resilience.Config) *Service {
	cfg.Retryable = true
	return &Service{
		db:       db,
		catalog:  catalog,
		cache:    c,
		envelope: resilience.New("store-read", cfg),
		logger:   log.WithComponent("store-service"),
	}
}

func storeKey(id int64) string { return fmt.Sprintf("store:%d", id) }
func menusKey(id int64) string { return fmt.Sprintf("store:%d:menus", id) }

// GetStore returns one store through the four-level read path.
func (s *Service) GetStore(ctx context.Context, id int64) (*types.Store, error) {
	var st types.Store
	err := s.read(ctx, storeKey(id), &st, storeTTL, func(ctx context.Context) (interface{}, error) {
		v, err := s.catalog.GetStore(ctx, s.db, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.EntityNotFound("store", fmt.Sprint(id))
		}
		return v, err
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetStoreWithMenus returns the store and its menus.
func (s *Service) GetStoreWithMenus(ctx context.Context, id int64) (*WithMenus, error) {
	var wm WithMenus
	err := s.read(ctx, menusKey(id), &wm, menusTTL, func(ctx context.Context) (interface{}, error) {
		st, err := s.catalog.GetStore(ctx, s.db, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, apperr.EntityNotFound("store", fmt.Sprint(id))
			}
			return nil, err
		}
		menus, err := s.catalog.GetMenus(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		return &WithMenus{Store: *st, Menus: menus}, nil
	})
	if err != nil {
		return nil, err
	}
	return &wm, nil
}

// read is the shared fallback ladder. dest must be a pointer.
func (s *Service) read(ctx context.Context, key string, dest interface{}, ttl time.Duration, query func(ctx context.Context) (interface{}, error)) error {
	// L1: cache.
	if hit, err := s.cache.GetJSON(ctx, key, dest); err == nil && hit {
		metrics.CacheHitsTotal.WithLabelValues("l1").Inc()
		return nil
	}
	metrics.CacheMissesTotal.Inc()

	// L2: storage behind the circuit breaker. L3: when the breaker (or
	// storage) fails, one manual cache re-read before surfacing L4.
	var loaded interface{}
	err := s.envelope.Do(ctx, func(ctx context.Context) error {
		v, err := query(ctx)
		if err != nil {
			// Not-found is an answer, not a storage failure; don't
			// feed it to the breaker's failure window.
			if apperr.Is(err, apperr.KindEntityNotFound) {
				loaded = nil
				return nil
			}
			return err
		}
		loaded = v
		return nil
	}, func(ctx context.Context, cause error) error {
		if hit, err := s.cache.GetJSON(ctx, key, dest); err == nil && hit {
			metrics.CacheHitsTotal.WithLabelValues("l3").Inc()
			s.logger.Warn().Str("key", key).Msg("Served from fallback cache during storage outage")
			return errServedFromFallback
		}
		if errors.Is(cause, resilience.ErrCircuitOpen) {
			return apperr.Wrap(apperr.KindCircuitBreakerOpen, "store storage unavailable", cause)
		}
		return apperr.Wrap(apperr.KindServiceUnavailable, "store read path exhausted", cause)
	})

	if errors.Is(err, errServedFromFallback) {
		return nil
	}
	if err != nil {
		return err
	}
	if loaded == nil {
		return apperr.EntityNotFound("store", key)
	}

	// Populating the cache is a side-effect of L2 success.
	if err := s.cache.SetJSON(ctx, key, loaded, ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Cache populate failed")
	}
	return copyJSON(loaded, dest)
}

// errServedFromFallback distinguishes a successful L3 read from a real
// fallback error inside the envelope.
var errServedFromFallback = errors.New("served from fallback cache")
