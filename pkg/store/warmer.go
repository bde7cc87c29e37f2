package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ressKim-io/goeats/pkg/locking"
)

func copyJSON(src, dest interface{}) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to copy read result: %w", err)
	}
	return json.Unmarshal(data, dest)
}

// Warmer pre-populates the cache with the active working set (open
// stores and their menus) at startup, under the leader lock so one
// instance per group does the scan.
type Warmer struct {
	svc   *Service
	sched *locking.Scheduler
}

// NewWarmer creates a warmer.
func NewWarmer(svc *Service, sched *locking.Scheduler) *Warmer {
	return &Warmer{svc: svc, sched: sched}
}

// Run executes one warm pass. Failures degrade to cold cache, never to
// startup failure.
func (w *Warmer) Run(ctx context.Context) {
	release, ok, err := w.sched.Acquire(ctx, "store-warmer", 2*time.Minute, 10*time.Second)
	if err != nil {
		w.svc.logger.Error().Err(err).Msg("Warmer leader lock failed")
		return
	}
	if !ok {
		return
	}
	defer release()

	ids, err := w.svc.catalog.ListOpenStoreIDs(ctx, w.svc.db)
	if err != nil {
		w.svc.logger.Error().Err(err).Msg("Warmer scan failed")
		return
	}

	warmed := 0
	for _, id := range ids {
		st, err := w.svc.catalog.GetStore(ctx, w.svc.db, id)
		if err != nil {
			continue
		}
		menus, err := w.svc.catalog.GetMenus(ctx, w.svc.db, id)
		if err != nil {
			continue
		}
		if err := w.svc.cache.SetJSON(ctx, storeKey(id), st, storeTTL); err != nil {
			continue
		}
		_ = w.svc.cache.SetJSON(ctx, menusKey(id), &WithMenus{Store: *st, Menus: menus}, menusTTL)
		warmed++
	}

	w.svc.logger.Info().Int("stores", warmed).Msg("Cache warm complete")
}
