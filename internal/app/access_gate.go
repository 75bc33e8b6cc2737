/**
 * @description
 * This file implements the access gate: a membership predicate over chain
 * addresses, backed by an allow-list fetched from the member registry and
 * refreshed on an interval. The gate tolerates registry outages with bounded
 * staleness: a failed refresh keeps the last good snapshot (fail-open to
 * last-known), and only a gate that has never obtained a snapshot denies all
 * callers (fail-closed).
 *
 * @dependencies
 * - context, log, strings, sync, time: Standard Go libraries.
 */

package app

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

// allowListSource fetches the current admitted-address set. pkg/registryclient
// satisfies this in production.
type allowListSource interface {
	FetchAllowList(ctx context.Context) ([]string, error)
}

// AccessGate answers IsAuthorized for chain addresses against a cached
// allow-list snapshot.
type AccessGate struct {
	source          allowListSource
	refreshInterval time.Duration

	mu          sync.RWMutex
	snapshot    map[string]struct{}
	loaded      bool
	refreshedAt time.Time
}

// NewAccessGate creates a gate over the given source. refreshInterval bounds
// the staleness window of the cached snapshot.
func NewAccessGate(source allowListSource, refreshInterval time.Duration) *AccessGate {
	if refreshInterval <= 0 {
		refreshInterval = time.Minute
	}
	return &AccessGate{
		source:          source,
		refreshInterval: refreshInterval,
		snapshot:        make(map[string]struct{}),
	}
}

// Start performs an initial refresh and then keeps refreshing in the
// background until ctx is cancelled. An initial failure is logged, not fatal:
// the gate simply denies everyone until the first successful refresh.
func (g *AccessGate) Start(ctx context.Context) {
	if err := g.Refresh(ctx); err != nil {
		log.Printf("level=warn component=access_gate msg=\"initial allow-list refresh failed; denying all callers until a snapshot is obtained\" err=%v", err)
	}

	go func() {
		ticker := time.NewTicker(g.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := g.Refresh(ctx); err != nil {
					log.Printf("level=warn component=access_gate msg=\"allow-list refresh failed; serving last good snapshot\" snapshot_age=%s err=%v", time.Since(g.snapshotTime()), err)
				}
			}
		}
	}()
}

// Refresh fetches the allow-list once and swaps in the new snapshot on
// success. On failure the previous snapshot stays in place.
func (g *AccessGate) Refresh(ctx context.Context) error {
	addresses, err := g.source.FetchAllowList(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		next[strings.ToLower(strings.TrimSpace(addr))] = struct{}{}
	}

	g.mu.Lock()
	g.snapshot = next
	g.loaded = true
	g.refreshedAt = time.Now()
	g.mu.Unlock()
	return nil
}

// IsAuthorized reports whether the address is in the current snapshot.
// Addresses compare case-insensitively. Before the first successful refresh
// every address is denied.
func (g *AccessGate) IsAuthorized(address string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.loaded {
		return false
	}
	_, ok := g.snapshot[strings.ToLower(strings.TrimSpace(address))]
	return ok
}

func (g *AccessGate) snapshotTime() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.refreshedAt
}
