package federation

import (
	"context"
	"fmt"
	"sync"
	"time"

	supabase "github.com/supabase-community/supabase-go"

	"github.com/ocx/backend/internal/circuitbreaker"
)

// directoryCacheTTL bounds how long a display-name lookup is cached before
// the next GetFederatedInstitutions call refreshes it from Supabase.
const directoryCacheTTL = 5 * time.Minute

type institutionRow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type directoryEntry struct {
	name      string
	fetchedAt time.Time
}

// Directory is a read-through cache over the Supabase `institutions` table,
// used to resolve display names for GetFederatedInstitutions without a round
// trip on every call.
type Directory struct {
	client  *supabase.Client
	breaker *circuitbreaker.CircuitBreaker

	mu    sync.RWMutex
	cache map[string]directoryEntry
}

// NewDirectory wraps a Supabase client for institution display-name lookups.
// A nil client disables the directory; DisplayName then always returns the
// institution id unchanged. Lookups are gated by the federation-supabase
// breaker of a FederationCircuitBreakers set that NewDirectory builds for
// this Directory alone, so a Supabase outage degrades to stale-cache/id
// fallback instead of stalling every GetFederatedInstitutions call.
func NewDirectory(client *supabase.Client) *Directory {
	return NewDirectoryWithBreakers(client, circuitbreaker.NewFederationCircuitBreakers())
}

// NewDirectoryWithBreakers is like NewDirectory but takes an explicit
// FederationCircuitBreakers set, so a composition root that already built
// one (to share with peer-verification calls) can hand it in instead of
// Directory silently constructing its own independent breaker manager.
func NewDirectoryWithBreakers(client *supabase.Client, breakers *circuitbreaker.FederationCircuitBreakers) *Directory {
	return &Directory{
		client:  client,
		breaker: breakers.SupabaseQuery,
		cache:   make(map[string]directoryEntry),
	}
}

// DisplayName resolves an institution id to its human-readable name,
// falling back to the id itself if the directory is disabled or the lookup
// fails.
func (d *Directory) DisplayName(ctx context.Context, institutionID string) string {
	if d == nil || d.client == nil {
		return institutionID
	}

	d.mu.RLock()
	entry, ok := d.cache[institutionID]
	d.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < directoryCacheTTL {
		return entry.name
	}

	name, err := d.fetch(institutionID)
	if err != nil {
		if ok {
			return entry.name // serve stale cache entry rather than the bare id
		}
		return institutionID
	}

	d.mu.Lock()
	d.cache[institutionID] = directoryEntry{name: name, fetchedAt: time.Now()}
	d.mu.Unlock()
	return name
}

func (d *Directory) fetch(institutionID string) (string, error) {
	name, err := d.breaker.Execute(func() (interface{}, error) {
		var rows []institutionRow
		_, err := d.client.From("institutions").
			Select("id,name", "", false).
			Eq("id", institutionID).
			ExecuteTo(&rows)
		if err != nil {
			return "", fmt.Errorf("federation: directory lookup: %w", err)
		}
		if len(rows) == 0 {
			return "", fmt.Errorf("federation: institution %s not found in directory", institutionID)
		}
		return rows[0].Name, nil
	})
	if err != nil {
		return "", err
	}
	return name.(string), nil
}
