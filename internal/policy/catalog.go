package policy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/complylens/complylens/internal/cache"
	"github.com/complylens/complylens/internal/registry"
)

type controlsAPI interface {
	ListControlDefinitions(ctx context.Context) ([]registry.ControlDefinition, error)
}

// ControlCatalog is a cached index of the org controls catalog, used to
// enrich control display names by UUID or path. Lookups are best-effort: a
// failed fetch yields an empty index, never an error.
type ControlCatalog struct {
	API   controlsAPI
	Cache cache.Cache
	Scope string
	TTL   time.Duration
}

func NewControlCatalog(api controlsAPI, c cache.Cache, scope string, ttl time.Duration) *ControlCatalog {
	if c == nil {
		c = cache.Nop{}
	}
	return &ControlCatalog{API: api, Cache: c, Scope: scope, TTL: ttl}
}

// Index maps both UUIDs and paths to control definitions.
type Index map[string]registry.ControlDefinition

// Lookup returns the definition for a UUID or path, if known.
func (idx Index) Lookup(keys ...string) (registry.ControlDefinition, bool) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if def, ok := idx[key]; ok {
			return def, true
		}
	}
	return registry.ControlDefinition{}, false
}

// Load fetches the controls catalog through the cache and builds the index.
func (c *ControlCatalog) Load(ctx context.Context) Index {
	key := cache.Key("controls", c.Scope)
	if b, ok := c.Cache.Get(key); ok {
		var defs []registry.ControlDefinition
		if err := json.Unmarshal(b, &defs); err == nil {
			return buildIndex(defs)
		}
	}

	defs, err := c.API.ListControlDefinitions(ctx)
	if err != nil {
		slog.DebugContext(ctx, "controls catalog fetch failed", "err", err)
		return Index{}
	}
	if b, err := json.Marshal(defs); err == nil {
		c.Cache.Put(key, b, c.TTL)
	}
	return buildIndex(defs)
}

func buildIndex(defs []registry.ControlDefinition) Index {
	idx := make(Index, len(defs)*2)
	for _, def := range defs {
		if def.UUID != "" {
			idx[def.UUID] = def
		}
		if def.Path != "" {
			idx[def.Path] = def
		}
	}
	return idx
}
