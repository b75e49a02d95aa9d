package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/complylens/complylens/internal/cache"
	"github.com/complylens/complylens/internal/evidence"
	"github.com/complylens/complylens/internal/policy"
	"github.com/complylens/complylens/internal/resolve"
)

type identifierResolver interface {
	Resolve(ctx context.Context, identifier string, opts resolve.Options) (resolve.AssetContext, error)
}

type requiredResolver interface {
	RequiredControls(ctx context.Context, assetUUID string) map[string]*policy.RequiredControl
}

type evidenceFinder interface {
	FindAttestationsResolved(ctx context.Context, q evidence.Query, resolved resolve.AssetContext) evidence.Result
}

type controlIndexLoader interface {
	Load(ctx context.Context) policy.Index
}

// Service assembles compliance snapshots: resolve the identifier, gather
// required controls and evidence, aggregate, enrich, and cache by resolved
// identity so a short SHA and its full form share an entry.
type Service struct {
	Resolver identifierResolver
	Policy   requiredResolver
	Evidence evidenceFinder
	Controls controlIndexLoader
	Cache    cache.Cache
	Scope    string
	TTL      time.Duration

	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time
}

func NewService(resolver identifierResolver, pol requiredResolver, ev evidenceFinder, controls controlIndexLoader, c cache.Cache, scope string, ttl time.Duration) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	return &Service{
		Resolver: resolver,
		Policy:   pol,
		Evidence: ev,
		Controls: controls,
		Cache:    c,
		Scope:    scope,
		TTL:      ttl,
	}
}

// Status computes (or returns the cached) compliance snapshot for an
// identifier with optional branch/commit hints.
func (s *Service) Status(ctx context.Context, identifier, branch, commit string) (Status, error) {
	resolved, err := s.Resolver.Resolve(ctx, identifier, resolve.Options{Branch: branch, Commit: commit})
	if err != nil {
		return Status{}, fmt.Errorf("resolve %q: %w", identifier, err)
	}

	key := cache.Key("compliance", s.Scope, resolved.AssetUUID, resolved.ResolvedCommit)
	if resolved.AssetUUID != "" {
		if b, ok := s.Cache.Get(key); ok {
			var cached Status
			if err := json.Unmarshal(b, &cached); err == nil {
				return cached, nil
			}
		}
	}

	required := s.Policy.RequiredControls(ctx, resolved.AssetUUID)
	result := s.Evidence.FindAttestationsResolved(ctx, evidence.Query{
		Identifier: identifier,
		Commit:     commit,
		Branch:     branch,
	}, resolved)

	status := Aggregate(required, result.Attestations)
	status.Asset = resolved
	status.Strategy = result.Strategy
	status.LastUpdated = s.now()

	if s.Controls != nil {
		Enrich(&status, s.Controls.Load(ctx))
	}

	if resolved.AssetUUID != "" {
		if b, err := json.Marshal(status); err == nil {
			s.Cache.Put(key, b, s.TTL)
		} else {
			slog.DebugContext(ctx, "snapshot cache encode failed", "err", err)
		}
	}
	return status, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
