// Package resolve maps free-text asset identifiers, branch names, and commit
// prefixes to canonical registry identity. Resolution is best-effort: absence
// is represented by empty fields plus a debug trace, never by an error.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/complylens/complylens/internal/cache"
	"github.com/complylens/complylens/internal/metrics"
	"github.com/complylens/complylens/internal/normalize"
	"github.com/complylens/complylens/internal/registry"
)

const (
	// FallbackBranch is used when neither an explicit branch nor a default
	// branch is known.
	FallbackBranch = "main"

	fullCommitLength = 40
)

type registryAPI interface {
	ListCatalog(ctx context.Context) ([]registry.Application, error)
	GetAssetByRepository(ctx context.Context, repositoryName string) (registry.AssetMetadata, error)
	ListCommits(ctx context.Context, assetUUID string) ([]registry.Commit, error)
}

// Step is one entry of the resolution debug trace.
type Step struct {
	Stage   string `json:"stage"`
	Outcome string `json:"outcome"`
}

// AssetContext is the canonical result of a resolution. Constructed fresh per
// call and immutable once returned.
type AssetContext struct {
	AssetUUID              string `json:"assetUuid,omitempty"`
	AssetName              string `json:"assetName,omitempty"`
	ProjectName            string `json:"projectName,omitempty"`
	RepositoryName         string `json:"repositoryName,omitempty"`
	ApplicationVersionUUID string `json:"applicationVersionUuid,omitempty"`
	RepositoryID           string `json:"repositoryId,omitempty"`

	DefaultBranch  string `json:"defaultBranch,omitempty"`
	ResolvedBranch string `json:"resolvedBranch,omitempty"`
	ResolvedCommit string `json:"resolvedCommit,omitempty"`
	OriginalBranch string `json:"originalBranch,omitempty"`
	OriginalCommit string `json:"originalCommit,omitempty"`

	Debug []Step `json:"debug,omitempty"`
}

// Options are the optional branch/commit hints supplied with an identifier.
type Options struct {
	Branch string
	Commit string
}

// Resolver resolves identifiers against the organization compliance catalog.
type Resolver struct {
	API        registryAPI
	Cache      cache.Cache
	Scope      string // cache key scope, normally the tenant id
	CatalogTTL time.Duration
}

func New(api registryAPI, c cache.Cache, scope string, catalogTTL time.Duration) *Resolver {
	if c == nil {
		c = cache.Nop{}
	}
	return &Resolver{API: api, Cache: c, Scope: scope, CatalogTTL: catalogTTL}
}

// Resolve maps an identifier plus optional branch/commit hints to canonical
// registry identity. It returns an error only when the catalog itself cannot
// be fetched; every narrower miss is recorded in the debug trace instead.
func (r *Resolver) Resolve(ctx context.Context, identifier string, opts Options) (AssetContext, error) {
	out := AssetContext{
		OriginalBranch: strings.TrimSpace(opts.Branch),
		OriginalCommit: strings.TrimSpace(opts.Commit),
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		out.trace("identifier", "empty identifier supplied")
		metrics.ResolutionsTotal.WithLabelValues("unmatched").Inc()
		return out, nil
	}
	if _, err := uuid.Parse(identifier); err == nil {
		out.trace("identifier", "uuid-form identifier")
	}

	catalog, err := r.Catalog(ctx)
	if err != nil {
		return out, fmt.Errorf("fetch catalog: %w", err)
	}

	r.matchCatalog(&out, catalog, identifier)
	if out.AssetUUID == "" {
		out.trace("catalog", "no application or asset matched")
		metrics.ResolutionsTotal.WithLabelValues("unmatched").Inc()
		return out, nil
	}

	if out.RepositoryName != "" {
		meta, err := r.assetMetadata(ctx, out.RepositoryName)
		if err != nil {
			out.trace("metadata", "repository metadata unavailable: "+err.Error())
		} else {
			out.DefaultBranch = meta.DefaultBranch
			out.RepositoryID = meta.RepositoryID
			out.trace("metadata", "default branch "+orNone(meta.DefaultBranch))
		}
	}

	r.resolveCommit(ctx, &out)

	outcome := "resolved"
	if out.ResolvedCommit == "" {
		outcome = "partial"
	}
	metrics.ResolutionsTotal.WithLabelValues(outcome).Inc()
	return out, nil
}

// Catalog returns the organization compliance catalog, read through the
// cache.
func (r *Resolver) Catalog(ctx context.Context) ([]registry.Application, error) {
	key := cache.Key("catalog", r.Scope)
	if b, ok := r.Cache.Get(key); ok {
		var cached []registry.Application
		if err := json.Unmarshal(b, &cached); err == nil {
			return cached, nil
		}
	}

	catalog, err := r.API.ListCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(catalog); err == nil {
		r.Cache.Put(key, b, r.CatalogTTL)
	}
	return catalog, nil
}

// assetMetadata reads repository metadata through the cache, so a repeated
// resolution with a warm cache performs no registry calls.
func (r *Resolver) assetMetadata(ctx context.Context, repositoryName string) (registry.AssetMetadata, error) {
	key := cache.Key("meta", r.Scope, normalize.Lower(repositoryName))
	if b, ok := r.Cache.Get(key); ok {
		var cached registry.AssetMetadata
		if err := json.Unmarshal(b, &cached); err == nil {
			return cached, nil
		}
	}

	meta, err := r.API.GetAssetByRepository(ctx, repositoryName)
	if err != nil {
		return registry.AssetMetadata{}, err
	}
	if b, err := json.Marshal(meta); err == nil {
		r.Cache.Put(key, b, r.CatalogTTL)
	}
	return meta, nil
}

// listCommits reads an asset's commit list through the cache, shared by
// branch resolution, prefix expansion, and the author summary.
func (r *Resolver) listCommits(ctx context.Context, assetUUID string) ([]registry.Commit, error) {
	key := cache.Key("commits", r.Scope, assetUUID)
	if b, ok := r.Cache.Get(key); ok {
		var cached []registry.Commit
		if err := json.Unmarshal(b, &cached); err == nil {
			return cached, nil
		}
	}

	commits, err := r.API.ListCommits(ctx, assetUUID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(commits); err == nil {
		r.Cache.Put(key, b, r.CatalogTTL)
	}
	return commits, nil
}

// matchCatalog performs first-match-wins substring matching: application
// name, code, and uuid first, then each child asset's name, repository, and
// uuid. Multiple equally valid matches are not ranked.
func (r *Resolver) matchCatalog(out *AssetContext, catalog []registry.Application, identifier string) {
	for _, app := range catalog {
		if matchesAny(identifier, app.Name, app.Code, app.UUID) {
			out.AssetUUID = app.UUID
			out.AssetName = app.Name
			out.ProjectName = app.Name
			out.ApplicationVersionUUID = app.VersionUUID
			if len(app.Assets) == 1 {
				out.RepositoryName = app.Assets[0].Repository
			}
			out.trace("catalog", "matched application "+app.Name)
			return
		}
	}
	for _, app := range catalog {
		for _, asset := range app.Assets {
			if matchesAny(identifier, asset.Name, asset.Repository, asset.UUID) {
				out.AssetUUID = asset.UUID
				out.AssetName = asset.Name
				out.ProjectName = app.Name
				out.RepositoryName = asset.Repository
				out.ApplicationVersionUUID = app.VersionUUID
				out.trace("catalog", "matched asset "+asset.Name+" under "+app.Name)
				return
			}
		}
	}
}

// resolveCommit fills ResolvedCommit and ResolvedBranch. A supplied commit
// wins over any branch hint; branch resolution is skipped in that case.
func (r *Resolver) resolveCommit(ctx context.Context, out *AssetContext) {
	if out.OriginalCommit != "" {
		if len(out.OriginalCommit) >= fullCommitLength {
			out.ResolvedCommit = out.OriginalCommit
			out.trace("commit", "full-length commit used as-is")
			return
		}
		r.expandShortCommit(ctx, out)
		return
	}

	branch := out.OriginalBranch
	if branch == "" {
		branch = out.DefaultBranch
	}
	if branch == "" {
		branch = FallbackBranch
	}
	out.ResolvedBranch = branch

	commits, err := r.listCommits(ctx, out.AssetUUID)
	if err != nil {
		out.trace("branch", "commit list unavailable: "+err.Error())
		return
	}
	if len(commits) == 0 {
		out.trace("branch", "asset has no commits")
		return
	}

	candidates := commitsOnBranch(commits, branch)
	if len(candidates) == 0 {
		// Missing branch metadata means "could be on any branch", not "no
		// commits".
		candidates = commits
		out.trace("branch", "no commits tagged with "+branch+", using full commit list")
	} else {
		out.trace("branch", fmt.Sprintf("%d commits on %s", len(candidates), branch))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Timestamp.After(candidates[j].Timestamp)
	})
	out.ResolvedCommit = candidates[0].SHA
	out.trace("commit", "most recent commit "+shorten(out.ResolvedCommit))
}

func (r *Resolver) expandShortCommit(ctx context.Context, out *AssetContext) {
	commits, err := r.listCommits(ctx, out.AssetUUID)
	if err != nil {
		out.trace("commit", "commit list unavailable for prefix expansion: "+err.Error())
		return
	}
	for _, commit := range commits {
		if normalize.HasPrefixFold(commit.SHA, out.OriginalCommit) {
			out.ResolvedCommit = commit.SHA
			out.trace("commit", "expanded "+out.OriginalCommit+" to "+shorten(commit.SHA))
			return
		}
	}
	out.trace("commit", "no commit matches prefix "+out.OriginalCommit)
}

func (c *AssetContext) trace(stage, outcome string) {
	c.Debug = append(c.Debug, Step{Stage: stage, Outcome: outcome})
}

func matchesAny(identifier string, fields ...string) bool {
	for _, field := range fields {
		if normalize.ContainsFold(field, identifier) {
			return true
		}
	}
	return false
}

func commitsOnBranch(commits []registry.Commit, branch string) []registry.Commit {
	var out []registry.Commit
	for _, commit := range commits {
		for _, b := range commit.Branches {
			if normalize.EqualFoldTrimmed(b, branch) {
				out = append(out, commit)
				break
			}
		}
	}
	return out
}

func shorten(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

// AuthorCount is one entry of a commit-author summary.
type AuthorCount struct {
	Author  string `json:"author"`
	Commits int    `json:"commits"`
}

// CommitSummary resolves an identifier and summarizes its recent commits per
// author, most active authors first. It shares the resolver's catalog cache
// and commit listing.
func (r *Resolver) CommitSummary(ctx context.Context, identifier, branch string, limit int) ([]AuthorCount, error) {
	resolved, err := r.Resolve(ctx, identifier, Options{Branch: branch})
	if err != nil {
		return nil, err
	}
	if resolved.AssetUUID == "" {
		return nil, errors.New("identifier did not resolve to an asset")
	}

	commits, err := r.listCommits(ctx, resolved.AssetUUID)
	if err != nil {
		return nil, err
	}
	if branch = strings.TrimSpace(branch); branch != "" {
		if on := commitsOnBranch(commits, branch); len(on) > 0 {
			commits = on
		}
	}
	sort.SliceStable(commits, func(i, j int) bool {
		return commits[i].Timestamp.After(commits[j].Timestamp)
	})
	if limit > 0 && len(commits) > limit {
		commits = commits[:limit]
	}

	counts := make(map[string]int)
	for _, commit := range commits {
		author := strings.TrimSpace(commit.Author)
		if author == "" {
			author = "(unknown)"
		}
		counts[author]++
	}
	out := make([]AuthorCount, 0, len(counts))
	for author, n := range counts {
		out = append(out, AuthorCount{Author: author, Commits: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Commits != out[j].Commits {
			return out[i].Commits > out[j].Commits
		}
		return out[i].Author < out[j].Author
	})
	return out, nil
}
