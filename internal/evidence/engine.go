// Package evidence locates attestation evidence for an asset across the
// registry's overlapping query surfaces, trying strategies in fixed priority
// order and stopping at the first that yields results.
package evidence

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/complylens/complylens/internal/normalize"
	"github.com/complylens/complylens/internal/registry"
	"github.com/complylens/complylens/internal/resolve"
)

const defaultFetchWorkers = 10

type notesAPI interface {
	QueryNotes(ctx context.Context, q registry.NotesQuery) ([]registry.NoteStub, error)
	GetNote(ctx context.Context, noteUUID string) (registry.Attestation, error)
	GetNoteChain(ctx context.Context, noteUUID string) ([]registry.NoteStub, error)
	ListAssetAttestations(ctx context.Context, assetUUID string) ([]registry.NoteStub, error)
	GetAttestationSnapshot(ctx context.Context, assetUUID string) ([]registry.NoteStub, error)
}

type assetResolver interface {
	Resolve(ctx context.Context, identifier string, opts resolve.Options) (resolve.AssetContext, error)
	Catalog(ctx context.Context) ([]registry.Application, error)
}

// Query is the filter set for an evidence search. Identifier is required;
// everything else is optional.
type Query struct {
	Identifier  string
	ControlPath string
	Commit      string
	Branch      string
	Since       time.Time
	Until       time.Time
}

// Result is the outcome of an evidence search, carrying which strategy
// produced it for observability.
type Result struct {
	Attestations []registry.Attestation
	Strategy     string
	Resolved     resolve.AssetContext
}

// Engine retrieves attestation evidence. Best-effort: no evidence is an
// empty result, never an error; an error is returned only when identifier
// resolution itself cannot reach the registry.
type Engine struct {
	API      notesAPI
	Resolver assetResolver
	Workers  int
}

func New(api notesAPI, resolver assetResolver, workers int) *Engine {
	if workers < 1 {
		workers = defaultFetchWorkers
	}
	return &Engine{API: api, Resolver: resolver, Workers: workers}
}

// FindAttestations resolves the identifier and runs the retrieval strategy
// chain. The returned attestations are sorted by timestamp descending.
func (e *Engine) FindAttestations(ctx context.Context, q Query) (Result, error) {
	resolved, err := e.Resolver.Resolve(ctx, q.Identifier, resolve.Options{Branch: q.Branch, Commit: q.Commit})
	if err != nil {
		return Result{}, err
	}
	return e.findForContext(ctx, q, resolved)
}

// FindAttestationsResolved runs the strategy chain against an already
// resolved context, skipping re-resolution.
func (e *Engine) FindAttestationsResolved(ctx context.Context, q Query, resolved resolve.AssetContext) Result {
	result, _ := e.findForContext(ctx, q, resolved)
	return result
}

func (e *Engine) findForContext(ctx context.Context, q Query, resolved resolve.AssetContext) (Result, error) {
	stubs, strategy := FirstNonEmpty(ctx, e.strategies(q, resolved))
	if len(stubs) == 0 {
		return Result{Resolved: resolved}, nil
	}

	attestations := e.fetchDetails(ctx, dedupe(stubs))
	attestations = filterByControlPath(attestations, q.ControlPath)
	attestations = verifyCommitPrefix(attestations, q.Commit)
	attestations = filterByTimeRange(attestations, q.Since, q.Until)
	sort.SliceStable(attestations, func(i, j int) bool {
		return attestations[i].Timestamp.After(attestations[j].Timestamp)
	})

	return Result{Attestations: attestations, Strategy: strategy, Resolved: resolved}, nil
}

// strategies builds the fixed retrieval priority order. Each strategy is
// self-contained; FirstNonEmpty stops at the first that yields stubs.
func (e *Engine) strategies(q Query, resolved resolve.AssetContext) []Strategy[registry.NoteStub] {
	commit := resolved.ResolvedCommit
	rawCommit := strings.TrimSpace(q.Commit)

	// A time-range query with no caller-supplied commit skips the
	// commit-scoped strategies: the resolver fills ResolvedCommit with the
	// branch head, which would collapse the whole range onto one commit's
	// evidence.
	rangeQuery := rawCommit == "" && (!q.Since.IsZero() || !q.Until.IsZero())

	var out []Strategy[registry.NoteStub]

	if commit != "" && !rangeQuery && resolved.RepositoryID != "" {
		out = append(out, Strategy[registry.NoteStub]{
			Name: "repo_commit",
			Run: func(ctx context.Context) ([]registry.NoteStub, error) {
				stubs, err := e.API.QueryNotes(ctx, registry.NotesQuery{
					NoteType:     registry.NoteKindAttestation,
					RepositoryID: resolved.RepositoryID,
					Commit:       commit,
					ControlPath:  q.ControlPath,
					Since:        q.Since,
					Until:        q.Until,
				})
				if err != nil {
					return nil, err
				}
				return e.followChains(ctx, stubs), nil
			},
		})
	}

	if commit != "" && !rangeQuery && resolved.ProjectName != "" && resolved.RepositoryName != "" {
		out = append(out, Strategy[registry.NoteStub]{
			Name: "project_repo_commit",
			Run: func(ctx context.Context) ([]registry.NoteStub, error) {
				stubs, err := e.API.QueryNotes(ctx, registry.NotesQuery{
					Project:    resolved.ProjectName,
					Repository: resolved.RepositoryName,
					Commit:     commit,
					Since:      q.Since,
					Until:      q.Until,
				})
				if err != nil {
					return nil, err
				}
				return e.followChains(ctx, stubs), nil
			},
		})
	}

	if rawCommit != "" {
		out = append(out, Strategy[registry.NoteStub]{
			Name: "commit_broad",
			Run: func(ctx context.Context) ([]registry.NoteStub, error) {
				searchCommit := commit
				if searchCommit == "" {
					searchCommit = rawCommit
				}
				stubs, err := e.API.QueryNotes(ctx, registry.NotesQuery{
					Commit: searchCommit,
					Since:  q.Since,
					Until:  q.Until,
				})
				if err != nil {
					return nil, err
				}
				return e.followChains(ctx, stubs), nil
			},
		})
	}

	if resolved.RepositoryID != "" {
		out = append(out, Strategy[registry.NoteStub]{
			Name: "repo_latest",
			Run: func(ctx context.Context) ([]registry.NoteStub, error) {
				return e.API.QueryNotes(ctx, registry.NotesQuery{
					NoteType:     registry.NoteKindAttestation,
					RepositoryID: resolved.RepositoryID,
					Since:        q.Since,
					Until:        q.Until,
				})
			},
		})
	}

	if resolved.AssetUUID != "" {
		out = append(out,
			Strategy[registry.NoteStub]{
				Name: "asset_attestations",
				Run: func(ctx context.Context) ([]registry.NoteStub, error) {
					return e.API.ListAssetAttestations(ctx, resolved.AssetUUID)
				},
			},
			Strategy[registry.NoteStub]{
				Name: "asset_snapshot",
				Run: func(ctx context.Context) ([]registry.NoteStub, error) {
					return e.API.GetAttestationSnapshot(ctx, resolved.AssetUUID)
				},
			},
			Strategy[registry.NoteStub]{
				Name: "catalog_scan",
				Run: func(ctx context.Context) ([]registry.NoteStub, error) {
					return e.scanCatalog(ctx, resolved.AssetUUID)
				},
			},
		)
	}

	return out
}

// followChains keeps attestation stubs and chases the lineage of any other
// note kind to locate descendant attestation notes.
func (e *Engine) followChains(ctx context.Context, stubs []registry.NoteStub) []registry.NoteStub {
	var out []registry.NoteStub
	for _, stub := range stubs {
		if stub.Kind == "" || stub.Kind == registry.NoteKindAttestation {
			out = append(out, stub)
			continue
		}
		chain, err := e.API.GetNoteChain(ctx, stub.UUID)
		if err != nil {
			slog.DebugContext(ctx, "note chain lookup failed", "note_uuid", stub.UUID, "err", err)
			continue
		}
		for _, linked := range chain {
			if linked.Kind == registry.NoteKindAttestation {
				out = append(out, linked)
			}
		}
	}
	return out
}

func (e *Engine) scanCatalog(ctx context.Context, assetUUID string) ([]registry.NoteStub, error) {
	catalog, err := e.Resolver.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	for _, app := range catalog {
		for _, asset := range app.Assets {
			if asset.UUID == assetUUID {
				return asset.Attestations, nil
			}
		}
	}
	return nil, nil
}

// fetchDetails resolves stub UUIDs to full attestation payloads with bounded
// concurrency. Individual failures are skipped; list endpoints only return
// stub fields, so this pass is what surfaces measured values and narratives.
func (e *Engine) fetchDetails(ctx context.Context, stubs []registry.NoteStub) []registry.Attestation {
	out := make([]registry.Attestation, len(stubs))
	found := make([]bool, len(stubs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Workers)
	for i, stub := range stubs {
		i, stub := i, stub
		g.Go(func() error {
			att, err := e.API.GetNote(gctx, stub.UUID)
			if err != nil {
				slog.DebugContext(gctx, "attestation detail fetch failed", "note_uuid", stub.UUID, "err", err)
				return nil
			}
			if att.Timestamp.IsZero() {
				att.Timestamp = stub.Timestamp
			}
			if att.ControlPath == "" {
				att.ControlPath = stub.ControlPath
			}
			if att.Commit == "" {
				att.Commit = stub.Commit
			}
			out[i] = att
			found[i] = true
			return nil
		})
	}
	_ = g.Wait()

	result := out[:0]
	for i := range out {
		if found[i] {
			result = append(result, out[i])
		}
	}
	return result
}

func dedupe(stubs []registry.NoteStub) []registry.NoteStub {
	seen := make(map[string]struct{}, len(stubs))
	out := stubs[:0]
	for _, stub := range stubs {
		if stub.UUID == "" {
			continue
		}
		if _, dup := seen[stub.UUID]; dup {
			continue
		}
		seen[stub.UUID] = struct{}{}
		out = append(out, stub)
	}
	return out
}

// filterByControlPath matches bidirectionally (path contains filter or filter
// contains path) to tolerate partial paths. Applied defensively even when the
// upstream query already constrained by path.
func filterByControlPath(attestations []registry.Attestation, controlPath string) []registry.Attestation {
	controlPath = strings.TrimSpace(controlPath)
	if controlPath == "" {
		return attestations
	}
	var out []registry.Attestation
	for _, att := range attestations {
		if att.ControlPath == "" {
			continue
		}
		if normalize.ContainsFold(att.ControlPath, controlPath) || normalize.ContainsFold(controlPath, att.ControlPath) {
			out = append(out, att)
		}
	}
	return out
}

// verifyCommitPrefix keeps commit-matching attestations only when at least
// one matches; a fully non-matching set is returned unfiltered, since the
// commit field is not consistently populated upstream.
func verifyCommitPrefix(attestations []registry.Attestation, commit string) []registry.Attestation {
	commit = strings.TrimSpace(commit)
	if commit == "" {
		return attestations
	}
	var matched []registry.Attestation
	for _, att := range attestations {
		if normalize.HasPrefixFold(att.Commit, commit) || normalize.HasPrefixFold(commit, att.Commit) {
			matched = append(matched, att)
		}
	}
	if len(matched) == 0 {
		return attestations
	}
	return matched
}

func filterByTimeRange(attestations []registry.Attestation, since, until time.Time) []registry.Attestation {
	if since.IsZero() && until.IsZero() {
		return attestations
	}
	var out []registry.Attestation
	for _, att := range attestations {
		if !since.IsZero() && att.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && att.Timestamp.After(until) {
			continue
		}
		out = append(out, att)
	}
	return out
}
