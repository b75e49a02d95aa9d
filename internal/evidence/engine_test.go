package evidence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/complylens/complylens/internal/registry"
	"github.com/complylens/complylens/internal/resolve"
)

type notesStub struct {
	queries      []registry.NotesQuery
	queryResults map[string][]registry.NoteStub // keyed by query signature
	queryErr     error
	notes        map[string]registry.Attestation
	chains       map[string][]registry.NoteStub
	assetStubs   map[string][]registry.NoteStub
	snapshots    map[string][]registry.NoteStub
}

func querySig(q registry.NotesQuery) string {
	return fmt.Sprintf("type=%s repo=%s proj=%s repos=%s commit=%s", q.NoteType, q.RepositoryID, q.Project, q.Repository, q.Commit)
}

func (s *notesStub) QueryNotes(_ context.Context, q registry.NotesQuery) ([]registry.NoteStub, error) {
	s.queries = append(s.queries, q)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.queryResults[querySig(q)], nil
}

func (s *notesStub) GetNote(_ context.Context, uuid string) (registry.Attestation, error) {
	att, ok := s.notes[uuid]
	if !ok {
		return registry.Attestation{}, errors.New("note not found")
	}
	return att, nil
}

func (s *notesStub) GetNoteChain(_ context.Context, uuid string) ([]registry.NoteStub, error) {
	return s.chains[uuid], nil
}

func (s *notesStub) ListAssetAttestations(_ context.Context, assetUUID string) ([]registry.NoteStub, error) {
	return s.assetStubs[assetUUID], nil
}

func (s *notesStub) GetAttestationSnapshot(_ context.Context, assetUUID string) ([]registry.NoteStub, error) {
	return s.snapshots[assetUUID], nil
}

type resolverStub struct {
	resolved resolve.AssetContext
	err      error
	catalog  []registry.Application
}

func (s *resolverStub) Resolve(context.Context, string, resolve.Options) (resolve.AssetContext, error) {
	return s.resolved, s.err
}

func (s *resolverStub) Catalog(context.Context) ([]registry.Application, error) {
	return s.catalog, nil
}

const commitSHA = "3e2ab4d9f1c2e3a4b5c6d7e8f9a0b1c2d3e4f5a6"

func resolvedContext() resolve.AssetContext {
	return resolve.AssetContext{
		AssetUUID:      "asset-1",
		ProjectName:    "Payments",
		RepositoryName: "org/demo-repo",
		RepositoryID:   "repo-77",
		ResolvedCommit: commitSHA,
	}
}

func att(uuid, result string, ts time.Time) registry.Attestation {
	return registry.Attestation{UUID: uuid, Result: result, Timestamp: ts, ControlPath: "checks/coverage", Commit: commitSHA}
}

func TestFirstStrategyWinsNoMerging(t *testing.T) {
	stub := &notesStub{
		queryResults: map[string][]registry.NoteStub{
			// Strategy 1: repo+commit, filtered to attestations.
			querySig(registry.NotesQuery{NoteType: "attestation", RepositoryID: "repo-77", Commit: commitSHA}): {
				{UUID: "n-1", Kind: "attestation"},
			},
			// Strategy 3 would also succeed with a different set.
			querySig(registry.NotesQuery{Commit: commitSHA}): {
				{UUID: "n-other", Kind: "attestation"},
			},
		},
		notes: map[string]registry.Attestation{
			"n-1":     att("n-1", "pass", time.Now()),
			"n-other": att("n-other", "fail", time.Now()),
		},
	}
	engine := New(stub, &resolverStub{resolved: resolvedContext()}, 4)

	result, err := engine.FindAttestations(context.Background(), Query{Identifier: "demo-repo", Commit: commitSHA[:7]})
	if err != nil {
		t.Fatalf("FindAttestations: %v", err)
	}
	if result.Strategy != "repo_commit" {
		t.Fatalf("Strategy = %q", result.Strategy)
	}
	if len(result.Attestations) != 1 || result.Attestations[0].UUID != "n-1" {
		t.Fatalf("attestations = %+v", result.Attestations)
	}
}

func TestChainFollowingLocatesDescendantAttestations(t *testing.T) {
	stub := &notesStub{
		queryResults: map[string][]registry.NoteStub{
			querySig(registry.NotesQuery{NoteType: "attestation", RepositoryID: "repo-77", Commit: commitSHA}): {
				{UUID: "build-1", Kind: "build"},
			},
		},
		chains: map[string][]registry.NoteStub{
			"build-1": {
				{UUID: "n-1", Kind: "attestation"},
				{UUID: "sbom-1", Kind: "sbom"},
			},
		},
		notes: map[string]registry.Attestation{"n-1": att("n-1", "pass", time.Now())},
	}
	engine := New(stub, &resolverStub{resolved: resolvedContext()}, 4)

	result, err := engine.FindAttestations(context.Background(), Query{Identifier: "demo-repo"})
	if err != nil {
		t.Fatalf("FindAttestations: %v", err)
	}
	if len(result.Attestations) != 1 || result.Attestations[0].UUID != "n-1" {
		t.Fatalf("attestations = %+v", result.Attestations)
	}
}

func TestFallbackThroughAssetEndpoints(t *testing.T) {
	stub := &notesStub{
		snapshots: map[string][]registry.NoteStub{
			"asset-1": {{UUID: "n-snap", Kind: "attestation"}},
		},
		notes: map[string]registry.Attestation{"n-snap": att("n-snap", "pass", time.Now())},
	}
	resolved := resolvedContext()
	resolved.RepositoryID = ""
	resolved.ResolvedCommit = ""
	engine := New(stub, &resolverStub{resolved: resolved}, 4)

	result, err := engine.FindAttestations(context.Background(), Query{Identifier: "demo-repo"})
	if err != nil {
		t.Fatalf("FindAttestations: %v", err)
	}
	if result.Strategy != "asset_snapshot" {
		t.Fatalf("Strategy = %q", result.Strategy)
	}
}

func TestCatalogScanIsLastResort(t *testing.T) {
	stub := &notesStub{
		notes: map[string]registry.Attestation{"n-cat": att("n-cat", "pass", time.Now())},
	}
	resolved := resolvedContext()
	resolved.RepositoryID = ""
	resolved.ResolvedCommit = ""
	resolver := &resolverStub{
		resolved: resolved,
		catalog: []registry.Application{
			{UUID: "app-1", Assets: []registry.Asset{
				{UUID: "asset-1", Attestations: []registry.NoteStub{{UUID: "n-cat", Kind: "attestation"}}},
			}},
		},
	}
	engine := New(stub, resolver, 4)

	result, err := engine.FindAttestations(context.Background(), Query{Identifier: "demo-repo"})
	if err != nil {
		t.Fatalf("FindAttestations: %v", err)
	}
	if result.Strategy != "catalog_scan" {
		t.Fatalf("Strategy = %q", result.Strategy)
	}
	if len(result.Attestations) != 1 {
		t.Fatalf("attestations = %+v", result.Attestations)
	}
}

func TestRangeQueryWithoutCommitSkipsCommitStrategies(t *testing.T) {
	ts := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	stub := &notesStub{
		queryResults: map[string][]registry.NoteStub{
			// The branch head is resolved, so the commit-scoped query would
			// succeed; a range query must never reach it.
			querySig(registry.NotesQuery{NoteType: "attestation", RepositoryID: "repo-77", Commit: commitSHA}): {
				{UUID: "n-pinned", Kind: "attestation"},
			},
			querySig(registry.NotesQuery{NoteType: "attestation", RepositoryID: "repo-77"}): {
				{UUID: "n-range", Kind: "attestation"},
			},
		},
		notes: map[string]registry.Attestation{
			"n-pinned": att("n-pinned", "pass", ts),
			"n-range":  att("n-range", "pass", ts),
		},
	}
	engine := New(stub, &resolverStub{resolved: resolvedContext()}, 4)

	result, err := engine.FindAttestations(context.Background(), Query{
		Identifier: "demo-repo",
		Since:      ts.AddDate(0, 0, -30),
		Until:      ts.AddDate(0, 0, 1),
	})
	if err != nil {
		t.Fatalf("FindAttestations: %v", err)
	}
	if result.Strategy != "repo_latest" {
		t.Fatalf("Strategy = %q, want repo_latest", result.Strategy)
	}
	if len(result.Attestations) != 1 || result.Attestations[0].UUID != "n-range" {
		t.Fatalf("attestations = %+v", result.Attestations)
	}
	for _, q := range stub.queries {
		if q.Commit != "" {
			t.Fatalf("commit-scoped query issued: %+v", q)
		}
	}
}

func TestNoEvidenceIsEmptyNotError(t *testing.T) {
	engine := New(&notesStub{}, &resolverStub{resolved: resolvedContext()}, 4)
	result, err := engine.FindAttestations(context.Background(), Query{Identifier: "demo-repo"})
	if err != nil {
		t.Fatalf("FindAttestations: %v", err)
	}
	if len(result.Attestations) != 0 || result.Strategy != "" {
		t.Fatalf("result = %+v", result)
	}
}

func TestResolutionFailurePropagates(t *testing.T) {
	engine := New(&notesStub{}, &resolverStub{err: errors.New("registry down")}, 4)
	if _, err := engine.FindAttestations(context.Background(), Query{Identifier: "demo-repo"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDetailFetchMergesStubFields(t *testing.T) {
	ts := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	stub := &notesStub{
		queryResults: map[string][]registry.NoteStub{
			querySig(registry.NotesQuery{NoteType: "attestation", RepositoryID: "repo-77", Commit: commitSHA}): {
				{UUID: "n-1", Kind: "attestation", ControlPath: "checks/coverage", Commit: commitSHA, Timestamp: ts},
			},
		},
		// Detail endpoint returns a sparse payload.
		notes: map[string]registry.Attestation{"n-1": {UUID: "n-1", Result: "pass"}},
	}
	engine := New(stub, &resolverStub{resolved: resolvedContext()}, 4)

	result, err := engine.FindAttestations(context.Background(), Query{Identifier: "demo-repo"})
	if err != nil {
		t.Fatalf("FindAttestations: %v", err)
	}
	got := result.Attestations[0]
	if got.ControlPath != "checks/coverage" || got.Commit != commitSHA || !got.Timestamp.Equal(ts) {
		t.Fatalf("attestation = %+v", got)
	}
}

func TestControlPathFilterBidirectional(t *testing.T) {
	now := time.Now()
	attestations := []registry.Attestation{
		{UUID: "a", ControlPath: "checks/coverage/line", Timestamp: now},
		{UUID: "b", ControlPath: "checks/secrets", Timestamp: now},
	}
	// Filter is a partial path contained in the attestation path.
	got := filterByControlPath(attestations, "coverage")
	if len(got) != 1 || got[0].UUID != "a" {
		t.Fatalf("got = %+v", got)
	}
	// Attestation path contained in a longer filter.
	got = filterByControlPath(attestations, "checks/secrets/entropy")
	if len(got) != 1 || got[0].UUID != "b" {
		t.Fatalf("got = %+v", got)
	}
}

func TestCommitVerifyNeverOverFilters(t *testing.T) {
	attestations := []registry.Attestation{
		{UUID: "a", Commit: "deadbeef"},
		{UUID: "b", Commit: ""},
	}
	// No attestation matches: unfiltered set returned.
	got := verifyCommitPrefix(attestations, commitSHA[:7])
	if len(got) != 2 {
		t.Fatalf("got = %+v, want unfiltered", got)
	}
	// One matches: only matches kept.
	attestations[1].Commit = commitSHA
	got = verifyCommitPrefix(attestations, commitSHA[:7])
	if len(got) != 1 || got[0].UUID != "b" {
		t.Fatalf("got = %+v", got)
	}
}

func TestAttestationsSortedByTimestampDescending(t *testing.T) {
	older := att("n-old", "pass", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := att("n-new", "pass", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	stub := &notesStub{
		queryResults: map[string][]registry.NoteStub{
			querySig(registry.NotesQuery{NoteType: "attestation", RepositoryID: "repo-77", Commit: commitSHA}): {
				{UUID: "n-old", Kind: "attestation"},
				{UUID: "n-new", Kind: "attestation"},
			},
		},
		notes: map[string]registry.Attestation{"n-old": older, "n-new": newer},
	}
	engine := New(stub, &resolverStub{resolved: resolvedContext()}, 4)

	result, err := engine.FindAttestations(context.Background(), Query{Identifier: "demo-repo"})
	if err != nil {
		t.Fatalf("FindAttestations: %v", err)
	}
	if result.Attestations[0].UUID != "n-new" {
		t.Fatalf("order = %v, %v", result.Attestations[0].UUID, result.Attestations[1].UUID)
	}
}

func TestStrategyCombinatorSkipsFailures(t *testing.T) {
	calls := []string{}
	strategies := []Strategy[int]{
		{Name: "first", Run: func(context.Context) ([]int, error) { calls = append(calls, "first"); return nil, errors.New("boom") }},
		{Name: "second", Run: func(context.Context) ([]int, error) { calls = append(calls, "second"); return nil, nil }},
		{Name: "third", Run: func(context.Context) ([]int, error) { calls = append(calls, "third"); return []int{7}, nil }},
		{Name: "fourth", Run: func(context.Context) ([]int, error) { calls = append(calls, "fourth"); return []int{8}, nil }},
	}
	out, name := FirstNonEmpty(context.Background(), strategies)
	if name != "third" || len(out) != 1 || out[0] != 7 {
		t.Fatalf("out = %v, name = %q", out, name)
	}
	if len(calls) != 3 {
		t.Fatalf("calls = %v, fourth must not run", calls)
	}
}

func TestStrategyCombinatorExhausted(t *testing.T) {
	out, name := FirstNonEmpty(context.Background(), []Strategy[int]{
		{Name: "only", Run: func(context.Context) ([]int, error) { return nil, nil }},
	})
	if out != nil || name != "" {
		t.Fatalf("out = %v, name = %q", out, name)
	}
}
