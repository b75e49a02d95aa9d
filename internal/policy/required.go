// Package policy determines which controls the organization's policy gates
// require of an asset.
package policy

import (
	"context"
	"log/slog"
	"strings"

	"github.com/complylens/complylens/internal/registry"
)

// Required-control statuses. A required control starts as not_found and is
// mutated in place by the compliance aggregator when evidence matches it.
const (
	StatusNotFound = "not_found"
	StatusPassing  = "passing"
	StatusFailing  = "failing"
)

// maxGateFallback bounds the request volume of the global gate fallback.
const maxGateFallback = 5

// RequiredControl is a control mandated by at least one applicable policy
// gate. The aggregator updates Status and the counters; Required stays false
// only for controls discovered from evidence alone.
type RequiredControl struct {
	Key         string `json:"key"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity,omitempty"`
	PolicyName  string `json:"policyName,omitempty"`
	ControlPath string `json:"controlPath,omitempty"`
	ControlUUID string `json:"controlUuid,omitempty"`
	Required    bool   `json:"required"`

	Status  string `json:"status"`
	Passing int    `json:"passing"`
	Failing int    `json:"failing"`
	Total   int    `json:"total"`
}

type gateAPI interface {
	GetAssetControls(ctx context.Context, assetUUID string) ([]registry.PolicyGroup, error)
	GetChildControls(ctx context.Context, assetUUID string) ([]registry.PolicyGroup, error)
	ListGates(ctx context.Context) ([]registry.Gate, error)
	GetGateControls(ctx context.Context, gateName string) ([]registry.PolicyGroup, error)
}

type catalogSource interface {
	Catalog(ctx context.Context) ([]registry.Application, error)
}

// Resolver determines the required-control set for an asset. Every tier of
// the fallback chain swallows its own failure; total failure yields an empty
// map, never an error.
type Resolver struct {
	API     gateAPI
	Catalog catalogSource
}

func New(api gateAPI, catalog catalogSource) *Resolver {
	return &Resolver{API: api, Catalog: catalog}
}

// RequiredControls resolves the controls policy requires of assetUUID. Tiers,
// each attempted only when the previous yielded zero controls:
//
//  1. controls attached directly to the asset
//  2. controls attached to the asset's children (batch endpoint)
//  3. children enumerated from the catalog, queried individually
//  4. global gates, capped, provenance tagged "Gate: <name>"
func (r *Resolver) RequiredControls(ctx context.Context, assetUUID string) map[string]*RequiredControl {
	out := make(map[string]*RequiredControl)
	assetUUID = strings.TrimSpace(assetUUID)
	if assetUUID == "" {
		return out
	}

	if groups, err := r.API.GetAssetControls(ctx, assetUUID); err != nil {
		slog.DebugContext(ctx, "asset controls lookup failed", "asset_uuid", assetUUID, "err", err)
	} else {
		mergeGroups(out, groups, "")
	}
	if len(out) > 0 {
		return out
	}

	if groups, err := r.API.GetChildControls(ctx, assetUUID); err != nil {
		slog.DebugContext(ctx, "child controls lookup failed", "asset_uuid", assetUUID, "err", err)
	} else {
		mergeGroups(out, groups, "")
	}
	if len(out) > 0 {
		return out
	}

	r.mergeChildrenIndividually(ctx, out, assetUUID)
	if len(out) > 0 {
		return out
	}

	r.mergeGlobalGates(ctx, out)
	if len(out) == 0 {
		slog.WarnContext(ctx, "no required controls found after all tiers", "asset_uuid", assetUUID)
	}
	return out
}

// mergeChildrenIndividually covers registries whose batch children endpoint
// is unreliable: enumerate children from the catalog and query each directly.
func (r *Resolver) mergeChildrenIndividually(ctx context.Context, out map[string]*RequiredControl, assetUUID string) {
	if r.Catalog == nil {
		return
	}
	catalog, err := r.Catalog.Catalog(ctx)
	if err != nil {
		slog.DebugContext(ctx, "catalog lookup for children failed", "asset_uuid", assetUUID, "err", err)
		return
	}
	for _, app := range catalog {
		if app.UUID != assetUUID {
			continue
		}
		for _, child := range app.Assets {
			groups, err := r.API.GetAssetControls(ctx, child.UUID)
			if err != nil {
				slog.DebugContext(ctx, "child asset controls lookup failed", "child_uuid", child.UUID, "err", err)
				continue
			}
			mergeGroups(out, groups, "")
		}
		return
	}
}

func (r *Resolver) mergeGlobalGates(ctx context.Context, out map[string]*RequiredControl) {
	gates, err := r.API.ListGates(ctx)
	if err != nil {
		slog.DebugContext(ctx, "gate enumeration failed", "err", err)
		return
	}
	if len(gates) > maxGateFallback {
		gates = gates[:maxGateFallback]
	}
	for _, gate := range gates {
		groups, err := r.API.GetGateControls(ctx, gate.Name)
		if err != nil {
			slog.DebugContext(ctx, "gate controls lookup failed", "gate", gate.Name, "err", err)
			continue
		}
		mergeGroups(out, groups, "Gate: "+gate.Name)
	}
}

// mergeGroups normalizes policy groups into the required-control map. The
// first writer per control key wins; later tiers never overwrite.
func mergeGroups(out map[string]*RequiredControl, groups []registry.PolicyGroup, provenance string) {
	for _, group := range groups {
		policyName := provenance
		if policyName == "" {
			policyName = group.PolicyName
		}
		for _, control := range group.Controls {
			key := controlKey(control)
			if key == "" {
				continue
			}
			if _, exists := out[key]; exists {
				continue
			}
			out[key] = &RequiredControl{
				Key:         key,
				Name:        control.Name,
				Description: control.Description,
				Severity:    control.Severity,
				PolicyName:  policyName,
				ControlPath: control.Path,
				ControlUUID: control.UUID,
				Required:    true,
				Status:      StatusNotFound,
			}
		}
	}
}

// controlKey picks the map key for a gate control: path, then uuid, then
// name, then display key. First non-empty wins.
func controlKey(control registry.GateControl) string {
	for _, candidate := range []string{control.Path, control.UUID, control.Name, control.Key} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return ""
}
