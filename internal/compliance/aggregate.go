// Package compliance merges required-controls data with attestation evidence
// into a scored snapshot.
package compliance

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/complylens/complylens/internal/metrics"
	"github.com/complylens/complylens/internal/normalize"
	"github.com/complylens/complylens/internal/policy"
	"github.com/complylens/complylens/internal/registry"
	"github.com/complylens/complylens/internal/resolve"
)

// Status is the aggregate compliance snapshot for one asset.
//
// Required controls with no evidence count against compliance even though
// they are not in the failing tally: absence of evidence is not failing
// evidence, but both block a perfect score.
type Status struct {
	Asset resolve.AssetContext `json:"asset"`

	Score   float64 `json:"score"`
	Passing int     `json:"passing"`
	Failing int     `json:"failing"`
	Total   int     `json:"total"`

	Controls []policy.RequiredControl `json:"controls"`

	RequiredControls int `json:"requiredControls"`
	RequiredPassing  int `json:"requiredPassing"`
	RequiredNotFound int `json:"requiredNotFound"`

	Strategy    string    `json:"strategy,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Aggregate folds attestations onto the required-controls spine. The
// required map's entries are reset and then mutated in place; re-running with
// the same inputs yields the same totals. Attestations that match no required
// control are surfaced as extra, non-required entries.
func Aggregate(required map[string]*policy.RequiredControl, attestations []registry.Attestation) Status {
	for _, control := range required {
		control.Status = policy.StatusNotFound
		control.Passing = 0
		control.Failing = 0
		control.Total = 0
	}

	extras := make(map[string]*policy.RequiredControl)
	for _, att := range attestations {
		pass := att.Result == registry.ResultPass

		control := matchRequired(required, att)
		if control == nil {
			key := extraKey(att)
			if key == "" {
				continue
			}
			if existing, ok := extras[key]; ok {
				control = existing
			} else {
				control = &policy.RequiredControl{
					Key:         key,
					Name:        att.ControlName,
					ControlPath: att.ControlPath,
					ControlUUID: att.ControlUUID,
					Status:      policy.StatusNotFound,
				}
				extras[key] = control
			}
		}

		control.Total++
		if pass {
			control.Passing++
			if control.Status != policy.StatusFailing {
				control.Status = policy.StatusPassing
			}
		} else {
			control.Failing++
			control.Status = policy.StatusFailing
		}
	}

	var out Status
	out.RequiredControls = len(required)
	controls := make([]policy.RequiredControl, 0, len(required)+len(extras))
	for _, control := range required {
		controls = append(controls, *control)
		switch control.Status {
		case policy.StatusPassing:
			out.RequiredPassing++
		case policy.StatusNotFound:
			out.RequiredNotFound++
		}
	}
	for _, control := range extras {
		controls = append(controls, *control)
	}
	sort.Slice(controls, func(i, j int) bool {
		if controls[i].Required != controls[j].Required {
			return controls[i].Required
		}
		return controls[i].Key < controls[j].Key
	})
	out.Controls = controls

	for _, control := range controls {
		out.Total++
		switch control.Status {
		case policy.StatusPassing:
			out.Passing++
		case policy.StatusFailing:
			out.Failing++
		}
	}

	if out.RequiredControls > 0 {
		out.Score = float64(out.RequiredPassing) / float64(out.RequiredControls)
	} else if out.Passing+out.Failing > 0 {
		out.Score = float64(out.Passing) / float64(out.Passing+out.Failing)
	}
	return out
}

// matchRequired joins an attestation to a required control: exact key, then
// explicit path, name, uuid, then a last-resort linear scan that compensates
// for key-scheme mismatches between the policy and evidence subsystems.
func matchRequired(required map[string]*policy.RequiredControl, att registry.Attestation) *policy.RequiredControl {
	for _, key := range []string{extraKey(att), att.ControlPath, att.ControlName, att.ControlUUID} {
		if key == "" {
			continue
		}
		if control, ok := required[key]; ok {
			return control
		}
	}

	for _, control := range required {
		if att.ControlUUID != "" && att.ControlUUID == control.ControlUUID {
			metrics.LinearScanJoinsTotal.Inc()
			slog.Debug("attestation joined by linear scan", "attestation_uuid", att.UUID, "control_key", control.Key)
			return control
		}
		if att.ControlPath != "" && control.ControlPath != "" &&
			(normalize.ContainsFold(control.ControlPath, att.ControlPath) || normalize.ContainsFold(att.ControlPath, control.ControlPath)) {
			metrics.LinearScanJoinsTotal.Inc()
			slog.Debug("attestation joined by linear scan", "attestation_uuid", att.UUID, "control_key", control.Key)
			return control
		}
	}
	return nil
}

func extraKey(att registry.Attestation) string {
	for _, candidate := range []string{att.ControlPath, att.ControlUUID, att.ControlName} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return ""
}

// Enrich fills missing display names and severities from the controls
// catalog index. It never changes Status, Score, or any counter.
func Enrich(status *Status, idx policy.Index) {
	if len(idx) == 0 {
		return
	}
	for i := range status.Controls {
		control := &status.Controls[i]
		def, ok := idx.Lookup(control.ControlUUID, control.ControlPath, control.Key)
		if !ok {
			continue
		}
		if control.Name == "" {
			control.Name = def.Name
		}
		if control.Severity == "" {
			control.Severity = def.Severity
		}
	}
}
