package registry

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Session carries the pre-authenticated principal used for every registry
// call. The client attaches it verbatim; it never validates or refreshes it.
type Session struct {
	UserID      string
	TenantID    string
	AccessToken string
}

// Application is one entry of the organization compliance catalog.
type Application struct {
	UUID        string
	Name        string
	Code        string
	VersionUUID string
	Assets      []Asset
}

// Asset is a child of a catalog application (repository or module).
type Asset struct {
	UUID         string
	Name         string
	Repository   string
	Attestations []NoteStub
}

// AssetMetadata is per-repository metadata looked up after catalog matching.
type AssetMetadata struct {
	DefaultBranch string
	RepositoryID  string
}

// Commit is one entry of an asset's commit list.
type Commit struct {
	SHA       string
	Author    string
	Timestamp time.Time
	Branches  []string
}

// NoteStub is a stub record returned by note list/query endpoints. Only the
// per-UUID detail endpoint returns the full evidence payload.
type NoteStub struct {
	UUID        string
	Kind        string
	ControlPath string
	Commit      string
	Timestamp   time.Time
}

// Attestation results.
const (
	ResultPass    = "pass"
	ResultFail    = "fail"
	ResultUnknown = "unknown"
)

// NoteKindAttestation is the note type carrying evidence results.
const NoteKindAttestation = "attestation"

// Attestation is a fully resolved piece of evidence.
type Attestation struct {
	UUID        string
	Result      string
	Timestamp   time.Time
	ControlUUID string
	ControlPath string
	ControlName string
	Commit      string
	Detail      string
}

// PolicyGroup is one policy of a gate-controls response with the controls it
// mandates.
type PolicyGroup struct {
	PolicyName string
	Controls   []GateControl
}

// GateControl is a control mandated by a policy.
type GateControl struct {
	Key         string
	Name        string
	Description string
	Severity    string
	Path        string
	UUID        string
}

// Gate is an environment-scoped policy bundle.
type Gate struct {
	UUID        string
	Name        string
	Environment string
}

// ControlDefinition is one entry of the org controls catalog, used for
// display-name enrichment.
type ControlDefinition struct {
	UUID     string
	Path     string
	Name     string
	Severity string
}

// NotesQuery is the filter set for the notes/evidence query endpoint. Zero
// fields are omitted from the request.
type NotesQuery struct {
	NoteType     string
	RepositoryID string
	Project      string
	Repository   string
	Commit       string
	ControlPath  string
	Since        time.Time
	Until        time.Time
}

// decodeList tolerates the three list envelopes the registry's API
// generations use: a bare array, {"data":[...]}, and {"items":[...]}.
func decodeList(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var out []json.RawMessage
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var envelope struct {
		Data  []json.RawMessage `json:"data"`
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data != nil {
		return envelope.Data, nil
	}
	return envelope.Items, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Some endpoints return epoch millis.
		var ms int64
		if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
		return time.Time{}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// parseActor tolerates both the string and the {name, email} object form of
// commit author fields.
func parseActor(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return firstNonEmpty(obj.Name, obj.Email)
	}
	return ""
}

// NormalizeResult folds the result/status aliases of several API generations
// into pass, fail, or unknown.
func NormalizeResult(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pass", "passed", "passing", "success", "succeeded", "ok", "true":
		return ResultPass
	case "fail", "failed", "failing", "error", "violated", "false":
		return ResultFail
	default:
		return ResultUnknown
	}
}

func mapApplication(raw json.RawMessage) (Application, error) {
	var payload struct {
		UUID        string            `json:"uuid"`
		ID          string            `json:"id"`
		Identifier  string            `json:"identifier"`
		Name        string            `json:"name"`
		Code        string            `json:"code"`
		AppCode     string            `json:"applicationCode"`
		VersionUUID string            `json:"versionUuid"`
		Version     string            `json:"applicationVersionUuid"`
		Assets      []json.RawMessage `json:"assets"`
		Children    []json.RawMessage `json:"children"`
		Components  []json.RawMessage `json:"components"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Application{}, err
	}

	app := Application{
		UUID:        firstNonEmpty(payload.UUID, payload.ID, payload.Identifier),
		Name:        strings.TrimSpace(payload.Name),
		Code:        firstNonEmpty(payload.Code, payload.AppCode),
		VersionUUID: firstNonEmpty(payload.VersionUUID, payload.Version),
	}

	children := payload.Assets
	if len(children) == 0 {
		children = payload.Children
	}
	if len(children) == 0 {
		children = payload.Components
	}
	for _, rawChild := range children {
		asset, err := mapAsset(rawChild)
		if err != nil {
			continue
		}
		app.Assets = append(app.Assets, asset)
	}
	return app, nil
}

func mapAsset(raw json.RawMessage) (Asset, error) {
	var payload struct {
		UUID         string            `json:"uuid"`
		ID           string            `json:"id"`
		Name         string            `json:"name"`
		Repository   string            `json:"repository"`
		RepoName     string            `json:"repositoryName"`
		Attestations []json.RawMessage `json:"attestations"`
		Evidence     []json.RawMessage `json:"evidence"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Asset{}, err
	}

	asset := Asset{
		UUID:       firstNonEmpty(payload.UUID, payload.ID),
		Name:       strings.TrimSpace(payload.Name),
		Repository: firstNonEmpty(payload.Repository, payload.RepoName),
	}
	stubs := payload.Attestations
	if len(stubs) == 0 {
		stubs = payload.Evidence
	}
	for _, rawStub := range stubs {
		stub, err := mapNoteStub(rawStub)
		if err != nil || stub.UUID == "" {
			continue
		}
		asset.Attestations = append(asset.Attestations, stub)
	}
	return asset, nil
}

func mapAssetMetadata(raw []byte) (AssetMetadata, error) {
	var payload struct {
		DefaultBranch string `json:"defaultBranch"`
		MainBranch    string `json:"mainBranch"`
		RepositoryID  string `json:"repositoryId"`
		RepoID        string `json:"repoId"`
		Data          *struct {
			DefaultBranch string `json:"defaultBranch"`
			RepositoryID  string `json:"repositoryId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return AssetMetadata{}, err
	}
	meta := AssetMetadata{
		DefaultBranch: firstNonEmpty(payload.DefaultBranch, payload.MainBranch),
		RepositoryID:  firstNonEmpty(payload.RepositoryID, payload.RepoID),
	}
	if payload.Data != nil {
		meta.DefaultBranch = firstNonEmpty(meta.DefaultBranch, payload.Data.DefaultBranch)
		meta.RepositoryID = firstNonEmpty(meta.RepositoryID, payload.Data.RepositoryID)
	}
	return meta, nil
}

func mapCommit(raw json.RawMessage) (Commit, error) {
	var payload struct {
		SHA        string          `json:"sha"`
		Commit     string          `json:"commit"`
		CommitID   string          `json:"commitId"`
		ID         string          `json:"id"`
		Author     json.RawMessage `json:"author"`
		AuthorName string          `json:"authorName"`
		Committer  json.RawMessage `json:"committer"`
		Timestamp  json.RawMessage `json:"timestamp"`
		Committed  json.RawMessage `json:"committedAt"`
		Created    json.RawMessage `json:"createdAt"`
		Branch     string          `json:"branch"`
		BranchName string          `json:"branchName"`
		Branches   []string        `json:"branches"`
		Refs       []string        `json:"refs"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Commit{}, err
	}

	commit := Commit{
		SHA:    firstNonEmpty(payload.SHA, payload.Commit, payload.CommitID, payload.ID),
		Author: firstNonEmpty(parseActor(payload.Author), payload.AuthorName, parseActor(payload.Committer)),
	}
	commit.Timestamp = parseTimestamp(payload.Timestamp)
	if commit.Timestamp.IsZero() {
		commit.Timestamp = parseTimestamp(payload.Committed)
	}
	if commit.Timestamp.IsZero() {
		commit.Timestamp = parseTimestamp(payload.Created)
	}

	seen := make(map[string]struct{})
	appendBranch := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		commit.Branches = append(commit.Branches, name)
	}
	appendBranch(payload.Branch)
	appendBranch(payload.BranchName)
	for _, b := range payload.Branches {
		appendBranch(b)
	}
	for _, r := range payload.Refs {
		appendBranch(strings.TrimPrefix(strings.TrimSpace(r), "refs/heads/"))
	}
	return commit, nil
}

func mapNoteStub(raw json.RawMessage) (NoteStub, error) {
	var payload struct {
		UUID     string `json:"uuid"`
		NoteUUID string `json:"noteUuid"`
		ID       string `json:"id"`
		NoteType string `json:"noteType"`
		Type     string `json:"type"`
		Kind     string `json:"kind"`
		Path     string `json:"path"`
		CtlPath  string `json:"controlPath"`
		Tag      string `json:"tag"`
		Commit   string `json:"commit"`
		SHA      string `json:"commitSha"`
		Control  *struct {
			Path string `json:"path"`
		} `json:"control"`
		Timestamp json.RawMessage `json:"timestamp"`
		Created   json.RawMessage `json:"createdAt"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return NoteStub{}, err
	}

	stub := NoteStub{
		UUID:        firstNonEmpty(payload.UUID, payload.NoteUUID, payload.ID),
		Kind:        strings.ToLower(firstNonEmpty(payload.NoteType, payload.Type, payload.Kind)),
		ControlPath: firstNonEmpty(payload.CtlPath, payload.Path, payload.Tag),
		Commit:      firstNonEmpty(payload.Commit, payload.SHA),
	}
	if stub.ControlPath == "" && payload.Control != nil {
		stub.ControlPath = strings.TrimSpace(payload.Control.Path)
	}
	stub.Timestamp = parseTimestamp(payload.Timestamp)
	if stub.Timestamp.IsZero() {
		stub.Timestamp = parseTimestamp(payload.Created)
	}
	return stub, nil
}

func mapAttestation(raw []byte) (Attestation, error) {
	var payload struct {
		UUID    string          `json:"uuid"`
		ID      string          `json:"id"`
		Result  string          `json:"result"`
		Status  string          `json:"status"`
		Outcome string          `json:"outcome"`
		Commit  string          `json:"commit"`
		SHA     string          `json:"commitSha"`
		Detail  string          `json:"detail"`
		Summary string          `json:"summary"`
		Message string          `json:"message"`
		TS      json.RawMessage `json:"timestamp"`
		Created json.RawMessage `json:"createdAt"`

		Control *struct {
			UUID string `json:"uuid"`
			Path string `json:"path"`
			Name string `json:"name"`
		} `json:"control"`
		ControlUUID string `json:"controlUuid"`
		ControlPath string `json:"controlPath"`
		ControlName string `json:"controlName"`
		Path        string `json:"path"`

		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Attestation{}, err
	}
	// Some generations wrap the record in a data envelope.
	if payload.UUID == "" && payload.ID == "" && len(payload.Data) > 0 {
		return mapAttestation(payload.Data)
	}

	att := Attestation{
		UUID:        firstNonEmpty(payload.UUID, payload.ID),
		Result:      NormalizeResult(firstNonEmpty(payload.Result, payload.Status, payload.Outcome)),
		Commit:      firstNonEmpty(payload.Commit, payload.SHA),
		Detail:      firstNonEmpty(payload.Detail, payload.Summary, payload.Message),
		ControlUUID: payload.ControlUUID,
		ControlPath: firstNonEmpty(payload.ControlPath, payload.Path),
		ControlName: payload.ControlName,
	}
	if payload.Control != nil {
		att.ControlUUID = firstNonEmpty(att.ControlUUID, payload.Control.UUID)
		att.ControlPath = firstNonEmpty(att.ControlPath, payload.Control.Path)
		att.ControlName = firstNonEmpty(att.ControlName, payload.Control.Name)
	}
	att.Timestamp = parseTimestamp(payload.TS)
	if att.Timestamp.IsZero() {
		att.Timestamp = parseTimestamp(payload.Created)
	}
	return att, nil
}

func mapPolicyGroups(body []byte) ([]PolicyGroup, error) {
	// The response is either a list of policies or an object with a
	// policies/gates field that holds one.
	items, err := decodeList(body)
	if err != nil || len(items) == 0 {
		var envelope struct {
			Policies []json.RawMessage `json:"policies"`
			Gates    []json.RawMessage `json:"gates"`
		}
		if uErr := json.Unmarshal(bytes.TrimSpace(body), &envelope); uErr == nil {
			if len(envelope.Policies) > 0 {
				items = envelope.Policies
			} else if len(envelope.Gates) > 0 {
				items = envelope.Gates
			}
		}
		if items == nil && err != nil {
			return nil, err
		}
	}

	var out []PolicyGroup
	for _, raw := range items {
		group, err := mapPolicyGroup(raw)
		if err != nil {
			continue
		}
		out = append(out, group)
	}
	return out, nil
}

func mapPolicyGroup(raw json.RawMessage) (PolicyGroup, error) {
	var payload struct {
		Name       string            `json:"name"`
		PolicyName string            `json:"policyName"`
		Controls   []json.RawMessage `json:"controls"`
		Rules      []json.RawMessage `json:"rules"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return PolicyGroup{}, err
	}

	group := PolicyGroup{PolicyName: firstNonEmpty(payload.PolicyName, payload.Name)}
	controls := payload.Controls
	if len(controls) == 0 {
		controls = payload.Rules
	}
	for _, rawControl := range controls {
		control, err := mapGateControl(rawControl)
		if err != nil {
			continue
		}
		group.Controls = append(group.Controls, control)
	}
	return group, nil
}

func mapGateControl(raw json.RawMessage) (GateControl, error) {
	var payload struct {
		Key         string `json:"key"`
		DisplayKey  string `json:"displayKey"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Severity    string `json:"severity"`
		Path        string `json:"path"`
		ControlPath string `json:"controlPath"`
		UUID        string `json:"uuid"`
		ID          string `json:"id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return GateControl{}, err
	}
	return GateControl{
		Key:         firstNonEmpty(payload.Key, payload.DisplayKey),
		Name:        strings.TrimSpace(payload.Name),
		Description: strings.TrimSpace(payload.Description),
		Severity:    strings.ToLower(strings.TrimSpace(payload.Severity)),
		Path:        firstNonEmpty(payload.Path, payload.ControlPath),
		UUID:        firstNonEmpty(payload.UUID, payload.ID),
	}, nil
}

func mapGate(raw json.RawMessage) (Gate, error) {
	var payload struct {
		UUID        string `json:"uuid"`
		ID          string `json:"id"`
		Name        string `json:"name"`
		Environment string `json:"environment"`
		Env         string `json:"env"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Gate{}, err
	}
	return Gate{
		UUID:        firstNonEmpty(payload.UUID, payload.ID),
		Name:        strings.TrimSpace(payload.Name),
		Environment: firstNonEmpty(payload.Environment, payload.Env),
	}, nil
}

func mapControlDefinition(raw json.RawMessage) (ControlDefinition, error) {
	var payload struct {
		UUID     string `json:"uuid"`
		ID       string `json:"id"`
		Path     string `json:"path"`
		Key      string `json:"key"`
		Name     string `json:"name"`
		Severity string `json:"severity"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ControlDefinition{}, err
	}
	return ControlDefinition{
		UUID:     firstNonEmpty(payload.UUID, payload.ID),
		Path:     firstNonEmpty(payload.Path, payload.Key),
		Name:     strings.TrimSpace(payload.Name),
		Severity: strings.ToLower(strings.TrimSpace(payload.Severity)),
	}, nil
}
