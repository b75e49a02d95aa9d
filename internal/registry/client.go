package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/complylens/complylens/internal/audit"
	"github.com/complylens/complylens/internal/metrics"
)

const (
	defaultTimeout   = 120 * time.Second
	maxRetriesOn429  = 3
	maxErrorBodySize = 1 << 20 // 1 MiB

	tenantHeader = "X-Tenant-Id"
)

// APIError is a non-success response from the registry.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("registry api failed: %d (%s)", e.StatusCode, e.Endpoint)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RequestID != "" {
		msg += " (request_id=" + e.RequestID + ")"
	}
	return msg
}

// IsDenied reports whether err is a registry HTTP 403.
func IsDenied(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden
}

// Client is an authenticated read-only client for the evidence registry.
type Client struct {
	BaseURL string
	Session Session
	HTTP    *http.Client
	Sink    audit.Sink
}

// New creates a registry client. It validates that baseURL, the tenant, and
// the access token are provided.
func New(baseURL string, session Session, sink audit.Sink) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	session.TenantID = strings.TrimSpace(session.TenantID)
	session.AccessToken = strings.TrimSpace(session.AccessToken)

	if base == "" {
		return nil, errors.New("registry base URL is required")
	}
	if session.TenantID == "" {
		return nil, errors.New("registry tenant id is required")
	}
	if session.AccessToken == "" {
		return nil, errors.New("registry access token is required")
	}
	if sink == nil {
		sink = audit.NopSink{}
	}

	return &Client{
		BaseURL: base,
		Session: session,
		HTTP:    &http.Client{Timeout: defaultTimeout},
		Sink:    sink,
	}, nil
}

func (c *Client) ensureClient() error {
	if c.BaseURL == "" {
		return errors.New("registry base URL is required")
	}
	if c.Session.TenantID == "" || c.Session.AccessToken == "" {
		return errors.New("registry session is not configured")
	}
	if c.HTTP == nil {
		return errors.New("registry http client is not configured")
	}
	return nil
}

// ListCatalog fetches the organization compliance catalog: applications with
// their child assets and embedded attestation summaries.
func (c *Client) ListCatalog(ctx context.Context) ([]Application, error) {
	body, err := c.get(ctx, "catalog", "/api/v1/catalog", nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeList(body)
	if err != nil {
		return nil, err
	}
	var out []Application
	for _, raw := range items {
		app, err := mapApplication(raw)
		if err != nil {
			continue
		}
		out = append(out, app)
	}
	return out, nil
}

// GetAssetByRepository fetches repository metadata (default branch, alternate
// repository id) by repository name.
func (c *Client) GetAssetByRepository(ctx context.Context, repositoryName string) (AssetMetadata, error) {
	repositoryName = strings.TrimSpace(repositoryName)
	if repositoryName == "" {
		return AssetMetadata{}, errors.New("repository name is required")
	}
	body, err := c.get(ctx, "asset_metadata", "/api/v1/assets", url.Values{"repository": {repositoryName}})
	if err != nil {
		return AssetMetadata{}, err
	}
	return mapAssetMetadata(body)
}

// ListCommits fetches the commit list for an asset, with timestamps and
// branch-membership hints.
func (c *Client) ListCommits(ctx context.Context, assetUUID string) ([]Commit, error) {
	assetUUID = strings.TrimSpace(assetUUID)
	if assetUUID == "" {
		return nil, errors.New("asset uuid is required")
	}
	body, err := c.get(ctx, "commits", "/api/v1/assets/"+url.PathEscape(assetUUID)+"/commits", nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeList(body)
	if err != nil {
		return nil, err
	}
	var out []Commit
	for _, raw := range items {
		commit, err := mapCommit(raw)
		if err != nil || commit.SHA == "" {
			continue
		}
		out = append(out, commit)
	}
	return out, nil
}

// QueryNotes queries the notes/evidence endpoint and returns stub records.
func (c *Client) QueryNotes(ctx context.Context, q NotesQuery) ([]NoteStub, error) {
	params := url.Values{}
	if v := strings.TrimSpace(q.NoteType); v != "" {
		params.Set("noteType", v)
	}
	if v := strings.TrimSpace(q.RepositoryID); v != "" {
		params.Set("repositoryId", v)
	}
	if v := strings.TrimSpace(q.Project); v != "" {
		params.Set("project", v)
	}
	if v := strings.TrimSpace(q.Repository); v != "" {
		params.Set("repository", v)
	}
	if v := strings.TrimSpace(q.Commit); v != "" {
		params.Set("commit", v)
	}
	if v := strings.TrimSpace(q.ControlPath); v != "" {
		params.Set("path", v)
	}
	if !q.Since.IsZero() {
		params.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		params.Set("until", q.Until.UTC().Format(time.RFC3339))
	}

	body, err := c.get(ctx, "notes", "/api/v1/notes", params)
	if err != nil {
		return nil, err
	}
	return c.decodeStubs(body)
}

// GetNote fetches the full evidence payload for one note UUID.
func (c *Client) GetNote(ctx context.Context, noteUUID string) (Attestation, error) {
	noteUUID = strings.TrimSpace(noteUUID)
	if noteUUID == "" {
		return Attestation{}, errors.New("note uuid is required")
	}
	body, err := c.get(ctx, "note_detail", "/api/v1/notes/"+url.PathEscape(noteUUID), nil)
	if err != nil {
		return Attestation{}, err
	}
	return mapAttestation(body)
}

// GetNoteChain fetches the lineage (ancestor/descendant notes) of a note.
func (c *Client) GetNoteChain(ctx context.Context, noteUUID string) ([]NoteStub, error) {
	noteUUID = strings.TrimSpace(noteUUID)
	if noteUUID == "" {
		return nil, errors.New("note uuid is required")
	}
	body, err := c.get(ctx, "note_chain", "/api/v1/notes/"+url.PathEscape(noteUUID)+"/chain", nil)
	if err != nil {
		return nil, err
	}
	return c.decodeStubs(body)
}

// ListAssetAttestations fetches attestation stubs directly attached to an
// asset.
func (c *Client) ListAssetAttestations(ctx context.Context, assetUUID string) ([]NoteStub, error) {
	assetUUID = strings.TrimSpace(assetUUID)
	if assetUUID == "" {
		return nil, errors.New("asset uuid is required")
	}
	body, err := c.get(ctx, "asset_attestations", "/api/v1/assets/"+url.PathEscape(assetUUID)+"/attestations", nil)
	if err != nil {
		return nil, err
	}
	return c.decodeStubs(body)
}

// GetAttestationSnapshot fetches the asset attestation snapshot.
func (c *Client) GetAttestationSnapshot(ctx context.Context, assetUUID string) ([]NoteStub, error) {
	assetUUID = strings.TrimSpace(assetUUID)
	if assetUUID == "" {
		return nil, errors.New("asset uuid is required")
	}
	body, err := c.get(ctx, "attestation_snapshot", "/api/v1/assets/"+url.PathEscape(assetUUID)+"/attestations/snapshot", nil)
	if err != nil {
		return nil, err
	}
	return c.decodeStubs(body)
}

// GetAssetControls fetches policy-gate controls attached directly to an asset.
func (c *Client) GetAssetControls(ctx context.Context, assetUUID string) ([]PolicyGroup, error) {
	assetUUID = strings.TrimSpace(assetUUID)
	if assetUUID == "" {
		return nil, errors.New("asset uuid is required")
	}
	body, err := c.get(ctx, "asset_controls", "/api/v1/assets/"+url.PathEscape(assetUUID)+"/controls", nil)
	if err != nil {
		return nil, err
	}
	return mapPolicyGroups(body)
}

// GetChildControls fetches policy-gate controls attached to an asset's
// children in one batch.
func (c *Client) GetChildControls(ctx context.Context, assetUUID string) ([]PolicyGroup, error) {
	assetUUID = strings.TrimSpace(assetUUID)
	if assetUUID == "" {
		return nil, errors.New("asset uuid is required")
	}
	body, err := c.get(ctx, "child_controls", "/api/v1/assets/"+url.PathEscape(assetUUID)+"/children/controls", nil)
	if err != nil {
		return nil, err
	}
	return mapPolicyGroups(body)
}

// ListGates enumerates the organization policy gates.
func (c *Client) ListGates(ctx context.Context) ([]Gate, error) {
	body, err := c.get(ctx, "gates", "/api/v1/gates", nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeList(body)
	if err != nil {
		return nil, err
	}
	var out []Gate
	for _, raw := range items {
		gate, err := mapGate(raw)
		if err != nil || gate.Name == "" {
			continue
		}
		out = append(out, gate)
	}
	return out, nil
}

// GetGateControls fetches the controls a named gate requires.
func (c *Client) GetGateControls(ctx context.Context, gateName string) ([]PolicyGroup, error) {
	gateName = strings.TrimSpace(gateName)
	if gateName == "" {
		return nil, errors.New("gate name is required")
	}
	body, err := c.get(ctx, "gate_controls", "/api/v1/gates/"+url.PathEscape(gateName)+"/controls", nil)
	if err != nil {
		return nil, err
	}
	return mapPolicyGroups(body)
}

// ListControlDefinitions fetches the full controls catalog used for display
// name enrichment.
func (c *Client) ListControlDefinitions(ctx context.Context) ([]ControlDefinition, error) {
	body, err := c.get(ctx, "controls_catalog", "/api/v1/controls", nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeList(body)
	if err != nil {
		return nil, err
	}
	var out []ControlDefinition
	for _, raw := range items {
		def, err := mapControlDefinition(raw)
		if err != nil {
			continue
		}
		if def.UUID == "" && def.Path == "" {
			continue
		}
		out = append(out, def)
	}
	return out, nil
}

func (c *Client) decodeStubs(body []byte) ([]NoteStub, error) {
	items, err := decodeList(body)
	if err != nil {
		return nil, err
	}
	var out []NoteStub
	for _, raw := range items {
		stub, err := mapNoteStub(raw)
		if err != nil || stub.UUID == "" {
			continue
		}
		out = append(out, stub)
	}
	return out, nil
}

func (c *Client) endpoint(path string, params url.Values) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	if params != nil {
		u.RawQuery = params.Encode()
	}
	u.Fragment = ""
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, name, path string, params url.Values) ([]byte, error) {
	if err := c.ensureClient(); err != nil {
		return nil, err
	}
	endpoint, err := c.endpoint(path, params)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetriesOn429; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.Session.AccessToken)
		req.Header.Set(tenantHeader, c.Session.TenantID)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "complylens")

		start := time.Now()
		resp, err := c.HTTP.Do(req)
		if err != nil {
			c.record(ctx, name, 0, time.Since(start), false, "")
			return nil, err
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		resp.Body.Close()
		elapsed := time.Since(start)
		if readErr != nil {
			c.record(ctx, name, resp.StatusCode, elapsed, false, "")
			return nil, readErr
		}

		requestID := headerAny(resp.Header, "x-request-id", "x-registry-trace-id")

		if resp.StatusCode == http.StatusTooManyRequests {
			c.record(ctx, name, resp.StatusCode, elapsed, false, requestID)
			lastErr = c.apiError(name, endpoint, resp, body, requestID)
			if attempt == maxRetriesOn429 {
				return nil, lastErr
			}
			wait, ok := retryAfterDuration(resp.Header.Get("Retry-After"))
			if !ok {
				wait = time.Second
			}
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode == http.StatusForbidden {
			c.Sink.Record(ctx, audit.Event{
				Endpoint:   name,
				StatusCode: resp.StatusCode,
				Duration:   elapsed,
				Security:   true,
				TenantID:   c.Session.TenantID,
				UserID:     c.Session.UserID,
				RequestID:  requestID,
			})
			metrics.RegistryRequestsTotal.WithLabelValues(name, strconv.Itoa(resp.StatusCode)).Inc()
			metrics.RegistryRequestDuration.WithLabelValues(name).Observe(elapsed.Seconds())
			return nil, c.apiError(name, endpoint, resp, body, requestID)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.record(ctx, name, resp.StatusCode, elapsed, false, requestID)
			return nil, c.apiError(name, endpoint, resp, body, requestID)
		}

		c.record(ctx, name, resp.StatusCode, elapsed, true, requestID)
		return body, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("registry request failed")
}

func (c *Client) record(ctx context.Context, name string, status int, elapsed time.Duration, success bool, requestID string) {
	metrics.RegistryRequestsTotal.WithLabelValues(name, strconv.Itoa(status)).Inc()
	metrics.RegistryRequestDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	c.Sink.Record(ctx, audit.Event{
		Endpoint:   name,
		StatusCode: status,
		Duration:   elapsed,
		Success:    success,
		RequestID:  requestID,
	})
}

func (c *Client) apiError(name, endpoint string, resp *http.Response, body []byte, requestID string) error {
	message := extractAPIErrorMessage(body)
	if message != "" {
		message += " (url=" + safeURL(endpoint) + ")"
	} else {
		message = "url=" + safeURL(endpoint)
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Endpoint:   name,
		Message:    message,
		RequestID:  requestID,
	}
}

func extractAPIErrorMessage(body []byte) string {
	var payload struct {
		Errors  []string `json:"errors"`
		Error   string   `json:"error"`
		Message string   `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Errors) > 0 {
			if first := strings.TrimSpace(payload.Errors[0]); first != "" {
				return first
			}
		}
		if msg := strings.TrimSpace(payload.Error); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return ""
	}
	if strings.HasPrefix(msg, "<!DOCTYPE html") || strings.HasPrefix(msg, "<html") {
		return ""
	}
	msg = strings.Join(strings.Fields(msg), " ")
	const maxLen = 300
	if len(msg) > maxLen {
		msg = msg[:maxLen] + "..."
	}
	return msg
}

func retryAfterDuration(header string) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func headerAny(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(h.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func safeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.RawQuery != "" {
		return u.Scheme + "://" + u.Host + u.Path + "?" + u.RawQuery
	}
	return u.Scheme + "://" + u.Host + u.Path
}
