// Package http provides an HTTP client for the flagdeck console API.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	flagdeck "github.com/matt-riley/flagdeck/clients/go"
)

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the flagdeck server, e.g. "http://localhost:8080".
	BaseURL string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client implements flagdeck.FeatureManager and flagdeck.Evaluator over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var (
	_ flagdeck.FeatureManager = (*Client)(nil)
	_ flagdeck.Evaluator      = (*Client)(nil)
)

// NewHTTPClient returns a new HTTP client for the flagdeck API.
func NewHTTPClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: hc}
}

// -- wire types --------------------------------------------------------------

// wireFeatureRequest is the body accepted by POST /v1/features. The server
// rejects unknown fields, so read-only fields such as updatedAt are left out.
type wireFeatureRequest struct {
	ID          string              `json:"id,omitempty"`
	Key         string              `json:"key"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Tags        []string            `json:"tags"`
	Env         map[string]bool     `json:"env,omitempty"`
	Targeting   *flagdeck.Targeting `json:"targeting,omitempty"`
	Notes       string              `json:"notes"`
}

type wireEvaluateResp struct {
	Environment string          `json:"environment"`
	ClientID    string          `json:"clientId"`
	Flags       map[string]bool `json:"flags"`
}

type wireError struct {
	Error string `json:"error"`
}

// -- helpers -----------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("flagdeck: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("flagdeck: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flagdeck: http: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, newAPIError(resp)
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("flagdeck: decode response: %w", err)
	}
	return nil
}

// APIError is returned when the server responds with an HTTP error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("flagdeck: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// newAPIError prefers the server's {"error": "..."} message over the raw body.
func newAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	var we wireError
	if json.Unmarshal(raw, &we) == nil && we.Error != "" {
		msg = we.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

func featurePath(id string, rest ...string) string {
	parts := append([]string{"/v1/features", url.PathEscape(id)}, rest...)
	return strings.Join(parts, "/")
}

// -- FeatureManager ----------------------------------------------------------

func (c *Client) ListFeatures(ctx context.Context, query string) ([]flagdeck.Feature, error) {
	path := "/v1/features"
	if q := strings.TrimSpace(query); q != "" {
		path += "?" + url.Values{"q": {q}}.Encode()
	}
	var out []flagdeck.Feature
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetFeature(ctx context.Context, id string) (flagdeck.Feature, error) {
	var out flagdeck.Feature
	err := c.call(ctx, http.MethodGet, featurePath(id), nil, &out)
	return out, err
}

func (c *Client) SelectedFeature(ctx context.Context) (flagdeck.Feature, error) {
	var out flagdeck.Feature
	err := c.call(ctx, http.MethodGet, "/v1/features/selected", nil, &out)
	return out, err
}

// SaveFeature creates the feature when ID is empty or unknown, and replaces
// it otherwise.
func (c *Client) SaveFeature(ctx context.Context, feature flagdeck.Feature) (flagdeck.Feature, error) {
	body := wireFeatureRequest{
		ID:          feature.ID,
		Key:         feature.Key,
		Name:        feature.Name,
		Description: feature.Description,
		Tags:        feature.Tags,
		Env:         feature.Env,
		Notes:       feature.Notes,
	}
	if feature.Targeting.Mode != "" {
		t := feature.Targeting
		body.Targeting = &t
	}
	var out flagdeck.Feature
	err := c.call(ctx, http.MethodPost, "/v1/features", body, &out)
	return out, err
}

func (c *Client) DeleteFeature(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, featurePath(id), nil, nil)
}

func (c *Client) SelectFeature(ctx context.Context, id string) (flagdeck.Feature, error) {
	var out flagdeck.Feature
	err := c.call(ctx, http.MethodPost, featurePath(id, "select"), nil, &out)
	return out, err
}

func (c *Client) SetEnvironment(ctx context.Context, id, env string, enabled bool) (flagdeck.Feature, error) {
	var out flagdeck.Feature
	err := c.call(ctx, http.MethodPut, featurePath(id, "env", url.PathEscape(env)), map[string]bool{"enabled": enabled}, &out)
	return out, err
}

func (c *Client) ToggleEnvironment(ctx context.Context, id, env string) (flagdeck.Feature, error) {
	var out flagdeck.Feature
	err := c.call(ctx, http.MethodPost, featurePath(id, "env", url.PathEscape(env), "toggle"), nil, &out)
	return out, err
}

func (c *Client) SetTargetingMode(ctx context.Context, id, mode string) (flagdeck.Feature, error) {
	var out flagdeck.Feature
	err := c.call(ctx, http.MethodPut, featurePath(id, "targeting"), map[string]string{"mode": mode}, &out)
	return out, err
}

func (c *Client) ToggleTargetClient(ctx context.Context, id, clientID string) (flagdeck.Feature, error) {
	var out flagdeck.Feature
	err := c.call(ctx, http.MethodPost, featurePath(id, "targeting", "clients", url.PathEscape(clientID)), nil, &out)
	return out, err
}

func (c *Client) ToggleTargetGroup(ctx context.Context, id, groupID string) (flagdeck.Feature, error) {
	var out flagdeck.Feature
	err := c.call(ctx, http.MethodPost, featurePath(id, "targeting", "groups", url.PathEscape(groupID)), nil, &out)
	return out, err
}

func (c *Client) SaveNotes(ctx context.Context, id, notes string) (flagdeck.Feature, error) {
	var out flagdeck.Feature
	err := c.call(ctx, http.MethodPut, featurePath(id, "notes"), map[string]string{"notes": notes}, &out)
	return out, err
}

func (c *Client) Audience(ctx context.Context, id string) (flagdeck.Audience, error) {
	var out flagdeck.Audience
	err := c.call(ctx, http.MethodGet, featurePath(id, "audience"), nil, &out)
	return out, err
}

// ChangeLog returns the newest entries for featureID plus global entries, or
// the newest entries overall when featureID is empty. limit <= 0 uses the
// server default.
func (c *Client) ChangeLog(ctx context.Context, featureID string, limit int) ([]flagdeck.ChangeLogEntry, error) {
	path := "/v1/changes"
	if featureID != "" {
		path = featurePath(featureID, "changes")
	}
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []flagdeck.ChangeLogEntry
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// -- groups and clients ------------------------------------------------------

func (c *Client) ListClients(ctx context.Context) ([]flagdeck.Client, error) {
	var out []flagdeck.Client
	if err := c.call(ctx, http.MethodGet, "/v1/clients", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListGroups(ctx context.Context) ([]flagdeck.Group, error) {
	var out []flagdeck.Group
	if err := c.call(ctx, http.MethodGet, "/v1/groups", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateGroup(ctx context.Context, name string) (flagdeck.Group, error) {
	var out flagdeck.Group
	err := c.call(ctx, http.MethodPost, "/v1/groups", map[string]string{"name": name}, &out)
	return out, err
}

func (c *Client) RenameGroup(ctx context.Context, id, name string) (flagdeck.Group, error) {
	var out flagdeck.Group
	err := c.call(ctx, http.MethodPut, "/v1/groups/"+url.PathEscape(id), map[string]string{"name": name}, &out)
	return out, err
}

func (c *Client) DeleteGroup(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/v1/groups/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ToggleGroupClient(ctx context.Context, groupID, clientID string) (flagdeck.Group, error) {
	var out flagdeck.Group
	path := "/v1/groups/" + url.PathEscape(groupID) + "/clients/" + url.PathEscape(clientID)
	err := c.call(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

// -- Evaluator ---------------------------------------------------------------

func (c *Client) Evaluate(ctx context.Context, env, clientID string) (map[string]bool, error) {
	path := "/v1/evaluate?" + url.Values{"env": {env}, "client": {clientID}}.Encode()
	var out wireEvaluateResp
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Flags == nil {
		out.Flags = map[string]bool{}
	}
	return out.Flags, nil
}
