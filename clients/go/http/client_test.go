package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	flagdeck "github.com/matt-riley/flagdeck/clients/go"
	flagdeckhttp "github.com/matt-riley/flagdeck/clients/go/http"
)

// helpers

func featureJSON(id, key string, prod bool) string {
	return fmt.Sprintf(`{"id":%q,"key":%q,"name":"Name","description":"","tags":["Ops"],"env":{"Dev":true,"Test":true,"Ops":false,"Stage":false,"Prod":%v},"targeting":{"mode":"groups","clientIds":[],"groupIds":["g-beta"]},"notes":"","updatedAt":"2026-03-01T09:00:00.000Z"}`, id, key, prod)
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *flagdeckhttp.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return flagdeckhttp.NewHTTPClient(flagdeckhttp.Config{BaseURL: srv.URL + "/"})
}

func expectRequest(t *testing.T, r *http.Request, method, path string) {
	t.Helper()
	if r.Method != method || r.URL.EscapedPath() != path {
		t.Errorf("request = %s %s, want %s %s", r.Method, r.URL.EscapedPath(), method, path)
	}
}

// -- feature tests -----------------------------------------------------------

func TestListFeaturesSendsQuery(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		expectRequest(t, r, http.MethodGet, "/v1/features")
		if got := r.URL.Query().Get("q"); got != "audit trail" {
			t.Errorf("q = %q, want %q", got, "audit trail")
		}
		fmt.Fprint(w, "["+featureJSON("f-1", "audit_trail_v2", false)+"]")
	})

	features, err := c.ListFeatures(context.Background(), " audit trail ")
	if err != nil {
		t.Fatalf("ListFeatures() error = %v", err)
	}
	if len(features) != 1 || features[0].Key != "audit_trail_v2" {
		t.Fatalf("ListFeatures() = %+v, want one audit_trail_v2", features)
	}
	if features[0].Targeting.Mode != flagdeck.ModeGroups || features[0].Targeting.GroupIDs[0] != "g-beta" {
		t.Fatalf("targeting = %+v, want groups [g-beta]", features[0].Targeting)
	}
	if features[0].UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt is zero, want parsed timestamp")
	}
}

func TestGetFeatureEscapesID(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		expectRequest(t, r, http.MethodGet, "/v1/features/a%2Fb")
		fmt.Fprint(w, featureJSON("a/b", "k", false))
	})

	f, err := c.GetFeature(context.Background(), "a/b")
	if err != nil {
		t.Fatalf("GetFeature() error = %v", err)
	}
	if f.ID != "a/b" {
		t.Fatalf("ID = %q, want %q", f.ID, "a/b")
	}
}

func TestGetFeatureNotFound(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"feature not found"}`)
	})

	_, err := c.GetFeature(context.Background(), "missing")
	if !flagdeckhttp.IsNotFound(err) {
		t.Fatalf("IsNotFound(%v) = false, want true", err)
	}
	var apiErr *flagdeckhttp.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "feature not found" {
		t.Fatalf("error = %v, want APIError with server message", err)
	}
}

func TestSaveFeatureOmitsReadOnlyFields(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		expectRequest(t, r, http.MethodPost, "/v1/features")
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if _, ok := body["updatedAt"]; ok {
			t.Errorf("body has updatedAt, want it omitted")
		}
		if _, ok := body["targeting"]; ok {
			t.Errorf("body has targeting, want it omitted when Mode is empty")
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, featureJSON("f-new", "bulk_export", false))
	})

	got, err := c.SaveFeature(context.Background(), flagdeck.Feature{Key: "bulk export", Name: "Bulk export"})
	if err != nil {
		t.Fatalf("SaveFeature() error = %v", err)
	}
	if got.ID != "f-new" {
		t.Fatalf("ID = %q, want %q", got.ID, "f-new")
	}
}

func TestSaveFeatureValidationError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"name is required"}`)
	})

	_, err := c.SaveFeature(context.Background(), flagdeck.Feature{Key: "k"})
	var apiErr *flagdeckhttp.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("error = %v, want 400 APIError", err)
	}
}

func TestEnvironmentAndTargetingCalls(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		call   func(c *flagdeckhttp.Client) (flagdeck.Feature, error)
		body   string
	}{
		{
			name:   "set environment",
			method: http.MethodPut,
			path:   "/v1/features/f-1/env/Prod",
			call: func(c *flagdeckhttp.Client) (flagdeck.Feature, error) {
				return c.SetEnvironment(context.Background(), "f-1", "Prod", true)
			},
			body: `{"enabled":true}`,
		},
		{
			name:   "toggle environment",
			method: http.MethodPost,
			path:   "/v1/features/f-1/env/Prod/toggle",
			call: func(c *flagdeckhttp.Client) (flagdeck.Feature, error) {
				return c.ToggleEnvironment(context.Background(), "f-1", "Prod")
			},
		},
		{
			name:   "set targeting mode",
			method: http.MethodPut,
			path:   "/v1/features/f-1/targeting",
			call: func(c *flagdeckhttp.Client) (flagdeck.Feature, error) {
				return c.SetTargetingMode(context.Background(), "f-1", flagdeck.ModeClients)
			},
			body: `{"mode":"clients"}`,
		},
		{
			name:   "toggle target client",
			method: http.MethodPost,
			path:   "/v1/features/f-1/targeting/clients/c-aurora",
			call: func(c *flagdeckhttp.Client) (flagdeck.Feature, error) {
				return c.ToggleTargetClient(context.Background(), "f-1", "c-aurora")
			},
		},
		{
			name:   "save notes",
			method: http.MethodPut,
			path:   "/v1/features/f-1/notes",
			call: func(c *flagdeckhttp.Client) (flagdeck.Feature, error) {
				return c.SaveNotes(context.Background(), "f-1", "hi")
			},
			body: `{"notes":"hi"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				expectRequest(t, r, tt.method, tt.path)
				if tt.body != "" {
					var got, want any
					_ = json.NewDecoder(r.Body).Decode(&got)
					_ = json.Unmarshal([]byte(tt.body), &want)
					if fmt.Sprint(got) != fmt.Sprint(want) {
						t.Errorf("body = %v, want %v", got, want)
					}
				}
				fmt.Fprint(w, featureJSON("f-1", "k", true))
			})

			f, err := tt.call(c)
			if err != nil {
				t.Fatalf("call error = %v", err)
			}
			if !f.Env["Prod"] {
				t.Fatalf("Env = %v, want Prod true", f.Env)
			}
		})
	}
}

func TestDeleteFeature(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		expectRequest(t, r, http.MethodDelete, "/v1/features/f-1")
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.DeleteFeature(context.Background(), "f-1"); err != nil {
		t.Fatalf("DeleteFeature() error = %v", err)
	}
}

func TestChangeLogPaths(t *testing.T) {
	tests := []struct {
		name      string
		featureID string
		limit     int
		wantPath  string
		wantQuery string
	}{
		{name: "global", wantPath: "/v1/changes"},
		{name: "feature with limit", featureID: "f-1", limit: 5, wantPath: "/v1/features/f-1/changes", wantQuery: "limit=5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				expectRequest(t, r, http.MethodGet, tt.wantPath)
				if r.URL.RawQuery != tt.wantQuery {
					t.Errorf("query = %q, want %q", r.URL.RawQuery, tt.wantQuery)
				}
				fmt.Fprint(w, `[{"id":"e1","when":"2026-03-01T09:00:00.000Z","who":"PM","featureId":"f-1","what":"Updated notes."}]`)
			})

			entries, err := c.ChangeLog(context.Background(), tt.featureID, tt.limit)
			if err != nil {
				t.Fatalf("ChangeLog() error = %v", err)
			}
			if len(entries) != 1 || entries[0].What != "Updated notes." {
				t.Fatalf("ChangeLog() = %+v, want one Updated notes. entry", entries)
			}
		})
	}
}

// -- groups ------------------------------------------------------------------

func TestGroupCalls(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "POST /v1/groups":
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"id":"g-1","name":"Pilot","clientIds":[]}`)
		case "POST /v1/groups/g-1/clients/c-aurora":
			fmt.Fprint(w, `{"id":"g-1","name":"Pilot","clientIds":["c-aurora"]}`)
		case "DELETE /v1/groups/g-1":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	g, err := c.CreateGroup(ctx, "Pilot")
	if err != nil || g.ID != "g-1" {
		t.Fatalf("CreateGroup() = %+v, %v; want g-1", g, err)
	}
	g, err = c.ToggleGroupClient(ctx, "g-1", "c-aurora")
	if err != nil || len(g.ClientIDs) != 1 {
		t.Fatalf("ToggleGroupClient() = %+v, %v; want one client", g, err)
	}
	if err := c.DeleteGroup(ctx, "g-1"); err != nil {
		t.Fatalf("DeleteGroup() error = %v", err)
	}
}

// -- Evaluator ---------------------------------------------------------------

func TestEvaluate(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		expectRequest(t, r, http.MethodGet, "/v1/evaluate")
		if r.URL.Query().Get("env") != "Prod" || r.URL.Query().Get("client") != "c-aurora" {
			t.Errorf("query = %q, want env=Prod client=c-aurora", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"environment":"Prod","clientId":"c-aurora","flags":{"audit_trail_v2":true}}`)
	})

	flags, err := c.Evaluate(context.Background(), "Prod", "c-aurora")
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !flags["audit_trail_v2"] {
		t.Fatalf("Evaluate() = %v, want audit_trail_v2 true", flags)
	}
}

func TestEvaluateDecodeError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `not json`)
	})

	if _, err := c.Evaluate(context.Background(), "Prod", "c"); err == nil {
		t.Fatal("Evaluate() error = nil, want decode error")
	}
}
