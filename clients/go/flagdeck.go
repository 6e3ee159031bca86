// Package flagdeck provides client interfaces and domain types for the
// flagdeck console API.
//
// Use the http sub-package to create a client:
//
//	import flagdeckhttp "github.com/matt-riley/flagdeck/clients/go/http"
package flagdeck

import (
	"context"
	"time"
)

// Targeting modes.
const (
	ModeAll     = "all"
	ModeClients = "clients"
	ModeGroups  = "groups"
)

// FeatureManager covers reading and editing features.
type FeatureManager interface {
	ListFeatures(ctx context.Context, query string) ([]Feature, error)
	GetFeature(ctx context.Context, id string) (Feature, error)
	SaveFeature(ctx context.Context, feature Feature) (Feature, error)
	DeleteFeature(ctx context.Context, id string) error
	SetEnvironment(ctx context.Context, id, env string, enabled bool) (Feature, error)
	ToggleEnvironment(ctx context.Context, id, env string) (Feature, error)
	SetTargetingMode(ctx context.Context, id, mode string) (Feature, error)
	SaveNotes(ctx context.Context, id, notes string) (Feature, error)
}

// Evaluator resolves every flag key for one client in one environment.
type Evaluator interface {
	Evaluate(ctx context.Context, env, clientID string) (map[string]bool, error)
}

// Feature is a flag with per-environment enablement and an audience.
type Feature struct {
	ID          string          `json:"id,omitempty"`
	Key         string          `json:"key"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Tags        []string        `json:"tags"`
	Env         map[string]bool `json:"env,omitempty"`
	Targeting   Targeting       `json:"targeting"`
	Notes       string          `json:"notes"`
	UpdatedAt   time.Time       `json:"updatedAt,omitzero"`
}

// Targeting is the audience rule of a feature. Only the list matching Mode
// is meaningful.
type Targeting struct {
	Mode      string   `json:"mode"`
	ClientIDs []string `json:"clientIds"`
	GroupIDs  []string `json:"groupIds"`
}

// Group is a named set of client ids.
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ClientIDs []string `json:"clientIds"`
}

// Client is a customer features can be targeted at.
type Client struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Audience is the effective set of clients a feature applies to.
type Audience struct {
	All       bool     `json:"all"`
	ClientIDs []string `json:"clientIds"`
	Labels    []string `json:"labels"`
}

// ChangeLogEntry is one audit record. FeatureID is empty for global events.
type ChangeLogEntry struct {
	ID        string    `json:"id"`
	When      time.Time `json:"when"`
	Who       string    `json:"who"`
	FeatureID string    `json:"featureId,omitempty"`
	What      string    `json:"what"`
}
