// Package core holds the flagdeck domain model: features, client groups,
// audience targeting, and the bounded change log. Everything here is pure;
// persistence and locking live in the service layer.
package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultUser is the change log identity used when no current user is set.
const DefaultUser = "PM"

// MaxTags is the maximum number of tags kept on a feature.
const MaxTags = 10

// Client is a customer that features can be targeted at.
type Client struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Group is a named, reusable set of client ids. Client ids are weak
// references: ids of unknown clients are tolerated.
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ClientIDs []string `json:"clientIds"`
}

// Feature is a flag with per-environment enablement and an audience.
type Feature struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Env         EnvFlags  `json:"env"`
	Targeting   Targeting `json:"-"`
	Notes       string    `json:"notes"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ChangeLogEntry is one immutable audit record. An empty FeatureID marks a
// global event such as a group roster change.
type ChangeLogEntry struct {
	ID        string    `json:"id"`
	When      time.Time `json:"when"`
	Who       string    `json:"who"`
	FeatureID string    `json:"featureId,omitempty"`
	What      string    `json:"what"`
}

// IsGlobal reports whether the entry is not tied to a feature.
func (e ChangeLogEntry) IsGlobal() bool {
	return e.FeatureID == ""
}

// State is the root aggregate persisted as a single blob.
type State struct {
	CurrentUser       string           `json:"currentUser"`
	Clients           []Client         `json:"clients"`
	Groups            []Group          `json:"groups"`
	Features          []Feature        `json:"features"`
	SelectedFeatureID string           `json:"selectedFeatureId,omitempty"`
	ChangeLog         []ChangeLogEntry `json:"changeLog"`
}

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}

// FeatureIndex returns the position of the feature with the given id, or -1.
func (s State) FeatureIndex(id string) int {
	for i := range s.Features {
		if s.Features[i].ID == id {
			return i
		}
	}
	return -1
}

// GroupIndex returns the position of the group with the given id, or -1.
func (s State) GroupIndex(id string) int {
	for i := range s.Groups {
		if s.Groups[i].ID == id {
			return i
		}
	}
	return -1
}

// Feature looks up a feature by id.
func (s State) Feature(id string) (Feature, bool) {
	if i := s.FeatureIndex(id); i >= 0 {
		return s.Features[i], true
	}
	return Feature{}, false
}

// SelectedFeature returns the currently selected feature, if any.
func (s State) SelectedFeature() (Feature, bool) {
	if s.SelectedFeatureID == "" {
		return Feature{}, false
	}
	return s.Feature(s.SelectedFeatureID)
}

// ClientName resolves a client id to its display name, falling back to the id
// itself for dangling references.
func (s State) ClientName(id string) string {
	for _, c := range s.Clients {
		if c.ID == id {
			return c.Name
		}
	}
	return id
}

// Clone returns a deep copy that shares no slices with s.
func (s State) Clone() State {
	out := s
	out.Clients = append([]Client{}, s.Clients...)
	out.Groups = make([]Group, len(s.Groups))
	for i, g := range s.Groups {
		out.Groups[i] = g.clone()
	}
	out.Features = make([]Feature, len(s.Features))
	for i, f := range s.Features {
		out.Features[i] = f.Clone()
	}
	out.ChangeLog = append([]ChangeLogEntry{}, s.ChangeLog...)
	return out
}

func (g Group) clone() Group {
	g.ClientIDs = append([]string{}, g.ClientIDs...)
	return g
}

// Clone returns a deep copy of the feature.
func (f Feature) Clone() Feature {
	f.Tags = append([]string{}, f.Tags...)
	f.Targeting = cloneTargeting(f.Targeting)
	return f
}

// Validate checks the identity, selection, and change log bounds of a state.
func (s State) Validate() error {
	seen := make(map[string]struct{}, len(s.Features))
	for _, f := range s.Features {
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("duplicate feature id %q", f.ID)
		}
		seen[f.ID] = struct{}{}
	}

	groups := make(map[string]struct{}, len(s.Groups))
	for _, g := range s.Groups {
		if _, dup := groups[g.ID]; dup {
			return fmt.Errorf("duplicate group id %q", g.ID)
		}
		groups[g.ID] = struct{}{}
	}

	if s.SelectedFeatureID != "" {
		if _, ok := seen[s.SelectedFeatureID]; !ok {
			return fmt.Errorf("selected feature %q does not exist", s.SelectedFeatureID)
		}
	}

	if len(s.ChangeLog) > MaxChangeLogEntries {
		return fmt.Errorf("change log has %d entries, max %d", len(s.ChangeLog), MaxChangeLogEntries)
	}

	return nil
}

// MarshalBlob encodes the state in its persisted form.
func (s State) MarshalBlob() ([]byte, error) {
	return json.Marshal(s.Clone())
}
