package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TargetingMode names a Targeting variant on the wire.
type TargetingMode string

const (
	ModeAll     TargetingMode = "all"
	ModeClients TargetingMode = "clients"
	ModeGroups  TargetingMode = "groups"
)

var ErrUnknownTargetingMode = errors.New("unknown targeting mode")

// ParseTargetingMode accepts exactly one of the three mode names.
func ParseTargetingMode(s string) (TargetingMode, error) {
	switch mode := TargetingMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case ModeAll, ModeClients, ModeGroups:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTargetingMode, s)
	}
}

// Targeting is the audience rule of a feature. It is a closed sum type: the
// only implementations are AllClients, ClientList and GroupList, so each
// variant carries exactly one payload.
type Targeting interface {
	Mode() TargetingMode
	sealed()
}

// AllClients targets every client.
type AllClients struct{}

// ClientList targets an explicit set of client ids.
type ClientList struct {
	ClientIDs []string
}

// GroupList targets the members of a set of groups.
type GroupList struct {
	GroupIDs []string
}

func (AllClients) Mode() TargetingMode { return ModeAll }
func (ClientList) Mode() TargetingMode { return ModeClients }
func (GroupList) Mode() TargetingMode  { return ModeGroups }

func (AllClients) sealed() {}
func (ClientList) sealed() {}
func (GroupList) sealed()  {}

// ModeOf returns the mode of t, treating nil as AllClients.
func ModeOf(t Targeting) TargetingMode {
	if t == nil {
		return ModeAll
	}
	return t.Mode()
}

// EmptyTargeting returns the variant for mode with no selection.
func EmptyTargeting(mode TargetingMode) Targeting {
	switch mode {
	case ModeClients:
		return ClientList{ClientIDs: []string{}}
	case ModeGroups:
		return GroupList{GroupIDs: []string{}}
	default:
		return AllClients{}
	}
}

// SwitchMode moves t to mode. Re-entering the current mode keeps its
// selection; any other switch starts from an empty selection.
func SwitchMode(t Targeting, mode TargetingMode) Targeting {
	if ModeOf(t) == mode {
		return cloneTargeting(t)
	}
	return EmptyTargeting(mode)
}

// ToggleClient adds or removes clientID, forcing the clients mode.
func ToggleClient(t Targeting, clientID string) Targeting {
	var ids []string
	if cl, ok := t.(ClientList); ok {
		ids = cl.ClientIDs
	}
	return ClientList{ClientIDs: ToggleID(ids, clientID)}
}

// ToggleGroup adds or removes groupID, forcing the groups mode.
func ToggleGroup(t Targeting, groupID string) Targeting {
	var ids []string
	if gl, ok := t.(GroupList); ok {
		ids = gl.GroupIDs
	}
	return GroupList{GroupIDs: ToggleID(ids, groupID)}
}

// WithoutGroup drops groupID from a GroupList. Other variants are returned
// unchanged. The boolean reports whether anything was removed.
func WithoutGroup(t Targeting, groupID string) (Targeting, bool) {
	gl, ok := t.(GroupList)
	if !ok {
		return t, false
	}
	next := make([]string, 0, len(gl.GroupIDs))
	for _, id := range gl.GroupIDs {
		if id != groupID {
			next = append(next, id)
		}
	}
	if len(next) == len(gl.GroupIDs) {
		return t, false
	}
	return GroupList{GroupIDs: next}, true
}

// CleanTargeting returns a copy of t with blank and repeated ids removed.
func CleanTargeting(t Targeting) Targeting {
	switch v := t.(type) {
	case ClientList:
		return ClientList{ClientIDs: dedupe(nonBlank(v.ClientIDs))}
	case GroupList:
		return GroupList{GroupIDs: dedupe(nonBlank(v.GroupIDs))}
	default:
		return AllClients{}
	}
}

func nonBlank(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			out = append(out, id)
		}
	}
	return out
}

func cloneTargeting(t Targeting) Targeting {
	switch v := t.(type) {
	case ClientList:
		return ClientList{ClientIDs: append([]string{}, v.ClientIDs...)}
	case GroupList:
		return GroupList{GroupIDs: append([]string{}, v.GroupIDs...)}
	default:
		return AllClients{}
	}
}

// ToggleID removes id from ids if present, appends it otherwise. The result is
// deduplicated and never aliases ids.
func ToggleID(ids []string, id string) []string {
	next := make([]string, 0, len(ids)+1)
	found := false
	for _, existing := range dedupe(ids) {
		if existing == id {
			found = true
			continue
		}
		next = append(next, existing)
	}
	if !found {
		next = append(next, id)
	}
	return next
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// targetingJSON is the persisted shape: a mode plus both collections, with
// the inactive one always empty.
type targetingJSON struct {
	Mode      TargetingMode `json:"mode"`
	ClientIDs []string      `json:"clientIds"`
	GroupIDs  []string      `json:"groupIds"`
}

func encodeTargeting(t Targeting) targetingJSON {
	out := targetingJSON{Mode: ModeAll, ClientIDs: []string{}, GroupIDs: []string{}}
	switch v := t.(type) {
	case ClientList:
		out.Mode = ModeClients
		out.ClientIDs = append(out.ClientIDs, v.ClientIDs...)
	case GroupList:
		out.Mode = ModeGroups
		out.GroupIDs = append(out.GroupIDs, v.GroupIDs...)
	}
	return out
}

// normalizeTargeting builds a Targeting from an untyped decoded value. Any mode
// other than clients or groups collapses to AllClients.
func normalizeTargeting(raw any) Targeting {
	obj, _ := raw.(map[string]any)
	mode, _ := obj["mode"].(string)

	switch TargetingMode(mode) {
	case ModeClients:
		return ClientList{ClientIDs: dedupe(stringList(obj["clientIds"]))}
	case ModeGroups:
		return GroupList{GroupIDs: dedupe(stringList(obj["groupIds"]))}
	default:
		return AllClients{}
	}
}

// stringList coerces a decoded JSON array to its non-empty string elements.
// Scalars are stringified: numbers are formatted, booleans become "true" or
// "false" and null becomes "null". Objects and arrays are dropped.
func stringList(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if v != "" {
				out = append(out, v)
			}
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		case bool:
			out = append(out, strconv.FormatBool(v))
		case nil:
			out = append(out, "null")
		}
	}
	return out
}

type featureJSON struct {
	ID          string        `json:"id"`
	Key         string        `json:"key"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Tags        []string      `json:"tags"`
	Env         EnvFlags      `json:"env"`
	Targeting   targetingJSON `json:"targeting"`
	Notes       string        `json:"notes"`
	UpdatedAt   string        `json:"updatedAt"`
}

// MarshalJSON writes the feature with its targeting in the persisted shape.
func (f Feature) MarshalJSON() ([]byte, error) {
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	return json.Marshal(featureJSON{
		ID:          f.ID,
		Key:         f.Key,
		Name:        f.Name,
		Description: f.Description,
		Tags:        tags,
		Env:         f.Env,
		Targeting:   encodeTargeting(f.Targeting),
		Notes:       f.Notes,
		UpdatedAt:   formatTime(f.UpdatedAt),
	})
}

// UnmarshalJSON reads a feature leniently, with the same coercions the
// normalizer applies to persisted features.
func (f *Feature) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	feature, _ := normalizeFeature(raw, timeNow())
	*f = feature
	return nil
}
