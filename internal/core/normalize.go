package core

import (
	"encoding/json"
	"strings"
	"time"
)

// Normalize turns a persisted blob into a valid State. It never fails: an
// absent or undecodable blob, or one without a single usable feature, yields
// Seed(). Otherwise each field is coerced, falling back to the seed's value
// when the stored one has the wrong shape.
//
// A malformed clients or groups field is replaced by the sample clients or
// groups even when features decode fine.
func Normalize(raw []byte) State {
	return normalizeAt(raw, timeNow().UTC())
}

func normalizeAt(raw []byte, now time.Time) State {
	seed := seedAt(now)
	if len(raw) == 0 {
		return seed
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return seed
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return seed
	}

	state := State{
		CurrentUser: seed.CurrentUser,
		Clients:     seed.Clients,
		Groups:      seed.Groups,
		ChangeLog:   []ChangeLogEntry{},
	}

	if user, ok := obj["currentUser"].(string); ok && strings.TrimSpace(user) != "" {
		state.CurrentUser = strings.TrimSpace(user)
	}
	if items, ok := obj["clients"].([]any); ok {
		state.Clients = normalizeClients(items)
	}
	if items, ok := obj["groups"].([]any); ok {
		state.Groups = normalizeGroups(items)
	}
	if items, ok := obj["changeLog"].([]any); ok {
		state.ChangeLog = normalizeChangeLog(items)
	}

	if items, ok := obj["features"].([]any); ok {
		state.Features = normalizeFeatures(items, now)
	} else {
		state.Features = seed.Features
	}
	if len(state.Features) == 0 {
		return seed
	}

	selected, _ := obj["selectedFeatureId"].(string)
	state.SelectedFeatureID = selected
	if state.FeatureIndex(selected) < 0 {
		state.SelectedFeatureID = state.Features[0].ID
	}

	return state
}

func normalizeClients(items []any) []Client {
	out := make([]Client, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := stringField(obj, "id")
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, Client{ID: id, Name: stringField(obj, "name")})
	}
	return out
}

func normalizeGroups(items []any) []Group {
	out := make([]Group, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := stringField(obj, "id")
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, Group{
			ID:        id,
			Name:      stringField(obj, "name"),
			ClientIDs: dedupe(stringList(obj["clientIds"])),
		})
	}
	return out
}

func normalizeFeatures(items []any, now time.Time) []Feature {
	out := make([]Feature, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		feature, ok := normalizeFeature(obj, now)
		if !ok {
			continue
		}
		if _, dup := seen[feature.ID]; dup {
			continue
		}
		seen[feature.ID] = struct{}{}
		out = append(out, feature)
	}
	return out
}

// normalizeFeature coerces one decoded feature. The boolean is false when the
// id, key or name is missing, in which case the feature must be dropped.
func normalizeFeature(obj map[string]any, now time.Time) (Feature, bool) {
	feature := Feature{
		ID:          stringField(obj, "id"),
		Key:         stringField(obj, "key"),
		Name:        stringField(obj, "name"),
		Description: stringField(obj, "description"),
		Tags:        CleanTags(stringList(obj["tags"])),
		Env:         normalizeEnv(obj["env"]),
		Targeting:   normalizeTargeting(obj["targeting"]),
		Notes:       stringField(obj, "notes"),
		UpdatedAt:   now,
	}

	if ts, ok := obj["updatedAt"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			feature.UpdatedAt = parsed
		}
	}

	return feature, feature.ID != "" && feature.Key != "" && feature.Name != ""
}

func normalizeChangeLog(items []any) []ChangeLogEntry {
	out := make([]ChangeLogEntry, 0, min(len(items), MaxChangeLogEntries))
	for _, item := range items {
		if len(out) == MaxChangeLogEntries {
			break
		}
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entry := ChangeLogEntry{
			ID:        stringField(obj, "id"),
			Who:       stringField(obj, "who"),
			FeatureID: stringField(obj, "featureId"),
			What:      stringField(obj, "what"),
		}
		if entry.ID == "" {
			continue
		}
		if ts, ok := obj["when"].(string); ok {
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				entry.When = parsed
			}
		}
		out = append(out, entry)
	}
	return out
}

// CleanTags trims every tag, drops empty ones and keeps at most MaxTags.
func CleanTags(tags []string) []string {
	out := make([]string, 0, min(len(tags), MaxTags))
	for _, tag := range tags {
		if len(out) == MaxTags {
			break
		}
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// ParseTags splits a comma-separated tag list and cleans it.
func ParseTags(s string) []string {
	return CleanTags(strings.Split(s, ","))
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
