package core

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestSeed(t *testing.T) {
	state := Seed()

	if state.CurrentUser != DefaultUser {
		t.Fatalf("CurrentUser = %q, want %q", state.CurrentUser, DefaultUser)
	}
	if len(state.Clients) != 3 || len(state.Groups) != 1 || len(state.Features) != 1 {
		t.Fatalf("seed sizes = %d clients, %d groups, %d features, want 3/1/1",
			len(state.Clients), len(state.Groups), len(state.Features))
	}
	if len(state.ChangeLog) != 0 {
		t.Fatalf("seed change log length = %d, want 0", len(state.ChangeLog))
	}

	feature := state.Features[0]
	if feature.Key != "audit_trail_v2" {
		t.Fatalf("seed feature key = %q, want audit_trail_v2", feature.Key)
	}
	if state.SelectedFeatureID != feature.ID {
		t.Fatalf("SelectedFeatureID = %q, want %q", state.SelectedFeatureID, feature.ID)
	}
	if want := (EnvFlags{Dev: true, Test: true, Stage: true}); feature.Env != want {
		t.Fatalf("seed env = %+v, want %+v", feature.Env, want)
	}
	target, ok := feature.Targeting.(GroupList)
	if !ok || !reflect.DeepEqual(target.GroupIDs, []string{state.Groups[0].ID}) {
		t.Fatalf("seed targeting = %#v, want groups [%s]", feature.Targeting, state.Groups[0].ID)
	}
	if !reflect.DeepEqual(state.Groups[0].ClientIDs, []string{"c-aurora"}) {
		t.Fatalf("seed group members = %v, want [c-aurora]", state.Groups[0].ClientIDs)
	}

	if other := Seed(); other.Features[0].ID == feature.ID {
		t.Fatal("Seed() reused a feature id across calls")
	}
}

func TestNormalizeFallsBackToSeed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "absent", raw: ""},
		{name: "invalid json", raw: "{not json"},
		{name: "null", raw: "null"},
		{name: "array", raw: "[1,2]"},
		{name: "string", raw: `"state"`},
		{name: "no features", raw: `{"features":[]}`},
		{name: "features missing identity", raw: `{"features":[{"id":"f1","key":"","name":"x"},{"key":"k","name":"n"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := Normalize([]byte(tt.raw))
			if len(state.Features) != 1 || state.Features[0].Key != "audit_trail_v2" {
				t.Fatalf("Normalize(%q) features = %+v, want seed feature", tt.raw, state.Features)
			}
			if len(state.Clients) != 3 || len(state.Groups) != 1 {
				t.Fatalf("Normalize(%q) clients/groups = %d/%d, want 3/1", tt.raw, len(state.Clients), len(state.Groups))
			}
			if state.SelectedFeatureID != state.Features[0].ID {
				t.Fatalf("SelectedFeatureID = %q, want %q", state.SelectedFeatureID, state.Features[0].ID)
			}
		})
	}
}

func TestNormalizeSeedIsFixedPoint(t *testing.T) {
	seed := Seed()
	blob, err := seed.MarshalBlob()
	if err != nil {
		t.Fatalf("MarshalBlob() error = %v", err)
	}

	again, err := Normalize(blob).MarshalBlob()
	if err != nil {
		t.Fatalf("MarshalBlob() error = %v", err)
	}
	if string(again) != string(blob) {
		t.Fatalf("Normalize(seed) changed state:\n got %s\nwant %s", again, blob)
	}
}

func TestNormalizeCoercesFields(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := `{
		"currentUser": "  Salim  ",
		"clients": [{"id":"c1","name":"One"},{"id":"c1","name":"Dup"},{"name":"no id"},"junk"],
		"groups": [{"id":"g1","name":"G","clientIds":["c1","c1","",3]}],
		"features": [
			{
				"id": "f1", "key": "k1", "name": "Feature 1",
				"env": {"Dev": true, "Test": "", "Ops": 0, "Prod": "yes", "Stage": 1},
				"targeting": {"mode": "clients", "clientIds": ["c1", "c1"], "groupIds": ["g1"]},
				"tags": ["  a ", "", "b", 4, false, {"x": 1}],
				"updatedAt": "2025-05-06T07:08:09Z"
			},
			{
				"id": "f2", "key": "k2", "name": "Feature 2",
				"targeting": {"mode": "bogus", "clientIds": ["c1"]},
				"tags": "not-a-list",
				"updatedAt": 12
			},
			{"id": "f1", "key": "dup", "name": "Duplicate id"},
			{"id": "f3", "key": "k3"}
		],
		"selectedFeatureId": "missing",
		"changeLog": [{"id":"e1","what":"x","when":"2025-01-01T00:00:00Z","featureId":"f1"},{"what":"no id"}]
	}`

	state := normalizeAt([]byte(raw), now)

	if state.CurrentUser != "Salim" {
		t.Fatalf("CurrentUser = %q, want %q", state.CurrentUser, "Salim")
	}
	if want := []Client{{ID: "c1", Name: "One"}}; !reflect.DeepEqual(state.Clients, want) {
		t.Fatalf("Clients = %+v, want %+v", state.Clients, want)
	}
	if want := []string{"c1", "3"}; !reflect.DeepEqual(state.Groups[0].ClientIDs, want) {
		t.Fatalf("group ClientIDs = %v, want %v", state.Groups[0].ClientIDs, want)
	}
	if len(state.Features) != 2 {
		t.Fatalf("features = %d, want 2", len(state.Features))
	}

	f1 := state.Features[0]
	if want := (EnvFlags{Dev: true, Stage: true, Prod: true}); f1.Env != want {
		t.Fatalf("f1 env = %+v, want %+v", f1.Env, want)
	}
	if want := (ClientList{ClientIDs: []string{"c1"}}); !reflect.DeepEqual(f1.Targeting, want) {
		t.Fatalf("f1 targeting = %#v, want %#v", f1.Targeting, want)
	}
	if want := []string{"a", "b", "4", "false"}; !reflect.DeepEqual(f1.Tags, want) {
		t.Fatalf("f1 tags = %v, want %v", f1.Tags, want)
	}
	if want := time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC); !f1.UpdatedAt.Equal(want) {
		t.Fatalf("f1 UpdatedAt = %v, want %v", f1.UpdatedAt, want)
	}

	f2 := state.Features[1]
	if f2.Env != DefaultEnv() {
		t.Fatalf("f2 env = %+v, want default %+v", f2.Env, DefaultEnv())
	}
	if _, ok := f2.Targeting.(AllClients); !ok {
		t.Fatalf("f2 targeting = %#v, want AllClients", f2.Targeting)
	}
	if len(f2.Tags) != 0 || f2.Tags == nil {
		t.Fatalf("f2 tags = %#v, want empty", f2.Tags)
	}
	if !f2.UpdatedAt.Equal(now) {
		t.Fatalf("f2 UpdatedAt = %v, want now %v", f2.UpdatedAt, now)
	}

	if state.SelectedFeatureID != "f1" {
		t.Fatalf("SelectedFeatureID = %q, want f1", state.SelectedFeatureID)
	}
	if len(state.ChangeLog) != 1 || state.ChangeLog[0].ID != "e1" || state.ChangeLog[0].FeatureID != "f1" {
		t.Fatalf("ChangeLog = %+v, want single entry e1", state.ChangeLog)
	}
}

func TestNormalizeMalformedCollectionsUseSeedDefaults(t *testing.T) {
	raw := `{"currentUser":"   ","clients":"oops","groups":null,"changeLog":{},"features":[{"id":"f1","key":"k","name":"n"}],"selectedFeatureId":"f1"}`

	state := Normalize([]byte(raw))

	if state.CurrentUser != DefaultUser {
		t.Fatalf("CurrentUser = %q, want %q", state.CurrentUser, DefaultUser)
	}
	if len(state.Clients) != 3 || state.Clients[0].ID != "c-aurora" {
		t.Fatalf("Clients = %+v, want seed clients", state.Clients)
	}
	if len(state.Groups) != 1 || state.Groups[0].ID != "g-beta" {
		t.Fatalf("Groups = %+v, want seed groups", state.Groups)
	}
	if len(state.ChangeLog) != 0 {
		t.Fatalf("ChangeLog = %+v, want empty", state.ChangeLog)
	}
	if len(state.Features) != 1 || state.Features[0].ID != "f1" {
		t.Fatalf("Features = %+v, want persisted f1", state.Features)
	}
}

func TestNormalizeTruncatesChangeLog(t *testing.T) {
	state := Seed()
	for i := range MaxChangeLogEntries + 25 {
		state.ChangeLog = append(state.ChangeLog, ChangeLogEntry{ID: NewID(), What: string(rune('a' + i%26))})
	}
	blob, err := state.MarshalBlob()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got := Normalize(blob)
	if len(got.ChangeLog) != MaxChangeLogEntries {
		t.Fatalf("ChangeLog length = %d, want %d", len(got.ChangeLog), MaxChangeLogEntries)
	}
	if got.ChangeLog[0].ID != state.ChangeLog[0].ID {
		t.Fatalf("ChangeLog[0] = %q, want newest entry %q kept", got.ChangeLog[0].ID, state.ChangeLog[0].ID)
	}
}

func TestFeatureJSONRoundTripKeepsSinglePayload(t *testing.T) {
	feature := Feature{
		ID:        "f1",
		Key:       "k",
		Name:      "n",
		Targeting: GroupList{GroupIDs: []string{"g1"}},
		UpdatedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}

	blob, err := feature.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	want := `{"id":"f1","key":"k","name":"n","description":"","tags":[],"env":{"Dev":false,"Test":false,"Ops":false,"Stage":false,"Prod":false},"targeting":{"mode":"groups","clientIds":[],"groupIds":["g1"]},"notes":"","updatedAt":"2026-03-04T05:06:07Z"}`
	if string(blob) != want {
		t.Fatalf("MarshalJSON() = %s, want %s", blob, want)
	}

	var decoded Feature
	if err := decoded.UnmarshalJSON(blob); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	if !reflect.DeepEqual(decoded.Targeting, feature.Targeting) || !decoded.UpdatedAt.Equal(feature.UpdatedAt) {
		t.Fatalf("decoded = %+v, want %+v", decoded, feature)
	}
}

func TestNormalizeEnvLegacyValues(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want EnvFlags
	}{
		{name: "numbers and strings", raw: `{"Dev":1,"Test":"yes","Ops":true}`, want: EnvFlags{Dev: true, Test: true, Ops: true}},
		{name: "falsy values", raw: `{"Dev":0,"Test":"","Ops":null,"Stage":false}`, want: EnvFlags{}},
		{name: "string false is on", raw: `{"Prod":"false"}`, want: EnvFlags{Prod: true}},
		{name: "containers are on", raw: `{"Dev":{},"Test":[]}`, want: EnvFlags{Dev: true, Test: true}},
		{name: "not an object", raw: `[true]`, want: DefaultEnv()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw any
			if err := json.Unmarshal([]byte(tt.raw), &raw); err != nil {
				t.Fatalf("json.Unmarshal() error = %v", err)
			}
			if got := normalizeEnv(raw); got != tt.want {
				t.Fatalf("normalizeEnv(%s) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}
