package core

import "time"

var timeNow = time.Now

// Seed returns the sample state used when nothing valid has been persisted.
// The feature id and timestamp are fresh on every call.
func Seed() State {
	return seedAt(timeNow().UTC())
}

func seedAt(now time.Time) State {
	clients := []Client{
		{ID: "c-aurora", Name: "Aurora REIT"},
		{ID: "c-bayview", Name: "Bayview Capital"},
		{ID: "c-cypress", Name: "Cypress Holdings"},
	}

	groups := []Group{
		{ID: "g-beta", Name: "Beta Participants", ClientIDs: []string{"c-aurora"}},
	}

	features := []Feature{
		{
			ID:          NewID(),
			Key:         "audit_trail_v2",
			Name:        "Audit Trail v2",
			Description: "New audit timeline",
			Tags:        []string{"Compliance"},
			Env:         EnvFlags{Dev: true, Test: true, Stage: true},
			Targeting:   GroupList{GroupIDs: []string{"g-beta"}},
			Notes:       "Beta rollout",
			UpdatedAt:   now,
		},
	}

	return State{
		CurrentUser:       DefaultUser,
		Clients:           clients,
		Groups:            groups,
		Features:          features,
		SelectedFeatureID: features[0].ID,
		ChangeLog:         []ChangeLogEntry{},
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
