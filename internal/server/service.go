package server

import (
	"context"

	"github.com/matt-riley/flagdeck/internal/core"
	"github.com/matt-riley/flagdeck/internal/service"
)

type Service interface {
	State() core.State
	SelectedFeature() (core.Feature, bool)
	Feature(id string) (core.Feature, error)
	SearchFeatures(query string) []core.Feature
	ResolveAudience(id string) (core.Audience, error)
	AudienceLabels(id string) ([]string, bool, error)
	ChangeLog(featureID string, limit int) []core.ChangeLogEntry
	Evaluate(env core.Environment, clientID string) (map[string]bool, error)

	SetCurrentUser(ctx context.Context, name string) error
	SelectFeature(ctx context.Context, id string) error
	SaveFeature(ctx context.Context, draft service.FeatureDraft) (core.Feature, error)
	DeleteFeature(ctx context.Context, id string) error
	SetEnvironmentFlag(ctx context.Context, id string, env core.Environment, value bool) error
	ToggleEnvironmentFlag(ctx context.Context, id string, env core.Environment) error
	SetTargetingMode(ctx context.Context, id string, mode core.TargetingMode) error
	ToggleClientInTargeting(ctx context.Context, id, clientID string) error
	ToggleGroupInTargeting(ctx context.Context, id, groupID string) error
	SaveNotes(ctx context.Context, id, text string) error
	CreateGroup(ctx context.Context, name string) (core.Group, error)
	RenameGroup(ctx context.Context, id, name string) error
	DeleteGroup(ctx context.Context, id string) error
	ToggleClientInGroup(ctx context.Context, groupID, clientID string) error
}

var _ Service = (*service.Service)(nil)
