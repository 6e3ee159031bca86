package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matt-riley/flagdeck/internal/core"
)

const (
	DefaultStateKey      = "pm-ffm:static:v2"
	DefaultChangeLimit   = 20
	defaultStoreTimeout  = 5 * time.Second
	defaultNewGroupName  = "New group"
	defaultUntitledGroup = "Untitled group"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNameRequired         = fmt.Errorf("%w: feature name is required", ErrValidation)
	ErrKeyRequired          = fmt.Errorf("%w: feature key is required", ErrValidation)
	ErrUnknownEnvironment   = fmt.Errorf("%w: %w", ErrValidation, core.ErrUnknownEnvironment)
	ErrUnknownTargetingMode = fmt.Errorf("%w: %w", ErrValidation, core.ErrUnknownTargetingMode)
	ErrPersist              = errors.New("persist state")
	ErrFeatureNotFound      = errors.New("feature not found")
)

// Repository is the blob store the whole State is written to as one JSON value.
type Repository interface {
	GetBlob(ctx context.Context, key string) (string, bool, error)
	PutBlob(ctx context.Context, key, value string) error
}

// MetricsRecorder receives command and persistence outcomes.
type MetricsRecorder interface {
	ObserveCommand(command, result string, elapsed time.Duration)
	ObservePersist(err error)
	ObserveState(features, groups, changes int)
}

// FeatureDraft is the editable form of a feature passed to SaveFeature.
type FeatureDraft struct {
	ID          string
	Key         string
	Name        string
	Description string
	Tags        []string
	Env         core.EnvFlags
	Targeting   core.Targeting
	Notes       string
}

// NewFeatureDraft returns the defaults used for a feature that does not exist
// yet: Dev and Test on, every client targeted.
func NewFeatureDraft() FeatureDraft {
	return FeatureDraft{
		Tags:      []string{},
		Env:       core.DefaultEnv(),
		Targeting: core.AllClients{},
	}
}

// DraftFromFeature returns an editable copy of f.
func DraftFromFeature(f core.Feature) FeatureDraft {
	f = f.Clone()
	return FeatureDraft{
		ID:          f.ID,
		Key:         f.Key,
		Name:        f.Name,
		Description: f.Description,
		Tags:        f.Tags,
		Env:         f.Env,
		Targeting:   f.Targeting,
		Notes:       f.Notes,
	}
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithStateKey(key string) Option {
	return func(s *Service) {
		if key = strings.TrimSpace(key); key != "" {
			s.stateKey = key
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithStoreTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.storeTimeout = timeout
		}
	}
}

func WithMetrics(recorder MetricsRecorder) Option {
	return func(s *Service) {
		s.metrics = recorder
	}
}

func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(s *Service) {
		if provider != nil {
			s.tracer = provider.Tracer(tracerName)
		}
	}
}

const tracerName = "github.com/matt-riley/flagdeck/internal/service"

// Service owns the console State. It is the only writer; every command runs
// under the mutex and persists the full State before returning.
type Service struct {
	repo         Repository
	logger       *slog.Logger
	tracer       trace.Tracer
	metrics      MetricsRecorder
	now          func() time.Time
	newID        func() string
	stateKey     string
	storeTimeout time.Duration

	mu    sync.Mutex
	state core.State
}

// New loads the State stored under the state key, normalizing whatever is
// found. A missing key starts from the seed. When the stored blob is missing
// or had to be repaired, the resulting State is written back so later runs
// see the same ids. Only a failing read is an error; a failing write is
// logged and retried by the next command.
func New(ctx context.Context, repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}

	svc := &Service{
		repo:         repo,
		logger:       slog.New(slog.DiscardHandler),
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
		newID:        core.NewID,
		stateKey:     DefaultStateKey,
		storeTimeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(svc)
	}

	loadCtx, cancel := context.WithTimeout(ctx, svc.storeTimeout)
	defer cancel()

	raw, found, err := repo.GetBlob(loadCtx, svc.stateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: load state %q: %w", ErrPersist, svc.stateKey, err)
	}

	if found {
		svc.state = core.Normalize([]byte(raw))
	} else {
		svc.state = core.Seed()
	}
	if err := svc.state.Validate(); err != nil {
		svc.logger.Warn("stored state invalid after normalization; starting from seed", "key", svc.stateKey, "error", err)
		svc.state = core.Seed()
	}
	svc.observeState()

	blob, err := svc.state.MarshalBlob()
	if err != nil {
		return nil, fmt.Errorf("%w: encode state: %w", ErrPersist, err)
	}
	if !found || string(blob) != raw {
		svc.mu.Lock()
		_ = svc.persistLocked(ctx)
		svc.mu.Unlock()
	}

	svc.logger.Info("state loaded",
		"key", svc.stateKey,
		"found", found,
		"features", len(svc.state.Features),
		"groups", len(svc.state.Groups),
		"changes", len(svc.state.ChangeLog),
	)

	return svc, nil
}

// outcome describes what a command did to the working copy.
type outcome struct {
	noop      bool
	silent    bool
	featureID string
	what      string
}

var unchanged = outcome{noop: true}

func logged(featureID, what string) outcome {
	return outcome{featureID: featureID, what: what}
}

func silent() outcome {
	return outcome{silent: true}
}

// commit applies fn to a copy of the State. On success the copy replaces the
// State, gains one change log entry unless silent, and is written to the
// store. A failed write leaves the new State in place and returns ErrPersist.
func (s *Service) commit(ctx context.Context, command string, fn func(next *core.State, now time.Time) (outcome, error)) (err error) {
	ctx, span := s.tracer.Start(ctx, "service."+command)
	defer span.End()

	start := time.Now()
	result := "ok"
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("flagdeck.result", result))
		if s.metrics != nil {
			s.metrics.ObserveCommand(command, result, time.Since(start))
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	next := s.state.Clone()

	out, err := fn(&next, now)
	if err != nil {
		result = "invalid"
		return err
	}
	if out.noop {
		result = "noop"
		s.logger.Debug("command had no effect", "command", command)
		return nil
	}

	if !out.silent {
		entry := core.NewChange(s.newID(), now, next.CurrentUser, out.featureID, out.what)
		next.ChangeLog = core.AppendChange(next.ChangeLog, entry)
	}
	s.state = next
	s.observeState()

	s.logger.Debug("command applied", "command", command, "feature_id", out.featureID, "change", out.what)

	if err := s.persistLocked(ctx); err != nil {
		result = "persist_error"
		return err
	}

	return nil
}

func (s *Service) persistLocked(ctx context.Context) error {
	blob, err := s.state.MarshalBlob()
	if err != nil {
		s.observePersist(err)
		return fmt.Errorf("%w: encode state: %w", ErrPersist, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.repo.PutBlob(writeCtx, s.stateKey, string(blob)); err != nil {
		s.observePersist(err)
		s.logger.Warn("state write failed; keeping in-memory state", "key", s.stateKey, "error", err)
		return fmt.Errorf("%w: write state %q: %w", ErrPersist, s.stateKey, err)
	}

	s.observePersist(nil)
	return nil
}

func (s *Service) observePersist(err error) {
	if s.metrics != nil {
		s.metrics.ObservePersist(err)
	}
}

func (s *Service) observeState() {
	if s.metrics != nil {
		s.metrics.ObserveState(len(s.state.Features), len(s.state.Groups), len(s.state.ChangeLog))
	}
}

func (s *Service) SetCurrentUser(ctx context.Context, name string) error {
	return s.commit(ctx, "SetCurrentUser", func(next *core.State, _ time.Time) (outcome, error) {
		if next.CurrentUser == name {
			return unchanged, nil
		}
		next.CurrentUser = name
		return silent(), nil
	})
}

func (s *Service) SelectFeature(ctx context.Context, id string) error {
	return s.commit(ctx, "SelectFeature", func(next *core.State, _ time.Time) (outcome, error) {
		if next.FeatureIndex(id) < 0 || next.SelectedFeatureID == id {
			return unchanged, nil
		}
		next.SelectedFeatureID = id
		return silent(), nil
	})
}

// SaveFeature creates the draft's feature, or replaces the feature with the
// same id, and selects it.
func (s *Service) SaveFeature(ctx context.Context, draft FeatureDraft) (core.Feature, error) {
	var saved core.Feature
	err := s.commit(ctx, "SaveFeature", func(next *core.State, now time.Time) (outcome, error) {
		name := strings.TrimSpace(draft.Name)
		key := core.NormalizeKey(draft.Key)
		if name == "" {
			return outcome{}, ErrNameRequired
		}
		if key == "" {
			return outcome{}, ErrKeyRequired
		}

		id := strings.TrimSpace(draft.ID)
		if id == "" {
			id = s.newID()
		}
		targeting := draft.Targeting
		if targeting == nil {
			targeting = core.AllClients{}
		}

		saved = core.Feature{
			ID:          id,
			Key:         key,
			Name:        name,
			Description: draft.Description,
			Tags:        core.CleanTags(draft.Tags),
			Env:         draft.Env,
			Targeting:   core.CleanTargeting(targeting),
			Notes:       draft.Notes,
			UpdatedAt:   now,
		}

		if i := next.FeatureIndex(id); i >= 0 {
			next.Features[i] = saved
		} else {
			next.Features = append([]core.Feature{saved}, next.Features...)
		}
		next.SelectedFeatureID = id

		return logged(id, fmt.Sprintf("Saved feature “%s” (%s).", name, key)), nil
	})
	if err != nil && !errors.Is(err, ErrPersist) {
		return core.Feature{}, err
	}

	return saved.Clone(), err
}

func (s *Service) DeleteFeature(ctx context.Context, id string) error {
	return s.commit(ctx, "DeleteFeature", func(next *core.State, _ time.Time) (outcome, error) {
		i := next.FeatureIndex(id)
		if i < 0 {
			return unchanged, nil
		}
		name := next.Features[i].Name
		next.Features = append(next.Features[:i], next.Features[i+1:]...)

		if next.SelectedFeatureID == id {
			next.SelectedFeatureID = ""
			if len(next.Features) > 0 {
				next.SelectedFeatureID = next.Features[0].ID
			}
		}

		return logged(id, fmt.Sprintf("Deleted feature “%s”.", name)), nil
	})
}

func (s *Service) SetEnvironmentFlag(ctx context.Context, id string, env core.Environment, value bool) error {
	return s.updateEnv(ctx, "SetEnvironmentFlag", id, env, func(bool) bool { return value })
}

func (s *Service) ToggleEnvironmentFlag(ctx context.Context, id string, env core.Environment) error {
	return s.updateEnv(ctx, "ToggleEnvironmentFlag", id, env, func(current bool) bool { return !current })
}

func (s *Service) updateEnv(ctx context.Context, command, id string, env core.Environment, next func(bool) bool) error {
	return s.commit(ctx, command, func(st *core.State, now time.Time) (outcome, error) {
		if _, err := (core.EnvFlags{}).Get(env); err != nil {
			return outcome{}, fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
		}

		i := st.FeatureIndex(id)
		if i < 0 {
			return unchanged, nil
		}
		feature := &st.Features[i]

		current, _ := feature.Env.Get(env)
		value := next(current)
		if value == current {
			return unchanged, nil
		}
		feature.Env, _ = feature.Env.With(env, value)
		feature.UpdatedAt = now

		return logged(id, fmt.Sprintf("Set %s → %s.", env, onOff(value))), nil
	})
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

// SetTargetingMode switches the feature's targeting mode. Switching to the
// mode already in use keeps the selection.
func (s *Service) SetTargetingMode(ctx context.Context, id string, mode core.TargetingMode) error {
	return s.commit(ctx, "SetTargetingMode", func(next *core.State, now time.Time) (outcome, error) {
		parsed, err := core.ParseTargetingMode(string(mode))
		if err != nil {
			return outcome{}, fmt.Errorf("%w: %q", ErrUnknownTargetingMode, mode)
		}

		i := next.FeatureIndex(id)
		if i < 0 {
			return unchanged, nil
		}
		feature := &next.Features[i]
		feature.Targeting = core.SwitchMode(feature.Targeting, parsed)
		feature.UpdatedAt = now

		return logged(id, fmt.Sprintf("Updated audience targeting → %s.", parsed)), nil
	})
}

func (s *Service) ToggleClientInTargeting(ctx context.Context, id, clientID string) error {
	return s.commit(ctx, "ToggleClientInTargeting", func(next *core.State, now time.Time) (outcome, error) {
		i := next.FeatureIndex(id)
		if i < 0 {
			return unchanged, nil
		}
		feature := &next.Features[i]
		if !selectedClient(feature.Targeting, clientID) && !hasClient(*next, clientID) {
			return unchanged, nil
		}
		feature.Targeting = core.ToggleClient(feature.Targeting, clientID)
		feature.UpdatedAt = now

		return logged(id, "Updated audience targeting."), nil
	})
}

func (s *Service) ToggleGroupInTargeting(ctx context.Context, id, groupID string) error {
	return s.commit(ctx, "ToggleGroupInTargeting", func(next *core.State, now time.Time) (outcome, error) {
		i := next.FeatureIndex(id)
		if i < 0 {
			return unchanged, nil
		}
		feature := &next.Features[i]
		if !selectedGroup(feature.Targeting, groupID) && next.GroupIndex(groupID) < 0 {
			return unchanged, nil
		}
		feature.Targeting = core.ToggleGroup(feature.Targeting, groupID)
		feature.UpdatedAt = now

		return logged(id, "Updated audience targeting."), nil
	})
}

// selectedClient and selectedGroup report whether id is part of the current
// selection of that kind. Removing a selected id is always allowed, even when
// the referenced client or group no longer exists.
func selectedClient(t core.Targeting, id string) bool {
	cl, ok := t.(core.ClientList)
	return ok && slices.Contains(cl.ClientIDs, id)
}

func selectedGroup(t core.Targeting, id string) bool {
	gl, ok := t.(core.GroupList)
	return ok && slices.Contains(gl.GroupIDs, id)
}

func hasClient(state core.State, id string) bool {
	for _, c := range state.Clients {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (s *Service) SaveNotes(ctx context.Context, id, text string) error {
	return s.commit(ctx, "SaveNotes", func(next *core.State, now time.Time) (outcome, error) {
		i := next.FeatureIndex(id)
		if i < 0 {
			return unchanged, nil
		}
		next.Features[i].Notes = text
		next.Features[i].UpdatedAt = now

		return logged(id, "Updated notes."), nil
	})
}

func (s *Service) CreateGroup(ctx context.Context, name string) (core.Group, error) {
	var created core.Group
	err := s.commit(ctx, "CreateGroup", func(next *core.State, _ time.Time) (outcome, error) {
		name = strings.TrimSpace(name)
		if name == "" {
			name = defaultNewGroupName
		}
		created = core.Group{ID: s.newID(), Name: name, ClientIDs: []string{}}
		next.Groups = append(next.Groups, created)

		return groupsChanged(next), nil
	})
	if err != nil && !errors.Is(err, ErrPersist) {
		return core.Group{}, err
	}

	return created, err
}

func (s *Service) RenameGroup(ctx context.Context, id, name string) error {
	return s.commit(ctx, "RenameGroup", func(next *core.State, _ time.Time) (outcome, error) {
		i := next.GroupIndex(id)
		if i < 0 {
			return unchanged, nil
		}
		name = strings.TrimSpace(name)
		if name == "" {
			name = defaultUntitledGroup
		}
		next.Groups[i].Name = name

		return groupsChanged(next), nil
	})
}

// DeleteGroup removes the group and drops it from every feature that targets
// it. Features that lose the reference get a fresh updatedAt.
func (s *Service) DeleteGroup(ctx context.Context, id string) error {
	return s.commit(ctx, "DeleteGroup", func(next *core.State, now time.Time) (outcome, error) {
		i := next.GroupIndex(id)
		if i < 0 {
			return unchanged, nil
		}
		next.Groups = append(next.Groups[:i], next.Groups[i+1:]...)

		for j := range next.Features {
			targeting, removed := core.WithoutGroup(next.Features[j].Targeting, id)
			if removed {
				next.Features[j].Targeting = targeting
				next.Features[j].UpdatedAt = now
			}
		}

		return groupsChanged(next), nil
	})
}

func (s *Service) ToggleClientInGroup(ctx context.Context, groupID, clientID string) error {
	return s.commit(ctx, "ToggleClientInGroup", func(next *core.State, _ time.Time) (outcome, error) {
		i := next.GroupIndex(groupID)
		if i < 0 {
			return unchanged, nil
		}
		group := &next.Groups[i]
		if !slices.Contains(group.ClientIDs, clientID) && !hasClient(*next, clientID) {
			return unchanged, nil
		}
		group.ClientIDs = core.ToggleID(group.ClientIDs, clientID)

		return groupsChanged(next), nil
	})
}

func groupsChanged(st *core.State) outcome {
	return logged("", fmt.Sprintf("Updated client groups (%d total).", len(st.Groups)))
}

// State returns a deep copy of the current State.
func (s *Service) State() core.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.Clone()
}

func (s *Service) SelectedFeature() (core.Feature, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.state.SelectedFeature()
	if !ok {
		return core.Feature{}, false
	}
	return f.Clone(), true
}

func (s *Service) Feature(id string) (core.Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.state.Feature(id)
	if !ok {
		return core.Feature{}, fmt.Errorf("%w: %q", ErrFeatureNotFound, id)
	}
	return f.Clone(), nil
}

func (s *Service) ResolveAudience(id string) (core.Audience, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.state.Feature(id)
	if !ok {
		return core.Audience{}, fmt.Errorf("%w: %q", ErrFeatureNotFound, id)
	}
	return core.ResolveAudience(f, s.state), nil
}

// AudienceLabels returns display names for the feature's resolved audience.
// All-clients targeting yields nil and all=true.
func (s *Service) AudienceLabels(id string) (labels []string, all bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.state.Feature(id)
	if !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrFeatureNotFound, id)
	}
	audience := core.ResolveAudience(f, s.state)
	if audience.All {
		return nil, true, nil
	}
	return audience.Labels(s.state), false, nil
}

func (s *Service) SearchFeatures(query string) []core.Feature {
	s.mu.Lock()
	defer s.mu.Unlock()

	return core.SearchFeatures(s.state.Features, query)
}

// ChangeLog returns up to limit entries, newest first. With a feature id only
// that feature's entries and global entries are returned. A limit of zero or
// less uses DefaultChangeLimit.
func (s *Service) ChangeLog(featureID string, limit int) []core.ChangeLogEntry {
	if limit <= 0 {
		limit = DefaultChangeLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if featureID == "" {
		n := min(limit, len(s.state.ChangeLog))
		return append([]core.ChangeLogEntry{}, s.state.ChangeLog[:n]...)
	}
	return core.ChangesFor(s.state.ChangeLog, featureID, limit)
}

// Evaluate reports each feature key's on/off value for clientID in env.
func (s *Service) Evaluate(env core.Environment, clientID string) (map[string]bool, error) {
	if _, err := (core.EnvFlags{}).Get(env); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return core.EvaluateFeatures(s.state, env, clientID), nil
}
