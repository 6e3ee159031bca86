package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/matt-riley/flagdeck/internal/core"
	"github.com/matt-riley/flagdeck/internal/metrics"
	"github.com/matt-riley/flagdeck/internal/middleware"
	"github.com/matt-riley/flagdeck/internal/service"
)

const defaultMaxJSONBodyBytes = 1 << 20

var errJSONBodyTooLarge = errors.New("json request body too large")

type HTTPServer struct {
	service          Service
	maxJSONBodyBytes int64
	metrics          *metrics.Metrics
	writeLimiter     *middleware.RateLimiter
}

type Option func(*HTTPServer)

// WithMaxJSONBodySize caps request bodies; n <= 0 keeps the 1 MiB default.
func WithMaxJSONBodySize(n int64) Option {
	return func(s *HTTPServer) {
		if n > 0 {
			s.maxJSONBodyBytes = n
		}
	}
}

// WithMetrics records per-route request metrics and mounts GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *HTTPServer) { s.metrics = m }
}

// WithWriteLimiter throttles mutating requests per client address.
func WithWriteLimiter(rl *middleware.RateLimiter) Option {
	return func(s *HTTPServer) { s.writeLimiter = rl }
}

type userJSONRequest struct {
	Name string `json:"name"`
}

type targetingJSONRequest struct {
	Mode      string   `json:"mode"`
	ClientIDs []string `json:"clientIds"`
	GroupIDs  []string `json:"groupIds"`
}

type featureJSONRequest struct {
	ID          string                `json:"id"`
	Key         string                `json:"key"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Tags        []string              `json:"tags"`
	Env         *core.EnvFlags        `json:"env"`
	Targeting   *targetingJSONRequest `json:"targeting"`
	Notes       string                `json:"notes"`
}

type envJSONRequest struct {
	Enabled bool `json:"enabled"`
}

type modeJSONRequest struct {
	Mode string `json:"mode"`
}

type notesJSONRequest struct {
	Notes string `json:"notes"`
}

type groupJSONRequest struct {
	Name string `json:"name"`
}

type audienceJSONResponse struct {
	All       bool     `json:"all"`
	ClientIDs []string `json:"clientIds"`
	Labels    []string `json:"labels"`
}

type evaluateJSONResponse struct {
	Environment core.Environment `json:"environment"`
	ClientID    string           `json:"clientId"`
	Flags       map[string]bool  `json:"flags"`
}

func NewHTTPHandler(svc Service, opts ...Option) http.Handler {
	if svc == nil {
		panic("service is nil")
	}

	server := &HTTPServer{
		service:          svc,
		maxJSONBodyBytes: defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/state", server.handleGetState)
	mux.HandleFunc("PUT /v1/user", server.handleSetUser)

	mux.HandleFunc("GET /v1/features", server.handleListFeatures)
	mux.HandleFunc("POST /v1/features", server.handleSaveFeature)
	mux.HandleFunc("GET /v1/features/selected", server.handleGetSelectedFeature)
	mux.HandleFunc("GET /v1/features/{id}", server.handleGetFeature)
	mux.HandleFunc("DELETE /v1/features/{id}", server.handleDeleteFeature)
	mux.HandleFunc("POST /v1/features/{id}/select", server.handleSelectFeature)
	mux.HandleFunc("PUT /v1/features/{id}/env/{env}", server.handleSetEnv)
	mux.HandleFunc("POST /v1/features/{id}/env/{env}/toggle", server.handleToggleEnv)
	mux.HandleFunc("PUT /v1/features/{id}/targeting", server.handleSetTargetingMode)
	mux.HandleFunc("POST /v1/features/{id}/targeting/clients/{clientID}", server.handleToggleTargetClient)
	mux.HandleFunc("POST /v1/features/{id}/targeting/groups/{groupID}", server.handleToggleTargetGroup)
	mux.HandleFunc("PUT /v1/features/{id}/notes", server.handleSaveNotes)
	mux.HandleFunc("GET /v1/features/{id}/audience", server.handleGetAudience)
	mux.HandleFunc("GET /v1/features/{id}/changes", server.handleFeatureChanges)

	mux.HandleFunc("GET /v1/changes", server.handleChanges)
	mux.HandleFunc("GET /v1/clients", server.handleListClients)

	mux.HandleFunc("GET /v1/groups", server.handleListGroups)
	mux.HandleFunc("POST /v1/groups", server.handleCreateGroup)
	mux.HandleFunc("PUT /v1/groups/{id}", server.handleRenameGroup)
	mux.HandleFunc("DELETE /v1/groups/{id}", server.handleDeleteGroup)
	mux.HandleFunc("POST /v1/groups/{id}/clients/{clientID}", server.handleToggleGroupClient)

	mux.HandleFunc("GET /v1/evaluate", server.handleEvaluate)
	mux.HandleFunc("GET /healthz", server.handleHealthz)

	if server.metrics != nil {
		mux.Handle("GET /metrics", server.metrics.Handler())
	}

	var handler http.Handler = mux
	if server.writeLimiter != nil {
		handler = middleware.LimitWrites(server.writeLimiter)(handler)
	}
	if server.metrics != nil {
		handler = server.metrics.Middleware(handler)
	}

	return handler
}

func (s *HTTPServer) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.State())
}

func (s *HTTPServer) handleSetUser(w http.ResponseWriter, r *http.Request) {
	var request userJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if err := s.service.SetCurrentUser(r.Context(), request.Name); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"currentUser": s.service.State().CurrentUser})
}

func (s *HTTPServer) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.SearchFeatures(r.URL.Query().Get("q")))
}

func (s *HTTPServer) handleSaveFeature(w http.ResponseWriter, r *http.Request) {
	var request featureJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	draft, err := request.draft()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	_, lookupErr := s.service.Feature(strings.TrimSpace(draft.ID))
	created := errors.Is(lookupErr, service.ErrFeatureNotFound)

	saved, err := s.service.SaveFeature(r.Context(), draft)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, saved)
}

func (r featureJSONRequest) draft() (service.FeatureDraft, error) {
	draft := service.NewFeatureDraft()
	draft.ID = r.ID
	draft.Key = r.Key
	draft.Name = r.Name
	draft.Description = r.Description
	draft.Tags = r.Tags
	draft.Notes = r.Notes
	if r.Env != nil {
		draft.Env = *r.Env
	}

	if r.Targeting != nil {
		mode, err := core.ParseTargetingMode(r.Targeting.Mode)
		if err != nil {
			return service.FeatureDraft{}, service.ErrUnknownTargetingMode
		}
		switch mode {
		case core.ModeClients:
			draft.Targeting = core.ClientList{ClientIDs: r.Targeting.ClientIDs}
		case core.ModeGroups:
			draft.Targeting = core.GroupList{GroupIDs: r.Targeting.GroupIDs}
		default:
			draft.Targeting = core.AllClients{}
		}
	}

	return draft, nil
}

func (s *HTTPServer) handleGetSelectedFeature(w http.ResponseWriter, _ *http.Request) {
	feature, ok := s.service.SelectedFeature()
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no feature selected")
		return
	}

	writeJSON(w, http.StatusOK, feature)
}

func (s *HTTPServer) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	feature, err := s.service.Feature(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, feature)
}

func (s *HTTPServer) handleDeleteFeature(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireFeature(w, r)
	if !ok {
		return
	}

	if err := s.service.DeleteFeature(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSelectFeature(w http.ResponseWriter, r *http.Request) {
	s.mutateFeature(w, r, func(ctx context.Context, id string) error {
		return s.service.SelectFeature(ctx, id)
	})
}

func (s *HTTPServer) handleSetEnv(w http.ResponseWriter, r *http.Request) {
	env, err := core.ParseEnvironment(r.PathValue("env"))
	if err != nil {
		writeServiceError(w, service.ErrUnknownEnvironment)
		return
	}

	var request envJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	s.mutateFeature(w, r, func(ctx context.Context, id string) error {
		return s.service.SetEnvironmentFlag(ctx, id, env, request.Enabled)
	})
}

func (s *HTTPServer) handleToggleEnv(w http.ResponseWriter, r *http.Request) {
	env, err := core.ParseEnvironment(r.PathValue("env"))
	if err != nil {
		writeServiceError(w, service.ErrUnknownEnvironment)
		return
	}

	s.mutateFeature(w, r, func(ctx context.Context, id string) error {
		return s.service.ToggleEnvironmentFlag(ctx, id, env)
	})
}

func (s *HTTPServer) handleSetTargetingMode(w http.ResponseWriter, r *http.Request) {
	var request modeJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	mode, err := core.ParseTargetingMode(request.Mode)
	if err != nil {
		writeServiceError(w, service.ErrUnknownTargetingMode)
		return
	}

	s.mutateFeature(w, r, func(ctx context.Context, id string) error {
		return s.service.SetTargetingMode(ctx, id, mode)
	})
}

func (s *HTTPServer) handleToggleTargetClient(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientID")
	s.mutateFeature(w, r, func(ctx context.Context, id string) error {
		return s.service.ToggleClientInTargeting(ctx, id, clientID)
	})
}

func (s *HTTPServer) handleToggleTargetGroup(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("groupID")
	s.mutateFeature(w, r, func(ctx context.Context, id string) error {
		return s.service.ToggleGroupInTargeting(ctx, id, groupID)
	})
}

func (s *HTTPServer) handleSaveNotes(w http.ResponseWriter, r *http.Request) {
	var request notesJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	s.mutateFeature(w, r, func(ctx context.Context, id string) error {
		return s.service.SaveNotes(ctx, id, request.Notes)
	})
}

func (s *HTTPServer) handleGetAudience(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	audience, err := s.service.ResolveAudience(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	labels, _, err := s.service.AudienceLabels(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if labels == nil {
		labels = []string{}
	}

	writeJSON(w, http.StatusOK, audienceJSONResponse{
		All:       audience.All,
		ClientIDs: audience.ClientIDs,
		Labels:    labels,
	})
}

func (s *HTTPServer) handleFeatureChanges(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireFeature(w, r)
	if !ok {
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	writeJSON(w, http.StatusOK, s.service.ChangeLog(id, limit))
}

func (s *HTTPServer) handleChanges(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	writeJSON(w, http.StatusOK, s.service.ChangeLog("", limit))
}

func (s *HTTPServer) handleListClients(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.State().Clients)
}

func (s *HTTPServer) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.State().Groups)
}

func (s *HTTPServer) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var request groupJSONRequest
	if r.ContentLength != 0 {
		if err := s.decodeJSONBody(w, r, &request); err != nil {
			writeJSONDecodeError(w, err)
			return
		}
	}

	group, err := s.service.CreateGroup(r.Context(), request.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, group)
}

func (s *HTTPServer) handleRenameGroup(w http.ResponseWriter, r *http.Request) {
	var request groupJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	s.mutateGroup(w, r, func(ctx context.Context, id string) error {
		return s.service.RenameGroup(ctx, id, request.Name)
	})
}

func (s *HTTPServer) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.service.State().GroupIndex(id) < 0 {
		writeJSONError(w, http.StatusNotFound, "group not found")
		return
	}

	if err := s.service.DeleteGroup(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleToggleGroupClient(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientID")
	s.mutateGroup(w, r, func(ctx context.Context, id string) error {
		return s.service.ToggleClientInGroup(ctx, id, clientID)
	})
}

func (s *HTTPServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	env, err := core.ParseEnvironment(query.Get("env"))
	if err != nil {
		writeServiceError(w, service.ErrUnknownEnvironment)
		return
	}

	clientID := strings.TrimSpace(query.Get("client"))
	if clientID == "" {
		writeJSONError(w, http.StatusBadRequest, "client is required")
		return
	}

	flags, err := s.service.Evaluate(env, clientID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, evaluateJSONResponse{Environment: env, ClientID: clientID, Flags: flags})
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireFeature writes a 404 and reports false when the path id is unknown.
func (s *HTTPServer) requireFeature(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := s.service.Feature(id); err != nil {
		writeServiceError(w, err)
		return "", false
	}
	return id, true
}

// mutateFeature runs fn against an existing feature and responds with the
// feature as it stands afterwards.
func (s *HTTPServer) mutateFeature(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) error) {
	id, ok := s.requireFeature(w, r)
	if !ok {
		return
	}

	if err := fn(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	feature, err := s.service.Feature(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, feature)
}

func (s *HTTPServer) mutateGroup(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) error) {
	id := r.PathValue("id")
	if s.service.State().GroupIndex(id) < 0 {
		writeJSONError(w, http.StatusNotFound, "group not found")
		return
	}

	if err := fn(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	state := s.service.State()
	i := state.GroupIndex(id)
	if i < 0 {
		writeJSONError(w, http.StatusNotFound, "group not found")
		return
	}

	writeJSON(w, http.StatusOK, state.Groups[i])
}

func parseLimit(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(value)
	if err != nil || limit < 0 {
		return 0, errors.New("invalid limit")
	}

	return limit, nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, serviceErrorMessage(err))
	case errors.Is(err, service.ErrFeatureNotFound):
		writeJSONError(w, http.StatusNotFound, serviceErrorMessage(err))
	case errors.Is(err, service.ErrPersist):
		writeJSONError(w, http.StatusServiceUnavailable, serviceErrorMessage(err))
	case errors.Is(err, context.Canceled):
		writeJSONError(w, http.StatusRequestTimeout, serviceErrorMessage(err))
	default:
		writeJSONError(w, http.StatusInternalServerError, serviceErrorMessage(err))
	}
}

func serviceErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrNameRequired):
		return "name is required"
	case errors.Is(err, service.ErrKeyRequired):
		return "key is required"
	case errors.Is(err, core.ErrUnknownEnvironment):
		return "unknown environment"
	case errors.Is(err, core.ErrUnknownTargetingMode):
		return "unknown targeting mode"
	case errors.Is(err, service.ErrValidation):
		return "invalid request"
	case errors.Is(err, service.ErrFeatureNotFound):
		return "feature not found"
	case errors.Is(err, service.ErrPersist):
		return "state could not be saved"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	default:
		return "internal server error"
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxJSONBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
