package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facilitypm/internal/core"
	"facilitypm/internal/pm"
	"facilitypm/internal/pm/pmtest"
	"facilitypm/internal/types"
)

var handlerNow = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

var (
	adminPrincipal = types.Principal{
		Actor: types.UserActor("usr_admin"),
		Scope: types.Unrestricted(),
		Roles: []string{types.RoleAdmin},
	}
	viewerPrincipal = types.Principal{
		Actor: types.UserActor("usr_viewer"),
		Scope: types.Unrestricted(),
		Roles: []string{types.RoleViewer},
	}
	site2FM = types.Principal{
		Actor: types.UserActor("usr_fm2"),
		Scope: types.SiteSet("site-2"),
		Roles: []string{types.RoleFM},
	}
)

type envelope struct {
	Data json.RawMessage `json:"data"`
	Meta *struct {
		Count int `json:"count"`
	} `json:"meta"`
	Error *struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newPMService(store *pmtest.Store) *pm.Service {
	return pm.NewService(
		store.Templates(),
		store.Occurrences(),
		pm.NewDirectRunner(store.Occurrences(), store.WorkOrders()),
		store.Audit(),
		pm.Config{Now: func() time.Time { return handlerNow }},
		nil,
	)
}

// withPrincipal stands in for the auth middleware. A nil principal leaves the
// request unauthenticated.
func withPrincipal(p *types.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p != nil {
				r = r.WithContext(types.WithPrincipal(r.Context(), *p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newPMRouter(svc PMService, p *types.Principal) chi.Router {
	h := NewPMHandler(svc, core.NewValidator(nil), nil)
	r := chi.NewRouter()
	r.Use(withPrincipal(p))
	r.Route("/v1", h.RegisterRoutes)
	return r
}

func do(t *testing.T, router http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func createTemplateViaAPI(t *testing.T, router http.Handler, frequency string) types.MaintenanceTemplate {
	t.Helper()
	rec, env := do(t, router, http.MethodPost, "/v1/pm/templates", map[string]any{
		"title":     "Test generator load bank",
		"frequency": frequency,
		"site_id":   "site-1",
		"priority":  "HIGH",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tmpl types.MaintenanceTemplate
	require.NoError(t, json.Unmarshal(env.Data, &tmpl))
	return tmpl
}

func TestPMHandler_CreateTemplate(t *testing.T) {
	store := pmtest.New()
	router := newPMRouter(newPMService(store), &adminPrincipal)

	tmpl := createTemplateViaAPI(t, router, "WEEKLY")

	assert.NotEmpty(t, tmpl.ID)
	assert.Equal(t, types.FrequencyWeekly, tmpl.Frequency)
	assert.Equal(t, types.PriorityHigh, tmpl.Priority)

	occ := store.OccurrencesOf(tmpl.ID)
	require.NotEmpty(t, occ)
	for _, o := range occ {
		assert.Equal(t, types.OccurrencePending, o.Status)
	}
}

func TestPMHandler_CreateTemplate_Defaults(t *testing.T) {
	store := pmtest.New()
	router := newPMRouter(newPMService(store), &adminPrincipal)

	rec, env := do(t, router, http.MethodPost, "/v1/pm/templates", map[string]any{
		"title":   "Clean filters",
		"site_id": "site-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var tmpl types.MaintenanceTemplate
	require.NoError(t, json.Unmarshal(env.Data, &tmpl))
	assert.Equal(t, types.FrequencyMonthly, tmpl.Frequency)
	assert.Equal(t, types.PriorityMedium, tmpl.Priority)
}

func TestPMHandler_CreateTemplate_Validation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		code types.ErrorCode
	}{
		{
			name: "missing title",
			body: map[string]any{"site_id": "site-1"},
			code: types.ErrCodeValidationMissingField,
		},
		{
			name: "missing site",
			body: map[string]any{"title": "x"},
			code: types.ErrCodeValidationMissingField,
		},
		{
			name: "unknown frequency",
			body: map[string]any{"title": "x", "site_id": "site-1", "frequency": "FORTNIGHTLY"},
			code: types.ErrCodeValidationInvalidFrequency,
		},
		{
			name: "unknown priority",
			body: map[string]any{"title": "x", "site_id": "site-1", "priority": "URGENT"},
			code: types.ErrCodeValidationInvalidPriority,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := pmtest.New()
			router := newPMRouter(newPMService(store), &adminPrincipal)

			rec, env := do(t, router, http.MethodPost, "/v1/pm/templates", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, string(tt.code), env.Error.Code)
			assert.Zero(t, store.WorkOrderCount())
		})
	}
}

func TestPMHandler_RoleEnforcement(t *testing.T) {
	store := pmtest.New()
	router := newPMRouter(newPMService(store), &viewerPrincipal)

	rec, env := do(t, router, http.MethodPost, "/v1/pm/templates", map[string]any{
		"title":   "x",
		"site_id": "site-1",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(types.ErrCodePermissionRole), env.Error.Code)

	rec, _ = do(t, router, http.MethodGet, "/v1/pm/templates", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "viewers can read")
}

func TestPMHandler_Unauthenticated(t *testing.T) {
	router := newPMRouter(newPMService(pmtest.New()), nil)

	rec, env := do(t, router, http.MethodGet, "/v1/pm/calendar", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(types.ErrCodeAuthTokenMissing), env.Error.Code)
}

func TestPMHandler_SiteScope(t *testing.T) {
	store := pmtest.New()
	svc := newPMService(store)
	tmpl := createTemplateViaAPI(t, newPMRouter(svc, &adminPrincipal), "MONTHLY")

	router := newPMRouter(svc, &site2FM)

	rec, env := do(t, router, http.MethodPost, "/v1/pm/templates", map[string]any{
		"title":   "x",
		"site_id": "site-1",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(types.ErrCodePermissionSiteDenied), env.Error.Code)

	rec, _ = do(t, router, http.MethodGet, "/v1/pm/templates/"+tmpl.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = do(t, router, http.MethodGet, "/v1/pm/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 0, env.Meta.Count, "site-1 templates are hidden from a site-2 user")
}

func TestPMHandler_GetTemplate(t *testing.T) {
	store := pmtest.New()
	router := newPMRouter(newPMService(store), &adminPrincipal)
	created := createTemplateViaAPI(t, router, "QUARTERLY")

	rec, env := do(t, router, http.MethodGet, "/v1/pm/templates/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got types.MaintenanceTemplate
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Len(t, got.Occurrences, len(store.OccurrencesOf(created.ID)))

	rec, env = do(t, router, http.MethodGet, "/v1/pm/templates/pmt_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(types.ErrCodeNotFoundTemplate), env.Error.Code)
}

func TestPMHandler_UpdateTemplate_RegeneratesOnFrequencyChange(t *testing.T) {
	store := pmtest.New()
	router := newPMRouter(newPMService(store), &adminPrincipal)
	created := createTemplateViaAPI(t, router, "MONTHLY")
	monthly := len(store.OccurrencesOf(created.ID))

	rec, env := do(t, router, http.MethodPatch, "/v1/pm/templates/"+created.ID, map[string]any{
		"frequency": "WEEKLY",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got types.MaintenanceTemplate
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, types.FrequencyWeekly, got.Frequency)
	assert.Greater(t, len(store.OccurrencesOf(created.ID)), monthly)
}

func TestPMHandler_UpdateTemplate_RejectsBadFrequency(t *testing.T) {
	store := pmtest.New()
	router := newPMRouter(newPMService(store), &adminPrincipal)
	created := createTemplateViaAPI(t, router, "MONTHLY")

	rec, env := do(t, router, http.MethodPatch, "/v1/pm/templates/"+created.ID, map[string]any{
		"frequency": "HOURLY",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(types.ErrCodeValidationInvalidFrequency), env.Error.Code)
}

func TestPMHandler_DeleteTemplate(t *testing.T) {
	store := pmtest.New()
	router := newPMRouter(newPMService(store), &adminPrincipal)
	created := createTemplateViaAPI(t, router, "MONTHLY")

	rec, _ := do(t, router, http.MethodDelete, "/v1/pm/templates/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = do(t, router, http.MethodGet, "/v1/pm/templates/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, store.OccurrencesOf(created.ID))
}

func TestPMHandler_ListOccurrences(t *testing.T) {
	store := pmtest.New()
	router := newPMRouter(newPMService(store), &adminPrincipal)
	created := createTemplateViaAPI(t, router, "MONTHLY")

	rec, env := do(t, router, http.MethodGet, "/v1/pm/templates/"+created.ID+"/occurrences", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, len(store.OccurrencesOf(created.ID)), env.Meta.Count)
}

func TestPMHandler_SkipOccurrence(t *testing.T) {
	store := pmtest.New()
	router := newPMRouter(newPMService(store), &adminPrincipal)
	created := createTemplateViaAPI(t, router, "WEEKLY")
	target := store.OccurrencesOf(created.ID)[0]

	rec, env := do(t, router, http.MethodPost, "/v1/pm/occurrences/"+target.ID+"/skip", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var occ types.MaintenanceOccurrence
	require.NoError(t, json.Unmarshal(env.Data, &occ))
	assert.Equal(t, types.OccurrenceSkipped, occ.Status)

	rec, env = do(t, router, http.MethodPost, "/v1/pm/occurrences/"+target.ID+"/skip", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(types.ErrCodeForbiddenTransition), env.Error.Code)
	assert.Equal(t, "SKIPPED", env.Error.Details["status"])
}

func TestPMHandler_GenerateWorkOrder(t *testing.T) {
	store := pmtest.New()
	router := newPMRouter(newPMService(store), &adminPrincipal)
	created := createTemplateViaAPI(t, router, "WEEKLY")
	target := store.OccurrencesOf(created.ID)[0]

	rec, env := do(t, router, http.MethodPost, "/v1/pm/occurrences/"+target.ID+"/generate", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var occ types.MaintenanceOccurrence
	require.NoError(t, json.Unmarshal(env.Data, &occ))
	assert.Equal(t, types.OccurrenceGenerated, occ.Status)
	require.NotNil(t, occ.GeneratedWorkOrderID)

	wo, ok := store.WorkOrder(*occ.GeneratedWorkOrderID)
	require.True(t, ok)
	assert.Equal(t, created.Title, wo.Title)
	assert.Equal(t, types.WorkOrderOpen, wo.Status)

	rec, _ = do(t, router, http.MethodPost, "/v1/pm/occurrences/"+target.ID+"/generate", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 1, store.WorkOrderCount())
}

func TestPMHandler_Calendar(t *testing.T) {
	store := pmtest.New()
	router := newPMRouter(newPMService(store), &adminPrincipal)
	createTemplateViaAPI(t, router, "WEEKLY")

	rec, env := do(t, router, http.MethodGet, "/v1/pm/calendar?from=2024-01-01&to=2024-01-31", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, env.Meta)
	assert.Equal(t, 4, env.Meta.Count)

	var entries []types.CalendarEntry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].ScheduledDate.Before(entries[i-1].ScheduledDate), "entries are date ordered")
	}
}

func TestPMHandler_Calendar_BadRange(t *testing.T) {
	router := newPMRouter(newPMService(pmtest.New()), &adminPrincipal)

	tests := []struct {
		name  string
		query string
	}{
		{"malformed from", "?from=01/02/2024"},
		{"malformed to", "?to=tomorrow"},
		{"inverted", "?from=2024-03-01&to=2024-02-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, router, http.MethodGet, "/v1/pm/calendar"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, string(types.ErrCodeValidationDateRange), env.Error.Code)
		})
	}
}

// stubPMService lets error paths be driven without a store.
type stubPMService struct {
	PMService
	calendarFn func(ctx context.Context, scope types.AccessScope, q pm.CalendarQuery) ([]types.CalendarEntry, error)
}

func (s *stubPMService) Calendar(ctx context.Context, scope types.AccessScope, q pm.CalendarQuery) ([]types.CalendarEntry, error) {
	return s.calendarFn(ctx, scope, q)
}

func TestPMHandler_Calendar_PassesQuery(t *testing.T) {
	var got pm.CalendarQuery
	svc := &stubPMService{calendarFn: func(_ context.Context, _ types.AccessScope, q pm.CalendarQuery) ([]types.CalendarEntry, error) {
		got = q
		return nil, nil
	}}
	router := newPMRouter(svc, &adminPrincipal)

	rec, env := do(t, router, http.MethodGet, "/v1/pm/calendar?from=2024-02-01&site_id=site-9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", string(env.Data))

	require.NotNil(t, got.From)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *got.From)
	assert.Nil(t, got.To)
	assert.Equal(t, "site-9", got.SiteID)
}
