package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facilitypm/internal/pm"
	"facilitypm/internal/pm/pmtest"
	"facilitypm/internal/types"
)

type recordingPublisher struct {
	calls []string
	err   error
}

func (p *recordingPublisher) PublishCompletion(_ context.Context, workOrderID string, _ time.Time, completedBy string) error {
	p.calls = append(p.calls, workOrderID+"|"+completedBy)
	return p.err
}

// generatedWorkOrder creates a template and materializes its first occurrence,
// returning the occurrence and work order ids.
func generatedWorkOrder(t *testing.T, store *pmtest.Store, svc *pm.Service) (string, string) {
	t.Helper()
	tmpl, err := svc.CreateTemplate(context.Background(), adminPrincipal.Actor, types.Unrestricted(), pm.CreateTemplateInput{
		Title:     "Replace HVAC filters",
		Frequency: types.FrequencyMonthly,
		SiteID:    "site-1",
	})
	require.NoError(t, err)
	occID := store.OccurrencesOf(tmpl.ID)[0].ID
	occ, err := svc.GenerateNow(context.Background(), adminPrincipal.Actor, types.Unrestricted(), occID)
	require.NoError(t, err)
	return occID, *occ.GeneratedWorkOrderID
}

func newWorkOrderRouter(store *pmtest.Store, svc *pm.Service, pub CompletionPublisher, p *types.Principal) chi.Router {
	h := NewWorkOrderHandler(store.WorkOrders(), svc, pub, nil)
	h.now = func() time.Time { return handlerNow }
	r := chi.NewRouter()
	r.Use(withPrincipal(p))
	r.Route("/v1", h.RegisterRoutes)
	return r
}

func TestWorkOrderHandler_CompleteSynchronously(t *testing.T) {
	store := pmtest.New()
	svc := newPMService(store)
	occID, woID := generatedWorkOrder(t, store, svc)
	router := newWorkOrderRouter(store, svc, nil, &adminPrincipal)

	rec, env := do(t, router, http.MethodPost, "/v1/work-orders/"+woID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var wo types.WorkOrder
	require.NoError(t, json.Unmarshal(env.Data, &wo))
	assert.Equal(t, types.WorkOrderCompleted, wo.Status)
	require.NotNil(t, wo.CompletedAt)
	assert.True(t, handlerNow.Equal(*wo.CompletedAt))

	occ, ok := store.Occurrence(occID)
	require.True(t, ok)
	assert.Equal(t, types.OccurrenceCompleted, occ.Status)
}

func TestWorkOrderHandler_CompleteIsRepeatable(t *testing.T) {
	store := pmtest.New()
	svc := newPMService(store)
	occID, woID := generatedWorkOrder(t, store, svc)
	router := newWorkOrderRouter(store, svc, nil, &adminPrincipal)

	for i := 0; i < 2; i++ {
		rec, _ := do(t, router, http.MethodPost, "/v1/work-orders/"+woID+"/complete", nil)
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d: %s", i, rec.Body.String())
	}

	occ, _ := store.Occurrence(occID)
	assert.Equal(t, types.OccurrenceCompleted, occ.Status)
}

func TestWorkOrderHandler_CompleteQueued(t *testing.T) {
	store := pmtest.New()
	svc := newPMService(store)
	occID, woID := generatedWorkOrder(t, store, svc)
	pub := &recordingPublisher{}
	router := newWorkOrderRouter(store, svc, pub, &adminPrincipal)

	rec, _ := do(t, router, http.MethodPost, "/v1/work-orders/"+woID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, []string{woID + "|usr_admin"}, pub.calls)
	occ, _ := store.Occurrence(occID)
	assert.Equal(t, types.OccurrenceGenerated, occ.Status, "the completion worker owns the occurrence update")
}

func TestWorkOrderHandler_PublishFailure(t *testing.T) {
	store := pmtest.New()
	svc := newPMService(store)
	_, woID := generatedWorkOrder(t, store, svc)
	pub := &recordingPublisher{err: types.NewAppError(types.ErrCodeUpstreamUnavailable, "queue down", errors.New("boom"))}
	router := newWorkOrderRouter(store, svc, pub, &adminPrincipal)

	rec, env := do(t, router, http.MethodPost, "/v1/work-orders/"+woID+"/complete", nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(types.ErrCodeUpstreamUnavailable), env.Error.Code)
}

func TestWorkOrderHandler_NotFound(t *testing.T) {
	store := pmtest.New()
	router := newWorkOrderRouter(store, newPMService(store), nil, &adminPrincipal)

	rec, env := do(t, router, http.MethodPost, "/v1/work-orders/wo_missing/complete", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(types.ErrCodeNotFoundWorkOrder), env.Error.Code)
}

func TestWorkOrderHandler_SiteScope(t *testing.T) {
	store := pmtest.New()
	svc := newPMService(store)
	occID, woID := generatedWorkOrder(t, store, svc)
	tech := types.Principal{
		Actor: types.UserActor("usr_tech"),
		Scope: types.SiteSet("site-2"),
		Roles: []string{types.RoleTech},
	}
	router := newWorkOrderRouter(store, svc, nil, &tech)

	rec, _ := do(t, router, http.MethodPost, "/v1/work-orders/"+woID+"/complete", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = do(t, router, http.MethodGet, "/v1/work-orders/"+woID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	occ, _ := store.Occurrence(occID)
	assert.Equal(t, types.OccurrenceGenerated, occ.Status)
}

func TestWorkOrderHandler_ViewerCannotComplete(t *testing.T) {
	store := pmtest.New()
	svc := newPMService(store)
	_, woID := generatedWorkOrder(t, store, svc)
	router := newWorkOrderRouter(store, svc, nil, &viewerPrincipal)

	rec, env := do(t, router, http.MethodPost, "/v1/work-orders/"+woID+"/complete", nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(types.ErrCodePermissionRole), env.Error.Code)
}

func TestWorkOrderHandler_ServiceKeyCanComplete(t *testing.T) {
	store := pmtest.New()
	svc := newPMService(store)
	_, woID := generatedWorkOrder(t, store, svc)
	system := types.Principal{Actor: types.SystemActor(), Scope: types.Unrestricted()}
	router := newWorkOrderRouter(store, svc, nil, &system)

	rec, _ := do(t, router, http.MethodPost, "/v1/work-orders/"+woID+"/complete", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
