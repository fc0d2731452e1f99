package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"facilitypm/internal/types"
)

func templateRow(id string, now time.Time) []any {
	return []any{
		id, "Filter change", strPtr("Replace HVAC filters"), "WEEKLY", "site-1",
		strPtr("area-1"), nil, strPtr("tech-1"), "HIGH", now, now,
	}
}

func TestTemplateRepository_Upsert_AssignsIDAndScans(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTemplateRepository(db)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)

	var sentID string
	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ON CONFLICT (id) DO UPDATE")
	}), mock.MatchedBy(func(args []any) bool {
		sentID, _ = args[0].(string)
		return strings.HasPrefix(sentID, "pmt_") && args[3] == "WEEKLY" && args[8] == "HIGH"
	})).Return(&mockRow{scanFn: func(dest ...any) error {
		assign(dest, templateRow(sentID, now))
		return nil
	}})

	tmpl := &types.MaintenanceTemplate{
		Title:     "Filter change",
		Frequency: types.FrequencyWeekly,
		SiteID:    "site-1",
		Priority:  types.PriorityHigh,
	}
	require.NoError(t, repo.Upsert(ctx, tmpl))

	assert.Equal(t, sentID, tmpl.ID)
	assert.Equal(t, types.FrequencyWeekly, tmpl.Frequency)
	assert.Equal(t, types.PriorityHigh, tmpl.Priority)
	require.NotNil(t, tmpl.Description)
	assert.Equal(t, "Replace HVAC filters", *tmpl.Description)
	assert.Nil(t, tmpl.AssetID)
	assert.Equal(t, now, tmpl.CreatedAt)
	db.AssertExpectations(t)
}

func TestTemplateRepository_Upsert_KeepsProvidedID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTemplateRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return args[0] == "pmt_fixed"
	})).Return(valuesRow(templateRow("pmt_fixed", now)...))

	tmpl := &types.MaintenanceTemplate{ID: "pmt_fixed", Title: "x", Frequency: types.FrequencyDaily, SiteID: "site-1", Priority: types.PriorityLow}
	require.NoError(t, repo.Upsert(ctx, tmpl))
	assert.Equal(t, "pmt_fixed", tmpl.ID)
}

func TestTemplateRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTemplateRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"pmt_missing"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(ctx, "pmt_missing")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundTemplate))
}

func TestTemplateRepository_GetByID_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTemplateRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("timeout")})

	_, err := repo.GetByID(ctx, "pmt_1")
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
}

func TestTemplateRepository_Update_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTemplateRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	err := repo.Update(ctx, &types.MaintenanceTemplate{ID: "pmt_gone"})
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundTemplate))
}

func TestTemplateRepository_Delete(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewTemplateRepository(db)
		ctx := context.Background()

		db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"pmt_1"}).
			Return(pgconn.NewCommandTag("DELETE 1"), nil)

		require.NoError(t, repo.Delete(ctx, "pmt_1"))
	})

	t.Run("missing", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewTemplateRepository(db)
		ctx := context.Background()

		db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"pmt_1"}).
			Return(pgconn.NewCommandTag("DELETE 0"), nil)

		assert.True(t, types.HasCode(repo.Delete(ctx, "pmt_1"), types.ErrCodeNotFoundTemplate))
	})
}

func TestTemplateRepository_List_PassesScope(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTemplateRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	db.On("Query", ctx, mock.AnythingOfType("string"), []any{[]string{"site-1"}, ""}).
		Return(newMockRows([][]any{templateRow("pmt_1", now), templateRow("pmt_2", now)}), nil)

	got, err := repo.List(ctx, []string{"site-1"}, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pmt_2", got[1].ID)
	db.AssertExpectations(t)
}

func TestTemplateRepository_ListHorizons(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTemplateRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	latest := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	withLatest := append(templateRow("pmt_1", now), &latest)
	withoutLatest := append(templateRow("pmt_2", now), nil)

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows([][]any{withLatest, withoutLatest}), nil)

	got, err := repo.ListHorizons(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].LatestDate)
	assert.Equal(t, latest, *got[0].LatestDate)
	assert.Nil(t, got[1].LatestDate)
	assert.Equal(t, types.FrequencyWeekly, got[1].Template.Frequency)
}
