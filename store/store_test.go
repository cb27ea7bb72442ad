package store

import (
	"context"
	"testing"
	"time"

	iface "FloorAuditServer/interface"
	"FloorAuditServer/signage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every pooled connection would get its own in-memory database
	sqlDB.SetMaxOpenConns(1)
	s, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult() iface.AnalysisResult {
	return iface.AnalysisResult{
		Rooms:           2,
		Exits:           1,
		SignageRequired: 4,
		Requirements: []iface.SignageRequirement{
			{Type: signage.TypeExit, Count: 1, Reason: "stairs", Regulation: signage.RegExit},
			{Type: signage.TypeGeneralExtinguisher, Count: 1, Reason: "doors", Regulation: signage.RegGeneralExtinguisher},
			{Type: signage.TypeWayfinding, Count: 2, Reason: "doors", Regulation: signage.RegWayfinding},
		},
		Detections: []iface.DetectionBox{
			{X: 10, Y: 10, W: 20, H: 40, Label: "door", Confidence: 0.9},
			{X: 90, Y: 10, W: 20, H: 40, Label: "door", Confidence: 0.8},
			{X: 200, Y: 200, W: 50, H: 50, Label: "stairs", Confidence: 0.7},
		},
		RoomNames: []string{"LOBBY"},
		AllTexts:  []string{"LOBBY", "STAIR A"},
		RawCounts: map[string]int{"door": 2, "stairs": 1},
	}
}

func TestStore_Lifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, Session{
		ID:           "A1",
		FileName:     "plan.png",
		BuildingType: "Overview",
		ModelSet:     "default",
		Pages:        1,
		CreatedAt:    created,
	}))

	got, err := s.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.CompletedAt)

	done := created.Add(time.Minute)
	require.NoError(t, s.Complete(ctx, "A1", sampleResult(), done))

	got, err = s.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, sampleResult(), *got.Result)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))

	reqs, err := s.Requirements(ctx, "A1")
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	assert.Equal(t, signage.TypeExit, reqs[0].SignageType)
	assert.Equal(t, "critical", reqs[0].Priority)
	assert.Equal(t, "medium", reqs[2].Priority)

	counts, err := s.ElementCounts(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"door": 2, "stairs": 1}, counts)
}

func TestStore_NotFound(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Complete(ctx, "missing", sampleResult(), time.Now()), ErrNotFound)
	assert.ErrorIs(t, s.Finish(ctx, "missing", StatusFailed, "boom", time.Now()), ErrNotFound)
}

func TestStore_Finish(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, Session{ID: "F1", Pages: 1}))

	tests := []struct {
		name    string
		status  string
		wantErr bool
	}{
		{"failed", StatusFailed, false},
		{"canceled", StatusCanceled, false},
		{"completed is not terminal here", StatusCompleted, true},
		{"unknown", "paused", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Finish(ctx, "F1", tt.status, "all tasks failed", time.Now())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			got, err := s.Get(ctx, "F1")
			require.NoError(t, err)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, "all tasks failed", got.Error)
		})
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.Create(ctx, Session{ID: id, Pages: 1, CreatedAt: base.Add(time.Duration(i) * time.Hour)}))
	}
	require.NoError(t, s.Complete(ctx, "mid", sampleResult(), base.Add(2*time.Hour)))

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Nil(t, list[1].Result, "listing omits results")

	list, err = s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "")
	assert.Error(t, err)
}

func TestPriority(t *testing.T) {
	assert.Equal(t, "critical", Priority(signage.TypeExit))
	assert.Equal(t, "high", Priority(signage.TypeDoorSwing))
	assert.Equal(t, "medium", Priority(signage.TypeLift))
	assert.Equal(t, "low", Priority("Something else"))
}
