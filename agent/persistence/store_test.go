package persistence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func sampleRuns(base time.Time) []RunRecord {
	return []RunRecord{
		{RequestID: "req-1", AgentID: "root", Depth: 0, Task: "plan", Status: "succeeded", TokenUsage: 120, StartedAt: base, FinishedAt: base.Add(3 * time.Second)},
		{RequestID: "req-1", AgentID: "child-b", ParentID: "root", Depth: 1, Task: "b", Status: "budget_exceeded", Reason: "stopped: budget reservation exceeded", StartedAt: base.Add(2 * time.Second), FinishedAt: base.Add(2 * time.Second)},
		{RequestID: "req-1", AgentID: "child-a", ParentID: "root", Depth: 1, Task: "a", Status: "succeeded", TokenUsage: 80, StartedAt: base.Add(time.Second), FinishedAt: base.Add(2 * time.Second)},
		{RequestID: "req-2", AgentID: "other", Task: "x", Status: "failed", StartedAt: base, FinishedAt: base.Add(time.Hour)},
	}
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 每个连接都是独立的内存库
	sqlDB.SetMaxOpenConns(1)
	return db
}

func recorderCases(t *testing.T, f func(t *testing.T, rec Recorder)) {
	t.Run("memory", func(t *testing.T) { f(t, NewMemoryStore()) })
	t.Run("gorm_sqlite", func(t *testing.T) {
		store, err := NewGormStore(openSQLite(t), GormStoreConfig{AutoMigrate: true}, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		f(t, store)
	})
}

func TestRecorder_RecordAndList(t *testing.T) {
	recorderCases(t, func(t *testing.T, rec Recorder) {
		ctx := context.Background()
		base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		for _, r := range sampleRuns(base) {
			require.NoError(t, rec.RecordRun(ctx, r))
		}

		runs, err := rec.ListRuns(ctx, "req-1")
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Equal(t, []string{"root", "child-a", "child-b"}, []string{runs[0].AgentID, runs[1].AgentID, runs[2].AgentID})
		assert.Equal(t, "stopped: budget reservation exceeded", runs[2].Reason)
		assert.Equal(t, int64(80), runs[1].TokenUsage)

		none, err := rec.ListRuns(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, none)

		assert.ErrorIs(t, rec.RecordRun(ctx, RunRecord{AgentID: "x"}), ErrInvalidInput)
		assert.NoError(t, rec.Ping(ctx))
	})
}

func TestRecorder_RecordIsUpsert(t *testing.T) {
	recorderCases(t, func(t *testing.T, rec Recorder) {
		ctx := context.Background()
		base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		r := RunRecord{RequestID: "req-1", AgentID: "a", Status: "failed", StartedAt: base, FinishedAt: base}
		require.NoError(t, rec.RecordRun(ctx, r))
		r.Status = "succeeded"
		r.Output = "done"
		require.NoError(t, rec.RecordRun(ctx, r))

		runs, err := rec.ListRuns(ctx, "req-1")
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "succeeded", runs[0].Status)
		assert.Equal(t, "done", runs[0].Output)
	})
}

func TestRecorder_Prune(t *testing.T) {
	recorderCases(t, func(t *testing.T, rec Recorder) {
		ctx := context.Background()
		base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		for _, r := range sampleRuns(base) {
			require.NoError(t, rec.RecordRun(ctx, r))
		}

		n, err := rec.Prune(ctx, base.Add(10*time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		runs, err := rec.ListRuns(ctx, "req-1")
		require.NoError(t, err)
		assert.Empty(t, runs)
		runs, err = rec.ListRuns(ctx, "req-2")
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	})
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	ctx := context.Background()
	assert.ErrorIs(t, s.Ping(ctx), ErrStoreClosed)
	assert.ErrorIs(t, s.RecordRun(ctx, RunRecord{RequestID: "r", AgentID: "a"}), ErrStoreClosed)
	_, err := s.ListRuns(ctx, "r")
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *GormStore) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	store, err := NewGormStore(db, GormStoreConfig{}, nil)
	require.NoError(t, err)
	return mock, store
}

func TestGormStore_PostgresStatements(t *testing.T) {
	mock, store := setupMockDB(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "agent_runs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	require.NoError(t, store.RecordRun(ctx, RunRecord{RequestID: "req-1", AgentID: "a", Status: "succeeded"}))

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "agent_runs" WHERE finished_at <`)).
		WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := store.Prune(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_PostgresError(t *testing.T) {
	mock, store := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "agent_runs" WHERE request_id =`)).
		WillReturnError(assert.AnError)
	_, err := store.ListRuns(context.Background(), "req-1")
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRecorder(t *testing.T) {
	ctx := context.Background()

	rec, err := NewRecorder(ctx, DefaultStoreConfig(), nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, rec)

	rec, err = NewRecorder(ctx, StoreConfig{Type: StoreTypeGorm, Gorm: GormStoreConfig{AutoMigrate: true}}, openSQLite(t), nil)
	require.NoError(t, err)
	assert.IsType(t, &GormStore{}, rec)

	_, err = NewRecorder(ctx, StoreConfig{Type: StoreTypeGorm}, nil, nil)
	assert.Error(t, err)
	_, err = NewRecorder(ctx, StoreConfig{Type: "file"}, nil, nil)
	assert.Error(t, err)
}
