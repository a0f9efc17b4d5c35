package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager(Options{MaxAttempts: 3, RetryDelay: time.Millisecond})
}

func TestManager_InitializeCreatesDirectoryAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "evaluations.db")
	m := newTestManager()
	defer m.Close()

	db, err := m.Initialize(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, db)

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file should exist")

	for _, table := range Tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s missing", table)
	}

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}

func TestManager_InitializeSamePathReturnsSameHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evaluations.db")
	m := newTestManager()
	defer m.Close()

	first, err := m.Initialize(context.Background(), path)
	require.NoError(t, err)
	second, err := m.Initialize(context.Background(), path)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, m.Info(context.Background()).Attempts)
}

func TestManager_InitializeDifferentPathReconnects(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager()
	defer m.Close()

	first, err := m.Initialize(context.Background(), filepath.Join(dir, "a.db"))
	require.NoError(t, err)
	second, err := m.Initialize(context.Background(), filepath.Join(dir, "b.db"))
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Error(t, first.Ping(), "previous handle should be closed")
	assert.Equal(t, filepath.Join(dir, "b.db"), m.Info(context.Background()).Path)
}

func TestManager_FailedReconnectKeepsLiveHandle(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	m := newTestManager()
	defer m.Close()

	live, err := m.Initialize(context.Background(), filepath.Join(dir, "a.db"))
	require.NoError(t, err)

	_, err = m.Initialize(context.Background(), filepath.Join(blocker, "b.db"))
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)

	assert.NoError(t, live.Ping(), "live handle must stay open")
	conn, err := m.Conn()
	require.NoError(t, err)
	assert.Same(t, live, conn)
	assert.Equal(t, filepath.Join(dir, "a.db"), m.Info(context.Background()).Path)
}

func TestManager_BootstrapIsRerunnable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evaluations.db")

	for i := 0; i < 3; i++ {
		m := newTestManager()
		db, err := m.Initialize(context.Background(), path)
		require.NoError(t, err, "iteration %d", i)
		_, err = db.Exec(`INSERT INTO evaluations (result_key, timestamp, date, data) VALUES (?, 1, '1970-01-01T00:00:00.001Z', '{}')`,
			"r"+string(rune('0'+i)))
		require.NoError(t, err)
		require.NoError(t, m.Close())
	}

	m := newTestManager()
	defer m.Close()
	db, err := m.Initialize(context.Background(), path)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM evaluations").Scan(&count))
	assert.Equal(t, 3, count, "rerunning the bootstrap must keep existing rows")
}

func TestManager_InitializeFailsAfterRetries(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	m := newTestManager()
	start := time.Now()
	_, err := m.Initialize(context.Background(), filepath.Join(blocker, "evaluations.db"))

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 3, connErr.Attempts)
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond, "waits 1ms then 2ms between attempts")

	_, err = m.Conn()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_ConnBeforeInitialize(t *testing.T) {
	m := newTestManager()

	_, err := m.Conn()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, m.HealthCheck(context.Background()))
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	m := newTestManager()
	_, err := m.Initialize(context.Background(), filepath.Join(t.TempDir(), "evaluations.db"))
	require.NoError(t, err)

	assert.True(t, m.HealthCheck(context.Background()))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "Close is idempotent")
	assert.False(t, m.HealthCheck(context.Background()))

	info := m.Info(context.Background())
	assert.False(t, info.Connected)
	assert.False(t, info.Healthy)
}

func TestManager_InMemory(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	db, err := m.Initialize(context.Background(), ":memory:")
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO evaluations (result_key, timestamp, date, data) VALUES ('r1', 1, 'd', '{"MAG":"M1"}')`)
	require.NoError(t, err)

	var mag string
	require.NoError(t, db.QueryRow("SELECT mag FROM evaluations WHERE result_key = 'r1'").Scan(&mag))
	assert.Equal(t, "M1", mag)
}
