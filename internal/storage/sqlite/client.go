package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/eval-dashboard/backend/internal/metrics"
	"github.com/eval-dashboard/backend/pkg/logger"
	"github.com/eval-dashboard/backend/pkg/retry"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second

	memoryPath = ":memory:"
)

var ErrNotConnected = errors.New("store not connected: Initialize has not succeeded")

// ConnectionError reports that the store could not be opened after every
// retry attempt.
type ConnectionError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to store %s after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type Options struct {
	MaxAttempts int
	// RetryDelay is multiplied by the attempt number between attempts.
	RetryDelay time.Duration
	Logger     *zap.Logger
}

type ConnectionInfo struct {
	Connected bool   `json:"is_connected"`
	Path      string `json:"db_path"`
	Attempts  int    `json:"connection_attempts"`
	Healthy   bool   `json:"is_healthy"`
}

// Manager owns the single store handle. Construct one per process and pass
// the handle it returns to the repositories that need it.
type Manager struct {
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	db       *sql.DB
	path     string
	attempts int
}

func NewManager(opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("sqlite")
	}

	return &Manager{opts: opts, log: opts.Logger}
}

// Initialize connects to the store at path and bootstraps the schema. Calling
// it again with the same path returns the existing handle. A different path
// replaces the handle only once the new connection succeeds.
func (m *Manager) Initialize(ctx context.Context, path string) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil && m.path == path {
		m.log.Debug("Store already connected", zap.String("path", path))
		return m.db, nil
	}

	cfg := retry.Config{
		MaxAttempts: m.opts.MaxAttempts,
		Backoff:     retry.Linear(m.opts.RetryDelay),
		Logger:      m.log,
		OnAttemptFailed: func(attempt int, err error) {
			metrics.StoreConnectAttempts.WithLabelValues("failure").Inc()
			m.log.Error("Store connection attempt failed",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", m.opts.MaxAttempts),
				zap.Error(err),
			)
		},
	}

	db, err := retry.DoWithResult(ctx, cfg, func(attempt int) (*sql.DB, error) {
		m.log.Info("Connecting to store",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.opts.MaxAttempts),
		)
		m.attempts = attempt
		return m.connect(ctx, path)
	})
	if err != nil {
		var retryErr *retry.Error
		if errors.As(err, &retryErr) {
			return nil, &ConnectionError{Path: path, Attempts: retryErr.Attempts, Err: retryErr.Err}
		}
		return nil, &ConnectionError{Path: path, Attempts: m.attempts, Err: err}
	}

	metrics.StoreConnectAttempts.WithLabelValues("success").Inc()
	m.closeLocked()
	m.db = db
	m.path = path
	m.log.Info("Store connected",
		zap.String("path", path),
		zap.Int("attempts", m.attempts),
	)

	return db, nil
}

// connect performs one attempt. The partial handle is closed on failure.
func (m *Manager) connect(ctx context.Context, path string) (*sql.DB, error) {
	if path != memoryPath {
		if err := ensureDir(filepath.Dir(path), m.log); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := selfTest(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Conn returns the handle or ErrNotConnected.
func (m *Manager) Conn() (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil, ErrNotConnected
	}
	return m.db, nil
}

func (m *Manager) HealthCheck(ctx context.Context) bool {
	m.mu.Lock()
	db := m.db
	m.mu.Unlock()

	if db == nil {
		return false
	}

	if err := selfTest(ctx, db); err != nil {
		m.log.Error("Store health check failed", zap.Error(err))
		return false
	}
	return true
}

func (m *Manager) Info(ctx context.Context) ConnectionInfo {
	m.mu.Lock()
	info := ConnectionInfo{
		Connected: m.db != nil,
		Path:      m.path,
		Attempts:  m.attempts,
	}
	m.mu.Unlock()

	info.Healthy = m.HealthCheck(ctx)
	return info
}

// Close releases the handle. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closeLocked()
}

func (m *Manager) closeLocked() error {
	if m.db == nil {
		return nil
	}

	err := m.db.Close()
	if err != nil {
		m.log.Error("Failed to close store", zap.Error(err))
	} else {
		m.log.Info("Store closed", zap.String("path", m.path))
	}
	m.db = nil
	m.path = ""
	return err
}

func dsn(path string) string {
	if path == memoryPath {
		return path + "?_foreign_keys=on"
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

func selfTest(ctx context.Context, db *sql.DB) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("store self-test failed: %w", err)
	}
	if one != 1 {
		return fmt.Errorf("store self-test returned %d", one)
	}
	return nil
}

func ensureDir(dir string, log *zap.Logger) error {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		log.Info("Creating data directory", zap.String("dir", dir))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		if runtime.GOOS != "windows" {
			if err := os.Chmod(dir, 0o755); err != nil {
				log.Warn("Failed to set data directory permissions", zap.String("dir", dir), zap.Error(err))
			}
		}
	case err != nil:
		return fmt.Errorf("failed to stat data directory: %w", err)
	case !info.IsDir():
		return fmt.Errorf("data directory %s is not a directory", dir)
	}

	probe, err := os.CreateTemp(dir, ".write-probe-*")
	if err != nil {
		return fmt.Errorf("data directory %s is not writable: %w", dir, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return nil
}
