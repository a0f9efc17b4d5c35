package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eval-dashboard/backend/internal/metrics"
	"github.com/eval-dashboard/backend/pkg/logger"
)

const (
	DefaultMaxBackups = 7

	filePrefix = "backup_"
	fileSuffix = ".tar.gz"
	timeLayout = "2006-01-02T15-04-05.000Z"
)

var ErrNothingToBackup = errors.New("data directory has no files to back up")

type Options struct {
	DataDir    string
	BackupDir  string
	MaxBackups int
	Now        func() time.Time
	Logger     *zap.Logger
}

type Result struct {
	Path    string   `json:"path"`
	Files   []string `json:"files"`
	Bytes   int64    `json:"bytes"`
	Removed []string `json:"removed,omitempty"`
}

// Archive writes every regular file of DataDir into a new gzipped tarball in
// BackupDir, then deletes the oldest archives beyond MaxBackups. The store is
// copied as files, so the WAL and SHM siblings travel with it.
func Archive(ctx context.Context, opts Options) (*Result, error) {
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = DefaultMaxBackups
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("backup")
	}

	res, err := archive(ctx, opts)
	if err != nil {
		metrics.BackupsCreated.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.BackupsCreated.WithLabelValues("ok").Inc()

	removed, err := prune(opts.BackupDir, opts.MaxBackups)
	res.Removed = removed
	if err != nil {
		return res, fmt.Errorf("failed to prune old backups: %w", err)
	}

	opts.Logger.Info("Backup created",
		zap.String("path", res.Path),
		zap.Int("files", len(res.Files)),
		zap.Int64("bytes", res.Bytes),
		zap.Int("removed", len(removed)),
	)
	return res, nil
}

func archive(ctx context.Context, opts Options) (*Result, error) {
	files, err := dataFiles(opts.DataDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNothingToBackup
	}

	if err := os.MkdirAll(opts.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := filePrefix + stamp(opts.Now()) + fileSuffix
	dst := filepath.Join(opts.BackupDir, name)

	tmp, err := os.CreateTemp(opts.BackupDir, ".backup-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create backup file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeArchive(ctx, tmp, opts.DataDir, files); err != nil {
		tmp.Close()
		return nil, err
	}

	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to stat backup file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close backup file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, fmt.Errorf("failed to finalize backup file: %w", err)
	}

	return &Result{Path: dst, Files: files, Bytes: info.Size()}, nil
}

// stamp renders t like an ISO timestamp with the separators made filename
// safe, e.g. 2024-05-06T07-08-09-010Z.
func stamp(t time.Time) string {
	return strings.Replace(t.UTC().Format(timeLayout), ".", "-", 1)
}

// dataFiles lists the regular files directly inside dir.
func dataFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func writeArchive(ctx context.Context, w io.Writer, dir string, files []string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addFile(tw, filepath.Join(dir, name), name); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build header for %s: %w", name, err)
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", name, err)
	}
	if _, err := io.CopyN(tw, f, info.Size()); err != nil {
		return fmt.Errorf("failed to archive %s: %w", name, err)
	}
	return nil
}

// List returns the archive paths in BackupDir, oldest first.
func List(backupDir string) ([]string, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasPrefix(e.Name(), filePrefix) && strings.HasSuffix(e.Name(), fileSuffix) {
			names = append(names, e.Name())
		}
	}
	// The timestamp layout sorts lexically in time order.
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(backupDir, n)
	}
	return paths, nil
}

func prune(backupDir string, keep int) ([]string, error) {
	paths, err := List(backupDir)
	if err != nil {
		return nil, err
	}
	if len(paths) <= keep {
		return nil, nil
	}

	var removed []string
	for _, p := range paths[:len(paths)-keep] {
		if err := os.Remove(p); err != nil {
			return removed, err
		}
		removed = append(removed, p)
	}
	return removed, nil
}
