package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/eval-dashboard/backend/internal/evaluation"
	"github.com/eval-dashboard/backend/pkg/logger"
)

var ErrUnsupportedDocument = errors.New("document must be a JSON object or an array of objects")

// Saver is the subset of *evaluation.Repository the importer writes through.
type Saver interface {
	Save(ctx context.Context, resultKey string, payload map[string]any) (evaluation.SaveResult, error)
}

// Report summarizes one import run.
type Report struct {
	Files    int      `json:"files"`
	Saved    int      `json:"saved"`
	Warnings int      `json:"warnings"`
	Keys     []string `json:"keys"`
}

// Importer loads exported evaluation documents from disk. Result keys are
// derived from file names, so importing the same files twice overwrites
// instead of duplicating.
type Importer struct {
	store Saver
	log   *zap.Logger
}

func NewImporter(store Saver) *Importer {
	return &Importer{
		store: store,
		log:   logger.Named("ingestion"),
	}
}

// ImportPath imports a single file, or every *.json file of a directory in
// name order. It stops at the first failure; documents saved before it stay
// saved and are listed in the report.
func (i *Importer) ImportPath(ctx context.Context, path string) (*Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	files := []string{path}
	if info.IsDir() {
		files, err = jsonFiles(path)
		if err != nil {
			return nil, err
		}
	}

	report := &Report{Keys: []string{}}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := i.importFile(ctx, file, report); err != nil {
			return report, fmt.Errorf("failed to import %s: %w", file, err)
		}
		report.Files++
	}

	i.log.Info("Import finished",
		zap.String("path", path),
		zap.Int("files", report.Files),
		zap.Int("saved", report.Saved),
		zap.Int("warnings", report.Warnings),
	)
	return report, nil
}

func (i *Importer) importFile(ctx context.Context, path string, report *Report) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	batch, err := decodeBatch(f, baseKey(path))
	if err != nil {
		return err
	}

	for _, key := range batch.Keys() {
		res, err := i.store.Save(ctx, key, batch[key])
		if err != nil {
			return err
		}
		report.Saved++
		report.Warnings += len(res.Warnings)
		report.Keys = append(report.Keys, key)
		i.log.Debug("Imported evaluation", zap.String("result_key", key), zap.Int64("id", res.ID))
	}
	return nil
}

// decodeBatch accepts the same object shapes as the save endpoints, plus a
// top-level array whose elements are keyed by position.
func decodeBatch(r io.Reader, base string) (evaluation.Batch, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch v := doc.(type) {
	case map[string]any:
		if len(v) == 0 {
			return nil, ErrUnsupportedDocument
		}
		return evaluation.SplitBatch(evaluation.UnwrapWorkflow(v), base)
	case []any:
		batch := make(evaluation.Batch, len(v))
		for idx, item := range v {
			payload, ok := item.(map[string]any)
			if !ok {
				return nil, ErrUnsupportedDocument
			}
			batch[base+"-"+strconv.Itoa(idx)] = payload
		}
		return batch, nil
	default:
		return nil, ErrUnsupportedDocument
	}
}

func baseKey(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return evaluation.ResultKeyPrefix + "-" + name
}

func jsonFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
