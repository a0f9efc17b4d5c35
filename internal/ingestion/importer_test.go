package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eval-dashboard/backend/internal/evaluation"
	"github.com/eval-dashboard/backend/internal/storage/models"
	"github.com/eval-dashboard/backend/internal/storage/sqlite"
)

type recordingSaver struct {
	saved map[string]map[string]any
	fail  string
}

func (s *recordingSaver) Save(_ context.Context, key string, payload map[string]any) (evaluation.SaveResult, error) {
	if key == s.fail {
		return evaluation.SaveResult{}, errors.New("boom")
	}
	if s.saved == nil {
		s.saved = map[string]map[string]any{}
	}
	s.saved[key] = payload
	return evaluation.SaveResult{ID: int64(len(s.saved)), Warnings: []evaluation.ValidationWarning{{Field: "x"}}}, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportPath_Batch(t *testing.T) {
	path := writeFile(t, t.TempDir(), "run1.json", `{
		"result1": {"quality": 80},
		"result0": {"quality": 70},
		"meta": "ignored"
	}`)
	saver := &recordingSaver{}

	report, err := NewImporter(saver).ImportPath(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 2, report.Saved)
	assert.Equal(t, 2, report.Warnings)
	assert.Equal(t, []string{"result0", "result1"}, report.Keys)
}

func TestImportPath_SingleAndWorkflowDocuments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.json", `{"arg1": {"result7": {"quality": 1}}}`)
	writeFile(t, dir, "a.json", `{"quality": 2}`)
	writeFile(t, dir, "notes.txt", `not json`)
	saver := &recordingSaver{}

	report, err := NewImporter(saver).ImportPath(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Files)
	assert.Equal(t, []string{"result-a", "result7"}, report.Keys)
	assert.Contains(t, saver.saved, "result-a")
}

func TestImportPath_Array(t *testing.T) {
	path := writeFile(t, t.TempDir(), "export.json", `[{"quality": 1}, {"quality": 2}]`)
	saver := &recordingSaver{}

	report, err := NewImporter(saver).ImportPath(context.Background(), path)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"result-export-0", "result-export-1"}, report.Keys)
}

func TestImportPath_Rejects(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"scalar.json":  `42`,
		"empty.json":   `{}`,
		"mixed.json":   `[{"quality": 1}, 3]`,
		"invalid.json": `{`,
		"nonobj.json":  `{"result1": "text"}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, dir, name, content)

			_, err := NewImporter(&recordingSaver{}).ImportPath(context.Background(), path)
			assert.Error(t, err)
		})
	}
}

func TestImportPath_StopsAtFirstFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"quality": 1}`)
	writeFile(t, dir, "b.json", `{"quality": 2}`)
	writeFile(t, dir, "c.json", `{"quality": 3}`)
	saver := &recordingSaver{fail: "result-b"}

	report, err := NewImporter(saver).ImportPath(context.Background(), dir)
	require.Error(t, err)

	assert.Equal(t, 1, report.Files)
	assert.Equal(t, []string{"result-a"}, report.Keys)
	assert.NotContains(t, saver.saved, "result-c")
}

func TestImportPath_Missing(t *testing.T) {
	_, err := NewImporter(&recordingSaver{}).ImportPath(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestImportPath_ReimportOverwrites(t *testing.T) {
	m := sqlite.NewManager(sqlite.Options{MaxAttempts: 1, RetryDelay: time.Millisecond})
	db, err := m.Initialize(context.Background(), filepath.Join(t.TempDir(), "evaluations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	repo := evaluation.NewRepository(db)

	path := writeFile(t, t.TempDir(), "run.json", `{"result1": {"Part Number": "TJA1145A", "quality": 80}}`)
	importer := NewImporter(repo)

	_, err = importer.ImportPath(context.Background(), path)
	require.NoError(t, err)
	_, err = importer.ImportPath(context.Background(), path)
	require.NoError(t, err)

	page, err := repo.List(context.Background(), evaluation.Filter{}, evaluation.Pagination{}, evaluation.Sort{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "IVN", page.Data[0].Data[models.FieldProductFamily])
}
