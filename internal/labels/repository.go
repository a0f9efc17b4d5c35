package labels

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/eval-dashboard/backend/internal/storage/models"
	"github.com/eval-dashboard/backend/pkg/logger"
)

// Order assigned to the first sample key that has no default label.
const firstExtraOrder = 300

var ErrNotFound = errors.New("field label not found")

type defaultLabel struct {
	key   string
	name  string
	order int
}

// defaults is the ordered set of columns the dashboard knows how to show.
var defaults = []defaultLabel{
	{"id", "ID", 10},
	{"date", "Date", 20},
	{models.FieldCASName, "CAS Name", 30},
	{models.FieldProductFamily, "Product Family", 40},
	{models.FieldMAG, "MAG", 50},
	{models.FieldPartNumber, "Part Number", 60},
	{"Question", "Question", 70},
	{"Answer", "Answer", 80},
	{models.FieldQuestionScenario, "Question Scenario", 90},
	{"Answer Source", "Answer Source", 100},
	{models.FieldQuestionComplexity, "Question Complexity", 110},
	{models.FieldQuestionFrequency, "Question Frequency", 120},
	{models.FieldQuestionCategory, "Question Category", 130},
	{models.FieldSourceCategory, "Source Category", 140},
	{models.FieldHallucinationControl, "Hallucination Control", 150},
	{models.FieldQuality, "Quality", 160},
	{models.FieldProfessionalism, "Professionalism", 170},
	{models.FieldUsefulness, "Usefulness", 180},
	{models.FieldAverageScore, "Score", 190},
	{"summary", "Summary", 200},
	{"LLM_ANSWER", "LLM Answer", 210},
}

// Sample keys that are storage metadata rather than displayable fields.
var skipped = map[string]bool{
	"timestamp":  true,
	"result_key": true,
	"data":       true,
}

type Repository struct {
	db  *sql.DB
	now func() time.Time
	log *zap.Logger
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db:  db,
		now: time.Now,
		log: logger.Named("labels"),
	}
}

// SeedFromSample stores the default labels plus a hidden label for every
// unknown key of sample. It does nothing once any label exists.
func (r *Repository) SeedFromSample(ctx context.Context, sample map[string]any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin label seeding: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM field_labels`).Scan(&n); err != nil {
		return fmt.Errorf("failed to count field labels: %w", err)
	}
	if n > 0 {
		r.log.Debug("Field labels already present, skipping seed", zap.Int("count", n))
		return nil
	}

	known := make(map[string]bool, len(defaults))
	for _, d := range defaults {
		known[d.key] = true
		if err := upsert(ctx, tx, models.FieldLabel{
			FieldKey:     d.key,
			DisplayName:  d.name,
			IsVisible:    true,
			DisplayOrder: d.order,
		}, r.now()); err != nil {
			return err
		}
	}

	extras := make([]string, 0, len(sample))
	for key := range sample {
		if !known[key] && !skipped[key] {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)

	for i, key := range extras {
		if err := upsert(ctx, tx, models.FieldLabel{
			FieldKey:     key,
			DisplayName:  key,
			IsVisible:    false,
			DisplayOrder: firstExtraOrder + i,
		}, r.now()); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit label seeding: %w", err)
	}

	r.log.Info("Field labels seeded",
		zap.Int("defaults", len(defaults)),
		zap.Int("extras", len(extras)),
	)
	return nil
}

// Visible returns the labels shown in the dashboard, ordered for display.
func (r *Repository) Visible(ctx context.Context) ([]models.FieldLabel, error) {
	return r.list(ctx, `WHERE is_visible = 1`)
}

func (r *Repository) All(ctx context.Context) ([]models.FieldLabel, error) {
	return r.list(ctx, "")
}

func (r *Repository) Upsert(ctx context.Context, label models.FieldLabel) error {
	if label.FieldKey == "" {
		return fmt.Errorf("field label key is required")
	}
	if label.DisplayName == "" {
		label.DisplayName = label.FieldKey
	}
	return upsert(ctx, r.db, label, r.now())
}

// Delete returns ErrNotFound when no label has the key.
func (r *Repository) Delete(ctx context.Context, fieldKey string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM field_labels WHERE field_key = ?`, fieldKey)
	if err != nil {
		return fmt.Errorf("failed to delete field label %s: %w", fieldKey, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) list(ctx context.Context, where string) ([]models.FieldLabel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT field_key, display_name, is_visible, display_order, last_updated
		FROM field_labels `+where+`
		ORDER BY display_order ASC, field_key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list field labels: %w", err)
	}
	defer rows.Close()

	labels := []models.FieldLabel{}
	for rows.Next() {
		var l models.FieldLabel
		if err := rows.Scan(&l.FieldKey, &l.DisplayName, &l.IsVisible, &l.DisplayOrder, &l.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan field label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, e execer, l models.FieldLabel, now time.Time) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO field_labels (field_key, display_name, is_visible, display_order, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(field_key) DO UPDATE SET
			display_name = excluded.display_name,
			is_visible = excluded.is_visible,
			display_order = excluded.display_order,
			last_updated = excluded.last_updated
	`, l.FieldKey, l.DisplayName, l.IsVisible, l.DisplayOrder, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert field label %s: %w", l.FieldKey, err)
	}
	return nil
}
