package evaluation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eval-dashboard/backend/internal/metrics"
	"github.com/eval-dashboard/backend/internal/storage/models"
	"github.com/eval-dashboard/backend/pkg/logger"
)

const dateLayout = "2006-01-02T15:04:05.000Z"

// LabelSeeder initializes display labels from the first saved document.
type LabelSeeder interface {
	SeedFromSample(ctx context.Context, sample map[string]any) error
}

type SaveResult struct {
	ID       int64               `json:"id"`
	Warnings []ValidationWarning `json:"warnings,omitempty"`
}

// Repository reads and writes evaluations and keeps the products, mags and
// stats_cache tables consistent with them.
type Repository struct {
	db     *sql.DB
	cache  statsCache
	now    func() time.Time
	log    *zap.Logger
	labels LabelSeeder

	labelsSeeded atomic.Bool
}

type Option func(*Repository)

func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

func WithStatsTTL(ttl time.Duration) Option {
	return func(r *Repository) {
		if ttl > 0 {
			r.cache.ttl = ttl
		}
	}
}

func WithLabelSeeder(s LabelSeeder) Option {
	return func(r *Repository) { r.labels = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) { r.log = l }
}

func NewRepository(db *sql.DB, opts ...Option) *Repository {
	r := &Repository{
		db:    db,
		cache: statsCache{ttl: DefaultStatsTTL},
		now:   time.Now,
		log:   logger.Named("evaluation"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Save normalizes payload and writes it under resultKey, replacing any
// previous record with the same key. The record, the affected product and mag
// aggregates, and the stats cache invalidation commit in one transaction.
func (r *Repository) Save(ctx context.Context, resultKey string, payload map[string]any) (SaveResult, error) {
	resultKey = strings.TrimSpace(resultKey)
	if resultKey == "" {
		return SaveResult{}, ErrEmptyResultKey
	}

	start := time.Now()
	data, warnings := Normalize(payload)
	r.recordWarnings(resultKey, warnings)

	body, err := json.Marshal(data)
	if err != nil {
		metrics.EvaluationsSaved.WithLabelValues("error").Inc()
		return SaveResult{}, fmt.Errorf("failed to encode evaluation %q: %w", resultKey, err)
	}

	now := r.now()
	id, err := r.saveTx(ctx, resultKey, string(body), now)
	metrics.SaveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EvaluationsSaved.WithLabelValues("error").Inc()
		r.log.Error("Failed to save evaluation", zap.String("result_key", resultKey), zap.Error(err))
		return SaveResult{}, err
	}

	metrics.EvaluationsSaved.WithLabelValues("ok").Inc()
	r.log.Debug("Evaluation saved",
		zap.String("result_key", resultKey),
		zap.Int64("id", id),
		zap.Int("warnings", len(warnings)),
	)

	r.seedLabels(ctx, data)

	return SaveResult{ID: id, Warnings: warnings}, nil
}

func (r *Repository) saveTx(ctx context.Context, resultKey, body string, now time.Time) (int64, error) {
	fail := func(step string, err error) (int64, error) {
		return 0, &TransactionError{ResultKey: resultKey, Step: step, Err: err}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("begin", err)
	}
	defer tx.Rollback()

	var prevPart, prevMag sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT part_number, mag FROM evaluations WHERE result_key = ?`, resultKey).
		Scan(&prevPart, &prevMag)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fail("lookup", err)
	}

	ts := now.UnixMilli()
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO evaluations (result_key, timestamp, date, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(result_key) DO UPDATE SET
			timestamp = excluded.timestamp,
			date = excluded.date,
			data = excluded.data
		RETURNING id
	`, resultKey, ts, now.UTC().Format(dateLayout), body).Scan(&id)
	if err != nil {
		return fail("upsert", err)
	}

	// Aggregate keys come from the projections so they match what List and
	// the aggregate queries filter on.
	var projPart, projMag, projFamily sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT part_number, mag, product_family FROM evaluations WHERE id = ?`, id).
		Scan(&projPart, &projMag, &projFamily)
	if err != nil {
		return fail("projection", err)
	}

	partNumber := projPart.String
	if hasKey(partNumber) {
		if err := refreshProduct(ctx, tx, partNumber, projFamily.String, ts); err != nil {
			return fail("products", err)
		}
	}
	if hasKey(prevPart.String) && prevPart.String != partNumber {
		if err := refreshProduct(ctx, tx, prevPart.String, "", ts); err != nil {
			return fail("products", err)
		}
	}

	mag := projMag.String
	if hasKey(mag) {
		if err := refreshMag(ctx, tx, mag, ts); err != nil {
			return fail("mags", err)
		}
	}
	if hasKey(prevMag.String) && prevMag.String != mag {
		if err := refreshMag(ctx, tx, prevMag.String, ts); err != nil {
			return fail("mags", err)
		}
	}

	if err := r.cache.clear(ctx, tx); err != nil {
		return fail("stats_cache", err)
	}

	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}
	return id, nil
}

// hasKey reports whether an aggregate key is present. Blank keys get no
// aggregate row.
func hasKey(k string) bool {
	return strings.TrimSpace(k) != ""
}

// refreshProduct recomputes the aggregate for partNumber from every row that
// carries it. An empty family keeps the family of the newest such row. The
// aggregate row is removed once no evaluation references the part number.
func refreshProduct(ctx context.Context, q querier, partNumber, family string, ts int64) error {
	var (
		count  int
		avg    sql.NullFloat64
		latest sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			AVG(average_score),
			(SELECT product_family FROM evaluations WHERE part_number = ?1 ORDER BY timestamp DESC, id DESC LIMIT 1)
		FROM evaluations
		WHERE part_number = ?1
	`, partNumber).Scan(&count, &avg, &latest)
	if err != nil {
		return fmt.Errorf("failed to aggregate part number %s: %w", partNumber, err)
	}

	if count == 0 {
		_, err := q.ExecContext(ctx, `DELETE FROM products WHERE part_number = ?`, partNumber)
		return err
	}

	if family == "" {
		family = latest.String
	}
	if family == "" {
		family = unknown
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO products (part_number, product_family, last_updated, evaluation_count, avg_score)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(part_number) DO UPDATE SET
			product_family = excluded.product_family,
			last_updated = excluded.last_updated,
			evaluation_count = excluded.evaluation_count,
			avg_score = excluded.avg_score
	`, partNumber, family, ts, count, avg.Float64)
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", partNumber, err)
	}
	return nil
}

func refreshMag(ctx context.Context, q querier, mag string, ts int64) error {
	var (
		count int
		avg   sql.NullFloat64
	)
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(average_score)
		FROM evaluations
		WHERE mag = ?
	`, mag).Scan(&count, &avg)
	if err != nil {
		return fmt.Errorf("failed to aggregate mag %s: %w", mag, err)
	}

	if count == 0 {
		_, err := q.ExecContext(ctx, `DELETE FROM mags WHERE mag_id = ?`, mag)
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO mags (mag_id, last_updated, evaluation_count, avg_score)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(mag_id) DO UPDATE SET
			last_updated = excluded.last_updated,
			evaluation_count = excluded.evaluation_count,
			avg_score = excluded.avg_score
	`, mag, ts, count, avg.Float64)
	if err != nil {
		return fmt.Errorf("failed to upsert mag %s: %w", mag, err)
	}
	return nil
}

func (r *Repository) recordWarnings(resultKey string, warnings []ValidationWarning) {
	for _, w := range warnings {
		metrics.ValidationWarnings.WithLabelValues(w.Field).Inc()
		r.log.Warn("Evaluation field defaulted",
			zap.String("result_key", resultKey),
			zap.String("field", w.Field),
			zap.String("reason", w.Message),
		)
	}
}

// seedLabels runs once per repository after the first successful save.
// Failures are logged and retried on the next save.
func (r *Repository) seedLabels(ctx context.Context, sample map[string]any) {
	if r.labels == nil || r.labelsSeeded.Load() {
		return
	}
	if err := r.labels.SeedFromSample(ctx, sample); err != nil {
		r.log.Warn("Failed to seed field labels", zap.Error(err))
		return
	}
	r.labelsSeeded.Store(true)
}

// StatsOverview returns the cached overview snapshot, recomputing it when the
// entry is missing or older than the TTL.
func (r *Repository) StatsOverview(ctx context.Context) (models.StatsOverview, error) {
	var snap models.StatsOverview
	now := r.now()

	hit, err := r.cache.get(ctx, r.db, overviewCacheID, now, &snap)
	if err != nil {
		r.log.Warn("Ignoring unreadable stats cache entry", zap.Error(err))
	}
	if hit {
		metrics.CacheHits.WithLabelValues(overviewCacheID).Inc()
		return snap, nil
	}
	metrics.CacheMisses.WithLabelValues(overviewCacheID).Inc()

	// Compute and store in one transaction so a concurrent save cannot be
	// overwritten by a snapshot computed before it.
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.StatsOverview{}, fmt.Errorf("failed to begin stats transaction: %w", err)
	}
	defer tx.Rollback()

	snap, err = computeOverview(ctx, tx, now)
	if err != nil {
		return models.StatsOverview{}, err
	}

	if err := r.cache.put(ctx, tx, overviewCacheID, snap, now); err != nil {
		return models.StatsOverview{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.StatsOverview{}, fmt.Errorf("failed to commit stats snapshot: %w", err)
	}

	metrics.EvaluationsTotal.Set(float64(snap.Count))
	r.log.Debug("Stats overview computed", zap.Int("count", snap.Count))
	return snap, nil
}

func computeOverview(ctx context.Context, q querier, now time.Time) (models.StatsOverview, error) {
	var (
		snap                                 models.StatsOverview
		overall, hc, quality, prof, useful   sql.NullFloat64
		lastUpdated                          sql.NullInt64
	)

	err := q.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			AVG(average_score),
			AVG(hallucination_control),
			AVG(quality),
			AVG(professionalism),
			AVG(usefulness),
			COUNT(DISTINCT product_family),
			COUNT(DISTINCT part_number),
			COUNT(DISTINCT mag),
			MAX(timestamp)
		FROM evaluations
	`).Scan(
		&snap.Count,
		&overall, &hc, &quality, &prof, &useful,
		&snap.ProductFamilyCount,
		&snap.PartNumberCount,
		&snap.MagCount,
		&lastUpdated,
	)
	if err != nil {
		return models.StatsOverview{}, fmt.Errorf("failed to compute stats overview: %w", err)
	}

	snap.ComputedAt = now.UnixMilli()

	if snap.Count == 0 {
		snap.IsEmpty = true
		snap.OverallAverage = -1
		snap.DimensionAverages = models.DimensionAverages{
			HallucinationControl: -1,
			Quality:              -1,
			Professionalism:      -1,
			Usefulness:           -1,
		}
		snap.LastUpdated = now.UnixMilli()
		return snap, nil
	}

	snap.OverallAverage = overall.Float64
	snap.DimensionAverages = models.DimensionAverages{
		HallucinationControl: hc.Float64,
		Quality:              quality.Float64,
		Professionalism:      prof.Float64,
		Usefulness:           useful.Float64,
	}
	snap.LastUpdated = lastUpdated.Int64
	return snap, nil
}
