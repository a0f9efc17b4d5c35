package evaluation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/eval-dashboard/backend/internal/storage/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 1000

	DefaultSortField = "timestamp"

	// UnknownProductID groups evaluations without a part number.
	UnknownProductID = "unknown"
)

// sortColumns is the whitelist of sortable projections.
var sortColumns = map[string]bool{
	"timestamp":             true,
	"average_score":         true,
	"hallucination_control": true,
	"quality":               true,
	"professionalism":       true,
	"usefulness":            true,
}

// Filter fields are exact-match and ANDed; empty fields are ignored.
type Filter struct {
	ProductFamily    string
	PartNumber       string
	Mag              string
	QuestionCategory string
	Complexity       string
}

type Pagination struct {
	Page  int
	Limit int
}

type Sort struct {
	Field string
	Order string
}

func (p Pagination) normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

// clause returns the ORDER BY column and direction. Unknown fields fall back
// to timestamp; anything but "asc" sorts descending.
func (s Sort) clause() (string, string) {
	field := strings.ToLower(strings.TrimSpace(s.Field))
	if !sortColumns[field] {
		field = DefaultSortField
	}
	order := "DESC"
	if strings.EqualFold(strings.TrimSpace(s.Order), "asc") {
		order = "ASC"
	}
	return field, order
}

func (f Filter) where() (string, []any) {
	conds := []string{"1=1"}
	var args []any

	add := func(column, value string) {
		if value == "" {
			return
		}
		conds = append(conds, column+" = ?")
		args = append(args, value)
	}
	add("product_family", f.ProductFamily)
	add("part_number", f.PartNumber)
	add("mag", f.Mag)
	add("question_category", f.QuestionCategory)
	add("question_complexity", f.Complexity)

	return strings.Join(conds, " AND "), args
}

// List returns one page of the filtered, sorted evaluations.
func (r *Repository) List(ctx context.Context, f Filter, p Pagination, s Sort) (models.Page, error) {
	p = p.normalize()
	where, args := f.where()
	field, order := s.clause()

	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM evaluations WHERE `+where, args...).Scan(&total)
	if err != nil {
		return models.Page{}, fmt.Errorf("failed to count evaluations: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, result_key, timestamp, date, data
		FROM evaluations
		WHERE %s
		ORDER BY %s %s, id %s
		LIMIT ? OFFSET ?
	`, where, field, order, order)

	rows, err := r.db.QueryContext(ctx, query, append(args, p.Limit, (p.Page-1)*p.Limit)...)
	if err != nil {
		return models.Page{}, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	evaluations := make([]models.Evaluation, 0, p.Limit)
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return models.Page{}, err
		}
		evaluations = append(evaluations, e)
	}
	if err := rows.Err(); err != nil {
		return models.Page{}, fmt.Errorf("failed to iterate evaluations: %w", err)
	}

	return models.Page{
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: (total + p.Limit - 1) / p.Limit,
		Data:       evaluations,
	}, nil
}

// GetByID returns ErrNotFound when no evaluation has the id.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Evaluation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, result_key, timestamp, date, data
		FROM evaluations
		WHERE id = ?
	`, id)

	e, err := scanEvaluation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Recent returns the n newest evaluations.
func (r *Repository) Recent(ctx context.Context, n int) ([]models.Evaluation, error) {
	page, err := r.List(ctx, Filter{}, Pagination{Page: 1, Limit: n}, Sort{Field: "timestamp", Order: "desc"})
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

func (r *Repository) Products(ctx context.Context) ([]models.ProductAggregate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT part_number, product_family, evaluation_count, avg_score, last_updated
		FROM products
		ORDER BY part_number
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := []models.ProductAggregate{}
	for rows.Next() {
		var p models.ProductAggregate
		if err := rows.Scan(&p.PartNumber, &p.ProductFamily, &p.EvaluationCount, &p.AvgScore, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// Product returns ErrNotFound when the part number has no aggregate.
func (r *Repository) Product(ctx context.Context, partNumber string) (*models.ProductAggregate, error) {
	var p models.ProductAggregate
	err := r.db.QueryRowContext(ctx, `
		SELECT part_number, product_family, evaluation_count, avg_score, last_updated
		FROM products
		WHERE part_number = ?
	`, partNumber).Scan(&p.PartNumber, &p.ProductFamily, &p.EvaluationCount, &p.AvgScore, &p.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", partNumber, err)
	}
	return &p, nil
}

// ProductScores groups every evaluation by part number and averages each
// dimension. The overall score is the mean of the rounded dimension scores.
func (r *Repository) ProductScores(ctx context.Context) ([]models.ProductScore, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			COALESCE(NULLIF(part_number, ''), ?) AS product_id,
			COUNT(*),
			COALESCE(AVG(hallucination_control), 0),
			COALESCE(AVG(quality), 0),
			COALESCE(AVG(professionalism), 0),
			COALESCE(AVG(usefulness), 0)
		FROM evaluations
		GROUP BY product_id
		ORDER BY product_id
	`, UnknownProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute product scores: %w", err)
	}
	defer rows.Close()

	scores := []models.ProductScore{}
	for rows.Next() {
		var (
			ps                 models.ProductScore
			hc, q, prof, usefl float64
		)
		if err := rows.Scan(&ps.ProductID, &ps.SampleCount, &hc, &q, &prof, &usefl); err != nil {
			return nil, fmt.Errorf("failed to scan product score: %w", err)
		}

		ps.DimensionScores = models.DimensionScores{
			HallucinationControl: int(math.Round(hc)),
			Quality:              int(math.Round(q)),
			Professionalism:      int(math.Round(prof)),
			Usefulness:           int(math.Round(usefl)),
		}
		d := ps.DimensionScores
		sum := d.HallucinationControl + d.Quality + d.Professionalism + d.Usefulness
		ps.AverageScore = int(math.Round(float64(sum) / float64(len(models.Dimensions))))

		scores = append(scores, ps)
	}
	return scores, rows.Err()
}

func (r *Repository) Mags(ctx context.Context) ([]models.MagAggregate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT mag_id, evaluation_count, avg_score, last_updated
		FROM mags
		ORDER BY mag_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list mags: %w", err)
	}
	defer rows.Close()

	mags := []models.MagAggregate{}
	for rows.Next() {
		var m models.MagAggregate
		if err := rows.Scan(&m.Mag, &m.EvaluationCount, &m.AvgScore, &m.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan mag: %w", err)
		}
		mags = append(mags, m)
	}
	return mags, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(s scanner) (models.Evaluation, error) {
	var (
		e    models.Evaluation
		data string
	)
	if err := s.Scan(&e.ID, &e.ResultKey, &e.Timestamp, &e.Date, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan evaluation: %w", err)
	}

	if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
		return e, fmt.Errorf("failed to decode evaluation %d: %w", e.ID, err)
	}
	return e, nil
}
