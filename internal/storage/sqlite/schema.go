package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Tables created by the bootstrap, in creation order.
var Tables = []string{"evaluations", "products", "mags", "stats_cache", "field_labels"}

// Projection columns are generated from the JSON document so they can never
// drift from it.
const schema = `
CREATE TABLE IF NOT EXISTS evaluations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	result_key TEXT UNIQUE NOT NULL,
	timestamp INTEGER NOT NULL,
	date TEXT NOT NULL,
	data JSON NOT NULL,

	cas_name TEXT GENERATED ALWAYS AS (json_extract(data, '$."CAS Name"')) VIRTUAL,
	product_family TEXT GENERATED ALWAYS AS (json_extract(data, '$."Product Family"')) VIRTUAL,
	mag TEXT GENERATED ALWAYS AS (json_extract(data, '$."MAG"')) VIRTUAL,
	part_number TEXT GENERATED ALWAYS AS (json_extract(data, '$."Part Number"')) VIRTUAL,
	question_scenario TEXT GENERATED ALWAYS AS (json_extract(data, '$."Question Scenario"')) VIRTUAL,
	question_complexity TEXT GENERATED ALWAYS AS (json_extract(data, '$."Question Complexity"')) VIRTUAL,
	question_frequency TEXT GENERATED ALWAYS AS (json_extract(data, '$."Question Frequency"')) VIRTUAL,
	question_category TEXT GENERATED ALWAYS AS (json_extract(data, '$."Question Category"')) VIRTUAL,
	source_category TEXT GENERATED ALWAYS AS (json_extract(data, '$."Source Category"')) VIRTUAL,

	average_score REAL GENERATED ALWAYS AS (json_extract(data, '$.average_score')) VIRTUAL,
	hallucination_control REAL GENERATED ALWAYS AS (json_extract(data, '$.hallucination_control')) VIRTUAL,
	quality REAL GENERATED ALWAYS AS (json_extract(data, '$.quality')) VIRTUAL,
	professionalism REAL GENERATED ALWAYS AS (json_extract(data, '$.professionalism')) VIRTUAL,
	usefulness REAL GENERATED ALWAYS AS (json_extract(data, '$.usefulness')) VIRTUAL
);
CREATE INDEX IF NOT EXISTS idx_evaluations_timestamp ON evaluations(timestamp);
CREATE INDEX IF NOT EXISTS idx_evaluations_product_family ON evaluations(product_family);
CREATE INDEX IF NOT EXISTS idx_evaluations_part_number ON evaluations(part_number);
CREATE INDEX IF NOT EXISTS idx_evaluations_mag ON evaluations(mag);
CREATE INDEX IF NOT EXISTS idx_evaluations_question_category ON evaluations(question_category);
CREATE INDEX IF NOT EXISTS idx_evaluations_question_complexity ON evaluations(question_complexity);
CREATE INDEX IF NOT EXISTS idx_evaluations_average_score ON evaluations(average_score);

CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	part_number TEXT UNIQUE NOT NULL,
	product_family TEXT NOT NULL,
	last_updated INTEGER NOT NULL,
	evaluation_count INTEGER DEFAULT 0,
	avg_score REAL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS mags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mag_id TEXT UNIQUE NOT NULL,
	last_updated INTEGER NOT NULL,
	evaluation_count INTEGER DEFAULT 0,
	avg_score REAL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS stats_cache (
	id TEXT PRIMARY KEY,
	data JSON NOT NULL,
	last_updated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS field_labels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	field_key TEXT UNIQUE NOT NULL,
	display_name TEXT NOT NULL,
	is_visible INTEGER DEFAULT 1,
	display_order INTEGER DEFAULT 999,
	last_updated INTEGER NOT NULL
);
`

// InitSchema creates every table and index if missing. Safe to rerun.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
