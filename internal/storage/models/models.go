package models

import "encoding/json"

// Well-known keys of the evaluation document.
const (
	FieldCASName            = "CAS Name"
	FieldProductFamily      = "Product Family"
	FieldMAG                = "MAG"
	FieldPartNumber         = "Part Number"
	FieldQuestionScenario   = "Question Scenario"
	FieldQuestionComplexity = "Question Complexity"
	FieldQuestionFrequency  = "Question Frequency"
	FieldQuestionCategory   = "Question Category"
	FieldSourceCategory     = "Source Category"

	FieldHallucinationControl = "hallucination_control"
	FieldQuality              = "quality"
	FieldProfessionalism      = "professionalism"
	FieldUsefulness           = "usefulness"
	FieldAverageScore         = "average_score"
)

// Dimensions are the four scored dimensions, in display order.
var Dimensions = []string{
	FieldHallucinationControl,
	FieldQuality,
	FieldProfessionalism,
	FieldUsefulness,
}

// Evaluation is one stored evaluation record.
type Evaluation struct {
	ID        int64
	ResultKey string
	Timestamp int64
	Date      string
	Data      map[string]any
}

// Hydrate merges the stored metadata into a copy of the document.
// Metadata keys win over document keys of the same name.
func (e *Evaluation) Hydrate() map[string]any {
	out := make(map[string]any, len(e.Data)+4)
	for k, v := range e.Data {
		out[k] = v
	}
	out["id"] = e.ID
	out["result_key"] = e.ResultKey
	out["timestamp"] = e.Timestamp
	out["date"] = e.Date
	return out
}

func (e Evaluation) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Hydrate())
}

type ProductAggregate struct {
	PartNumber      string  `json:"part_number"`
	ProductFamily   string  `json:"product_family"`
	EvaluationCount int     `json:"evaluation_count"`
	AvgScore        float64 `json:"avg_score"`
	LastUpdated     int64   `json:"last_updated"`
}

// ProductScore is the per-product rollup of the four dimensions. Scores are
// rounded to whole numbers for display.
type ProductScore struct {
	ProductID       string          `json:"product_id"`
	SampleCount     int             `json:"sample_count"`
	DimensionScores DimensionScores `json:"dimension_scores"`
	AverageScore    int             `json:"average_score"`
}

type DimensionScores struct {
	HallucinationControl int `json:"hallucination_control"`
	Quality              int `json:"quality"`
	Professionalism      int `json:"professionalism"`
	Usefulness           int `json:"usefulness"`
}

type MagAggregate struct {
	Mag             string  `json:"mag"`
	EvaluationCount int     `json:"evaluation_count"`
	AvgScore        float64 `json:"avg_score"`
	LastUpdated     int64   `json:"last_updated"`
}

type DimensionAverages struct {
	HallucinationControl float64 `json:"hallucination_control"`
	Quality              float64 `json:"quality"`
	Professionalism      float64 `json:"professionalism"`
	Usefulness           float64 `json:"usefulness"`
}

// StatsOverview is the cached aggregate snapshot over all evaluations.
type StatsOverview struct {
	Count              int               `json:"count"`
	OverallAverage     float64           `json:"overall_average"`
	DimensionAverages  DimensionAverages `json:"dimension_averages"`
	ProductFamilyCount int               `json:"product_family_count"`
	PartNumberCount    int               `json:"part_number_count"`
	MagCount           int               `json:"mag_count"`
	LastUpdated        int64             `json:"last_updated"`
	ComputedAt         int64             `json:"computed_at"`
	IsEmpty            bool              `json:"is_empty"`
}

// Page is one page of a filtered, sorted evaluation listing.
type Page struct {
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
	TotalPages int          `json:"totalPages"`
	Data       []Evaluation `json:"data"`
}

type FieldLabel struct {
	FieldKey     string `json:"field_key"`
	DisplayName  string `json:"display_name"`
	IsVisible    bool   `json:"is_visible"`
	DisplayOrder int    `json:"display_order"`
	LastUpdated  int64  `json:"last_updated"`
}
