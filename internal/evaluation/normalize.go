package evaluation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/eval-dashboard/backend/internal/storage/models"
)

const unknown = "Unknown"

// descriptiveFields are projected as TEXT columns. Scalars in them are stored
// as strings so the projection and the aggregate key agree.
var descriptiveFields = []string{
	models.FieldCASName,
	models.FieldProductFamily,
	models.FieldMAG,
	models.FieldPartNumber,
	models.FieldQuestionScenario,
	models.FieldQuestionComplexity,
	models.FieldQuestionFrequency,
	models.FieldQuestionCategory,
	models.FieldSourceCategory,
}

// familyPrefixes maps part-number prefixes to product families.
var familyPrefixes = []struct {
	prefix string
	family string
}{
	{"TJA", "IVN"},
	{"S32", "MCU"},
}

// InferProductFamily derives the product family from a part number prefix.
func InferProductFamily(partNumber string) string {
	pn := strings.ToUpper(strings.TrimSpace(partNumber))
	for _, p := range familyPrefixes {
		if strings.HasPrefix(pn, p.prefix) {
			return p.family
		}
	}
	return unknown
}

// Normalize returns a copy of payload with descriptive fields filled in and
// every score coerced to a number. The input map is not modified.
func Normalize(payload map[string]any) (map[string]any, []ValidationWarning) {
	data := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		data[k] = v
	}

	var warnings []ValidationWarning
	warn := func(field, format string, args ...any) {
		warnings = append(warnings, ValidationWarning{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	for _, field := range descriptiveFields {
		switch v := data[field].(type) {
		case json.Number, float64, float32, int, int32, int64, bool:
			data[field] = fmt.Sprint(v)
		}
	}

	if isBlank(data[models.FieldCASName]) {
		data[models.FieldCASName] = unknown
		warn(models.FieldCASName, "missing, defaulted to %q", unknown)
	}

	partNumber := stringField(data, models.FieldPartNumber)
	if partNumber == "" {
		warn(models.FieldPartNumber, "missing, product aggregate not updated")
	}

	if isBlank(data[models.FieldProductFamily]) {
		family := InferProductFamily(partNumber)
		data[models.FieldProductFamily] = family
		warn(models.FieldProductFamily, "missing, inferred %q from part number", family)
	}

	var sum float64
	var present int
	for _, dim := range models.Dimensions {
		raw, ok := data[dim]
		score, numeric := toNumber(raw)
		switch {
		case !ok || raw == nil:
			warn(dim, "missing, defaulted to 0")
		case !numeric:
			warn(dim, "not numeric (%v), defaulted to 0", raw)
		default:
			sum += score
			present++
		}
		data[dim] = score
	}

	if raw, ok := data[models.FieldAverageScore]; ok && raw != nil {
		// A caller-supplied average wins even if it disagrees with the dimensions.
		avg, numeric := toNumber(raw)
		if !numeric {
			warn(models.FieldAverageScore, "not numeric (%v), defaulted to 0", raw)
		}
		data[models.FieldAverageScore] = avg
	} else {
		avg := 0.0
		if present > 0 {
			avg = math.Round(sum/float64(present)*10) / 10
		}
		data[models.FieldAverageScore] = avg
	}

	return data, warnings
}

// toNumber coerces JSON-ish values to float64. Non-numeric values yield 0.
func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// stringField returns the field as a string, or "" when absent or blank.
func stringField(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || isBlank(v) {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
