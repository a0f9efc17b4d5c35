package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Page  *int   `query:"page" validate:"omitempty,min=1"`
	Order string `json:"order" validate:"omitempty,oneof=asc desc"`
	Name  string `validate:"required"`
}

func TestValidateStruct(t *testing.T) {
	zero := 0
	one := 1

	assert.NoError(t, ValidateStruct(sample{Name: "x"}))
	assert.NoError(t, ValidateStruct(sample{Name: "x", Page: &one, Order: "asc"}))

	err := ValidateStruct(sample{Page: &zero, Order: "up"})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "page must be at least 1")
		assert.Contains(t, err.Error(), "order must be one of: asc desc")
		assert.Contains(t, err.Error(), "Name is required")
	}
}
