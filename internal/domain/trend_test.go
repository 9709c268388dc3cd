package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrendResult_Label(t *testing.T) {
	tests := []struct {
		name     string
		result   TrendResult
		expected string
	}{
		{"first", TrendResult{Classification: ClassificationFirstDataPoint}, "First data point"},
		{"new product", TrendResult{Classification: ClassificationNewProduct}, "New product"},
		{"unchanged", TrendResult{Classification: ClassificationUnchanged, Delta: decimal.NewNullDecimal(decimal.Zero)}, "→ Unchanged"},
		{"increased", TrendResult{Classification: ClassificationIncreased, Delta: decimal.NewNullDecimal(decimal.RequireFromString("0.2"))}, "↑ +0.20€"},
		{"decreased", TrendResult{Classification: ClassificationDecreased, Delta: decimal.NewNullDecimal(decimal.RequireFromString("-1.5"))}, "↓ -1.50€"},
		{"competitor gone", TrendResult{Classification: ClassificationBecameUnavailable}, "No competitors now"},
		{"competitor new", TrendResult{Classification: ClassificationNewlyAvailable}, "New competitor"},
		{"no competitors", TrendResult{Classification: ClassificationNoData}, "No competitors"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.Label())
		})
	}
}

func TestClassification_TextRoundTrip(t *testing.T) {
	for c := ClassificationFirstDataPoint; c <= ClassificationDecreased; c++ {
		text, err := c.MarshalText()
		require.NoError(t, err)

		var decoded Classification
		require.NoError(t, decoded.UnmarshalText(text))
		assert.Equal(t, c, decoded)
	}

	var c Classification
	assert.Error(t, c.UnmarshalText([]byte("SIDEWAYS")))
}

func TestClassification_JSON(t *testing.T) {
	payload, err := json.Marshal(TrendResult{Classification: ClassificationIncreased})
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"classification":"INCREASED"`)
	assert.Contains(t, string(payload), `"delta":null`)
}

func TestClassification_IsChange(t *testing.T) {
	assert.True(t, ClassificationIncreased.IsChange())
	assert.True(t, ClassificationDecreased.IsChange())
	assert.True(t, ClassificationNewProduct.IsChange())
	assert.False(t, ClassificationUnchanged.IsChange())
	assert.False(t, ClassificationFirstDataPoint.IsChange())
	assert.False(t, ClassificationNewlyAvailable.IsChange())
}
