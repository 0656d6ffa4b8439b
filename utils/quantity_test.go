package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionIndex(t *testing.T) {
	assert.Equal(t, 1, PositionIndex("long"))
	assert.Equal(t, 2, PositionIndex("short"))
	assert.Equal(t, 1, PositionIndex("LONG"))
	assert.Equal(t, 2, PositionIndex("Short"))
	assert.Equal(t, 0, PositionIndex("both"))
	assert.Equal(t, 0, PositionIndex(""))
}

func TestRoundQuantityToStep(t *testing.T) {
	tests := []struct {
		name    string
		qty     float64
		step    float64
		want    float64
		wantErr bool
	}{
		{"exact multiple", 0.005, 0.001, 0.005, false},
		{"floors down", 0.0059, 0.001, 0.005, false},
		{"float artifact at boundary", 0.3, 0.1, 0.3, false},
		{"large step", 15.7, 5, 15, false},
		{"below one step", 0.0004, 0.001, 0, true},
		{"zero qty", 0, 0.001, 0, true},
		{"zero step", 1, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RoundQuantityToStep(tt.qty, tt.step)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestValidateQuantity(t *testing.T) {
	assert.NoError(t, ValidateQuantity(0.005, 0.001, false))
	assert.Error(t, ValidateQuantity(0.0005, 0.001, false))
	// Reduce-only closes may carry residual dust below the minimum.
	assert.NoError(t, ValidateQuantity(0.0005, 0.001, true))
	assert.Error(t, ValidateQuantity(0, 0.001, true))
	assert.Error(t, ValidateQuantity(-1, 0.001, false))
}

func TestFormatQuantity(t *testing.T) {
	assert.Equal(t, "0.005", FormatQuantity(0.005, 0.001))
	assert.Equal(t, "1.200", FormatQuantity(1.2, 0.001))
	assert.Equal(t, "15", FormatQuantity(15, 5))
	assert.Equal(t, "0.50", FormatQuantity(0.5, 0.01))
}

func TestFloatEquals(t *testing.T) {
	assert.True(t, FloatEquals(0.1+0.2, 0.3))
	assert.False(t, FloatEquals(0.1, 0.2))
}

func TestAdjustPriceToTickSize(t *testing.T) {
	assert.InDelta(t, 100.1, AdjustPriceToTickSize(100.12, 0.1), 1e-9)
	assert.InDelta(t, 100.12, AdjustPriceToTickSize(100.12, 0), 1e-9)
}
