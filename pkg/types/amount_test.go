package types

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		in       string
		decimals uint8
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"1.5", 6, "1500000"},
		{"0.000001", 6, "1"},
		{" 42 ", 0, "42"},
		{"0", 9, "0"},
	}
	for _, tt := range tests {
		got, err := ParseUnits(tt.in, tt.decimals)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.String(), tt.in)
	}

	for _, bad := range []string{"", "abc", "-1", "0.0000001", "1e6", "1/2"} {
		_, err := ParseUnits(bad, 6)
		assert.Error(t, err, bad)
	}
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1.5", FormatUnits(big.NewInt(1_500_000), 6))
	assert.Equal(t, "0.000001", FormatUnits(big.NewInt(1), 6))
	assert.Equal(t, "12", FormatUnits(big.NewInt(12_000_000), 6))
	assert.Equal(t, "-0.5", FormatUnits(big.NewInt(-500), 3))
	assert.Equal(t, "7", FormatUnits(big.NewInt(7), 0))
	assert.Equal(t, "0", FormatUnits(nil, 18))
}
