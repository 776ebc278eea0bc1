package units

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPU(t *testing.T) {
	tests := []struct {
		raw      string
		expected float64
	}{
		{raw: "500n", expected: 0.0005},
		{raw: "1500u", expected: 1.5},
		{raw: "250m", expected: 250},
		{raw: "2", expected: 2000},
		{raw: "0", expected: 0},
		{raw: "123456789n", expected: 123.456789},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseCPU(tt.raw)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-12)
		})
	}
}

func TestParseMemory(t *testing.T) {
	tests := []struct {
		raw      string
		expected float64
	}{
		{raw: "2048Ki", expected: 2.0},
		{raw: "256Mi", expected: 256},
		{raw: "1Gi", expected: 1024},
		{raw: "1048576", expected: 1.0},
		{raw: "0", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseMemory(tt.raw)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-12)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	cpuInputs := []string{"", "abc", "1.5", "-5m", "12x"}
	for _, raw := range cpuInputs {
		_, err := ParseCPU(raw)
		require.Error(t, err, raw)

		var perr *ParseError
		require.True(t, errors.As(err, &perr), raw)
		assert.Equal(t, CPU, perr.Resource)
		assert.Equal(t, raw, perr.Raw)
	}

	memInputs := []string{"", "lots", "1.5Gi", "-1Ki"}
	for _, raw := range memInputs {
		_, err := ParseMemory(raw)
		var perr *ParseError
		require.True(t, errors.As(err, &perr), raw)
		assert.Equal(t, Memory, perr.Resource)
	}
}

func TestSubstringDetection(t *testing.T) {
	// Unit letters are matched anywhere, so "m" on both sides still reads as millicores.
	got, err := ParseCPU("m250m")
	require.NoError(t, err)
	assert.Equal(t, 250.0, got)

	// "n" wins over "m" because it is checked first.
	_, err = ParseCPU("5mn")
	assert.Error(t, err)
}

func TestDeterministicAndNonNegative(t *testing.T) {
	inputs := []string{"1n", "999u", "7m", "3", "10Ki", "5Mi", "2Gi", "4096"}
	for _, raw := range inputs {
		parse := ParseCPU
		if raw == "10Ki" || raw == "5Mi" || raw == "2Gi" || raw == "4096" {
			parse = ParseMemory
		}
		first, err := parse(raw)
		require.NoError(t, err)
		second, err := parse(raw)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.GreaterOrEqual(t, first, 0.0)
	}
}
