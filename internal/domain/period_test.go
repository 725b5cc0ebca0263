package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFinancialYear(t *testing.T) {
	cases := map[string]int{
		"FY2024-25":   2024,
		"FY2024-2025": 2024,
		"fy24-25":     2024,
		"2024-25":     2024,
		"2024/2025":   2024,
		"FY24":        2023,
		"FY2024":      2023,
		" FY99-00 ":   2099,
	}
	for label, start := range cases {
		t.Run(label, func(t *testing.T) {
			fy, err := ParseFinancialYear(label)
			require.NoError(t, err)
			assert.Equal(t, start, fy.StartYear)
		})
	}
}

func TestParseFinancialYearRejectsInvalidLabels(t *testing.T) {
	for _, label := range []string{"", "2024", "FY2024-26", "FY24-23", "year 2024", "FY2024-25-26"} {
		t.Run(label, func(t *testing.T) {
			_, err := ParseFinancialYear(label)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidFinancialYear))
		})
	}
}

func TestFinancialYearBounds(t *testing.T) {
	fy, err := ParseFinancialYear("FY24")
	require.NoError(t, err)

	assert.Equal(t, "FY2023-24", fy.String())
	assert.Equal(t, time.Date(2023, time.July, 1, 0, 0, 0, 0, time.UTC), fy.Start())
	assert.Equal(t, time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC), fy.End())
	assert.True(t, fy.Contains(time.Date(2024, time.June, 30, 23, 0, 0, 0, time.UTC)))
	assert.False(t, fy.Contains(time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)))
}

func TestNormalizePeriod(t *testing.T) {
	assert.Equal(t, "FY2023-24", NormalizePeriod("FY24"))
	assert.Equal(t, "FY2023-24", NormalizePeriod("2023-24"))
	assert.Equal(t, "Q3 2024", NormalizePeriod("  Q3 2024 "))
}
