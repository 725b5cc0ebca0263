package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidFinancialYear = errors.New("invalid financial year")

var financialYearPattern = regexp.MustCompile(`^(FY)?\s*(\d{2}|\d{4})(?:\s*[-/]\s*(\d{2}|\d{4}))?$`)

// FinancialYear is an Australian financial year running 1 July to 30 June.
type FinancialYear struct {
	StartYear int
}

// ParseFinancialYear accepts FY2024-25, FY2024-2025, FY24-25, 2024-25 and the
// single-year shorthand FY24, which names the year ending 30 June 2024.
func ParseFinancialYear(label string) (FinancialYear, error) {
	normalized := strings.ToUpper(strings.TrimSpace(label))
	match := financialYearPattern.FindStringSubmatch(normalized)
	if match == nil {
		return FinancialYear{}, fmt.Errorf("%w: %q", ErrInvalidFinancialYear, label)
	}

	first := expandYear(match[2])
	if match[3] == "" {
		if match[1] == "" {
			return FinancialYear{}, fmt.Errorf("%w: %q has no FY prefix", ErrInvalidFinancialYear, label)
		}
		return FinancialYear{StartYear: first - 1}, nil
	}

	second, _ := strconv.Atoi(match[3])
	if len(match[3]) == 2 {
		if second != (first+1)%100 {
			return FinancialYear{}, fmt.Errorf("%w: %q years are not consecutive", ErrInvalidFinancialYear, label)
		}
	} else if second != first+1 {
		return FinancialYear{}, fmt.Errorf("%w: %q years are not consecutive", ErrInvalidFinancialYear, label)
	}
	return FinancialYear{StartYear: first}, nil
}

func expandYear(digits string) int {
	year, _ := strconv.Atoi(digits)
	if len(digits) == 2 {
		return 2000 + year
	}
	return year
}

func (fy FinancialYear) Start() time.Time {
	return time.Date(fy.StartYear, time.July, 1, 0, 0, 0, 0, time.UTC)
}

func (fy FinancialYear) End() time.Time {
	return time.Date(fy.StartYear+1, time.June, 30, 0, 0, 0, 0, time.UTC)
}

func (fy FinancialYear) Contains(t time.Time) bool {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(fy.Start()) && !day.After(fy.End())
}

// String renders the canonical label, e.g. FY2023-24.
func (fy FinancialYear) String() string {
	return fmt.Sprintf("FY%d-%02d", fy.StartYear, (fy.StartYear+1)%100)
}

// NormalizePeriod returns the canonical financial-year label when the input
// parses, and the trimmed input otherwise.
func NormalizePeriod(label string) string {
	fy, err := ParseFinancialYear(label)
	if err != nil {
		return strings.TrimSpace(label)
	}
	return fy.String()
}
