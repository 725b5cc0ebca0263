package distributions

import (
	"errors"
	"fmt"
	"math"
)

// Rules holds the weights and thresholds of the scoring model. Field tags
// let an operator override individual values from a YAML file.
type Rules struct {
	NonResidentWeight   float64 `yaml:"non_resident_weight"`
	MinorWeight         float64 `yaml:"minor_weight"`
	ReimbursementWeight float64 `yaml:"reimbursement_weight"`
	AgedUnpaidWeight    float64 `yaml:"aged_unpaid_weight"`
	UnpaidRatioWeight   float64 `yaml:"unpaid_ratio_weight"`

	// ExclusionReduction is the most the ordinary-dealing carve-out removes.
	ExclusionReduction float64 `yaml:"exclusion_reduction"`

	AgedUnpaidYears      float64 `yaml:"aged_unpaid_years"`
	UnpaidRatioThreshold float64 `yaml:"unpaid_ratio_threshold"`
	LargeUnpaidBalance   float64 `yaml:"large_unpaid_balance"`

	CriticalAgedUnpaid float64 `yaml:"critical_aged_unpaid"`
	HighTotalUnpaid    float64 `yaml:"high_total_unpaid"`
	MediumTotalUnpaid  float64 `yaml:"medium_total_unpaid"`

	// BenefitScoreThreshold is the score from which a counterparty's
	// distributions count towards the identified benefit.
	BenefitScoreThreshold float64 `yaml:"benefit_score_threshold"`
}

func DefaultRules() Rules {
	return Rules{
		NonResidentWeight:   40,
		MinorWeight:         35,
		ReimbursementWeight: 30,
		AgedUnpaidWeight:    25,
		UnpaidRatioWeight:   20,

		ExclusionReduction: 40,

		AgedUnpaidYears:      2,
		UnpaidRatioThreshold: 0.8,
		LargeUnpaidBalance:   100_000,

		CriticalAgedUnpaid: 500_000,
		HighTotalUnpaid:    250_000,
		MediumTotalUnpaid:  50_000,

		BenefitScoreThreshold: 50,
	}
}

type namedValue struct {
	name  string
	value float64
}

// Validate rejects non-finite or negative values and an inverted unpaid
// ladder. Problems are reported in field order.
func (r Rules) Validate() error {
	values := []namedValue{
		{"non_resident_weight", r.NonResidentWeight},
		{"minor_weight", r.MinorWeight},
		{"reimbursement_weight", r.ReimbursementWeight},
		{"aged_unpaid_weight", r.AgedUnpaidWeight},
		{"unpaid_ratio_weight", r.UnpaidRatioWeight},
		{"exclusion_reduction", r.ExclusionReduction},
		{"aged_unpaid_years", r.AgedUnpaidYears},
		{"unpaid_ratio_threshold", r.UnpaidRatioThreshold},
		{"large_unpaid_balance", r.LargeUnpaidBalance},
		{"critical_aged_unpaid", r.CriticalAgedUnpaid},
		{"high_total_unpaid", r.HighTotalUnpaid},
		{"medium_total_unpaid", r.MediumTotalUnpaid},
		{"benefit_score_threshold", r.BenefitScoreThreshold},
	}
	var errs []error
	for _, item := range values {
		switch {
		case math.IsNaN(item.value) || math.IsInf(item.value, 0):
			errs = append(errs, fmt.Errorf("%s must be a finite number", item.name))
		case item.value < 0:
			errs = append(errs, fmt.Errorf("%s must not be negative", item.name))
		}
	}
	if r.MediumTotalUnpaid > r.HighTotalUnpaid {
		errs = append(errs, errors.New("medium_total_unpaid must not exceed high_total_unpaid"))
	}
	return errors.Join(errs...)
}
