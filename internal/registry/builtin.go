package registry

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Band authoring helpers. Bands evaluate first-match in declared order;
// numeric ranges are inclusive at both ends.

func numBand(min, max *float64, score float64, label string) domain.ScoreBand {
	return domain.ScoreBand{Min: min, Max: max, Score: score, Label: label}
}

func catBand(score float64, label string, values ...string) domain.ScoreBand {
	return domain.ScoreBand{Match: values, Score: score, Label: label}
}

func anyBand(score float64, label string) domain.ScoreBand {
	return domain.ScoreBand{Score: score, Label: label}
}

func f(v float64) *float64 { return domain.Fptr(v) }

// minChain builds descending open-ended bands: value >= cuts[i] takes
// scores[i], first match wins.
func minChain(cuts []float64, scores []float64) []domain.ScoreBand {
	bands := make([]domain.ScoreBand, 0, len(cuts))
	for i, c := range cuts {
		bands = append(bands, numBand(f(c), nil, scores[i], ""))
	}
	return bands
}

// maxChain builds ascending open-ended bands: value <= cuts[i] takes
// scores[i], first match wins.
func maxChain(cuts []float64, scores []float64) []domain.ScoreBand {
	bands := make([]domain.ScoreBand, 0, len(cuts))
	for i, c := range cuts {
		bands = append(bands, numBand(nil, f(c), scores[i], ""))
	}
	return bands
}

// Builtin returns the standard scorecard variable definitions.
func Builtin() []*domain.VariableDefinition {
	on := func(d domain.VariableDefinition) *domain.VariableDefinition {
		d.Enabled = true
		return &d
	}

	return []*domain.VariableDefinition{
		// Core credit variables
		on(domain.VariableDefinition{
			ID: "credit_score", Name: "Credit Score", Category: "core_credit",
			DataType: domain.TypeInteger, DefaultWeight: 11,
			Bands: []domain.ScoreBand{
				numBand(f(750), nil, 1.0, "excellent"),
				numBand(f(700), f(749), 0.8, "good"),
				numBand(f(650), f(699), 0.6, "fair"),
				numBand(f(600), f(649), 0.4, "below_average"),
				numBand(f(550), f(599), 0.2, "poor"),
				numBand(f(300), f(549), 0.0, "very_poor"),
			},
			Rationale: "Bureau score is the strongest single default predictor.",
		}),
		on(domain.VariableDefinition{
			ID: "foir", Name: "FOIR", Category: "core_credit",
			DataType: domain.TypeReal, DefaultWeight: 7,
			Bands: append(
				maxChain([]float64{35, 45, 55, 65, 75}, []float64{1.0, 0.8, 0.6, 0.4, 0.2}),
				numBand(f(75), nil, 0.0, "overextended"),
			),
			Rationale: "Fixed obligation to income ratio; lower means more repayment headroom.",
		}),
		on(domain.VariableDefinition{
			ID: "dpd30plus", Name: "DPD 30+", Category: "core_credit",
			DataType: domain.TypeInteger, DefaultWeight: 7,
			Bands: []domain.ScoreBand{
				numBand(f(0), f(0), 1.0, "clean"),
				numBand(f(1), f(1), 0.6, ""),
				numBand(f(2), f(2), 0.3, ""),
				numBand(f(3), nil, 0.0, "chronic"),
			},
			Rationale: "Count of 30+ days-past-due instances in the last 12 months.",
		}),
		on(domain.VariableDefinition{
			ID: "enquiry_count", Name: "Enquiry Count", Category: "core_credit",
			DataType: domain.TypeInteger, DefaultWeight: 6,
			Bands: []domain.ScoreBand{
				numBand(f(0), f(2), 1.0, ""),
				numBand(f(3), f(4), 0.8, ""),
				numBand(f(5), f(6), 0.6, ""),
				numBand(f(7), f(8), 0.4, ""),
				numBand(f(9), f(10), 0.2, ""),
				numBand(f(11), nil, 0.0, "credit_hungry"),
			},
			Rationale: "Recent bureau enquiries signal credit appetite.",
		}),
		on(domain.VariableDefinition{
			ID: "monthly_income", Name: "Monthly Income", Category: "core_credit",
			DataType: domain.TypeReal, DefaultWeight: 7,
			Bands: minChain(
				[]float64{100000, 75000, 50000, 30000, 15000, 0},
				[]float64{1.0, 0.8, 0.6, 0.4, 0.2, 0.0},
			),
		}),
		on(domain.VariableDefinition{
			ID: "age", Name: "Age", Category: "core_credit",
			DataType: domain.TypeInteger, DefaultWeight: 0,
			Bands: []domain.ScoreBand{
				numBand(f(26), f(35), 1.0, "prime"),
				numBand(f(36), f(45), 0.8, ""),
				numBand(f(21), f(25), 0.6, ""),
				numBand(f(46), f(55), 0.6, ""),
				numBand(f(56), f(60), 0.4, ""),
				numBand(f(0), nil, 0.0, "outside_window"),
			},
			Rationale: "Eligibility window enforced by clearance rules; bands refine within it.",
		}),

		// Behavioral analytics
		on(domain.VariableDefinition{
			ID: "credit_vintage", Name: "Credit Vintage", Category: "behavioral",
			DataType: domain.TypeInteger, DefaultWeight: 3,
			Bands: minChain(
				[]float64{60, 36, 24, 12, 0},
				[]float64{1.0, 0.8, 0.6, 0.4, 0.2},
			),
			Rationale: "Months since first credit line.",
		}),
		on(domain.VariableDefinition{
			ID: "loan_mix_type", Name: "Loan Mix Type", Category: "behavioral",
			DataType: domain.TypeText, DefaultWeight: 2,
			Bands: []domain.ScoreBand{
				catBand(1.0, "secured", "secured_only", "mixed_balanced"),
				catBand(0.8, "", "mixed_secured_heavy", "secured_dominant"),
				catBand(0.6, "", "mixed_unsecured_heavy", "balanced"),
				catBand(0.4, "", "unsecured_only", "unsecured_dominant"),
				anyBand(0.2, "other"),
			},
		}),
		on(domain.VariableDefinition{
			ID: "loan_completion_ratio", Name: "Loan Completion Ratio", Category: "behavioral",
			DataType: domain.TypeReal, DefaultWeight: 3,
			Bands: minChain(
				[]float64{0.9, 0.8, 0.7, 0.6, 0.5, 0},
				[]float64{1.0, 0.8, 0.6, 0.4, 0.2, 0.0},
			),
		}),
		on(domain.VariableDefinition{
			ID: "defaulted_loans", Name: "Defaulted Loans", Category: "behavioral",
			DataType: domain.TypeInteger, DefaultWeight: 7,
			Bands: []domain.ScoreBand{
				numBand(f(0), f(0), 1.0, "clean"),
				numBand(f(1), nil, 0.0, "defaulted"),
			},
			Rationale: "Any historical default is treated as critical.",
		}),

		// Employment stability
		on(domain.VariableDefinition{
			ID: "job_type", Name: "Job Type", Category: "employment",
			DataType: domain.TypeText, DefaultWeight: 2,
			Bands: []domain.ScoreBand{
				catBand(1.0, "", "government", "psu", "mnc"),
				catBand(0.8, "", "large_corporate", "established_company"),
				catBand(0.6, "", "mid_size_company", "stable_private"),
				catBand(0.4, "", "small_company", "startup"),
				catBand(0.2, "", "self_employed", "freelance"),
				anyBand(0.3, "other"),
			},
		}),
		on(domain.VariableDefinition{
			ID: "employment_tenure", Name: "Employment Tenure", Category: "employment",
			DataType: domain.TypeInteger, DefaultWeight: 4,
			Bands: minChain(
				[]float64{60, 36, 24, 12, 6, 0},
				[]float64{1.0, 0.8, 0.6, 0.4, 0.2, 0.0},
			),
			Rationale: "Months with current employer.",
		}),
		on(domain.VariableDefinition{
			ID: "company_stability", Name: "Company Stability", Category: "employment",
			DataType: domain.TypeText, DefaultWeight: 1,
			Bands: []domain.ScoreBand{
				catBand(1.0, "", "excellent", "very_stable"),
				catBand(0.8, "", "good", "stable"),
				catBand(0.6, "", "average", "moderate"),
				catBand(0.4, "", "below_average", "unstable"),
				catBand(0.2, "", "poor", "very_unstable"),
				anyBand(0.5, "unknown"),
			},
		}),

		// Banking behavior
		on(domain.VariableDefinition{
			ID: "account_vintage", Name: "Account Vintage", Category: "banking",
			DataType: domain.TypeInteger, DefaultWeight: 3,
			Bands: minChain(
				[]float64{60, 36, 24, 12, 0},
				[]float64{1.0, 0.8, 0.6, 0.4, 0.2},
			),
			Rationale: "Months since the primary bank account was opened.",
		}),
		on(domain.VariableDefinition{
			ID: "avg_monthly_balance", Name: "Average Monthly Balance", Category: "banking",
			DataType: domain.TypeReal, DefaultWeight: 6,
			Bands: minChain(
				[]float64{100000, 50000, 25000, 10000, 5000, 0},
				[]float64{1.0, 0.8, 0.6, 0.4, 0.2, 0.0},
			),
		}),
		on(domain.VariableDefinition{
			ID: "bounce_frequency", Name: "Bounce Frequency", Category: "banking",
			DataType: domain.TypeInteger, DefaultWeight: 4,
			Bands: []domain.ScoreBand{
				numBand(f(0), f(0), 1.0, "clean"),
				numBand(f(1), f(2), 0.8, ""),
				numBand(f(3), f(4), 0.6, ""),
				numBand(f(5), f(6), 0.4, ""),
				numBand(f(7), f(8), 0.2, ""),
				numBand(f(9), nil, 0.0, ""),
			},
			Rationale: "Cheque or mandate bounces in the last 12 months.",
		}),

		// Geographic and social
		on(domain.VariableDefinition{
			ID: "geographic_risk", Name: "Geographic Risk", Category: "geo_social",
			DataType: domain.TypeText, DefaultWeight: 1,
			Bands: []domain.ScoreBand{
				catBand(1.0, "", "low", "very_low"),
				catBand(0.8, "", "moderate_low", "below_average"),
				catBand(0.6, "", "moderate", "average"),
				catBand(0.4, "", "moderate_high", "above_average"),
				catBand(0.2, "", "high", "very_high"),
				anyBand(0.5, "unknown"),
			},
		}),
		on(domain.VariableDefinition{
			ID: "mobile_number_vintage", Name: "Mobile Number Vintage", Category: "geo_social",
			DataType: domain.TypeInteger, DefaultWeight: 3,
			Bands: minChain(
				[]float64{60, 36, 24, 12, 0},
				[]float64{1.0, 0.8, 0.6, 0.4, 0.2},
			),
		}),
		on(domain.VariableDefinition{
			ID: "digital_engagement", Name: "Digital Engagement", Category: "geo_social",
			DataType: domain.TypeReal, DefaultWeight: 3,
			Bands: minChain(
				[]float64{80, 60, 40, 20, 0},
				[]float64{1.0, 0.8, 0.6, 0.4, 0.2},
			),
			Rationale: "Composite 0-100 digital footprint score.",
		}),

		// Exposure and intent
		on(domain.VariableDefinition{
			ID: "unsecured_loan_amount", Name: "Unsecured Loan Amount", Category: "exposure",
			DataType: domain.TypeReal, DefaultWeight: 7,
			Bands: []domain.ScoreBand{
				numBand(f(0), f(0), 1.0, "none"),
				numBand(nil, f(100000), 0.8, ""),
				numBand(nil, f(300000), 0.6, ""),
				numBand(nil, f(500000), 0.4, ""),
				numBand(nil, f(1000000), 0.2, ""),
				numBand(f(1000000), nil, 0.0, ""),
			},
		}),
		on(domain.VariableDefinition{
			ID: "outstanding_amount_percent", Name: "Outstanding Amount Percent", Category: "exposure",
			DataType: domain.TypeReal, DefaultWeight: 7,
			Bands: append(
				maxChain([]float64{20, 40, 60, 80, 90}, []float64{1.0, 0.8, 0.6, 0.4, 0.2}),
				numBand(f(90), nil, 0.0, ""),
			),
		}),
		on(domain.VariableDefinition{
			ID: "our_lender_exposure", Name: "Our Lender Exposure", Category: "exposure",
			DataType: domain.TypeReal, DefaultWeight: 7,
			Bands: []domain.ScoreBand{
				numBand(f(0), f(0), 1.0, "none"),
				numBand(nil, f(50000), 0.8, ""),
				numBand(nil, f(100000), 0.6, ""),
				numBand(nil, f(200000), 0.4, ""),
				numBand(nil, f(500000), 0.2, ""),
				numBand(f(500000), nil, 0.0, ""),
			},
		}),
		on(domain.VariableDefinition{
			ID: "channel_type", Name: "Channel Type", Category: "exposure",
			DataType: domain.TypeText, DefaultWeight: 1,
			Bands: []domain.ScoreBand{
				catBand(1.0, "", "direct", "branch"),
				catBand(0.8, "", "partner", "dsa"),
				catBand(0.6, "", "online", "digital"),
				catBand(0.4, "", "referral", "agent"),
				anyBand(0.5, "other"),
			},
		}),
	}
}

// DefaultWeights returns the standard weight configuration: every builtin
// variable with a non-zero default weight, in percentage points.
func DefaultWeights() domain.WeightConfiguration {
	weights := make(domain.WeightConfiguration)
	for _, d := range Builtin() {
		if d.DefaultWeight > 0 {
			weights[d.ID] = d.DefaultWeight
		}
	}
	return weights
}

// DefaultFallbacks returns the standard fallback-score table applied when
// an input field is missing.
func DefaultFallbacks() domain.FallbackTable {
	return domain.FallbackTable{
		"credit_score":               0.3,
		"foir":                       0.5,
		"dpd30plus":                  0.8,
		"enquiry_count":              0.7,
		"monthly_income":             0.0,
		"credit_vintage":             0.5,
		"loan_mix_type":              0.5,
		"loan_completion_ratio":      0.5,
		"defaulted_loans":            0.8,
		"job_type":                   0.5,
		"employment_tenure":          0.5,
		"company_stability":          0.5,
		"account_vintage":            0.5,
		"avg_monthly_balance":        0.5,
		"bounce_frequency":           0.7,
		"geographic_risk":            0.7,
		"mobile_number_vintage":      0.5,
		"digital_engagement":         0.5,
		"unsecured_loan_amount":      0.5,
		"outstanding_amount_percent": 0.5,
		"our_lender_exposure":        0.7,
		"channel_type":               0.5,
	}
}
