package clearance

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultRules returns the standard pre-scoring disqualifiers. These seed
// a new company's configuration and can be edited or disabled afterwards.
func DefaultRules() []*domain.ClearanceRule {
	return []*domain.ClearanceRule{
		{
			ID:          "age-window",
			Name:        "Age Window",
			Description: "Applicant must be between 21 and 60 years old",
			Expression:  "age < 21 || age > 60",
			Reason:      "age outside allowed range (21-60)",
			Enabled:     true,
		},
		{
			ID:          "minimum-income",
			Name:        "Minimum Income",
			Description: "Monthly income below the serviceability floor",
			Expression:  "monthly_income < 15000",
			Reason:      "monthly income below minimum (15000)",
			Enabled:     true,
		},
		{
			ID:          "writeoff",
			Name:        "Write-off Flag",
			Description: "Any written-off account disqualifies outright",
			Expression:  "writeoff_flag == true",
			Reason:      "write-off on record",
			Enabled:     true,
		},
		{
			ID:          "chronic-dpd",
			Name:        "Chronic Delinquency",
			Description: "More than two 30+ DPD instances in the last year",
			Expression:  "dpd30plus > 2",
			Reason:      "more than two 30+ DPD instances",
			Enabled:     true,
		},
		{
			ID:          "defaulted-loans",
			Name:        "Defaulted Loans",
			Description: "Any historical loan default disqualifies outright",
			Expression:  "defaulted_loans > 0",
			Reason:      "defaulted loan on record",
			Enabled:     true,
		},
	}
}
