// Package decision maps scored records to risk buckets and actions.
package decision

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Classify determines the final decision for a scored record.
//
// Any fired clearance rule forces High Risk / REJECT immediately with the
// rule reasons attached, regardless of the numeric score. Otherwise
// thresholds are checked in descending MinScore order and the first
// satisfied band wins; a score below every threshold declines. An empty
// threshold set falls back to the standard matrix.
func Classify(scored *domain.ScoredRecord, fired []*domain.ClearanceRule, thresholds []domain.ScoreThreshold) *domain.Decision {
	if len(fired) > 0 {
		reasons := make([]string, 0, len(fired))
		for _, r := range fired {
			reason := r.Reason
			if reason == "" {
				reason = r.Name
			}
			reasons = append(reasons, reason)
		}
		return &domain.Decision{
			Bucket:            domain.BucketHighRisk,
			Action:            domain.ActionReject,
			Reasons:           reasons,
			ClearanceOverride: true,
		}
	}

	if len(thresholds) == 0 {
		thresholds = domain.DefaultThresholds()
	}
	sorted := make([]domain.ScoreThreshold, len(thresholds))
	copy(sorted, thresholds)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinScore > sorted[j].MinScore
	})

	for _, t := range sorted {
		if scored.FinalScore >= t.MinScore {
			return &domain.Decision{Bucket: t.Bucket, Action: t.Action}
		}
	}
	return &domain.Decision{Bucket: domain.BucketHighRisk, Action: domain.ActionReject}
}
