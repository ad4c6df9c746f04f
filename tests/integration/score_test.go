//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel scoring engine.
//
// These tests verify the COMPLETE scoring pipeline:
//
//	Raw Record → Field Mapping → Clearance → Variable Scoring → Decision
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. RECORD: A loan applicant's data as key/value fields (credit_score,
//    foir, monthly_income, ...). Partners may send their own field names,
//    renamed via a stored mapping before scoring.
//
// 2. VARIABLE: One scoring factor. Each variable has:
//   - Bands: value ranges (or categorical match sets) mapped to a sub-score
//   - Weight: importance when aggregating (points out of the total)
//   - Fallback: optional sub-score used when the field is missing
//
// 3. CLEARANCE: Hard knockout rules (CEL expressions) evaluated before
//    scoring. Any firing rule forces High Risk / REJECT regardless of score.
//
// 4. DECISION: Final score (0-100) mapped through the threshold matrix:
//   - >= 70 → Low Risk    → APPROVE
//   - >= 50 → Medium Risk → REVIEW
//   - else  → High Risk   → REJECT
//
// These tests run against the BUILTIN scorecard and default clearance
// rules. A deployment with a custom scorecard bundle or stored company
// configuration will produce different scores.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL   string
	CompanyID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:   baseURL,
		CompanyID: "test-company",
	}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// ScoreRequest is the record sent to POST /score
type ScoreRequest struct {
	PartnerID string         `json:"partnerId,omitempty"`
	Record    map[string]any `json:"record"`
}

// ScoreResponse is what POST /score returns
type ScoreResponse struct {
	ID         string                   `json:"id"`
	CompanyID  string                   `json:"companyId"`
	FinalScore float64                  `json:"finalScore"`
	Scores     map[string]VariableScore `json:"scores"`
	Decision   Decision                 `json:"decision"`
	Metadata   ResponseMetadata         `json:"metadata"`
}

type VariableScore struct {
	Score         float64 `json:"score"`
	Weight        float64 `json:"weight"`
	WeightedScore float64 `json:"weightedScore"`
	Reason        string  `json:"reason"`
}

type Decision struct {
	Bucket            string   `json:"bucket"`
	Action            string   `json:"action"`
	Reasons           []string `json:"reasons,omitempty"`
	ClearanceOverride bool     `json:"clearanceOverride,omitempty"`
}

type ResponseMetadata struct {
	TraceID            string `json:"traceId"`
	TotalMs            int64  `json:"totalMs"`
	VariablesEvaluated int    `json:"variablesEvaluated"`
	EngineVersion      string `json:"engineVersion"`
}

// BatchResponse is what POST /score/batch returns
type BatchResponse struct {
	Count    int `json:"count"`
	Failed   int `json:"failed"`
	Outcomes []struct {
		Index  int            `json:"index"`
		Record *ScoreResponse `json:"record,omitempty"`
		Error  string         `json:"error,omitempty"`
	} `json:"outcomes"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

// strongApplicant hits the top band of every builtin variable.
func strongApplicant() map[string]any {
	return map[string]any{
		"age":                        32,
		"credit_score":               780,
		"foir":                       25,
		"dpd30plus":                  0,
		"enquiry_count":              1,
		"monthly_income":             120000,
		"credit_vintage":             60,
		"loan_mix_type":              "secured_only",
		"loan_completion_ratio":      0.9,
		"defaulted_loans":            0,
		"job_type":                   "government",
		"employment_tenure":          72,
		"company_stability":          "excellent",
		"account_vintage":            48,
		"avg_monthly_balance":        150000,
		"bounce_frequency":           0,
		"geographic_risk":            "low",
		"mobile_number_vintage":      60,
		"digital_engagement":         80,
		"unsecured_loan_amount":      0,
		"outstanding_amount_percent": 10,
		"our_lender_exposure":        0,
		"channel_type":               "branch",
	}
}

func score(t *testing.T, config TestConfig, req ScoreRequest) ScoreResponse {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+"/score", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Company-ID", config.CompanyID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var result ScoreResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}

	return result
}

// ============================================================================
// SCENARIO 1: Strong Applicant (APPROVE)
// ============================================================================

func TestStrongApplicant_Approved(t *testing.T) {
	/*
	   SCENARIO: An applicant whose every field hits the top scoring band

	   EXPECTED BEHAVIOR:
	   - No clearance rule fires (no writeoff, no delinquency flags)
	   - Every variable scores 1.0, weighted aggregate ≈ 99+ out of 100
	   - Final score >= 70 → Low Risk → APPROVE
	*/
	config := getTestConfig()

	result := score(t, config, ScoreRequest{Record: strongApplicant()})

	// ASSERTIONS
	if result.Decision.Action != "APPROVE" {
		t.Errorf("Expected APPROVE, got %s (score %.2f)", result.Decision.Action, result.FinalScore)
	}

	if result.Decision.Bucket != "Low Risk" {
		t.Errorf("Expected Low Risk bucket, got %s", result.Decision.Bucket)
	}

	if result.FinalScore < 90 {
		t.Errorf("Expected high score (>= 90), got %.2f", result.FinalScore)
	}

	if result.Decision.ClearanceOverride {
		t.Error("Clean applicant should not have a clearance override")
	}

	t.Logf("✓ Strong applicant approved: score=%.2f, bucket=%s", result.FinalScore, result.Decision.Bucket)
}

// ============================================================================
// SCENARIO 2: Clearance Knockout (Forced REJECT)
// ============================================================================

func TestWriteoffFlag_Rejected(t *testing.T) {
	/*
	   SCENARIO: A strong applicant with a past loan writeoff

	   EXPECTED BEHAVIOR:
	   - The writeoff clearance rule fires BEFORE any scoring
	   - Decision is forced to High Risk / REJECT regardless of the
	     weighted score
	   - clearanceOverride is set so reviewers can tell a knockout from
	     a low-score rejection

	   WHY THIS MATTERS:
	   Knockout criteria are policy, not statistics. A written-off loan
	   disqualifies the applicant even with a perfect scorecard.
	*/
	config := getTestConfig()

	record := strongApplicant()
	record["writeoff_flag"] = true

	result := score(t, config, ScoreRequest{Record: record})

	if result.Decision.Action != "REJECT" {
		t.Errorf("Expected REJECT for writeoff, got %s", result.Decision.Action)
	}

	if result.Decision.Bucket != "High Risk" {
		t.Errorf("Expected High Risk bucket, got %s", result.Decision.Bucket)
	}

	if !result.Decision.ClearanceOverride {
		t.Error("Expected clearanceOverride to be set")
	}

	if len(result.Decision.Reasons) == 0 {
		t.Error("Expected rejection reasons from the fired rule")
	}

	t.Logf("✓ Writeoff rejected: action=%s, reasons=%v", result.Decision.Action, result.Decision.Reasons)
}

// ============================================================================
// SCENARIO 3: Threshold Boundary Testing
// ============================================================================

func TestCreditScoreBoundary(t *testing.T) {
	/*
	   SCENARIO: Two applicants identical except credit_score 750 vs 749

	   EXPECTED BEHAVIOR:
	   - Bands are inclusive on both ends. The builtin credit_score
	     variable's top band starts at 750, so 750 scores 1.0 and 749
	     falls into the next band down.

	   WHY THIS TEST:
	   Boundary conditions catch off-by-one errors in band matching.
	*/
	config := getTestConfig()

	atBoundary := strongApplicant()
	atBoundary["credit_score"] = 750
	resultAt := score(t, config, ScoreRequest{Record: atBoundary})

	belowBoundary := strongApplicant()
	belowBoundary["credit_score"] = 749
	resultBelow := score(t, config, ScoreRequest{Record: belowBoundary})

	atScore := resultAt.Scores["credit_score"].Score
	belowScore := resultBelow.Scores["credit_score"].Score

	if atScore != 1.0 {
		t.Errorf("Expected credit_score 750 to hit top band (1.0), got %.2f", atScore)
	}

	if belowScore >= atScore {
		t.Errorf("Expected 749 to score below 750: got %.2f vs %.2f", belowScore, atScore)
	}

	t.Logf("✓ Boundary test passed: 750 → %.2f, 749 → %.2f", atScore, belowScore)
}

// ============================================================================
// SCENARIO 4: Missing Fields (Fallbacks)
// ============================================================================

func TestMissingFields_FallbacksApplied(t *testing.T) {
	/*
	   SCENARIO: Applicant record missing the foir field

	   EXPECTED BEHAVIOR:
	   - foir has a builtin fallback score, applied with reason
	     "fallback_applied"
	   - The variable still contributes its weight, so the total weight
	     (and the denominator) is unchanged
	   - The overall decision still succeeds; missing data degrades the
	     score, it does not error
	*/
	config := getTestConfig()

	record := strongApplicant()
	delete(record, "foir")

	result := score(t, config, ScoreRequest{Record: record})

	foir, ok := result.Scores["foir"]
	if !ok {
		t.Fatal("Expected foir in scores even when the field is missing")
	}

	if foir.Reason != "fallback_applied" {
		t.Errorf("Expected fallback_applied reason, got %s", foir.Reason)
	}

	t.Logf("✓ Fallback applied: foir score=%.2f, final=%.2f", foir.Score, result.FinalScore)
}

// ============================================================================
// SCENARIO 5: Batch Scoring
// ============================================================================

func TestBatchScoring(t *testing.T) {
	/*
	   SCENARIO: Three records in one batch, the middle one with an
	   unparseable credit_score

	   EXPECTED BEHAVIOR:
	   - All three produce outcomes in input order
	   - The bad value degrades that record's credit_score to
	     invalid_value; the record itself still scores
	   - count = 3, failed = 0 (value problems are not batch failures)
	*/
	config := getTestConfig()

	bad := strongApplicant()
	bad["credit_score"] = "not-a-number"

	payload := map[string]any{
		"records": []map[string]any{strongApplicant(), bad, strongApplicant()},
	}

	body, _ := json.Marshal(payload)
	httpReq, _ := http.NewRequest("POST", config.BaseURL+"/score/batch", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Company-ID", config.CompanyID)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(body))
	}

	var result BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if result.Count != 3 {
		t.Errorf("Expected 3 outcomes, got %d", result.Count)
	}
	if result.Failed != 0 {
		t.Errorf("Expected 0 failed, got %d", result.Failed)
	}

	middle := result.Outcomes[1]
	if middle.Record == nil {
		t.Fatal("Expected a scored record for the bad-value row")
	}
	if middle.Record.Scores["credit_score"].Reason != "invalid_value" {
		t.Errorf("Expected invalid_value reason, got %s", middle.Record.Scores["credit_score"].Reason)
	}

	t.Logf("✓ Batch scored: count=%d, failed=%d", result.Count, result.Failed)
}

// ============================================================================
// SCENARIO 6: Input Validation
// ============================================================================

func TestEmptyRecord_Error(t *testing.T) {
	/*
	   SCENARIO: Request with an empty record map

	   EXPECTED: HTTP 400 Bad Request
	*/
	config := getTestConfig()

	body, _ := json.Marshal(ScoreRequest{Record: map[string]any{}})
	httpReq, _ := http.NewRequest("POST", config.BaseURL+"/score", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Company-ID", config.CompanyID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty record, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: empty record → HTTP %d", resp.StatusCode)
}

func TestMissingCompanyHeader_Error(t *testing.T) {
	/*
	   SCENARIO: Request without X-Company-ID header

	   EXPECTED: HTTP 400 Bad Request. Company ID is validated as a
	   required field, not as authentication.
	*/
	config := getTestConfig()

	body, _ := json.Marshal(ScoreRequest{Record: strongApplicant()})
	httpReq, _ := http.NewRequest("POST", config.BaseURL+"/score", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	// NO X-Company-ID header!

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing company header, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: missing company → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 7: Record Persistence
// ============================================================================

func TestScoredRecordRetrievable(t *testing.T) {
	/*
	   SCENARIO: Score a record, then fetch it back by ID

	   This ensures the persistence path works end to end and the stored
	   record carries the same decision the caller saw.
	*/
	config := getTestConfig()

	scored := score(t, config, ScoreRequest{Record: strongApplicant()})

	httpReq, _ := http.NewRequest("GET", config.BaseURL+"/records/"+scored.ID, nil)
	httpReq.Header.Set("X-Company-ID", config.CompanyID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 fetching stored record, got %d", resp.StatusCode)
	}

	var stored ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		t.Fatalf("Failed to decode stored record: %v", err)
	}

	if stored.ID != scored.ID {
		t.Errorf("Stored record ID mismatch: %s vs %s", stored.ID, scored.ID)
	}
	if stored.FinalScore != scored.FinalScore {
		t.Errorf("Stored score mismatch: %.2f vs %.2f", stored.FinalScore, scored.FinalScore)
	}

	t.Logf("✓ Record retrievable: id=%s, score=%.2f", stored.ID, stored.FinalScore)
}

// ============================================================================
// SCENARIO 8: Response Metadata Verification
// ============================================================================

func TestResponseMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify response includes all required metadata

	   This ensures the API contract is stable for clients.
	*/
	config := getTestConfig()

	result := score(t, config, ScoreRequest{Record: strongApplicant()})

	// Verify all required fields are present
	if result.ID == "" {
		t.Error("Missing id")
	}

	if result.CompanyID != config.CompanyID {
		t.Errorf("Expected companyId %s, got %s", config.CompanyID, result.CompanyID)
	}

	if result.FinalScore < 0 || result.FinalScore > 100 {
		t.Errorf("Score out of range: %.2f (expected 0-100)", result.FinalScore)
	}

	if result.Metadata.TraceID == "" {
		t.Error("Missing metadata.traceId")
	}

	if result.Metadata.VariablesEvaluated == 0 {
		t.Error("Expected variablesEvaluated > 0")
	}

	if result.Metadata.EngineVersion == "" {
		t.Error("Missing metadata.engineVersion")
	}

	// Note: TotalMs can be 0 for very fast operations (sub-millisecond)
	if result.Metadata.TotalMs < 0 {
		t.Error("Invalid metadata.totalMs (negative)")
	}

	t.Logf("✓ Metadata complete: id=%s, traceId=%s, engine=%s, totalMs=%d",
		result.ID[:8], result.Metadata.TraceID[:8], result.Metadata.EngineVersion, result.Metadata.TotalMs)
}
