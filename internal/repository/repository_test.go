package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	companyID := "company-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetVariableDefinition", func(t *testing.T) {
		def := &domain.VariableDefinition{
			ID:            "credit_score",
			Name:          "Credit Score",
			Category:      "core_credit",
			DataType:      domain.TypeInteger,
			DefaultWeight: 11,
			Bands: []domain.ScoreBand{
				{Min: domain.Fptr(750), Score: 1.0, Label: "excellent"},
				{Min: domain.Fptr(700), Max: domain.Fptr(749), Score: 0.8},
			},
			Enabled: true,
		}

		if err := repo.SaveVariableDefinition(ctx, def); err != nil {
			t.Fatalf("SaveVariableDefinition failed: %v", err)
		}

		retrieved, err := repo.GetVariableDefinition(ctx, def.ID)
		if err != nil {
			t.Fatalf("GetVariableDefinition failed: %v", err)
		}
		if retrieved.Name != def.Name {
			t.Errorf("expected Name %s, got %s", def.Name, retrieved.Name)
		}
		if len(retrieved.Bands) != 2 {
			t.Errorf("expected 2 bands, got %d", len(retrieved.Bands))
		}
		if retrieved.Bands[0].Min == nil || *retrieved.Bands[0].Min != 750 {
			t.Errorf("band min not round-tripped: %+v", retrieved.Bands[0])
		}

		// Upsert updates in place
		def.DefaultWeight = 12
		if err := repo.SaveVariableDefinition(ctx, def); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
		retrieved, err = repo.GetVariableDefinition(ctx, def.ID)
		if err != nil {
			t.Fatalf("GetVariableDefinition failed: %v", err)
		}
		if retrieved.DefaultWeight != 12 {
			t.Errorf("expected updated weight 12, got %v", retrieved.DefaultWeight)
		}
	})

	t.Run("ListVariableDefinitions", func(t *testing.T) {
		defs, err := repo.ListVariableDefinitions(ctx)
		if err != nil {
			t.Fatalf("ListVariableDefinitions failed: %v", err)
		}
		if len(defs) != 1 {
			t.Errorf("expected 1 definition, got %d", len(defs))
		}
	})

	t.Run("SaveAndGetWeightConfig", func(t *testing.T) {
		weights := domain.WeightConfiguration{"credit_score": 12, "foir": 7}

		if err := repo.SaveWeightConfig(ctx, companyID, weights); err != nil {
			t.Fatalf("SaveWeightConfig failed: %v", err)
		}

		retrieved, err := repo.GetWeightConfig(ctx, companyID)
		if err != nil {
			t.Fatalf("GetWeightConfig failed: %v", err)
		}
		if retrieved["credit_score"] != 12 || retrieved["foir"] != 7 {
			t.Errorf("weights not round-tripped: %v", retrieved)
		}
	})

	t.Run("SaveAndGetFallbackTable", func(t *testing.T) {
		fallbacks := domain.FallbackTable{"foir": 0.5, "dpd30plus": 0.8}

		if err := repo.SaveFallbackTable(ctx, companyID, fallbacks); err != nil {
			t.Fatalf("SaveFallbackTable failed: %v", err)
		}

		retrieved, err := repo.GetFallbackTable(ctx, companyID)
		if err != nil {
			t.Fatalf("GetFallbackTable failed: %v", err)
		}
		if retrieved["dpd30plus"] != 0.8 {
			t.Errorf("fallbacks not round-tripped: %v", retrieved)
		}
	})

	t.Run("SaveAndGetFieldMapping", func(t *testing.T) {
		mapping := domain.FieldMapping{"bal_avg": "avg_monthly_balance", "cibil": "credit_score"}

		if err := repo.SaveFieldMapping(ctx, companyID, "dsa-7", mapping); err != nil {
			t.Fatalf("SaveFieldMapping failed: %v", err)
		}

		retrieved, err := repo.GetFieldMapping(ctx, companyID, "dsa-7")
		if err != nil {
			t.Fatalf("GetFieldMapping failed: %v", err)
		}
		if retrieved["cibil"] != "credit_score" {
			t.Errorf("mapping not round-tripped: %v", retrieved)
		}
	})

	t.Run("SaveAndListClearanceRules", func(t *testing.T) {
		rule := &domain.ClearanceRule{
			ID:         "age-window",
			Name:       "Age Window",
			Expression: "age < 21 || age > 60",
			Reason:     "age outside allowed range",
			Enabled:    true,
		}

		if err := repo.SaveClearanceRule(ctx, companyID, rule); err != nil {
			t.Fatalf("SaveClearanceRule failed: %v", err)
		}

		rules, err := repo.ListClearanceRules(ctx, companyID)
		if err != nil {
			t.Fatalf("ListClearanceRules failed: %v", err)
		}
		if len(rules) != 1 || rules[0].Expression != rule.Expression {
			t.Errorf("rules not round-tripped: %+v", rules)
		}

		if err := repo.DeleteClearanceRule(ctx, companyID, rule.ID); err != nil {
			t.Fatalf("DeleteClearanceRule failed: %v", err)
		}
		rules, err = repo.ListClearanceRules(ctx, companyID)
		if err != nil {
			t.Fatalf("ListClearanceRules failed: %v", err)
		}
		if len(rules) != 0 {
			t.Errorf("expected soft-deleted rule excluded, got %d", len(rules))
		}
	})

	t.Run("SaveAndGetScoredRecord", func(t *testing.T) {
		record := &domain.ScoredRecord{
			ID:          "rec-001",
			PartnerID:   "dsa-7",
			FinalScore:  16.6,
			TotalWeight: 100,
			Scores: map[string]domain.VariableScore{
				"credit_score": {Value: 720.0, Score: 0.8, Weight: 12, WeightedScore: 9.6, Reason: domain.ReasonScored},
			},
			Decision: &domain.Decision{
				Bucket: domain.BucketHighRisk,
				Action: domain.ActionReject,
			},
			Timestamp: time.Now().UTC(),
			Metadata:  domain.RecordMetadata{TraceID: "trace-001", EngineVersion: "kestrel-1.0"},
		}

		if err := repo.SaveScoredRecord(ctx, companyID, record); err != nil {
			t.Fatalf("SaveScoredRecord failed: %v", err)
		}

		retrieved, err := repo.GetScoredRecord(ctx, companyID, record.ID)
		if err != nil {
			t.Fatalf("GetScoredRecord failed: %v", err)
		}
		if retrieved.FinalScore != 16.6 {
			t.Errorf("expected FinalScore 16.6, got %v", retrieved.FinalScore)
		}
		if retrieved.Decision == nil || retrieved.Decision.Action != domain.ActionReject {
			t.Errorf("decision not round-tripped: %+v", retrieved.Decision)
		}
		if retrieved.Scores["credit_score"].Reason != domain.ReasonScored {
			t.Errorf("scores not round-tripped: %+v", retrieved.Scores)
		}
	})

	t.Run("CompanyIsolation", func(t *testing.T) {
		_, err := repo.GetScoredRecord(ctx, "company-002", "rec-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different company, got: %v", err)
		}
		_, err = repo.GetWeightConfig(ctx, "company-002")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different company, got: %v", err)
		}
	})

	t.Run("RequiresCompanyID", func(t *testing.T) {
		if err := repo.SaveWeightConfig(ctx, "", domain.WeightConfiguration{"x": 1}); err == nil {
			t.Error("expected error for empty companyID")
		}
		if _, err := repo.GetScoredRecord(ctx, "", "rec-001"); err == nil {
			t.Error("expected error for empty companyID")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetScoredRecord(ctx, companyID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		_, err = repo.GetVariableDefinition(ctx, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
