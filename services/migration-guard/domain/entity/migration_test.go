package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyByName(t *testing.T) {
	tests := []struct {
		name     string
		critical bool
		risk     DataLossRisk
	}{
		{"add_user_data", true, DataLossRiskHigh},
		{"seed_countries", false, DataLossRiskHigh},
		{"add_orders_index", false, DataLossRiskLow},
		{"performance_tuning", true, DataLossRiskLow},
		{"enable_rls_policies", true, DataLossRiskMedium},
		{"Security_Definer_Functions", true, DataLossRiskMedium},
		{"create_orders", false, DataLossRiskUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ClassifyByName(tt.name)
			assert.Equal(t, tt.critical, c.Critical)
			assert.Equal(t, tt.risk, c.DataLossRisk)
		})
	}
}

func TestExplicitClassificationWins(t *testing.T) {
	unit := MigrationUnit{Name: "add_user_data", Classification: &UnitClassification{Critical: false}}
	c := unit.Classify()
	assert.False(t, c.Critical)
	assert.Equal(t, DataLossRiskUnknown, c.DataLossRisk)

	unit.Classification = nil
	assert.True(t, unit.Classify().Critical)
}

func TestParseDataLossRisk(t *testing.T) {
	assert.Equal(t, DataLossRiskHigh, ParseDataLossRisk(" HIGH "))
	assert.Equal(t, DataLossRiskLow, ParseDataLossRisk("low"))
	assert.Equal(t, DataLossRiskUnknown, ParseDataLossRisk("catastrophic"))
}

func TestExecutionContextPrincipal(t *testing.T) {
	assert.Equal(t, SystemActor, ExecutionContext{Actor: "  "}.Principal())
	assert.Equal(t, "alice", ExecutionContext{Actor: "alice"}.Principal())

	ec := SystemContext().WithCorrelationID("corr-9")
	assert.True(t, ec.IsAdmin)
	assert.Equal(t, "corr-9", ec.CorrelationID)
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, -1, CompareVersions("2", "10"))
	assert.Equal(t, 1, CompareVersions("20240102", "20240101"))
	assert.Equal(t, 0, CompareVersions("007", "7"))
	assert.Equal(t, -1, CompareVersions("1a", "1b"))
}
