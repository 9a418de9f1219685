package source

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
)

func file(content string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(content)}
}

func TestLoadOrdersUnitsAndPairsDownScripts(t *testing.T) {
	fsys := fstest.MapFS{
		"10_add_index_orders.sql":  file("CREATE INDEX idx_orders_total ON orders (total);"),
		"2_create_orders.sql":      file("CREATE TABLE orders (id int);\nALTER TABLE orders ADD COLUMN total numeric;"),
		"2_create_orders.down.sql": file("DROP TABLE orders;"),
		"3_seed_data.sql":          file("INSERT INTO orders VALUES (1, 10);"),
		"README.md":                file("not a migration"),
		"notes.sql":                file("SELECT 1;"),
		"migrations.yaml":          file("'3':\n  critical: false\n  data_loss_risk: low\n  affected_tables: [orders, order_items]\n"),
	}

	units, err := NewFSLoader(fsys, zaptest.NewLogger(t)).Load()
	require.NoError(t, err)
	require.Len(t, units, 3)

	assert.Equal(t, []string{"2", "3", "10"}, []string{units[0].Version, units[1].Version, units[2].Version})

	orders := units[0]
	assert.Equal(t, "create_orders", orders.Name)
	assert.Equal(t, []string{"CREATE TABLE orders (id int)", "ALTER TABLE orders ADD COLUMN total numeric"}, orders.Statements)
	assert.Equal(t, []string{"DROP TABLE orders"}, orders.Down)
	assert.Equal(t, []string{"orders"}, orders.AffectedTables)
	assert.Nil(t, orders.Classification)

	seed := units[1]
	require.NotNil(t, seed.Classification)
	assert.False(t, seed.Classification.Critical)
	assert.Equal(t, entity.DataLossRiskLow, seed.Classification.DataLossRisk)
	assert.Equal(t, []string{"orders", "order_items"}, seed.AffectedTables)
	assert.Equal(t, entity.DataLossRiskLow, seed.Classify().DataLossRisk)

	index := units[2]
	assert.Empty(t, index.Down)
	assert.Equal(t, entity.DataLossRiskLow, index.Classify().DataLossRisk)
	assert.Contains(t, Describe(index), "10_add_index_orders (1 statements")
}

func TestManifestTablesOnlyKeepsHeuristic(t *testing.T) {
	fsys := fstest.MapFS{
		"1_seed_data.sql": file("INSERT INTO users VALUES (1);"),
		"migrations.yaml": file("'1':\n  affected_tables: [users, profiles]\n"),
	}

	units, err := NewFSLoader(fsys, nil).Load()
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Nil(t, units[0].Classification)
	assert.Equal(t, entity.DataLossRiskHigh, units[0].Classify().DataLossRisk)
	assert.Equal(t, []string{"users", "profiles"}, units[0].AffectedTables)
}

func TestLoadRejectsInconsistentDirectories(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
		want string
	}{
		{
			name: "duplicate version",
			fsys: fstest.MapFS{
				"1_a.sql": file("SELECT 1;"),
				"1_b.sql": file("SELECT 2;"),
			},
			want: "version 1 is used by",
		},
		{
			name: "down without up",
			fsys: fstest.MapFS{"4_orphan.down.sql": file("SELECT 1;")},
			want: "no migration",
		},
		{
			name: "empty script",
			fsys: fstest.MapFS{"5_empty.sql": file("-- nothing here\n")},
			want: "contains no statements",
		},
		{
			name: "broken manifest",
			fsys: fstest.MapFS{
				"1_a.sql":         file("SELECT 1;"),
				"migrations.yaml": file("- not\n- a map\n"),
			},
			want: "invalid migrations.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFSLoader(tt.fsys, nil).Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFromDisk(t *testing.T) {
	units, err := NewLoader(t.TempDir(), nil).Load()
	require.NoError(t, err)
	assert.Empty(t, units)
}
