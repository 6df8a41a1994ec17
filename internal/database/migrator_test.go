package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSQLStatements(t *testing.T) {
	script := `-- +no-transaction
-- comment line
CREATE INDEX CONCURRENTLY a ON t (x);

CREATE INDEX CONCURRENTLY b ON t (y);
`
	stmts := splitSQLStatements(script)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE INDEX CONCURRENTLY a ON t (x)", stmts[0])
	assert.Equal(t, "CREATE INDEX CONCURRENTLY b ON t (y)", stmts[1])
}

func TestEmbeddedMigrationsOrdered(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS, migrationsDir)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(migrations), 2)

	assert.Equal(t, "001_init", migrations[0].Label())
	assert.False(t, migrations[0].NoTx)
	assert.Equal(t, "002_position_indexes", migrations[1].Label())
	assert.True(t, migrations[1].NoTx)
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_later.sql":  {Data: []byte("SELECT 10;")},
		"m/002_second.sql": {Data: []byte("-- +NO-TRANSACTION\nSELECT 2;")},
		"m/001_first.sql":  {Data: []byte("  SELECT 1;  ")},
		"m/README.md":      {Data: []byte("ignored")},
	}

	migrations, err := loadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, migrations, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{migrations[0].Version, migrations[1].Version, migrations[2].Version})
	assert.Equal(t, "SELECT 1;", migrations[0].Script)
	assert.True(t, migrations[1].NoTx)
	assert.Equal(t, "010_later", migrations[2].Label())
}

func TestLoadMigrationsRejectsBadNames(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
	}{
		{"no name", fstest.MapFS{"m/001.sql": {Data: []byte("SELECT 1;")}}},
		{"non numeric", fstest.MapFS{"m/abc_init.sql": {Data: []byte("SELECT 1;")}}},
		{"zero version", fstest.MapFS{"m/000_init.sql": {Data: []byte("SELECT 1;")}}},
		{"duplicate version", fstest.MapFS{
			"m/001_a.sql": {Data: []byte("SELECT 1;")},
			"m/1_b.sql":   {Data: []byte("SELECT 1;")},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadMigrations(tt.fsys, "m")
			require.Error(t, err)
		})
	}
}
