package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONB(t *testing.T) {
	t.Run("ScanBytes", func(t *testing.T) {
		var j JSONB[map[string]string]
		require.NoError(t, j.Scan([]byte(`{"a":"b"}`)))
		assert.Equal(t, map[string]string{"a": "b"}, j.GetValue())
	})

	t.Run("ScanNull", func(t *testing.T) {
		j := NewJSONB([]string{"x"})
		require.NoError(t, j.Scan(nil))
		assert.Nil(t, j.GetValue())
	})

	t.Run("ScanWrongType", func(t *testing.T) {
		var j JSONB[[]string]
		assert.Error(t, j.Scan(42))
	})

	t.Run("Value", func(t *testing.T) {
		v, err := NewJSONB([]string{"a"}).Value()
		require.NoError(t, err)
		assert.Equal(t, `["a"]`, v)
	})
}

func TestLatestVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"000001_a.up.sql", "000001_a.down.sql", "000010_b.up.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	v, err := latestVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	_, err = latestVersion(t.TempDir())
	assert.Error(t, err)
}

func TestShippedMigrationsArePaired(t *testing.T) {
	files, err := os.ReadDir("../../db/pg")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, f := range files {
		name := f.Name()
		switch {
		case filepath.Ext(name) != ".sql":
		case len(name) > 7 && name[len(name)-7:] == ".up.sql":
			ups[name[:len(name)-7]] = true
		case len(name) > 9 && name[len(name)-9:] == ".down.sql":
			downs[name[:len(name)-9]] = true
		}
	}
	assert.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestInsertBuilder(t *testing.T) {
	t.Run("OnConflictUpdate", func(t *testing.T) {
		ib := NewInsertBuilder()
		ib.InsertInto("blacklist_entries")
		ib.Cols("id_type", "normalized_value", "reason")
		ib.Values("email", "info@example.org", "shared")
		ub := ib.OnConflict("id_type", "normalized_value")
		ub.Set(ub.Assign("reason", Excluded("reason")))
		ib.Returning("id")

		query, args := ib.Build()
		assert.Equal(t, "INSERT INTO blacklist_entries (id_type, normalized_value, reason) VALUES ($1, $2, $3) "+
			"ON CONFLICT (id_type, normalized_value) DO UPDATE SET reason = EXCLUDED.reason RETURNING id", query)
		assert.Equal(t, []any{"email", "info@example.org", "shared"}, args)
	})

	t.Run("OnConflictDoNothing", func(t *testing.T) {
		ib := NewInsertBuilder()
		ib.InsertInto("entity_blocking_keys")
		ib.Cols("entity_id", "key")
		ib.Values("e1", "k1")
		ib.Values("e1", "k2")
		ib.OnConflictDoNothing()

		query, args := ib.Build()
		assert.Equal(t, "INSERT INTO entity_blocking_keys (entity_id, key) VALUES ($1, $2), ($3, $4) ON CONFLICT DO NOTHING", query)
		assert.Len(t, args, 4)
	})
}
