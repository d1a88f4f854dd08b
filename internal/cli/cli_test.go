package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCheckConfig(t *testing.T) {
	t.Run("ShippedParameters", func(t *testing.T) {
		out, err := run(t, "check-config", "../../config/matching.yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "person:")
		assert.Contains(t, out, "animal:")
	})

	t.Run("InvalidThresholds", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", `
kinds:
  person:
    thresholds: {upper: 2, lower: 5}
    fields:
      - {name: email, m: 0.9, u: 0.01, comparison: exact}
`)
		_, err := run(t, "check-config", path)
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrConfiguration)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := run(t, "check-config", filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, models.ErrConfiguration)
	})
}

func TestBlacklistImportDryRun(t *testing.T) {
	t.Run("ValidFile", func(t *testing.T) {
		path := writeFile(t, "blacklist.yaml", `
entries:
  - type: email
    value: Info@ForgottenFelines.com
    required_similarity: 1.0
    reason: shared org mailbox
  - type: phone
    value: (707) 555-0199
    required_similarity: 0.8
`)
		out, err := run(t, "blacklist", "import", "--dry-run", path)
		require.NoError(t, err)
		assert.Contains(t, out, "2 entries valid")
	})

	t.Run("OutOfRangeSimilarity", func(t *testing.T) {
		path := writeFile(t, "blacklist.yaml", `
entries:
  - type: email
    value: a@b.org
    required_similarity: 1.5
`)
		_, err := run(t, "blacklist", "import", "--dry-run", path)
		assert.ErrorContains(t, err, "required_similarity")
	})
}

func TestMergeRequiresTwoIDs(t *testing.T) {
	_, err := run(t, "merge", "only-one")
	assert.Error(t, err)
}
