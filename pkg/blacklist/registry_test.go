package blacklist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeSource struct {
	entries []models.BlacklistEntry
	err     error
}

func (f *fakeSource) ListAll(_ context.Context) ([]models.BlacklistEntry, error) {
	return f.entries, f.err
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestStatic_IsBlacklisted(t *testing.T) {
	reg := NewStatic([]models.BlacklistEntry{
		{IdentifierType: models.IdentifierEmail, NormalizedValue: "info@shelter.org", RequiredNameSimilarity: 1.0},
		{IdentifierType: models.IdentifierPhone, NormalizedValue: "7075550000", RequiredNameSimilarity: 0.7},
	})

	blocked, sim := reg.IsBlacklisted(models.IdentifierEmail, "info@shelter.org")
	assert.True(t, blocked)
	assert.Equal(t, 1.0, sim)

	blocked, sim = reg.IsBlacklisted(models.IdentifierPhone, "7075550000")
	assert.True(t, blocked)
	assert.Equal(t, 0.7, sim)

	// exact lookup only, and scoped by type
	blocked, _ = reg.IsBlacklisted(models.IdentifierEmail, "INFO@shelter.org")
	assert.False(t, blocked)
	blocked, _ = reg.IsBlacklisted(models.IdentifierPhone, "info@shelter.org")
	assert.False(t, blocked)
}

func TestCached_Refresh(t *testing.T) {
	src := &fakeSource{}
	reg := NewCached(src, testLogger())

	blocked, _ := reg.IsBlacklisted(models.IdentifierEmail, "office@rescue.org")
	assert.False(t, blocked)

	src.entries = []models.BlacklistEntry{
		{IdentifierType: models.IdentifierEmail, NormalizedValue: "office@rescue.org", RequiredNameSimilarity: 0.95},
	}
	require.NoError(t, reg.Refresh(context.Background()))

	blocked, sim := reg.IsBlacklisted(models.IdentifierEmail, "office@rescue.org")
	assert.True(t, blocked)
	assert.Equal(t, 0.95, sim)
	assert.False(t, reg.LoadedAt().IsZero())

	// a failed refresh keeps the previous snapshot
	src.err = errors.New("db down")
	src.entries = nil
	assert.Error(t, reg.Refresh(context.Background()))
	blocked, _ = reg.IsBlacklisted(models.IdentifierEmail, "office@rescue.org")
	assert.True(t, blocked)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blacklist.yaml")
	content := `entries:
  - type: email
    value: " Info@ForgottenFelines.com "
    required_similarity: 1.0
    reason: shared org mailbox
  - type: phone
    value: "(707) 555-0000"
    required_similarity: 0.6
    reason: household phone
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	entries, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "info@forgottenfelines.com", entries[0].NormalizedValue)
	assert.True(t, entries[0].EffectivelyBlocked())
	assert.Equal(t, "7075550000", entries[1].NormalizedValue)
	assert.False(t, entries[1].EffectivelyBlocked())
}

func TestLoadFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blacklist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entries:\n  - type: email\n    value: not-an-email\n"), 0o600))

	_, err := LoadFile(path)
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
