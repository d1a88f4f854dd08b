package matching

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

const reloadParams = `
kinds:
  place:
    thresholds: {upper: %s, lower: 4}
    fields:
      - {name: address, m: 0.95, u: 0.001, comparison: exact}
`

func writeParams(t *testing.T, path, upper string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(reloadParams, upper)), 0o600))
}

func upperFor(r *Reloader) float64 {
	kp, _ := r.Current().For(models.EntityKindPlace, "")
	return kp.Thresholds.Upper
}

func TestReloader(t *testing.T) {
	t.Run("InvalidStartupConfigIsFatal", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "matching.yaml")
		writeParams(t, path, "1")

		_, err := NewReloader(path, testLogger())
		assert.ErrorIs(t, err, models.ErrConfiguration)
	})

	t.Run("RejectedReloadKeepsPrevious", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "matching.yaml")
		writeParams(t, path, "10")

		r, err := NewReloader(path, testLogger())
		require.NoError(t, err)
		assert.Equal(t, 10.0, upperFor(r))

		writeParams(t, path, "2")
		assert.Error(t, r.Reload())
		assert.Equal(t, 10.0, upperFor(r))

		writeParams(t, path, "12")
		require.NoError(t, r.Reload())
		assert.Equal(t, 12.0, upperFor(r))
	})

	t.Run("WatchPicksUpWrites", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "matching.yaml")
		writeParams(t, path, "10")

		r, err := NewReloader(path, testLogger())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = r.Watch(ctx)
		}()
		defer func() {
			cancel()
			<-done
		}()

		assert.Eventually(t, func() bool {
			_ = os.WriteFile(path, []byte(fmt.Sprintf(reloadParams, "11")), 0o600)
			return upperFor(r) == 11.0
		}, 5*time.Second, 50*time.Millisecond)
	})
}

func TestThresholdChanges(t *testing.T) {
	base := func(upper float64) *Params {
		return &Params{Kinds: map[models.EntityKind]KindParams{
			models.EntityKindPerson: {Thresholds: Thresholds{Upper: upper, Lower: 6}},
			models.EntityKindPlace:  {Thresholds: Thresholds{Upper: 10, Lower: 4}},
		}}
	}

	assert.Empty(t, thresholdChanges(nil, base(14)))
	assert.Empty(t, thresholdChanges(base(14), base(14)))
	assert.Equal(t, []models.EntityKind{models.EntityKindPerson}, thresholdChanges(base(14), base(12)))

	added := base(14)
	added.Kinds[models.EntityKindAnimal] = KindParams{Thresholds: Thresholds{Upper: 12, Lower: 5}}
	assert.Equal(t, []models.EntityKind{models.EntityKindAnimal}, thresholdChanges(base(14), added))
}
