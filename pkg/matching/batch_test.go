package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeCandidateSource struct {
	records []models.SourceRecord
	people  []models.CanonicalPerson
	err     error

	gotSource string
	gotLimit  int
}

func (f *fakeCandidateSource) ListUnlinked(_ context.Context, source string, limit int) ([]models.SourceRecord, error) {
	f.gotSource, f.gotLimit = source, limit
	return f.records, f.err
}

func (f *fakeCandidateSource) ListCanonicalPeople(context.Context) ([]models.CanonicalPerson, error) {
	return f.people, nil
}

type fakeCandidateSink struct {
	batches [][]models.MatchCandidate
}

func (f *fakeCandidateSink) UpsertBatch(_ context.Context, c []models.MatchCandidate) error {
	f.batches = append(f.batches, c)
	return nil
}

func TestCandidateGenerator_Run(t *testing.T) {
	ctx := context.Background()
	source := func() *fakeCandidateSource {
		return &fakeCandidateSource{
			records: []models.SourceRecord{{SourceSystem: "airtable", SourceRecordID: "r1", DisplayName: "Ann Lee", Phone: "7075550100"}},
			people:  []models.CanonicalPerson{{EntityID: "p-ann", DisplayName: "Ann Lee", Phone: "7075550100"}},
		}
	}

	t.Run("StoresCandidates", func(t *testing.T) {
		src, sink := source(), &fakeCandidateSink{}
		out, err := NewCandidateGenerator(testLogger(), src, sink).Run(ctx, BatchOptions{Source: "airtable", Limit: 10})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "airtable", src.gotSource)
		assert.Equal(t, 10, src.gotLimit)
		require.Len(t, sink.batches, 1)
		assert.Equal(t, out, sink.batches[0])
	})

	t.Run("DryRunStoresNothing", func(t *testing.T) {
		sink := &fakeCandidateSink{}
		out, err := NewCandidateGenerator(testLogger(), source(), sink).Run(ctx, BatchOptions{DryRun: true})
		require.NoError(t, err)
		assert.Len(t, out, 1)
		assert.Empty(t, sink.batches)
	})

	t.Run("NoRecords", func(t *testing.T) {
		sink := &fakeCandidateSink{}
		out, err := NewCandidateGenerator(testLogger(), &fakeCandidateSource{}, sink).Run(ctx, BatchOptions{})
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.Empty(t, sink.batches)
	})

	t.Run("SourceError", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := NewCandidateGenerator(testLogger(), &fakeCandidateSource{err: boom}, &fakeCandidateSink{}).Run(ctx, BatchOptions{})
		assert.ErrorIs(t, err, boom)
	})
}
