package matching

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// CandidateSource loads the inputs of a batch run
type CandidateSource interface {
	ListUnlinked(ctx context.Context, source string, limit int) ([]models.SourceRecord, error)
	ListCanonicalPeople(ctx context.Context) ([]models.CanonicalPerson, error)
}

// CandidateSink persists suggestions, keeping the highest confidence per pair
type CandidateSink interface {
	UpsertBatch(ctx context.Context, candidates []models.MatchCandidate) error
}

// BatchOptions narrows a batch run
type BatchOptions struct {
	Source string
	Limit  int
	DryRun bool
}

// CandidateGenerator runs tiered candidate generation over stored records
type CandidateGenerator struct {
	log    ectologger.Logger
	source CandidateSource
	sink   CandidateSink
}

func NewCandidateGenerator(log ectologger.Logger, source CandidateSource, sink CandidateSink) *CandidateGenerator {
	return &CandidateGenerator{log: log, source: source, sink: sink}
}

// Run generates candidates and stores them unless opts.DryRun is set. The generated
// candidates are returned either way.
func (g *CandidateGenerator) Run(ctx context.Context, opts BatchOptions) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.CandidateGenerator.Run")
	defer span.End()

	log := g.log.WithContext(ctx).WithFields(map[string]any{
		"source":  opts.Source,
		"limit":   opts.Limit,
		"dry_run": opts.DryRun,
	})

	records, err := g.source.ListUnlinked(ctx, opts.Source, opts.Limit)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		log.Info("No unlinked source records")
		return nil, nil
	}
	people, err := g.source.ListCanonicalPeople(ctx)
	if err != nil {
		return nil, err
	}

	out := GenerateTieredCandidates(records, people)

	tiers := map[int]int{}
	for _, c := range out {
		tiers[c.Evidence.Tier]++
	}
	log = log.WithFields(map[string]any{
		"records":    len(records),
		"people":     len(people),
		"candidates": len(out),
		"tier_0":     tiers[0],
		"tier_1":     tiers[1],
		"tier_2":     tiers[2],
	})

	if opts.DryRun {
		log.Info("Generated match candidates (dry run)")
		return out, nil
	}
	if err := g.sink.UpsertBatch(ctx, out); err != nil {
		return nil, err
	}
	log.Info("Generated match candidates")
	return out, nil
}
