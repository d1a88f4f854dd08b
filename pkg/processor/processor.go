// Package processor turns inbound source records into resolve calls. Records arrive in
// batches from Kafka; each batch is fanned out over a bounded worker pool.
package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Resolver resolves one candidate. *matching.Matcher satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, cand models.RawCandidate) (*models.ResolveResult, error)
}

// Config controls the worker pool
type Config struct {
	// Workers bounds concurrent resolves per batch (default 8)
	Workers int
}

// Processor maps inbound records through their source strategy and resolves them
type Processor struct {
	logger     ectologger.Logger
	resolver   Resolver
	strategies map[string]SourceStrategy
	fallback   SourceStrategy
	validate   *validator.Validate
	workers    int

	consumer *kafka.Consumer
}

// NewProcessor creates a processor. Sources without a strategy use canonical field names.
func NewProcessor(logger ectologger.Logger, resolver Resolver, strategies map[string]SourceStrategy, cfg Config) *Processor {
	workers := cfg.Workers
	if workers < 1 {
		workers = 8
	}
	return &Processor{
		logger:     logger,
		resolver:   resolver,
		strategies: strategies,
		fallback:   CanonicalStrategy(),
		validate:   validator.New(),
		workers:    workers,
	}
}

// Start consumes the configured topic with Handle as the batch handler
func (p *Processor) Start(ctx context.Context, cfg kafka.ConsumerConfig, deadLetter kafka.DeadLetter) error {
	p.consumer = kafka.NewConsumer(cfg, p.logger, p.Handle, deadLetter)
	return p.consumer.Start(ctx)
}

// Stop stops the consumer and waits for the in-flight batch
func (p *Processor) Stop() error {
	if p.consumer == nil {
		return nil
	}
	return p.consumer.Stop()
}

// Health reports whether the consumer is running
func (p *Processor) Health() bool {
	return p.consumer != nil && p.consumer.Health()
}

// Handle resolves a batch. Messages about the same source record run in order on one
// worker; distinct records run concurrently. Malformed records are logged and skipped.
// Any other failure fails the whole batch so it is redelivered, which is safe because a
// replayed record resolves to the entity its source_record identifier already points at.
func (p *Processor) Handle(ctx context.Context, msgs []*kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.Handle")
	defer span.End()

	groups, order := p.group(ctx, msgs)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, ref := range order {
		cands := groups[ref]
		g.Go(func() error {
			for _, cand := range cands {
				if err := p.resolve(ctx, cand); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// group builds candidates and buckets them by source record, keeping arrival order
func (p *Processor) group(ctx context.Context, msgs []*kafka.IncomingMessage) (map[string][]models.RawCandidate, []string) {
	groups := make(map[string][]models.RawCandidate)
	var order []string
	for _, msg := range msgs {
		cands, err := p.Candidates(msg)
		if err != nil {
			p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"topic":  msg.Topic,
				"offset": msg.Offset,
				"key":    msg.Key,
			}).Warn("Skipping malformed record")
			metrics.RecordsProcessed.WithLabelValues("", "malformed").Inc()
			continue
		}
		for _, cand := range cands {
			ref := string(cand.Kind) + "|" + cand.Ref()
			if _, ok := groups[ref]; !ok {
				order = append(order, ref)
			}
			groups[ref] = append(groups[ref], cand)
		}
	}
	return groups, order
}

// Candidates maps one message onto raw candidates. A row of a kind-less envelope can
// yield one candidate per kind its strategy knows, as ClinicHQ rows carry an owner and
// an animal together.
func (p *Processor) Candidates(msg *kafka.IncomingMessage) ([]models.RawCandidate, error) {
	env, err := msg.ParseEnvelope()
	if err != nil {
		return nil, err
	}
	if env.SourceSystem == "" {
		return nil, models.NewValidationError("source_system", "", "missing")
	}

	strategy, ok := p.strategies[env.SourceSystem]
	if !ok {
		strategy = p.fallback
	}

	kinds := []models.EntityKind{env.Kind}
	if env.Kind == "" {
		if !ok {
			return nil, models.NewValidationError("kind", "", "missing")
		}
		kinds = []models.EntityKind{models.EntityKindPerson, models.EntityKindAnimal}
	}

	var out []models.RawCandidate
	for _, kind := range kinds {
		fields, err := strategy.Fields(kind, env.Payload)
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}

		recordID := fingerprint.SourceKey(env.SourceRecordID, fields, strategy.StableFields(kind))
		if env.Kind == "" && env.SourceRecordID != "" {
			// one row, several entities: keep their source refs apart
			recordID = fmt.Sprintf("%s#%s", env.SourceRecordID, kind)
		}

		cand := models.RawCandidate{
			Kind:           kind,
			RawFields:      fields,
			SourceSystem:   env.SourceSystem,
			SourceRecordID: recordID,
		}
		if err := p.validate.Struct(cand); err != nil {
			return nil, models.NewValidationError("candidate", cand.Ref(), err.Error())
		}
		out = append(out, cand)
	}
	if len(out) == 0 {
		return nil, models.NewValidationError("payload", env.SourceRecordID, "no fields mapped")
	}
	return out, nil
}

func (p *Processor) resolve(ctx context.Context, cand models.RawCandidate) error {
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"candidate": cand.Ref(),
		"kind":      cand.Kind,
	})

	metrics.RecordsInFlight.Inc()
	res, err := p.resolver.Resolve(ctx, cand)
	metrics.RecordsInFlight.Dec()

	processed := metrics.RecordsProcessed.WithLabelValues
	switch {
	case err == nil:
		processed(cand.SourceSystem, "resolved").Inc()
		log.WithFields(map[string]any{
			"entity_id": res.EntityID,
			"decision":  res.DecisionKind,
			"queued":    res.Queued,
		}).Debug("Resolved record")
		return nil
	case models.IsValidationError(err):
		processed(cand.SourceSystem, "invalid").Inc()
		log.WithError(err).Warn("Skipping invalid record")
		return nil
	case errors.Is(err, models.ErrConfiguration):
		processed(cand.SourceSystem, "unconfigured").Inc()
		// retrying cannot help until the parameters change
		log.WithError(err).Error("No matching parameters for record")
		return nil
	default:
		processed(cand.SourceSystem, "failed").Inc()
		return err
	}
}
