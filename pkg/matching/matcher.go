// Package matching resolves inbound candidate records to canonical entities:
// - exact identifier search first, honoring the blacklist
// - Fellegi-Sunter scoring over blocking-key candidates second
// - exactly one MatchDecision per call, written in the same transaction as its effects
package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/blacklist"
	"github.com/Ramsey-B/fern/pkg/entitystore"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/gate"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Decision reasons
const (
	ReasonExactPrefix   = "exact:"
	ReasonGatePrefix    = "gate:"
	ReasonProbabilistic = "probabilistic"
	ReasonNoCandidates  = "no_candidates"
	ReasonPromoted      = "placeholder_promoted"
	ReasonUnchanged     = "unchanged_source_row"
)

// DecisionSink receives committed match decisions
type DecisionSink interface {
	EmitMatchDecision(ctx context.Context, d *models.MatchDecision) error
}

// DecisionSinks fans one decision out to several sinks. Every sink is called even when
// an earlier one fails.
type DecisionSinks []DecisionSink

func (s DecisionSinks) EmitMatchDecision(ctx context.Context, d *models.MatchDecision) error {
	var errs []error
	for _, sink := range s {
		if err := sink.EmitMatchDecision(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config contains configuration for the Matcher.
type Config struct {
	MaxAttempts   int // resolve attempts on uniqueness conflicts (default: 3)
	MaxCandidates int // blocking-key candidates scored per record (default: 50)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		MaxCandidates: 50,
	}
}

// Matcher resolves candidates against the entity store
type Matcher struct {
	log      ectologger.Logger
	store    entitystore.Store
	gate     *gate.Gate
	registry blacklist.Registry
	params   ParamsSource
	sink     DecisionSink
	scorer   *Scorer
	merger   *merging.FieldMerger
	validate *validator.Validate
	cfg      Config
	now      func() time.Time
}

// NewMatcher creates a Matcher. registry and sink may be nil.
func NewMatcher(
	log ectologger.Logger,
	store entitystore.Store,
	g *gate.Gate,
	registry blacklist.Registry,
	params ParamsSource,
	sink DecisionSink,
	cfg Config,
) *Matcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultConfig().MaxCandidates
	}
	return &Matcher{
		log:      log,
		store:    store,
		gate:     g,
		registry: registry,
		params:   params,
		sink:     sink,
		scorer:   NewScorer(),
		merger:   merging.NewFieldMerger(nil),
		validate: validator.New(),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// outcome is what one committed resolve attempt produced
type outcome struct {
	decision    *models.MatchDecision
	placeholder bool
}

// =============================================================================
// RESOLVE
// =============================================================================

// Resolve matches one candidate and returns the entity it resolved to, or a queued
// result for review. A uniqueness conflict rolls the attempt back and retries it, so a
// concurrent writer that won the race is found by the retry's exact search.
func (m *Matcher) Resolve(ctx context.Context, cand models.RawCandidate) (*models.ResolveResult, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Matcher.Resolve")
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.ResolveDuration.WithLabelValues(string(cand.Kind)).Observe(time.Since(start).Seconds())
	}()

	log := m.log.WithContext(ctx).WithFields(map[string]any{
		"candidate": cand.Ref(),
		"kind":      cand.Kind,
	})

	if err := m.validate.Struct(cand); err != nil {
		return nil, models.NewValidationError("candidate", cand.Ref(), err.Error())
	}
	kp, ok := m.params.Current().For(cand.Kind, cand.SourceSystem)
	if !ok {
		return nil, models.NewConfigurationError(fmt.Sprintf("kinds.%s", cand.Kind), "no parameters for kind")
	}
	rec := BuildRecord(cand)

	var (
		out *outcome
		err error
	)
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		err = m.store.WithinTx(ctx, func(ctx context.Context, tx entitystore.Tx) error {
			var txErr error
			out, txErr = m.resolveOnce(ctx, entitystore.NewGuard(tx), cand, rec, kp)
			return txErr
		})
		if !errors.Is(err, models.ErrUniquenessConflict) {
			break
		}
		metrics.UniquenessConflictsTotal.WithLabelValues(string(cand.Kind)).Inc()
		log.WithFields(map[string]any{"attempt": attempt}).Warn("Uniqueness conflict while resolving, retrying")
	}
	if err != nil {
		log.WithError(err).Error("Failed to resolve candidate")
		return nil, err
	}

	d := out.decision
	metrics.DecisionsTotal.WithLabelValues(string(d.Kind), string(d.DecisionKind)).Inc()
	log.WithFields(map[string]any{
		"decision":  d.DecisionKind,
		"entity_id": d.EntityID(),
		"score":     d.CompositeScore,
		"reason":    d.Reason,
	}).Debug("Resolved candidate")

	if m.sink != nil {
		if err := m.sink.EmitMatchDecision(ctx, d); err != nil {
			log.WithError(err).Warn("Failed to emit match decision")
		}
	}

	return &models.ResolveResult{
		EntityID:     d.EntityID(),
		DecisionKind: d.DecisionKind,
		DecisionID:   d.ID,
		Queued:       d.DecisionKind == models.DecisionReviewPending,
		Placeholder:  out.placeholder,
	}, nil
}

func (m *Matcher) resolveOnce(ctx context.Context, g *entitystore.Guard, cand models.RawCandidate, rec Record, kp KindParams) (*outcome, error) {
	d := &models.MatchDecision{
		ID:           uuid.New().String(),
		CandidateRef: cand.Ref(),
		Kind:         cand.Kind,
		SourceSystem: cand.SourceSystem,
		Warnings:     append([]string(nil), rec.Warnings...),
		CreatedAt:    m.now(),
	}

	// A replayed source row whose fingerprint matches the last one applied changes nothing
	if e, err := m.unchangedSource(ctx, g, rec); err != nil || e != nil {
		if err != nil {
			return nil, err
		}
		d.DecisionKind = models.DecisionAutoMatch
		d.ChosenEntityID = &e.ID
		d.Reason = ReasonUnchanged
		return &outcome{decision: d, placeholder: !e.Canonical}, m.writeDecision(ctx, g, d, cand)
	}

	gd := gate.Decision{Allowed: true, Rule: gate.RuleAccepted}
	if cand.Kind == models.EntityKindPerson {
		gd = m.gate.Evaluate(rec.Raw[models.FieldFirstName], rec.Raw[models.FieldLastName], rec.Raw[models.FieldEmail], rec.Raw[models.FieldPhone])
	}

	// Step 1: exact identifier search
	hit, via, corroborate, err := m.exactSearch(ctx, g, rec, d)
	if err != nil {
		return nil, err
	}
	if hit != nil {
		out, err := m.matchExisting(ctx, g, d, cand, rec, kp, hit, gd, ReasonExactPrefix+string(via))
		if err != nil {
			return nil, err
		}
		return out, m.writeDecision(ctx, g, d, cand)
	}

	// Gate rejected persons become placeholders and skip scoring
	if !gd.Allowed {
		metrics.GateRejectionsTotal.WithLabelValues(string(gd.Rule)).Inc()
		e, err := m.createEntity(ctx, g, d, cand, rec, false)
		if err != nil {
			return nil, err
		}
		d.DecisionKind = models.DecisionNewEntity
		d.ChosenEntityID = &e.ID
		d.Reason = ReasonGatePrefix + string(gd.Rule)
		return &outcome{decision: d, placeholder: true}, m.writeDecision(ctx, g, d, cand)
	}

	// Step 2: Fellegi-Sunter scoring over blocking candidates
	best, err := m.bestCandidate(ctx, g, rec, kp, corroborate)
	if err != nil {
		return nil, err
	}
	if best == nil {
		e, err := m.createEntity(ctx, g, d, cand, rec, true)
		if err != nil {
			return nil, err
		}
		d.DecisionKind = models.DecisionNewEntity
		d.ChosenEntityID = &e.ID
		d.Reason = ReasonNoCandidates
		return &outcome{decision: d}, m.writeDecision(ctx, g, d, cand)
	}

	d.CompositeScore = best.score
	d.Probability = Probability(best.score)
	d.FieldScores = best.fields

	out := &outcome{decision: d}
	switch Classify(best.score, kp.Thresholds) {
	case models.DecisionAutoMatch:
		out, err = m.matchExisting(ctx, g, d, cand, rec, kp, best.entity, gd, ReasonProbabilistic)
		if err != nil {
			return nil, err
		}
	case models.DecisionReviewPending:
		d.DecisionKind = models.DecisionReviewPending
		d.CandidateEntityID = &best.entity.ID
		d.Reason = ReasonProbabilistic
	default:
		e, err := m.createEntity(ctx, g, d, cand, rec, true)
		if err != nil {
			return nil, err
		}
		d.DecisionKind = models.DecisionNewEntity
		d.ChosenEntityID = &e.ID
		d.Reason = ReasonProbabilistic
	}
	return out, m.writeDecision(ctx, g, d, cand)
}

// writeDecision persists the decision and, for review, the raw candidate. Review items
// still open for the same source record are superseded by it.
func (m *Matcher) writeDecision(ctx context.Context, g *entitystore.Guard, d *models.MatchDecision, cand models.RawCandidate) error {
	superseded, err := g.Tx().SupersedePending(ctx, d.CandidateRef, d.CreatedAt)
	if err != nil {
		return err
	}
	if superseded > 0 {
		m.log.WithContext(ctx).WithFields(map[string]any{"candidate_ref": d.CandidateRef, "superseded": superseded}).Info("Superseded open review items")
	}
	if err := g.Tx().InsertDecision(ctx, d); err != nil {
		return err
	}
	if d.DecisionKind != models.DecisionReviewPending {
		return nil
	}
	return g.Tx().InsertRawCandidate(ctx, &models.StoredCandidate{
		ID:             uuid.New().String(),
		DecisionID:     d.ID,
		Kind:           cand.Kind,
		SourceSystem:   cand.SourceSystem,
		SourceRecordID: cand.SourceRecordID,
		RawFields:      cand.RawFields,
		RowHash:        fingerprint.RowHash(cand.RawFields),
		CreatedAt:      d.CreatedAt,
	})
}

// exactSearch returns the canonical entity holding the first usable identifier hit, the
// identifier type that hit, and entities found only through shared identifiers.
func (m *Matcher) exactSearch(ctx context.Context, g *entitystore.Guard, rec Record, d *models.MatchDecision) (*models.Entity, models.IdentifierType, []string, error) {
	var corroborate []string
	for _, ident := range rec.orderedIdentifiers() {
		blocked, required := m.isBlacklisted(ident)
		if blocked && required >= models.EffectivelyBlockedSimilarity {
			d.Warnings = append(d.Warnings, fmt.Sprintf("%s %s is blacklisted", ident.Type, ident.NormalizedValue))
			continue
		}

		existing, err := g.Tx().FindByIdentifier(ctx, rec.Kind, ident.Type, ident.NormalizedValue)
		if err != nil {
			return nil, "", nil, err
		}
		if existing == nil {
			continue
		}
		target, err := g.Resolve(ctx, existing.EntityID)
		if err != nil {
			return nil, "", nil, err
		}

		if blocked {
			sim := m.scorer.NameSimilarity(rec.Name(), target.Attributes[models.FieldFullName])
			if sim < required {
				corroborate = append(corroborate, target.ID)
				continue
			}
		}
		return target, ident.Type, corroborate, nil
	}
	return nil, "", corroborate, nil
}

// unchangedSource returns the entity already holding rec's source record when the
// stored row hash equals the incoming one, nil otherwise
func (m *Matcher) unchangedSource(ctx context.Context, g *entitystore.Guard, rec Record) (*models.Entity, error) {
	for _, ident := range rec.Identifiers {
		if ident.Type != models.IdentifierSourceRecord || ident.RowHash == "" {
			continue
		}
		existing, err := g.Tx().FindByIdentifier(ctx, rec.Kind, ident.Type, ident.NormalizedValue)
		if err != nil || existing == nil || existing.RowHash != ident.RowHash {
			return nil, err
		}
		return g.Acquire(ctx, existing.EntityID)
	}
	return nil, nil
}

func (m *Matcher) isBlacklisted(ident models.Identifier) (bool, float64) {
	if m.registry == nil || ident.Type == models.IdentifierSourceRecord {
		return false, 0
	}
	return m.registry.IsBlacklisted(ident.Type, ident.NormalizedValue)
}

// matchExisting attaches the candidate to target, promoting a placeholder when the gate
// accepts the record
func (m *Matcher) matchExisting(
	ctx context.Context,
	g *entitystore.Guard,
	d *models.MatchDecision,
	cand models.RawCandidate,
	rec Record,
	kp KindParams,
	target *models.Entity,
	gd gate.Decision,
	reason string,
) (*outcome, error) {
	target, err := g.Acquire(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	if d.FieldScores == nil {
		score, fields := m.scorer.ScoreRecord(kp, rec, EntityRecord(target))
		d.CompositeScore = score
		d.Probability = Probability(score)
		d.FieldScores = fields
	}

	update := false
	if target.IsPlaceholder() && gd.Allowed {
		target.Canonical = true
		if rec.DisplayName != "" {
			target.DisplayName = rec.DisplayName
		}
		reason += ";" + ReasonPromoted
		update = true
	}
	if attrs, changed, _ := m.merger.Merge(target.Attributes, rec.Fields); changed {
		target.Attributes = attrs
		update = true
	}
	if update {
		if err := g.UpdateEntity(ctx, target); err != nil {
			return nil, err
		}
	}

	if err := m.attachIdentifiers(ctx, g, d, cand, rec, target.ID); err != nil {
		return nil, err
	}
	if target.Canonical {
		keys := BlockingKeys(EntityRecord(target), m.scorer)
		if err := g.Tx().PutBlockingKeys(ctx, target.ID, target.Kind, keys); err != nil {
			return nil, err
		}
	}

	d.DecisionKind = models.DecisionAutoMatch
	d.ChosenEntityID = &target.ID
	d.Reason = reason
	return &outcome{decision: d, placeholder: !target.Canonical}, nil
}

func (m *Matcher) createEntity(ctx context.Context, g *entitystore.Guard, d *models.MatchDecision, cand models.RawCandidate, rec Record, canonical bool) (*models.Entity, error) {
	attrs := make(map[string]string, len(rec.Fields))
	for k, v := range rec.Fields {
		attrs[k] = v
	}
	e, err := g.CreateEntity(ctx, rec.Kind, rec.DisplayName, attrs, canonical)
	if err != nil {
		return nil, err
	}
	if err := m.attachIdentifiers(ctx, g, d, cand, rec, e.ID); err != nil {
		return nil, err
	}
	if canonical {
		if err := g.Tx().PutBlockingKeys(ctx, e.ID, e.Kind, BlockingKeys(rec, m.scorer)); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// attachIdentifiers attaches every usable identifier. Effectively blocked identifiers
// are never attached; identifiers held by another entity are skipped with a warning.
func (m *Matcher) attachIdentifiers(ctx context.Context, g *entitystore.Guard, d *models.MatchDecision, cand models.RawCandidate, rec Record, entityID string) error {
	for _, ident := range rec.orderedIdentifiers() {
		if blocked, required := m.isBlacklisted(ident); blocked && required >= models.EffectivelyBlockedSimilarity {
			continue
		}
		ident.SourceSystem = cand.SourceSystem
		_, err := g.AttachIdentifier(ctx, entityID, ident)
		if errors.Is(err, models.ErrIdentifierHeld) {
			d.Warnings = append(d.Warnings, fmt.Sprintf("%s %s already held by another entity", ident.Type, ident.NormalizedValue))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type scored struct {
	entity *models.Entity
	score  float64
	fields []models.FieldScore
}

// bestCandidate scores every canonical entity sharing a blocking key with rec, plus
// entities found through shared identifiers, and returns the highest score
func (m *Matcher) bestCandidate(ctx context.Context, g *entitystore.Guard, rec Record, kp KindParams, corroborate []string) (*scored, error) {
	found, err := g.Tx().FindByBlockingKeys(ctx, rec.Kind, BlockingKeys(rec, m.scorer), m.cfg.MaxCandidates)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(found)+len(corroborate))
	for _, e := range found {
		ids = append(ids, e.ID)
	}
	ids = append(ids, corroborate...)

	candidates := map[string]*models.Entity{}
	for _, id := range ids {
		e, err := g.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		if e.Canonical {
			candidates[e.ID] = e
		}
	}

	order := make([]string, 0, len(candidates))
	for id := range candidates {
		order = append(order, id)
	}
	sort.Strings(order)

	var best *scored
	for _, id := range order {
		e := candidates[id]
		score, fields := m.scorer.ScoreRecord(kp, rec, EntityRecord(e))
		if best == nil || score > best.score {
			best = &scored{entity: e, score: score, fields: fields}
		}
	}
	return best, nil
}
