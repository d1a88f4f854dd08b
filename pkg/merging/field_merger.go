package merging

import (
	"sort"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Strategy decides which value survives when two entities disagree on an attribute
type Strategy string

const (
	// StrategyPreferCanonical keeps the surviving entity's value when it has one
	StrategyPreferCanonical Strategy = "prefer_canonical"
	// StrategyLongestValue keeps the longer of the two values
	StrategyLongestValue Strategy = "longest_value"
	// StrategyPreferIncoming takes the incoming value when it is non-empty
	StrategyPreferIncoming Strategy = "prefer_incoming"
)

// FieldMerger handles attribute-level merge logic
type FieldMerger struct {
	defaultStrategy Strategy
	strategies      map[string]Strategy
}

// NewFieldMerger creates a FieldMerger. Fields without an explicit strategy use
// StrategyPreferCanonical.
func NewFieldMerger(strategies map[string]Strategy) *FieldMerger {
	if strategies == nil {
		strategies = map[string]Strategy{}
	}
	return &FieldMerger{
		defaultStrategy: StrategyPreferCanonical,
		strategies:      strategies,
	}
}

// Merge folds incoming attributes into canonical ones and returns the result, whether
// anything changed, and the conflicts that were resolved. Neither input is modified.
func (m *FieldMerger) Merge(canonical, incoming map[string]string) (map[string]string, bool, []models.AttributeConflict) {
	out := make(map[string]string, len(canonical)+len(incoming))
	for k, v := range canonical {
		out[k] = v
	}

	fields := make([]string, 0, len(incoming))
	for k := range incoming {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	changed := false
	var conflicts []models.AttributeConflict
	for _, field := range fields {
		in := incoming[field]
		if in == "" {
			continue
		}
		cur := out[field]
		if cur == "" {
			out[field] = in
			changed = true
			continue
		}
		if cur == in {
			continue
		}

		strategy := m.strategyFor(field)
		kept := m.mergeValue(strategy, cur, in)
		dropped := in
		if kept != cur {
			out[field] = kept
			dropped = cur
			changed = true
		}
		conflicts = append(conflicts, models.AttributeConflict{
			Field:    field,
			Kept:     kept,
			Dropped:  dropped,
			Strategy: string(strategy),
		})
	}
	return out, changed, conflicts
}

func (m *FieldMerger) strategyFor(field string) Strategy {
	if s, ok := m.strategies[field]; ok {
		return s
	}
	return m.defaultStrategy
}

func (m *FieldMerger) mergeValue(strategy Strategy, current, incoming string) string {
	switch strategy {
	case StrategyLongestValue:
		if len(incoming) > len(current) {
			return incoming
		}
		return current
	case StrategyPreferIncoming:
		return incoming
	default:
		return current
	}
}
