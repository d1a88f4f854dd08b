// Package blacklist holds identifiers known to be shared or organizational.
package blacklist

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/fern/pkg/classifier"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Registry answers whether an identifier is blacklisted. Lookup is by exact
// normalized value only.
type Registry interface {
	IsBlacklisted(idType models.IdentifierType, normalizedValue string) (bool, float64)
}

type key struct {
	idType models.IdentifierType
	value  string
}

// Static is an immutable in-memory registry
type Static struct {
	entries map[key]models.BlacklistEntry
}

// NewStatic builds a registry from a fixed set of entries. Later duplicates win.
func NewStatic(entries []models.BlacklistEntry) *Static {
	m := make(map[key]models.BlacklistEntry, len(entries))
	for _, e := range entries {
		m[key{e.IdentifierType, e.NormalizedValue}] = e
	}
	return &Static{entries: m}
}

// IsBlacklisted returns whether the identifier is listed and its required name similarity
func (s *Static) IsBlacklisted(idType models.IdentifierType, normalizedValue string) (bool, float64) {
	e, ok := s.entries[key{idType, normalizedValue}]
	if !ok {
		return false, 0
	}
	return true, e.RequiredNameSimilarity
}

// Len returns the number of entries
func (s *Static) Len() int {
	return len(s.entries)
}

// Source loads the full curated list, typically from the database
type Source interface {
	ListAll(ctx context.Context) ([]models.BlacklistEntry, error)
}

// Cached serves lookups from an in-memory snapshot of a Source and refreshes it
// periodically. Lookups never block on I/O.
type Cached struct {
	source Source
	logger ectologger.Logger

	mu       sync.RWMutex
	snapshot *Static
	loadedAt time.Time
}

// NewCached creates a cached registry. Call Refresh before serving lookups.
func NewCached(source Source, logger ectologger.Logger) *Cached {
	return &Cached{
		source:   source,
		logger:   logger,
		snapshot: NewStatic(nil),
	}
}

// IsBlacklisted implements Registry against the current snapshot
func (c *Cached) IsBlacklisted(idType models.IdentifierType, normalizedValue string) (bool, float64) {
	c.mu.RLock()
	snap := c.snapshot
	c.mu.RUnlock()
	return snap.IsBlacklisted(idType, normalizedValue)
}

// Refresh reloads the snapshot from the source
func (c *Cached) Refresh(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "blacklist.Cached.Refresh")
	defer span.End()

	entries, err := c.source.ListAll(ctx)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Error("Failed to refresh blacklist")
		return err
	}

	snap := NewStatic(entries)
	c.mu.Lock()
	c.snapshot = snap
	c.loadedAt = time.Now().UTC()
	c.mu.Unlock()

	c.logger.WithContext(ctx).WithField("entries", snap.Len()).Debug("Refreshed blacklist")
	return nil
}

// Run refreshes the snapshot every interval until ctx is done
func (c *Cached) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}

// LoadedAt returns when the snapshot was last refreshed
func (c *Cached) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

type fileFormat struct {
	Entries []models.BlacklistEntry `yaml:"entries"`
}

// LoadFile reads curated entries from a YAML file:
//
//	entries:
//	  - type: email
//	    value: info@forgottenfelines.com
//	    required_similarity: 1.0
//	    reason: shared org mailbox
func LoadFile(path string) ([]models.BlacklistEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blacklist file: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse blacklist file: %w", err)
	}

	for i, e := range f.Entries {
		if e.IdentifierType == "" || e.NormalizedValue == "" {
			return nil, fmt.Errorf("blacklist entry %d: type and value are required", i)
		}
		if e.RequiredNameSimilarity < 0 || e.RequiredNameSimilarity > 1 {
			return nil, fmt.Errorf("blacklist entry %d: required_similarity must be within [0,1]", i)
		}
		normalized, err := NormalizeEntry(e)
		if err != nil {
			return nil, fmt.Errorf("blacklist entry %d: %w", i, err)
		}
		f.Entries[i] = normalized
	}
	return f.Entries, nil
}

// NormalizeEntry runs the entry value through the normalizer for its identifier type so
// curated files may carry raw, formatted values.
func NormalizeEntry(e models.BlacklistEntry) (models.BlacklistEntry, error) {
	if e.IdentifierType == models.IdentifierSourceRecord {
		return e, fmt.Errorf("unsupported identifier type %q", e.IdentifierType)
	}
	value, err := classifier.NormalizeIdentifier(e.IdentifierType, e.NormalizedValue)
	if err != nil {
		return e, err
	}
	e.NormalizedValue = value
	return e, nil
}
