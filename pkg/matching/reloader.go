package matching

import (
	"context"
	"path/filepath"
	"slices"
	"sync/atomic"

	"github.com/Gobusters/ectologger"
	"github.com/fsnotify/fsnotify"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Reloader serves matching parameters loaded from a YAML file and reloads them when the
// file changes. A reload that fails validation keeps the previous parameters.
type Reloader struct {
	path    string
	log     ectologger.Logger
	current atomic.Pointer[Params]
}

// NewReloader loads path once. An invalid file is a fatal *models.ConfigurationError.
func NewReloader(path string, log ectologger.Logger) (*Reloader, error) {
	p, err := LoadParams(path)
	if err != nil {
		return nil, err
	}
	r := &Reloader{path: path, log: log}
	r.current.Store(p)
	return r, nil
}

// Current returns the parameters in force
func (r *Reloader) Current() *Params {
	return r.current.Load()
}

// Reload re-reads the file. On error the previous parameters stay in force.
func (r *Reloader) Reload() error {
	p, err := LoadParams(r.path)
	if err != nil {
		metrics.ConfigReloadsTotal.WithLabelValues("rejected").Inc()
		r.log.WithError(err).WithFields(map[string]any{"path": r.path}).Error("Rejected matching parameters, keeping previous")
		return err
	}
	prev := r.current.Swap(p)
	for _, kind := range thresholdChanges(prev, p) {
		r.log.WithFields(map[string]any{
			"kind": kind,
			"old":  prev.Kinds[kind].Thresholds,
			"new":  p.Kinds[kind].Thresholds,
		}).Warn("Matching thresholds changed")
	}
	metrics.ConfigReloadsTotal.WithLabelValues("applied").Inc()
	r.log.WithFields(map[string]any{"path": r.path}).Info("Reloaded matching parameters")
	return nil
}

// Watch reloads on every write to the file until ctx is done. The parent directory is
// watched so editors that replace the file are picked up too.
func (r *Reloader) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return err
	}
	target := filepath.Clean(r.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename) {
				_ = r.Reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.WithError(err).Warn("Matching parameter watcher error")
		}
	}
}

// thresholdChanges lists the kinds whose base thresholds differ between prev and next
func thresholdChanges(prev, next *Params) []models.EntityKind {
	if prev == nil {
		return nil
	}
	var changed []models.EntityKind
	for kind, kp := range next.Kinds {
		if old, ok := prev.Kinds[kind]; !ok || old.Thresholds != kp.Thresholds {
			changed = append(changed, kind)
		}
	}
	slices.Sort(changed)
	return changed
}
