// Package scanner drives a face search over a photo collection: one photo at a
// time, cancellable between photos, observable while running.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/logging"
)

// Analyzer turns a photo reference into the analysis of its best face.
type Analyzer interface {
	AnalyzePhoto(ctx context.Context, ref string) (*facematch.FaceAnalysis, error)
}

// modeler is implemented by analyzers that know which recognition model they run.
type modeler interface {
	Model() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used for per-photo failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// Orchestrator runs scans. It holds at most one scan's state at a time.
type Orchestrator struct {
	EventBroadcaster

	analyzer Analyzer
	log      logrus.FieldLogger

	mu       sync.RWMutex
	state    State
	stats    Stats
	results  []CandidateResult
	settings Settings
	target   facematch.TargetProfile
	cancel   context.CancelFunc
}

// New creates an idle orchestrator.
func New(analyzer Analyzer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		analyzer: analyzer,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logging.Logger()
	}
	return o
}

// Start scans photos for the target and blocks until the scan completes or is cancelled.
// ctx is the cancellation token: it is checked before every photo, and a photo whose
// analysis has begun always finishes. Target embeddings are copied at start.
//
// Returns ErrScanRunning, ErrEmptyProfile, a settings error or a *facematch.ConfigurationError
// without touching state; per-photo failures never abort the scan.
func (o *Orchestrator) Start(ctx context.Context, photos []Photo, profile facematch.TargetProfile, settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if m, ok := o.analyzer.(modeler); ok && settings.RecognitionModel != "" && m.Model() != settings.RecognitionModel {
		return &facematch.ConfigurationError{
			Component: "scanner",
			Reason:    fmt.Sprintf("analyzer runs %s but settings select %s", m.Model(), settings.RecognitionModel),
		}
	}

	snapshot := profile.Snapshot()
	targets := snapshot.ForModel(settings.RecognitionModel)

	o.mu.Lock()
	if o.state == StateRunning {
		o.mu.Unlock()
		return ErrScanRunning
	}
	if len(targets) == 0 {
		o.mu.Unlock()
		return ErrEmptyProfile
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := time.Now()
	o.cancel = cancel
	o.state = StateRunning
	o.settings = settings
	o.target = snapshot
	o.stats = Stats{Total: len(photos), StartedAt: &now}
	o.results = make([]CandidateResult, len(photos))
	for i, p := range photos {
		o.results[i] = CandidateResult{PhotoRef: p.Ref, Label: p.Label}
	}
	o.mu.Unlock()

	o.log.WithFields(logrus.Fields{
		"photos":    len(photos),
		"target":    snapshot.Name,
		"targets":   len(targets),
		"threshold": settings.Threshold,
		"model":     settings.RecognitionModel,
	}).Info("scan started")
	o.SendEvent(JobEvent{Type: EventStarted, Data: o.Stats()})

	stoppedEarly := false
	for i, photo := range photos {
		if ctx.Err() != nil {
			stoppedEarly = true
			break
		}
		o.setCurrentItem(photo.Ref)

		if settings.ProcessDelay > 0 {
			if err := sleep(ctx, settings.ProcessDelay); err != nil {
				stoppedEarly = true
				break
			}
		}

		result := o.processPhoto(context.WithoutCancel(ctx), i, photo, targets, settings)
		stats := o.record(i, result)
		o.SendEvent(JobEvent{Type: EventProgress, Data: ProgressData{Index: i, Result: result, Stats: stats}})
	}

	o.finish(stoppedEarly)
	return nil
}

// processPhoto analyzes one photo. Every failure becomes a non-match.
func (o *Orchestrator) processPhoto(ctx context.Context, index int, photo Photo, targets []facematch.Embedding, settings Settings) CandidateResult {
	result := CandidateResult{PhotoRef: photo.Ref, Label: photo.Label, Processed: true}

	analysis, err := o.analyzer.AnalyzePhoto(ctx, photo.Ref)
	if err != nil {
		entry := o.log.WithFields(logrus.Fields{"photo": photo.Ref, "index": index, "error": err})
		if errors.Is(err, facematch.ErrNoFaceDetected) {
			entry.Debug("no usable face")
		} else {
			entry.Warn("photo analysis failed")
		}
		result.Error = err.Error()
		return result
	}

	box := analysis.Detection.Box
	result.Box = &box
	result.Embedding = analysis.Embedding

	best := facematch.BestMatch([]facematch.Embedding{analysis.Embedding}, targets)
	if best == facematch.NoComparison {
		o.log.WithFields(logrus.Fields{"photo": photo.Ref, "dim": len(analysis.Embedding)}).Warn("embedding not comparable with target")
		result.Error = facematch.ErrDimensionMismatch.Error()
		return result
	}

	result.SimilarityScore = best
	result.QualityScore = analysis.Quality
	result.Threshold = facematch.EffectiveThreshold(settings.Threshold, analysis.Quality)
	result.HasMatch = best >= result.Threshold
	return result
}

func (o *Orchestrator) setCurrentItem(ref string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.CurrentItem = ref
}

// record stores one result and bumps counters in a single critical section.
func (o *Orchestrator) record(index int, result CandidateResult) Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results[index] = result
	o.stats.Processed++
	if result.HasMatch {
		o.stats.MatchesFound++
	}
	if result.Error != "" {
		o.stats.Failed++
	}
	return o.stats
}

func (o *Orchestrator) finish(cancelled bool) {
	now := time.Now()

	o.mu.Lock()
	o.stats.CurrentItem = ""
	o.stats.FinishedAt = &now
	o.cancel = nil
	if cancelled {
		o.state = StateCancelled
	} else {
		o.state = StateCompleted
	}
	stats := o.stats
	o.mu.Unlock()

	fields := logrus.Fields{"processed": stats.Processed, "total": stats.Total, "matches": stats.MatchesFound, "failed": stats.Failed}
	if cancelled {
		o.log.WithFields(fields).Info("scan cancelled")
		o.SendEvent(JobEvent{Type: EventCancelled, Message: "Scan cancelled", Data: stats})
		return
	}
	o.log.WithFields(fields).Info("scan completed")
	o.SendEvent(JobEvent{Type: EventCompleted, Data: stats})
}

// Cancel requests cancellation of the running scan. The photo being analyzed
// finishes; no further photos start. Calling it when nothing runs is a no-op.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateRunning && o.cancel != nil {
		o.cancel()
	}
}

// Reset discards a finished scan and returns to idle.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.Terminal() {
		return fmt.Errorf("%w: cannot reset while %s", ErrInvalidState, o.state)
	}
	o.state = StateIdle
	o.stats = Stats{}
	o.results = nil
	o.target = facematch.TargetProfile{}
	o.settings = Settings{}
	return nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Stats returns a snapshot of the counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stats
}

// Settings returns the settings of the current or last scan.
func (o *Orchestrator) Settings() Settings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settings
}

// Target returns the target snapshot of the current or last scan.
func (o *Orchestrator) Target() facematch.TargetProfile {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.target
}

// Results returns a copy of the per-photo results in input order.
// With matchedOnly only matches are returned.
func (o *Orchestrator) Results(matchedOnly bool) []CandidateResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]CandidateResult, 0, len(o.results))
	for _, r := range o.results {
		if matchedOnly && !r.HasMatch {
			continue
		}
		out = append(out, r)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
