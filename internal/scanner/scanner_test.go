package scanner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/logging"
)

const testModel = "MOBILE_FACE_NET"

type analyzerResult struct {
	analysis *facematch.FaceAnalysis
	err      error
}

// fakeAnalyzer serves scripted analyses and can run a hook before answering.
type fakeAnalyzer struct {
	mu      sync.Mutex
	results map[string]analyzerResult
	hook    func(ref string)
	calls   []string
	model   string
}

func (f *fakeAnalyzer) AnalyzePhoto(ctx context.Context, ref string) (*facematch.FaceAnalysis, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ref)
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(ref)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("analysis received a cancelled context: %w", ctx.Err())
	}
	r, ok := f.results[ref]
	if !ok {
		return nil, facematch.ErrNoFaceDetected
	}
	return r.analysis, r.err
}

func (f *fakeAnalyzer) Model() string {
	if f.model == "" {
		return testModel
	}
	return f.model
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// unit returns a 192-d vector with cos(angle to e0) = similarity.
func unit(similarity float64) facematch.Embedding {
	e := make(facematch.Embedding, 192)
	e[0] = float32(similarity)
	e[1] = float32(math.Sqrt(1 - similarity*similarity))
	return e
}

func analysis(similarity, quality float64) *facematch.FaceAnalysis {
	return &facematch.FaceAnalysis{
		Detection: facematch.Detection{Box: facematch.FaceBox{Width: 120, Height: 120}, Score: quality},
		Embedding: unit(similarity),
		Quality:   quality,
	}
}

func target() facematch.TargetProfile {
	return facematch.TargetProfile{
		ID:         "t1",
		Name:       "Jan",
		Embeddings: []facematch.TargetEmbedding{{Model: testModel, Embedding: unit(1)}},
	}
}

func settings() Settings {
	return Settings{Threshold: 0.60, RecognitionModel: testModel}
}

func newTestOrchestrator(a Analyzer) *Orchestrator {
	return New(a, WithLogger(logging.Discard()))
}

func TestStart_EndToEnd(t *testing.T) {
	analyzer := &fakeAnalyzer{results: map[string]analyzerResult{
		"A": {analysis: analysis(0.82, 0.95)},
		"B": {analysis: analysis(0.55, 0.30)},
		"C": {err: facematch.ErrNoFaceDetected},
	}}
	o := newTestOrchestrator(analyzer)

	if err := o.Start(context.Background(), PhotosFromPaths([]string{"A", "B", "C"}), target(), settings()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if o.State() != StateCompleted {
		t.Errorf("state = %s, want completed", o.State())
	}
	stats := o.Stats()
	if stats.Total != 3 || stats.Processed != 3 || stats.MatchesFound != 1 {
		t.Errorf("stats = %+v, want total 3 processed 3 matches 1", stats)
	}
	if stats.CurrentItem != "" {
		t.Errorf("current item should be cleared, got %q", stats.CurrentItem)
	}

	results := o.Results(false)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	a := results[0]
	if !a.HasMatch || math.Abs(a.SimilarityScore-0.82) > 1e-4 || math.Abs(a.Threshold-0.58) > 1e-9 {
		t.Errorf("A = %+v, want match with similarity 0.82 at threshold 0.58", a)
	}
	b := results[1]
	if b.HasMatch || math.Abs(b.Threshold-0.65) > 1e-9 {
		t.Errorf("B = %+v, want no match at threshold 0.65", b)
	}
	c := results[2]
	if !c.Processed || c.HasMatch || c.SimilarityScore != 0 || c.QualityScore != 0 || c.Error == "" {
		t.Errorf("C = %+v, want processed non-match with zero scores and an error", c)
	}

	matched := o.Results(true)
	if len(matched) != 1 || matched[0].PhotoRef != "A" {
		t.Errorf("matched results = %+v, want only A", matched)
	}
}

func TestStart_PerItemFailuresDoNotAbort(t *testing.T) {
	analyzer := &fakeAnalyzer{results: map[string]analyzerResult{
		"broken":  {err: fmt.Errorf("%w: truncated jpeg", facematch.ErrImageSource)},
		"engine":  {err: facematch.ErrInferenceFailure},
		"zero":    {err: facematch.ErrZeroNorm},
		"good":    {analysis: analysis(0.9, 0.8)},
		"facenet": {analysis: &facematch.FaceAnalysis{Embedding: make(facematch.Embedding, 128), Quality: 0.8}},
	}}
	o := newTestOrchestrator(analyzer)

	refs := []string{"broken", "engine", "zero", "facenet", "good"}
	if err := o.Start(context.Background(), PhotosFromPaths(refs), target(), settings()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	stats := o.Stats()
	if stats.Processed != 5 || stats.MatchesFound != 1 || stats.Failed != 4 {
		t.Errorf("stats = %+v, want processed 5 matches 1 failed 4", stats)
	}
	for _, r := range o.Results(false)[:4] {
		if r.HasMatch || r.SimilarityScore != 0 || r.QualityScore != 0 {
			t.Errorf("%s = %+v, want zeroed non-match", r.PhotoRef, r)
		}
	}
}

func TestStart_CancelDuringItem(t *testing.T) {
	var o *Orchestrator
	analyzer := &fakeAnalyzer{results: map[string]analyzerResult{}}
	for i := 1; i <= 10; i++ {
		analyzer.results[fmt.Sprintf("p%d", i)] = analyzerResult{analysis: analysis(0.9, 0.8)}
	}
	analyzer.hook = func(ref string) {
		if ref == "p3" {
			o.Cancel()
		}
	}
	o = newTestOrchestrator(analyzer)

	refs := make([]string, 10)
	for i := range refs {
		refs[i] = fmt.Sprintf("p%d", i+1)
	}
	if err := o.Start(context.Background(), PhotosFromPaths(refs), target(), settings()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if o.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled", o.State())
	}
	results := o.Results(false)
	for i, r := range results {
		wantProcessed := i < 3
		if r.Processed != wantProcessed {
			t.Errorf("result %d processed = %v, want %v", i, r.Processed, wantProcessed)
		}
	}
	if !results[2].HasMatch {
		t.Error("the in-flight photo should complete with its real outcome")
	}
	if got := analyzer.callCount(); got != 3 {
		t.Errorf("analyzer called %d times, want 3", got)
	}
	if o.Stats().Processed != 3 {
		t.Errorf("processed = %d, want 3", o.Stats().Processed)
	}
}

func TestStart_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	analyzer := &fakeAnalyzer{
		results: map[string]analyzerResult{"a": {analysis: analysis(0.9, 0.8)}, "b": {analysis: analysis(0.9, 0.8)}},
		hook:    func(string) { cancel() },
	}
	o := newTestOrchestrator(analyzer)

	if err := o.Start(ctx, PhotosFromPaths([]string{"a", "b"}), target(), settings()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if o.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled", o.State())
	}
	if o.Stats().Processed != 1 {
		t.Errorf("processed = %d, want 1", o.Stats().Processed)
	}
	if r := o.Results(false)[0]; r.Error != "" {
		t.Errorf("in-flight analysis saw cancellation: %s", r.Error)
	}
}

func TestStart_CancelDuringDelay(t *testing.T) {
	analyzer := &fakeAnalyzer{results: map[string]analyzerResult{"a": {analysis: analysis(0.9, 0.8)}}}
	o := newTestOrchestrator(analyzer)

	s := settings()
	s.ProcessDelay = time.Hour

	done := make(chan error)
	go func() {
		done <- o.Start(context.Background(), PhotosFromPaths([]string{"a"}), target(), s)
	}()

	deadline := time.After(5 * time.Second)
	for o.State() != StateRunning {
		select {
		case <-deadline:
			t.Fatal("scan never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	o.Cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not interrupt the delay")
	}
	if o.State() != StateCancelled || analyzer.callCount() != 0 {
		t.Errorf("state = %s calls = %d, want cancelled with no analysis", o.State(), analyzer.callCount())
	}
}

func TestStart_Validation(t *testing.T) {
	tests := []struct {
		name     string
		profile  facematch.TargetProfile
		settings Settings
		analyzer *fakeAnalyzer
		check    func(error) bool
	}{
		{
			name:     "empty profile",
			profile:  facematch.TargetProfile{Name: "nobody"},
			settings: settings(),
			analyzer: &fakeAnalyzer{},
			check:    func(err error) bool { return errors.Is(err, ErrEmptyProfile) },
		},
		{
			name: "profile built with another model",
			profile: facematch.TargetProfile{Embeddings: []facematch.TargetEmbedding{
				{Model: "FACENET", Embedding: make(facematch.Embedding, 128)},
			}},
			settings: settings(),
			analyzer: &fakeAnalyzer{},
			check:    func(err error) bool { return errors.Is(err, ErrEmptyProfile) },
		},
		{
			name:     "threshold out of range",
			profile:  target(),
			settings: Settings{Threshold: 1.5, RecognitionModel: testModel},
			analyzer: &fakeAnalyzer{},
			check:    func(err error) bool { return err != nil },
		},
		{
			name:     "analyzer runs a different model",
			profile:  target(),
			settings: settings(),
			analyzer: &fakeAnalyzer{model: "FACENET"},
			check:    facematch.IsConfigurationError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrchestrator(tt.analyzer)
			err := o.Start(context.Background(), PhotosFromPaths([]string{"a"}), tt.profile, tt.settings)
			if !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
			if o.State() != StateIdle {
				t.Errorf("state = %s, want idle", o.State())
			}
		})
	}
}

func TestStart_WhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	analyzer := &fakeAnalyzer{
		results: map[string]analyzerResult{"a": {analysis: analysis(0.9, 0.8)}},
		hook: func(string) {
			close(started)
			<-release
		},
	}
	o := newTestOrchestrator(analyzer)

	done := make(chan error)
	go func() {
		done <- o.Start(context.Background(), PhotosFromPaths([]string{"a"}), target(), settings())
	}()
	<-started

	if err := o.Start(context.Background(), PhotosFromPaths([]string{"a"}), target(), settings()); !errors.Is(err, ErrScanRunning) {
		t.Errorf("expected ErrScanRunning, got %v", err)
	}
	if err := o.Reset(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState from Reset while running, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
}

func TestReset(t *testing.T) {
	o := newTestOrchestrator(&fakeAnalyzer{results: map[string]analyzerResult{"a": {analysis: analysis(0.9, 0.8)}}})

	if err := o.Reset(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState from idle, got %v", err)
	}

	if err := o.Start(context.Background(), PhotosFromPaths([]string{"a"}), target(), settings()); err != nil {
		t.Fatal(err)
	}
	if err := o.Reset(); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if o.State() != StateIdle || o.Stats().Total != 0 || len(o.Results(false)) != 0 {
		t.Errorf("reset left state %s stats %+v", o.State(), o.Stats())
	}
}

func TestStart_TargetSnapshot(t *testing.T) {
	profile := target()
	analyzer := &fakeAnalyzer{results: map[string]analyzerResult{
		"a": {analysis: analysis(0.9, 0.8)},
		"b": {analysis: analysis(0.9, 0.8)},
	}}
	analyzer.hook = func(ref string) {
		if ref == "a" {
			// editing the caller's profile mid-scan must not affect the running scan
			profile.Embeddings[0].Embedding[0] = 0
			profile.Embeddings[0].Embedding[1] = 1
		}
	}
	o := newTestOrchestrator(analyzer)

	if err := o.Start(context.Background(), PhotosFromPaths([]string{"a", "b"}), profile, settings()); err != nil {
		t.Fatal(err)
	}
	results := o.Results(false)
	if math.Abs(results[1].SimilarityScore-0.9) > 1e-4 {
		t.Errorf("second photo similarity = %v, want 0.9 against the snapshot", results[1].SimilarityScore)
	}
}

func TestStart_Events(t *testing.T) {
	analyzer := &fakeAnalyzer{results: map[string]analyzerResult{"a": {analysis: analysis(0.9, 0.8)}}}
	o := newTestOrchestrator(analyzer)
	ch := o.AddListener()
	defer o.RemoveListener(ch)

	if err := o.Start(context.Background(), PhotosFromPaths([]string{"a", "b"}), target(), settings()); err != nil {
		t.Fatal(err)
	}

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	expected := []string{EventStarted, EventProgress, EventProgress, EventCompleted}
	if fmt.Sprint(types) != fmt.Sprint(expected) {
		t.Errorf("events = %v, want %v", types, expected)
	}
}

func TestObserversDuringScan(t *testing.T) {
	analyzer := &fakeAnalyzer{results: map[string]analyzerResult{}}
	refs := make([]string, 50)
	for i := range refs {
		refs[i] = fmt.Sprintf("p%d", i)
		analyzer.results[refs[i]] = analyzerResult{analysis: analysis(0.7, 0.8)}
	}
	o := newTestOrchestrator(analyzer)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := o.Stats()
				if s.Processed < last {
					t.Errorf("processed went backwards: %d -> %d", last, s.Processed)
					return
				}
				last = s.Processed
				if got := len(o.Results(false)); got != 0 && got != 50 {
					t.Errorf("results length = %d during scan, want 50", got)
					return
				}
			}
		}()
	}

	if err := o.Start(context.Background(), PhotosFromPaths(refs), target(), settings()); err != nil {
		t.Fatal(err)
	}
	close(stop)
	wg.Wait()

	if s := o.Stats(); s.Processed != 50 || s.MatchesFound != 50 {
		t.Errorf("stats = %+v, want 50 processed and matched", s)
	}
}

func TestStats_Progress(t *testing.T) {
	tests := []struct {
		stats    Stats
		expected int
	}{
		{Stats{}, 0},
		{Stats{Total: 4, Processed: 1}, 25},
		{Stats{Total: 3, Processed: 3}, 100},
	}
	for _, tt := range tests {
		if got := tt.stats.Progress(); got != tt.expected {
			t.Errorf("Progress() = %d, want %d", got, tt.expected)
		}
	}
}

func TestEventBroadcaster(t *testing.T) {
	var b EventBroadcaster
	ch := b.AddListener()

	b.SendEvent(JobEvent{Type: "test"})
	if ev := <-ch; ev.Type != "test" {
		t.Errorf("got event %q, want test", ev.Type)
	}

	b.RemoveListener(ch)
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after RemoveListener")
	}
	b.SendEvent(JobEvent{Type: "after"})
}
