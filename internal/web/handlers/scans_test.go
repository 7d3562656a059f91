package handlers

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/database/mock"
	"github.com/kozaktomas/face-finder/internal/scanner"
)

type scanFixture struct {
	handler  *ScansHandler
	orch     *scanner.Orchestrator
	analyzer *fakeAnalyzer
	scans    *mock.MockScanRepository
	dir      string
}

func newScanFixture(t *testing.T, files ...string) *scanFixture {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	targets := mock.NewMockTargetRepository()
	targets.AddTarget(database.StoredTarget{
		ID:     "t1",
		Name:   "Jan",
		Photos: []database.StoredTargetPhoto{{ID: "p1", TargetID: "t1", Model: testModel, Embedding: unitEmbedding(1)}},
	})
	targets.AddTarget(database.StoredTarget{
		ID:     "t2",
		Name:   "Eva",
		Photos: []database.StoredTargetPhoto{{ID: "p2", TargetID: "t2", Model: "FACENET", Embedding: make([]float32, 128)}},
	})

	analyzer := &fakeAnalyzer{}
	orch := scanner.New(analyzer, scanner.WithLogger(testLogger))
	scans := mock.NewMockScanRepository()
	defaults := scanner.Settings{Threshold: 0.6, RecognitionModel: testModel}
	return &scanFixture{
		handler:  NewScansHandler(orch, targets, scans, defaults, testLogger),
		orch:     orch,
		analyzer: analyzer,
		scans:    scans,
		dir:      dir,
	}
}

func (f *scanFixture) start(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	body = strings.ReplaceAll(body, "DIR", f.dir)
	recorder := httptest.NewRecorder()
	f.handler.Start(recorder, httptest.NewRequest("POST", "/api/v1/scans", strings.NewReader(body)))
	return recorder
}

func waitForState(t *testing.T, o *scanner.Orchestrator, want scanner.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for o.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", o.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScansHandler_StartCompletesAndPersists(t *testing.T) {
	f := newScanFixture(t, "match1.jpg", "other.jpg", "noface.jpg", "notes.txt")

	recorder := f.start(t, `{"target_id":"t1","paths":["DIR"]}`)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d: %s", http.StatusAccepted, recorder.Code, recorder.Body.String())
	}
	var started StartScanResponse
	decodeResponse(t, recorder.Body, &started)
	if started.ScanID == "" || started.Total != 3 {
		t.Errorf("unexpected start response %+v", started)
	}

	f.handler.Wait()

	recorder = httptest.NewRecorder()
	f.handler.Current(recorder, httptest.NewRequest("GET", "/api/v1/scans/current", nil))
	var status ScanStatusResponse
	decodeResponse(t, recorder.Body, &status)
	if status.State != scanner.StateCompleted || status.Progress != 100 || status.Stats.MatchesFound != 1 {
		t.Errorf("unexpected status %+v", status)
	}
	if status.ScanID != started.ScanID || status.TargetName != "Jan" || status.ThresholdLabel != "balanced" {
		t.Errorf("unexpected scan identity %+v", status)
	}

	recorder = httptest.NewRecorder()
	f.handler.Results(recorder, httptest.NewRequest("GET", "/api/v1/scans/current/results?matched=true", nil))
	var results ResultsResponse
	decodeResponse(t, recorder.Body, &results)
	if results.Count != 1 || filepath.Base(results.Results[0].PhotoRef) != "match1.jpg" {
		t.Errorf("unexpected matched results %+v", results)
	}

	stored, err := f.scans.GetScan(context.Background(), started.ScanID)
	if err != nil || stored == nil {
		t.Fatalf("scan not persisted: %v", err)
	}
	if stored.Matches != 1 || stored.Status != string(scanner.StateCompleted) {
		t.Errorf("unexpected stored scan %+v", stored)
	}
	withEmbeddings, _ := f.scans.GetResultsWithEmbeddings(context.Background(), testModel)
	if len(withEmbeddings) != 2 {
		t.Errorf("expected 2 stored embeddings, got %d", len(withEmbeddings))
	}
}

func TestScansHandler_StartValidation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing target", `{"paths":["DIR"]}`, http.StatusBadRequest},
		{"missing paths", `{"target_id":"t1"}`, http.StatusBadRequest},
		{"threshold out of range", `{"target_id":"t1","paths":["DIR"],"threshold":1.5}`, http.StatusBadRequest},
		{"negative delay", `{"target_id":"t1","paths":["DIR"],"process_delay_ms":-1}`, http.StatusBadRequest},
		{"delay too large", `{"target_id":"t1","paths":["DIR"],"process_delay_ms":999999}`, http.StatusBadRequest},
		{"unknown target", `{"target_id":"nobody","paths":["DIR"]}`, http.StatusNotFound},
		{"no embeddings for model", `{"target_id":"t2","paths":["DIR"]}`, http.StatusUnprocessableEntity},
		{"missing directory", `{"target_id":"t1","paths":["DIR/nope"]}`, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newScanFixture(t, "a.jpg")
			recorder := f.start(t, tc.body)
			if recorder.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tc.wantStatus, recorder.Code, recorder.Body.String())
			}
			if f.orch.State() != scanner.StateIdle {
				t.Errorf("rejected request changed state to %s", f.orch.State())
			}
		})
	}
}

func TestScansHandler_ConflictCancelReset(t *testing.T) {
	f := newScanFixture(t, "a.jpg", "b.jpg", "c.jpg")
	f.analyzer.block = make(chan struct{})

	if rec := f.start(t, `{"target_id":"t1","paths":["DIR"]}`); rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, rec.Code)
	}
	waitForState(t, f.orch, scanner.StateRunning)

	if rec := f.start(t, `{"target_id":"t1","paths":["DIR"]}`); rec.Code != http.StatusConflict {
		t.Errorf("second start: expected status %d, got %d", http.StatusConflict, rec.Code)
	}

	recorder := httptest.NewRecorder()
	f.handler.Reset(recorder, httptest.NewRequest("POST", "/api/v1/scans/current/reset", nil))
	if recorder.Code != http.StatusConflict {
		t.Errorf("reset while running: expected status %d, got %d", http.StatusConflict, recorder.Code)
	}

	recorder = httptest.NewRecorder()
	f.handler.Cancel(recorder, httptest.NewRequest("DELETE", "/api/v1/scans/current", nil))
	if recorder.Code != http.StatusAccepted {
		t.Errorf("cancel: expected status %d, got %d", http.StatusAccepted, recorder.Code)
	}
	close(f.analyzer.block)
	f.handler.Wait()

	if f.orch.State() != scanner.StateCancelled {
		t.Errorf("state = %s, want cancelled", f.orch.State())
	}
	if processed := f.orch.Stats().Processed; processed != 1 {
		t.Errorf("processed = %d, want 1 (the in-flight photo)", processed)
	}

	recorder = httptest.NewRecorder()
	f.handler.Cancel(recorder, httptest.NewRequest("DELETE", "/api/v1/scans/current", nil))
	if recorder.Code != http.StatusConflict {
		t.Errorf("cancel when idle: expected status %d, got %d", http.StatusConflict, recorder.Code)
	}

	recorder = httptest.NewRecorder()
	f.handler.Reset(recorder, httptest.NewRequest("POST", "/api/v1/scans/current/reset", nil))
	if recorder.Code != http.StatusOK {
		t.Errorf("reset: expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	if f.orch.State() != scanner.StateIdle {
		t.Errorf("state after reset = %s", f.orch.State())
	}
}

func TestScansHandler_ResetWaitsForPersistence(t *testing.T) {
	f := newScanFixture(t, "a.jpg")
	if rec := f.start(t, `{"target_id":"t1","paths":["DIR"]}`); rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, rec.Code)
	}
	f.handler.Wait()

	// completed in the orchestrator, export and save still pending
	f.handler.mu.Lock()
	f.handler.active = true
	f.handler.mu.Unlock()

	recorder := httptest.NewRecorder()
	f.handler.Reset(recorder, httptest.NewRequest("POST", "/api/v1/scans/current/reset", nil))
	if recorder.Code != http.StatusConflict {
		t.Errorf("reset before persistence: expected status %d, got %d", http.StatusConflict, recorder.Code)
	}
	if f.orch.State() != scanner.StateCompleted {
		t.Errorf("state = %s, want completed", f.orch.State())
	}

	f.handler.mu.Lock()
	f.handler.active = false
	f.handler.mu.Unlock()

	recorder = httptest.NewRecorder()
	f.handler.Reset(recorder, httptest.NewRequest("POST", "/api/v1/scans/current/reset", nil))
	if recorder.Code != http.StatusOK {
		t.Errorf("reset after persistence: expected status %d, got %d", http.StatusOK, recorder.Code)
	}
}

func TestScansHandler_ResultsPaging(t *testing.T) {
	f := newScanFixture(t, "a.jpg", "b.jpg", "c.jpg", "d.jpg")
	f.start(t, `{"target_id":"t1","paths":["DIR"]}`)
	f.handler.Wait()

	recorder := httptest.NewRecorder()
	f.handler.Results(recorder, httptest.NewRequest("GET", "/api/v1/scans/current/results?offset=1&limit=2", nil))
	var resp ResultsResponse
	decodeResponse(t, recorder.Body, &resp)
	if resp.Count != 4 || len(resp.Results) != 2 || filepath.Base(resp.Results[0].PhotoRef) != "b.jpg" {
		t.Errorf("unexpected page %+v", resp)
	}

	recorder = httptest.NewRecorder()
	f.handler.Results(recorder, httptest.NewRequest("GET", "/api/v1/scans/current/results?offset=10", nil))
	decodeResponse(t, recorder.Body, &resp)
	if len(resp.Results) != 0 {
		t.Errorf("expected empty page, got %d", len(resp.Results))
	}
}

func TestScansHandler_EventsAfterFinish(t *testing.T) {
	f := newScanFixture(t, "a.jpg")
	f.start(t, `{"target_id":"t1","paths":["DIR"]}`)
	f.handler.Wait()

	recorder := httptest.NewRecorder()
	f.handler.Events(recorder, httptest.NewRequest("GET", "/api/v1/scans/current/events", nil))

	if ct := recorder.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected Content-Type text/event-stream, got %q", ct)
	}
	sc := bufio.NewScanner(recorder.Body)
	sc.Scan()
	if sc.Text() != "event: status" {
		t.Errorf("first line = %q", sc.Text())
	}
}

func TestScansHandler_EventsStream(t *testing.T) {
	f := newScanFixture(t, "a.jpg", "b.jpg")
	f.analyzer.block = make(chan struct{})
	f.start(t, `{"target_id":"t1","paths":["DIR"]}`)
	waitForState(t, f.orch, scanner.StateRunning)

	server := httptest.NewServer(http.HandlerFunc(f.handler.Events))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	close(f.analyzer.block)

	var events []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	f.handler.Wait()

	if len(events) < 2 || events[0] != "status" || events[len(events)-1] != scanner.EventCompleted {
		t.Errorf("unexpected event sequence %v", events)
	}
}

func TestScansHandler_HistoryWithoutStorage(t *testing.T) {
	orch := scanner.New(&fakeAnalyzer{}, scanner.WithLogger(testLogger))
	handler := NewScansHandler(orch, mock.NewMockTargetRepository(), nil, scanner.Settings{}, testLogger)

	recorder := httptest.NewRecorder()
	handler.History(recorder, httptest.NewRequest("GET", "/api/v1/scans", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, recorder.Code)
	}
}
