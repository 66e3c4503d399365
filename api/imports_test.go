package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/tessera-kb/tessera/internal/jobs"
	"github.com/tessera-kb/tessera/internal/log"
	"github.com/tessera-kb/tessera/internal/store"
)

type stubFetcher struct {
	doc store.Document
	err error
}

func (s *stubFetcher) FetchURL(context.Context, string) (store.Document, error) {
	return s.doc, s.err
}

type memoryDocStore struct {
	mu   sync.Mutex
	docs map[string]store.Document
}

func newMemoryDocStore() *memoryDocStore {
	return &memoryDocStore{docs: map[string]store.Document{}}
}

func (m *memoryDocStore) SaveDocument(_ context.Context, d store.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[d.ID] = d
	return nil
}

func (m *memoryDocStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return d, nil
}

type recordingIndexer struct {
	mu     sync.Mutex
	calls  []string
	forced []bool
	err    error
}

func (r *recordingIndexer) IndexDocument(_ context.Context, doc store.Document, force bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, doc.ID)
	r.forced = append(r.forced, force)
	if r.err != nil {
		return 0, r.err
	}
	return 3, nil
}

// syncSubmitter runs submitted work inline so tests observe side effects
// without polling.
type syncSubmitter struct {
	recorder jobs.Recorder
	kinds    []string
	sources  []string
}

func (s *syncSubmitter) Submit(ctx context.Context, kind, sourceID string, work func(ctx context.Context) error) (uuid.UUID, error) {
	s.kinds = append(s.kinds, kind)
	s.sources = append(s.sources, sourceID)

	job := jobs.Job{ID: uuid.New(), Kind: kind, SourceID: sourceID, State: jobs.StatePending}
	if err := s.recorder.Create(ctx, job); err != nil {
		return uuid.Nil, err
	}
	if err := work(ctx); err != nil {
		_ = s.recorder.SetState(ctx, job.ID, jobs.StateFailed, err.Error())
	} else {
		_ = s.recorder.SetState(ctx, job.ID, jobs.StateCompleted, "")
	}
	return job.ID, nil
}

type memoryRecorder struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]jobs.Job
}

func newMemoryRecorder() *memoryRecorder {
	return &memoryRecorder{jobs: map[uuid.UUID]jobs.Job{}}
}

func (m *memoryRecorder) Create(_ context.Context, job jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memoryRecorder) SetState(_ context.Context, id uuid.UUID, state jobs.State, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	job.State = state
	job.Error = errMsg
	m.jobs[id] = job
	return nil
}

func (m *memoryRecorder) Get(_ context.Context, id uuid.UUID) (jobs.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	return job, nil
}

type importFixture struct {
	srv      *httptest.Server
	fetcher  *stubFetcher
	docs     *memoryDocStore
	indexer  *recordingIndexer
	submit   *syncSubmitter
	recorder *memoryRecorder
}

func newImportFixture(t *testing.T) *importFixture {
	t.Helper()
	f := &importFixture{
		fetcher:  &stubFetcher{doc: store.Document{ID: "doc-abc", Title: "Fetched", Content: "body"}},
		docs:     newMemoryDocStore(),
		indexer:  &recordingIndexer{},
		recorder: newMemoryRecorder(),
	}
	f.submit = &syncSubmitter{recorder: f.recorder}

	mux := http.NewServeMux()
	NewImportHandler(f.fetcher, f.docs, f.indexer, f.submit, f.recorder, log.NewNop()).RegisterRoutes(mux)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestImportFetchesSavesAndIndexes(t *testing.T) {
	f := newImportFixture(t)

	resp := postJSON(t, f.srv.URL+"/api/documents/import", ImportRequest{URL: "https://example.com/article"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var ack JobResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if ack.JobID == uuid.Nil {
		t.Fatal("job_id is nil")
	}

	if len(f.submit.kinds) != 1 || f.submit.kinds[0] != "import_url" {
		t.Errorf("job kinds = %v", f.submit.kinds)
	}
	if f.submit.sources[0] != "https://example.com/article" {
		t.Errorf("source = %q, want the URL", f.submit.sources[0])
	}

	if _, err := f.docs.GetDocument(context.Background(), "doc-abc"); err != nil {
		t.Errorf("document not saved: %v", err)
	}
	if len(f.indexer.calls) != 1 || f.indexer.calls[0] != "doc-abc" {
		t.Errorf("indexer calls = %v", f.indexer.calls)
	}
	if f.indexer.forced[0] {
		t.Error("fresh import should not force a re-embed")
	}

	job, err := f.recorder.Get(context.Background(), ack.JobID)
	if err != nil {
		t.Fatalf("job lookup: %v", err)
	}
	if job.State != jobs.StateCompleted {
		t.Errorf("job state = %q, want completed", job.State)
	}
}

func TestImportFetchFailureRecordedOnJob(t *testing.T) {
	f := newImportFixture(t)
	f.fetcher.err = errors.New("connection refused")

	resp := postJSON(t, f.srv.URL+"/api/documents/import", ImportRequest{URL: "https://example.com/down"})
	defer resp.Body.Close()

	// Submission still succeeds; the failure lands on the job record.
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var ack JobResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	job, err := f.recorder.Get(context.Background(), ack.JobID)
	if err != nil {
		t.Fatalf("job lookup: %v", err)
	}
	if job.State != jobs.StateFailed {
		t.Errorf("job state = %q, want failed", job.State)
	}
	if job.Error == "" {
		t.Error("job error message is empty")
	}
}

func TestImportValidation(t *testing.T) {
	f := newImportFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "not json"},
		{"empty url", `{"url": ""}`},
		{"bad scheme", `{"url": "ftp://example.com/file"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(f.srv.URL+"/api/documents/import", "application/json", bytes.NewReader([]byte(tt.body)))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
	if len(f.submit.kinds) != 0 {
		t.Errorf("jobs submitted for invalid requests: %v", f.submit.kinds)
	}
}

func TestReindexForcesRegeneration(t *testing.T) {
	f := newImportFixture(t)
	doc := store.Document{ID: "doc-xyz", Title: "Existing", Content: "text"}
	if err := f.docs.SaveDocument(context.Background(), doc); err != nil {
		t.Fatalf("seeding document: %v", err)
	}

	resp := postJSON(t, f.srv.URL+"/api/documents/doc-xyz/reindex", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if len(f.indexer.calls) != 1 || f.indexer.calls[0] != "doc-xyz" {
		t.Fatalf("indexer calls = %v", f.indexer.calls)
	}
	if !f.indexer.forced[0] {
		t.Error("reindex must force a re-embed")
	}
}

func TestReindexUnknownDocument(t *testing.T) {
	f := newImportFixture(t)

	resp := postJSON(t, f.srv.URL+"/api/documents/missing/reindex", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestJobLookup(t *testing.T) {
	f := newImportFixture(t)
	job := jobs.Job{ID: uuid.New(), Kind: "import_url", SourceID: "https://example.com", State: jobs.StateProcessing}
	if err := f.recorder.Create(context.Background(), job); err != nil {
		t.Fatalf("seeding job: %v", err)
	}

	resp, err := http.Get(f.srv.URL + "/api/jobs/" + job.ID.String())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got jobs.Job
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.ID != job.ID || got.State != jobs.StateProcessing {
		t.Errorf("job = %+v", got)
	}
}

func TestJobLookupErrors(t *testing.T) {
	f := newImportFixture(t)

	resp, err := http.Get(f.srv.URL + "/api/jobs/not-a-uuid")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed id: status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(f.srv.URL + "/api/jobs/" + uuid.NewString())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", resp.StatusCode)
	}
}
