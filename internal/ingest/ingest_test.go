package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"

	"github.com/lexscholar/lexscholar/internal/ai"
	"github.com/lexscholar/lexscholar/internal/store"
	"github.com/lexscholar/lexscholar/internal/textproc"
	"github.com/lexscholar/lexscholar/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockDocumentStore implements store.DocumentStore for testing
type MockDocumentStore struct {
	InsertDocumentFunc func(ctx context.Context, d models.Document) error
	UpsertChunksFunc   func(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error
	DeleteChunksFunc   func(ctx context.Context, documentID, userID string) error
	DeleteDocumentFunc func(ctx context.Context, id, userID string) error
}

func (m *MockDocumentStore) Migrate(ctx context.Context, dim int) error { return nil }

func (m *MockDocumentStore) CreateUser(ctx context.Context, email, passwordHash, fullName string) (store.User, error) {
	return store.User{}, nil
}

func (m *MockDocumentStore) GetUserByEmail(ctx context.Context, email string) (store.User, bool, error) {
	return store.User{}, false, nil
}

func (m *MockDocumentStore) InsertDocument(ctx context.Context, d models.Document) error {
	if m.InsertDocumentFunc != nil {
		return m.InsertDocumentFunc(ctx, d)
	}
	return nil
}

func (m *MockDocumentStore) GetDocument(ctx context.Context, id, userID string) (models.Document, error) {
	return models.Document{}, store.ErrNotFound
}

func (m *MockDocumentStore) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	return []models.Document{}, nil
}

func (m *MockDocumentStore) DeleteDocument(ctx context.Context, id, userID string) error {
	if m.DeleteDocumentFunc != nil {
		return m.DeleteDocumentFunc(ctx, id, userID)
	}
	return nil
}

func (m *MockDocumentStore) UpsertChunks(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if m.UpsertChunksFunc != nil {
		return m.UpsertChunksFunc(ctx, chunks, vectors)
	}
	return nil
}

func (m *MockDocumentStore) SearchChunks(ctx context.Context, vec []float32, topK int, f store.ChunkFilter) ([]models.SearchResult, error) {
	return []models.SearchResult{}, nil
}

func (m *MockDocumentStore) DeleteChunks(ctx context.Context, documentID, userID string) error {
	if m.DeleteChunksFunc != nil {
		return m.DeleteChunksFunc(ctx, documentID, userID)
	}
	return nil
}

func (m *MockDocumentStore) Stats(ctx context.Context, userID string) (store.IndexStats, error) {
	return store.IndexStats{}, nil
}

// MockAIClient implements ai.Client for testing
type MockAIClient struct {
	EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *MockAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1}, nil
}

func (m *MockAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1}
	}
	return out, nil
}

func (m *MockAIClient) Complete(ctx context.Context, system, prompt string, opts ai.CompletionOpts) (string, error) {
	return "", nil
}

func (m *MockAIClient) Dim() int { return 1 }

// MockWalker implements FileSystemWalker for testing. It feeds plain
// file paths; the callback tolerates a nil dirent.
type MockWalker struct {
	paths []string
}

func (m *MockWalker) Walk(root string, options *godirwalk.Options) error {
	for _, p := range m.paths {
		if err := options.Callback(p, nil); err != nil {
			return err
		}
	}
	return nil
}

// MockReader implements FileReader for testing
type MockReader struct {
	files map[string][]byte
	errs  map[string]error
}

func (m *MockReader) ReadFile(filename string) ([]byte, error) {
	if err, ok := m.errs[filename]; ok {
		return nil, err
	}
	return m.files[filename], nil
}

func newTestService(st store.DocumentStore, client ai.Client) *Service {
	svc := New(st, client, textproc.DefaultChunkConfig())
	return svc
}

func TestIngestBytesSuccess(t *testing.T) {
	var upserted []models.Chunk
	var inserted models.Document

	st := &MockDocumentStore{
		UpsertChunksFunc: func(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
			upserted = chunks
			if len(chunks) != len(vectors) {
				t.Errorf("chunk/vector mismatch: %d vs %d", len(chunks), len(vectors))
			}
			return nil
		},
		InsertDocumentFunc: func(ctx context.Context, d models.Document) error {
			inserted = d
			return nil
		},
	}

	text := strings.Repeat("The court held that the statute applies. ", 60)
	svc := newTestService(st, &MockAIClient{})

	doc, err := svc.IngestBytes(context.Background(), "user-1", "torts.txt", []byte(text))
	if err != nil {
		t.Fatalf("IngestBytes failed: %v", err)
	}

	if doc.ID == "" {
		t.Error("expected a generated document id")
	}
	if doc.UserID != "user-1" || doc.Filename != "torts.txt" {
		t.Errorf("unexpected document metadata: %+v", doc)
	}
	if doc.ChunkCount != len(upserted) {
		t.Errorf("ChunkCount %d but %d chunks upserted", doc.ChunkCount, len(upserted))
	}
	if doc.ChunkCount < 2 {
		t.Errorf("expected multiple chunks for %d chars, got %d", len(text), doc.ChunkCount)
	}
	if inserted.ID != doc.ID {
		t.Error("document row not inserted")
	}

	for i, c := range upserted {
		if c.DocumentID != doc.ID || c.UserID != "user-1" {
			t.Errorf("chunk %d has wrong ownership: %+v", i, c)
		}
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
	}
}

func TestIngestBytesEmptyFile(t *testing.T) {
	svc := newTestService(&MockDocumentStore{}, &MockAIClient{})

	_, err := svc.IngestBytes(context.Background(), "user-1", "empty.txt", []byte("   \n\n  "))
	if !errors.Is(err, ErrNoContent) {
		t.Errorf("expected ErrNoContent, got %v", err)
	}
}

func TestIngestBytesEmbedFailureSkipsUpsert(t *testing.T) {
	upsertCalled := false
	st := &MockDocumentStore{
		UpsertChunksFunc: func(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
			upsertCalled = true
			return nil
		},
	}
	client := &MockAIClient{
		EmbedBatchFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, ai.ErrProvider
		},
	}

	svc := newTestService(st, client)
	_, err := svc.IngestBytes(context.Background(), "user-1", "a.txt", []byte("some text"))
	if !errors.Is(err, ai.ErrProvider) {
		t.Errorf("expected ErrProvider, got %v", err)
	}
	if upsertCalled {
		t.Error("upsert must not run when embedding fails")
	}
}

func TestIngestBytesVectorCountMismatch(t *testing.T) {
	client := &MockAIClient{
		EmbedBatchFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			// One vector short.
			return make([][]float32, len(texts)-1), nil
		},
	}

	svc := newTestService(&MockDocumentStore{}, client)
	_, err := svc.IngestBytes(context.Background(), "user-1", "a.txt", []byte("some text"))
	if !errors.Is(err, ai.ErrProvider) {
		t.Errorf("expected ErrProvider for count mismatch, got %v", err)
	}
}

func TestIngestBytesRollbackOnInsertFailure(t *testing.T) {
	var rolledBack string
	st := &MockDocumentStore{
		InsertDocumentFunc: func(ctx context.Context, d models.Document) error {
			return errors.New("unique violation")
		},
		DeleteChunksFunc: func(ctx context.Context, documentID, userID string) error {
			rolledBack = documentID
			return nil
		},
	}

	svc := newTestService(st, &MockAIClient{})
	_, err := svc.IngestBytes(context.Background(), "user-1", "a.txt", []byte("some text"))
	if err == nil {
		t.Fatal("expected error from document insert")
	}
	if rolledBack == "" {
		t.Error("expected upserted chunks to be rolled back")
	}
}

func TestRunBulkIngestion(t *testing.T) {
	var mu sync.Mutex
	var ingested []string
	st := &MockDocumentStore{
		InsertDocumentFunc: func(ctx context.Context, d models.Document) error {
			mu.Lock()
			defer mu.Unlock()
			ingested = append(ingested, d.Filename)
			return nil
		},
	}

	svc := newTestService(st, &MockAIClient{})
	svc.Walker = &MockWalker{paths: []string{
		"/docs/contracts.txt",
		"/docs/notes.md",
		"/docs/image.png",
		"/docs/broken.txt",
	}}
	svc.Reader = &MockReader{
		files: map[string][]byte{
			"/docs/contracts.txt": []byte("Offer, acceptance, consideration."),
			"/docs/notes.md":      []byte("# Negligence\nDuty, breach, causation, damages."),
		},
		errs: map[string]error{
			"/docs/broken.txt": errors.New("permission denied"),
		},
	}

	if err := svc.Run(context.Background(), "/docs", "user-1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(ingested) != 2 {
		t.Fatalf("expected 2 ingested documents, got %d (%v)", len(ingested), ingested)
	}
	for _, name := range ingested {
		if name != "contracts.txt" && name != "notes.md" {
			t.Errorf("unexpected ingested file %q", name)
		}
	}
}

func TestSupportedFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"brief.pdf", true},
		{"notes.TXT", true},
		{"outline.md", true},
		{"photo.jpg", false},
		{"archive.zip", false},
		{"README", false},
	}
	for _, tt := range tests {
		if got := supportedFile(tt.path); got != tt.want {
			t.Errorf("supportedFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
