// Package ingest turns uploaded files into embedded, searchable chunks.
// The pipeline per document is extract -> normalize -> chunk -> embed
// (one batched call) -> upsert (one batched call) -> document row, and
// it is atomic: a failure after vectors were written triggers a
// compensating delete so no document is ever half-ingested.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/lexscholar/lexscholar/internal/ai"
	"github.com/lexscholar/lexscholar/internal/store"
	"github.com/lexscholar/lexscholar/internal/textproc"
	"github.com/lexscholar/lexscholar/pkg/models"
)

// ErrNoContent is returned when a file yields no text after extraction
// and normalization. It is a caller error, not a provider failure.
var ErrNoContent = errors.New("document contains no extractable text")

// FileSystemWalker abstracts directory walking for the bulk mode.
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader abstracts file reading for the bulk mode.
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

type defaultWalker struct{}

func (defaultWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

type defaultReader struct{}

func (defaultReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Service runs document ingestion.
type Service struct {
	Store  store.DocumentStore
	Client ai.Client
	Chunk  textproc.ChunkConfig

	Walker FileSystemWalker
	Reader FileReader
}

// New creates an ingestion service with filesystem defaults.
func New(st store.DocumentStore, client ai.Client, cfg textproc.ChunkConfig) *Service {
	return &Service{
		Store:  st,
		Client: client,
		Chunk:  cfg,
		Walker: defaultWalker{},
		Reader: defaultReader{},
	}
}

// IngestBytes processes one uploaded file for a user and returns the
// stored document. On any failure after vectors were upserted, the
// vectors are deleted before the error is returned.
func (s *Service) IngestBytes(ctx context.Context, userID, filename string, data []byte) (models.Document, error) {
	ex, err := Extract(filename, data)
	if err != nil {
		return models.Document{}, err
	}

	text := textproc.Normalize(ex.Text)
	if text == "" {
		return models.Document{}, ErrNoContent
	}

	spans, err := textproc.Chunk(text, s.Chunk)
	if err != nil {
		return models.Document{}, err
	}

	docID := uuid.NewString()
	chunks := make([]models.Chunk, len(spans))
	texts := make([]string, len(spans))
	for i, sp := range spans {
		chunks[i] = models.Chunk{
			ID:         fmt.Sprintf("%s:%d", docID, sp.Index),
			DocumentID: docID,
			UserID:     userID,
			Index:      sp.Index,
			Text:       sp.Text,
			StartChar:  sp.Start,
			EndChar:    sp.End,
			Filename:   filename,
			Title:      ex.Title,
		}
		texts[i] = sp.Text
	}

	vectors, err := s.Client.EmbedBatch(ctx, texts)
	if err != nil {
		return models.Document{}, fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}
	if len(vectors) != len(chunks) {
		return models.Document{}, fmt.Errorf("%w: got %d vectors for %d chunks",
			ai.ErrProvider, len(vectors), len(chunks))
	}

	if err := s.Store.UpsertChunks(ctx, chunks, vectors); err != nil {
		return models.Document{}, fmt.Errorf("upsert chunks: %w", err)
	}

	doc := models.Document{
		ID:         docID,
		UserID:     userID,
		Filename:   filename,
		Title:      ex.Title,
		Author:     ex.Author,
		PageCount:  ex.PageCount,
		CharCount:  len(text),
		ChunkCount: len(chunks),
		UploadedAt: time.Now().UTC(),
	}
	if err := s.Store.InsertDocument(ctx, doc); err != nil {
		// Vectors are already in the index; roll them back so the
		// document is either fully present or fully absent.
		if delErr := s.Store.DeleteChunks(ctx, docID, userID); delErr != nil {
			log.Error().Err(delErr).Str("document_id", docID).
				Msg("rollback of upserted vectors failed")
		}
		return models.Document{}, fmt.Errorf("insert document: %w", err)
	}

	log.Info().Str("document_id", docID).Str("filename", filename).
		Int("chunks", len(chunks)).Int("chars", len(text)).
		Msg("document ingested")
	return doc, nil
}

// Delete removes a document and its chunks for the owning user.
func (s *Service) Delete(ctx context.Context, documentID, userID string) error {
	return s.Store.DeleteDocument(ctx, documentID, userID)
}

type workItem struct {
	path string
	data []byte
}

// Run bulk-ingests every supported file under root for the given user.
// Files are processed by a bounded worker pool; individual file
// failures are logged and skipped, walk errors abort.
func (s *Service) Run(ctx context.Context, root, userID string) error {
	numWorkers := runtime.NumCPU()
	if numWorkers > 4 {
		// Embedding providers rate-limit; keep the fan-out modest.
		numWorkers = 4
	}

	log.Info().Int("workers", numWorkers).Str("root", root).Msg("starting bulk ingestion")

	workChan := make(chan workItem, numWorkers*2)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ingested, failed int

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workChan {
				if _, err := s.IngestBytes(ctx, userID, filepath.Base(item.path), item.data); err != nil {
					log.Warn().Err(err).Str("path", item.path).Msg("ingestion failed")
					mu.Lock()
					failed++
					mu.Unlock()
					continue
				}
				mu.Lock()
				ingested++
				mu.Unlock()
			}
		}()
	}

	walkErr := s.Walker.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				return nil
			}
			if !supportedFile(path) {
				return nil
			}

			b, err := s.Reader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				return nil
			}

			select {
			case workChan <- workItem{path: path, data: b}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})

	close(workChan)
	wg.Wait()

	log.Info().Int("ingested", ingested).Int("failed", failed).Msg("bulk ingestion finished")
	return walkErr
}

// supportedFile reports whether the path looks like a document worth
// ingesting.
func supportedFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".txt", ".md":
		return true
	}
	return false
}
