package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/lexscholar/lexscholar/pkg/models"
)

// ErrNotFound is returned when a row does not exist or belongs to a
// different user. Handlers map it to 404.
var ErrNotFound = errors.New("not found")

// User is an account row. The password hash never leaves this layer
// except to the auth package for comparison.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChunkFilter scopes a similarity search. UserID is mandatory: every
// query is fenced to the owning user's rows.
type ChunkFilter struct {
	UserID     string
	DocumentID string // optional: restrict to one document
}

// IndexStats summarizes a user's footprint in the index.
type IndexStats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Dimension int `json:"dimension"`
}

// DocumentStore is what the workflows need from persistence. The
// vector-index surface (UpsertChunks, SearchChunks, DeleteChunks) and
// the relational surface (documents, users) live behind one interface
// because one Postgres instance backs both.
type DocumentStore interface {
	Migrate(ctx context.Context, dim int) error

	CreateUser(ctx context.Context, email, passwordHash, fullName string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, bool, error)

	InsertDocument(ctx context.Context, d models.Document) error
	GetDocument(ctx context.Context, id, userID string) (models.Document, error)
	ListDocuments(ctx context.Context, userID string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id, userID string) error

	UpsertChunks(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error
	SearchChunks(ctx context.Context, vec []float32, topK int, f ChunkFilter) ([]models.SearchResult, error)
	DeleteChunks(ctx context.Context, documentID, userID string) error

	Stats(ctx context.Context, userID string) (IndexStats, error)
}

// Store implements DocumentStore on a pgx pool with pgvector.
type Store struct {
	pool *pgxpool.Pool
	dim  int
}

// New connects to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies the schema. dim fixes the vector column width, so it
// must match the embedding client's dimensionality.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS users (
  id            TEXT PRIMARY KEY,
  email         TEXT NOT NULL UNIQUE,
  full_name     TEXT NOT NULL DEFAULT '',
  password_hash TEXT NOT NULL,
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
  id              TEXT PRIMARY KEY,
  user_id         TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  filename        TEXT NOT NULL,
  title           TEXT NOT NULL DEFAULT '',
  author          TEXT NOT NULL DEFAULT '',
  page_count      INT NOT NULL DEFAULT 0,
  character_count INT NOT NULL DEFAULT 0,
  chunk_count     INT NOT NULL DEFAULT 0,
  uploaded_at     TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS documents_user_idx ON documents (user_id);

CREATE TABLE IF NOT EXISTS document_chunks (
  id          TEXT PRIMARY KEY,
  document_id TEXT NOT NULL,
  user_id     TEXT NOT NULL,
  chunk_index INT NOT NULL,
  content     TEXT NOT NULL,
  start_char  INT NOT NULL,
  end_char    INT NOT NULL,
  filename    TEXT NOT NULL DEFAULT '',
  title       TEXT NOT NULL DEFAULT '',
  embedding   vector(%d) NOT NULL,
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS document_chunks_doc_seq_uidx
  ON document_chunks (document_id, chunk_index);

CREATE INDEX IF NOT EXISTS document_chunks_user_idx
  ON document_chunks (user_id);

CREATE INDEX IF NOT EXISTS document_chunks_embedding_idx
  ON document_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	if err == nil {
		s.dim = dim
	}
	return err
}

func (s *Store) CreateUser(ctx context.Context, email, passwordHash, fullName string) (User, error) {
	const q = `
		INSERT INTO users (id, email, full_name, password_hash, created_at)
		VALUES (gen_random_uuid()::text, $1, $2, $3, now())
		RETURNING id, email, full_name, created_at`

	var u User
	err := s.pool.QueryRow(ctx, q, email, fullName, passwordHash).
		Scan(&u.ID, &u.Email, &u.FullName, &u.CreatedAt)
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, bool, error) {
	const q = `
		SELECT id, email, full_name, password_hash, created_at
		FROM users WHERE email = $1`

	var u User
	err := s.pool.QueryRow(ctx, q, email).
		Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	return u, true, nil
}

func (s *Store) InsertDocument(ctx context.Context, d models.Document) error {
	const q = `
		INSERT INTO documents (
			id, user_id, filename, title, author,
			page_count, character_count, chunk_count, uploaded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := s.pool.Exec(ctx, q,
		d.ID, d.UserID, d.Filename, d.Title, d.Author,
		d.PageCount, d.CharCount, d.ChunkCount, d.UploadedAt,
	)
	return err
}

func (s *Store) GetDocument(ctx context.Context, id, userID string) (models.Document, error) {
	const q = `
		SELECT id, user_id, filename, title, author,
		       page_count, character_count, chunk_count, uploaded_at
		FROM documents WHERE id = $1 AND user_id = $2`

	var d models.Document
	err := s.pool.QueryRow(ctx, q, id, userID).Scan(
		&d.ID, &d.UserID, &d.Filename, &d.Title, &d.Author,
		&d.PageCount, &d.CharCount, &d.ChunkCount, &d.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Document{}, ErrNotFound
		}
		return models.Document{}, err
	}
	return d, nil
}

func (s *Store) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	const q = `
		SELECT id, user_id, filename, title, author,
		       page_count, character_count, chunk_count, uploaded_at
		FROM documents WHERE user_id = $1
		ORDER BY uploaded_at DESC`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(
			&d.ID, &d.UserID, &d.Filename, &d.Title, &d.Author,
			&d.PageCount, &d.CharCount, &d.ChunkCount, &d.UploadedAt,
		); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes the document row and its chunks in one
// transaction. Deleting someone else's document is ErrNotFound.
func (s *Store) DeleteDocument(ctx context.Context, id, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM document_chunks WHERE document_id = $1 AND user_id = $2`, id, userID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpsertChunks writes a batch of chunks with their embeddings. The two
// slices must pair up one to one.
func (s *Store) UpsertChunks(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	const q = `
		INSERT INTO document_chunks (
			id, document_id, user_id, chunk_index, content,
			start_char, end_char, filename, title, embedding, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
		ON CONFLICT (document_id, chunk_index) DO UPDATE SET
			content    = EXCLUDED.content,
			start_char = EXCLUDED.start_char,
			end_char   = EXCLUDED.end_char,
			embedding  = EXCLUDED.embedding`

	batch := &pgx.Batch{}
	for i, c := range chunks {
		batch.Queue(q,
			c.ID, c.DocumentID, c.UserID, c.Index, c.Text,
			c.StartChar, c.EndChar, c.Filename, c.Title,
			pgvector.NewVector(vectors[i]),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// SearchChunks runs cosine nearest-neighbor search scoped to the
// filter. Scores are 1 - cosine_distance clamped into [0,1].
func (s *Store) SearchChunks(ctx context.Context, vec []float32, topK int, f ChunkFilter) ([]models.SearchResult, error) {
	if f.UserID == "" {
		return nil, errors.New("user filter is required")
	}
	if topK <= 0 {
		topK = 5
	}

	args := []any{pgvector.NewVector(vec), f.UserID}
	where := "user_id = $2"
	if f.DocumentID != "" {
		where += " AND document_id = $3"
		args = append(args, f.DocumentID)
	}

	q := fmt.Sprintf(`
		SELECT id, document_id, user_id, chunk_index, content,
		       start_char, end_char, filename, title,
		       LEAST(GREATEST(1.0 - (embedding <=> $1), 0), 1) AS score
		FROM document_chunks
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT %d`, where, topK)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchResult
	for rows.Next() {
		var c models.Chunk
		var score float64
		if err := rows.Scan(
			&c.ID, &c.DocumentID, &c.UserID, &c.Index, &c.Text,
			&c.StartChar, &c.EndChar, &c.Filename, &c.Title, &score,
		); err != nil {
			return nil, err
		}
		out = append(out, models.SearchResult{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

// DeleteChunks removes every chunk of a document. Used both by
// document deletion and by ingestion rollback.
func (s *Store) DeleteChunks(ctx context.Context, documentID, userID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM document_chunks WHERE document_id = $1 AND user_id = $2`,
		documentID, userID)
	return err
}

func (s *Store) Stats(ctx context.Context, userID string) (IndexStats, error) {
	const q = `
		SELECT
		  (SELECT count(*) FROM documents WHERE user_id = $1),
		  (SELECT count(*) FROM document_chunks WHERE user_id = $1)`

	st := IndexStats{Dimension: s.dim}
	err := s.pool.QueryRow(ctx, q, userID).Scan(&st.Documents, &st.Chunks)
	return st, err
}
