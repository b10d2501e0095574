package models

import "time"

// Document is the user-facing unit of identity: one uploaded file.
// Rows are immutable after ingestion; deleting a document cascades to
// its chunks in the vector index.
type Document struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Filename   string    `json:"filename"`
	Title      string    `json:"title,omitempty"`
	Author     string    `json:"author,omitempty"`
	PageCount  int       `json:"page_count"`
	CharCount  int       `json:"character_count"`
	ChunkCount int       `json:"chunk_count"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Chunk is a contiguous, possibly overlapping slice of a document's
// text. It is the unit of embedding and retrieval.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
	Filename   string `json:"filename,omitempty"`
	Title      string `json:"title,omitempty"`
}

// SearchResult is a raw nearest-neighbor hit from the vector index,
// before threshold filtering and labeling.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// RankedResult is a SearchResult that survived ranking, carrying the
// display relevance bucket.
type RankedResult struct {
	SearchResult
	Relevance string `json:"relevance"`
}
