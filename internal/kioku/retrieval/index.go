package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SQLiteIndex keeps documents in the documents table created by the store
// migrations and ranks them in Go. modernc.org/sqlite cannot load vector
// extensions, and the expected corpus is small enough for a full scan.
type SQLiteIndex struct {
	db       *sql.DB
	embedder Embedder
	logger   *slog.Logger
	now      func() time.Time
}

// NewSQLiteIndex wraps db. A nil embedder means term-overlap ranking only.
func NewSQLiteIndex(db *sql.DB, embedder Embedder, logger *slog.Logger) *SQLiteIndex {
	if embedder == nil {
		embedder = NoopEmbedder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteIndex{db: db, embedder: embedder, logger: logger, now: time.Now}
}

func (ix *SQLiteIndex) Add(ctx context.Context, doc Document) (string, error) {
	doc = prepareDocument(doc, ix.now)
	vec := embedOrWarn(ctx, ix.embedder, ix.logger, doc.Content)

	var embeddingJSON, metadataJSON []byte
	var err error
	if len(vec) > 0 {
		if embeddingJSON, err = json.Marshal(vec); err != nil {
			return "", fmt.Errorf("retrieval: marshal embedding: %w", err)
		}
	}
	if len(doc.Metadata) > 0 {
		if metadataJSON, err = json.Marshal(doc.Metadata); err != nil {
			return "", fmt.Errorf("retrieval: marshal metadata: %w", err)
		}
	}

	_, err = ix.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents (id, content, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Content, embeddingJSON, metadataJSON, doc.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("retrieval: insert document: %w", err)
	}
	return doc.ID, nil
}

func (ix *SQLiteIndex) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 || query == "" {
		return []Result{}, nil
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT id, content, embedding, metadata, created_at
		FROM documents ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("retrieval: query documents: %w", err)
	}
	defer rows.Close()

	var candidates []candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			ix.logger.Warn("retrieval: skip malformed row", "err", err)
			continue
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retrieval: iterate rows: %w", err)
	}

	queryVec := embedOrWarn(ctx, ix.embedder, ix.logger, query)
	return rank(query, queryVec, candidates, topK), nil
}

func scanCandidate(rows *sql.Rows) (candidate, error) {
	var (
		c                           candidate
		embeddingJSON, metadataJSON []byte
		createdAt                   string
	)
	if err := rows.Scan(&c.doc.ID, &c.doc.Content, &embeddingJSON, &metadataJSON, &createdAt); err != nil {
		return candidate{}, fmt.Errorf("scan row: %w", err)
	}
	if len(embeddingJSON) > 0 {
		if err := json.Unmarshal(embeddingJSON, &c.embedding); err != nil {
			return candidate{}, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &c.doc.Metadata); err != nil {
			return candidate{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return candidate{}, fmt.Errorf("parse created_at: %w", err)
	}
	c.doc.CreatedAt = t
	return c, nil
}

// MemoryIndex is the in-process Index used with the memory and Postgres
// stores.
type MemoryIndex struct {
	mu       sync.RWMutex
	docs     []candidate
	byID     map[string]int
	embedder Embedder
	logger   *slog.Logger
	now      func() time.Time
}

func NewMemoryIndex(embedder Embedder, logger *slog.Logger) *MemoryIndex {
	if embedder == nil {
		embedder = NoopEmbedder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryIndex{byID: make(map[string]int), embedder: embedder, logger: logger, now: time.Now}
}

func (ix *MemoryIndex) Add(ctx context.Context, doc Document) (string, error) {
	doc = prepareDocument(doc, ix.now)
	c := candidate{doc: doc, embedding: embedOrWarn(ctx, ix.embedder, ix.logger, doc.Content)}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if i, ok := ix.byID[doc.ID]; ok {
		ix.docs[i] = c
	} else {
		ix.byID[doc.ID] = len(ix.docs)
		ix.docs = append(ix.docs, c)
	}
	return doc.ID, nil
}

func (ix *MemoryIndex) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 || query == "" {
		return []Result{}, nil
	}
	queryVec := embedOrWarn(ctx, ix.embedder, ix.logger, query)

	ix.mu.RLock()
	snapshot := make([]candidate, len(ix.docs))
	copy(snapshot, ix.docs)
	ix.mu.RUnlock()

	return rank(query, queryVec, snapshot, topK), nil
}

func prepareDocument(doc Document, now func() time.Time) Document {
	if doc.ID == "" {
		doc.ID = "doc_" + uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now().UTC()
	}
	return doc
}

// embedOrWarn degrades to no vector when the embedder fails.
func embedOrWarn(ctx context.Context, e Embedder, logger *slog.Logger, text string) []float32 {
	vec, err := e.Embed(ctx, text)
	if err != nil {
		logger.Warn("retrieval: embedding failed, using term overlap", "err", err, "chars", len(text))
		return nil
	}
	return vec
}

var (
	_ Index = (*SQLiteIndex)(nil)
	_ Index = (*MemoryIndex)(nil)
)
