package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// PostgresStore persists conversations in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects to databaseURL and creates the schema if needed.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("postgres store ready")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kioku_conversations (
			id TEXT PRIMARY KEY,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS kioku_messages (
			conversation_id TEXT NOT NULL REFERENCES kioku_conversations(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			PRIMARY KEY (conversation_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS kioku_memory_states (
			conversation_id TEXT PRIMARY KEY REFERENCES kioku_conversations(id) ON DELETE CASCADE,
			state BYTEA NOT NULL,
			total_tokens INTEGER NOT NULL,
			summarized_count INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, id string) (*Conversation, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO kioku_conversations (id, created_at, updated_at) VALUES ($1, $2, $2)
		 ON CONFLICT (id) DO NOTHING`,
		id, now,
	)
	if err != nil {
		return nil, fmt.Errorf("store: create conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrExists
	}
	return &Conversation{ID: id, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, message_count, created_at, updated_at FROM kioku_conversations WHERE id=$1`, id,
	).Scan(&c.ID, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM kioku_conversations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("store: delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessages(ctx context.Context, id string, msgs []memory.Message) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int
	err = tx.QueryRow(ctx,
		`SELECT message_count FROM kioku_conversations WHERE id=$1 FOR UPDATE`, id,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("store: append messages: %w", err)
	}

	batch := &pgx.Batch{}
	for i, m := range msgs {
		batch.Queue(
			`INSERT INTO kioku_messages (conversation_id, seq, role, content) VALUES ($1, $2, $3, $4)`,
			id, count+i, string(m.Role), m.Content,
		)
	}
	count += len(msgs)
	batch.Queue(
		`UPDATE kioku_conversations SET message_count=$1, updated_at=now() WHERE id=$2`,
		count, id,
	)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("store: insert messages: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store: commit append: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Messages(ctx context.Context, id string, offset int) ([]memory.Message, error) {
	if err := validateOffset(offset); err != nil {
		return nil, err
	}
	if _, err := s.GetConversation(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content FROM kioku_messages
		 WHERE conversation_id=$1 AND seq >= $2 ORDER BY seq ASC`,
		id, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	out := []memory.Message{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, memory.Message{Role: memory.Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate messages: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) LoadState(ctx context.Context, id string) (memory.MemoryState, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM kioku_memory_states WHERE conversation_id=$1`, id,
	).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := s.GetConversation(ctx, id); err != nil {
			return memory.MemoryState{}, err
		}
		return memory.MemoryState{}, nil
	}
	if err != nil {
		return memory.MemoryState{}, fmt.Errorf("store: load state: %w", err)
	}
	return memory.UnmarshalStateCBOR(blob)
}

func (s *PostgresStore) SaveState(ctx context.Context, id string, state memory.MemoryState) error {
	blob, err := memory.MarshalStateCBOR(state)
	if err != nil {
		return err
	}
	summarized := 0
	if state.Summary != nil {
		summarized = state.Summary.MessagesSummarizedCount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE kioku_conversations SET updated_at=now() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("store: touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO kioku_memory_states (conversation_id, state, total_tokens, summarized_count, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (conversation_id) DO UPDATE SET
			state = EXCLUDED.state,
			total_tokens = EXCLUDED.total_tokens,
			summarized_count = EXCLUDED.summarized_count,
			updated_at = EXCLUDED.updated_at`,
		id, blob, state.TotalTokensEstimate, summarized,
	); err != nil {
		return fmt.Errorf("store: save state: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit save: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
