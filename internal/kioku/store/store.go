// Package store persists conversation transcripts and their memory state.
//
// A conversation owns an append-only transcript and at most one
// memory.MemoryState snapshot. The service feeds the manager with the
// transcript suffix that the stored summary has not yet absorbed
// (memory.Unsummarized), so the two are kept side by side.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("store: conversation not found")
	// ErrExists is returned when creating a conversation whose ID is taken.
	ErrExists = errors.New("store: conversation already exists")
)

// Conversation is the bookkeeping row for one conversation.
type Conversation struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Store is implemented by every persistence backend.
type Store interface {
	CreateConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// AppendMessages adds msgs to the end of the transcript and returns the
	// new transcript length.
	AppendMessages(ctx context.Context, id string, msgs []memory.Message) (int, error)
	// Messages returns the transcript starting at offset (0-based).
	Messages(ctx context.Context, id string, offset int) ([]memory.Message, error)

	// LoadState returns the saved state, or a zero MemoryState when the
	// conversation exists but nothing was saved yet.
	LoadState(ctx context.Context, id string) (memory.MemoryState, error)
	SaveState(ctx context.Context, id string, state memory.MemoryState) error

	Close() error
}

// Open selects a backend from dsn:
//
//	""  / "memory://"                 in-process map
//	"postgres://…" / "postgresql://…" PostgreSQL via pgxpool
//	"sqlite://path" / any other value SQLite file at path
func Open(ctx context.Context, dsn string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case dsn == "" || dsn == "memory://":
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn, logger)
	default:
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("store: empty sqlite path in %q", dsn)
		}
		return NewSQLite(path, logger)
	}
}

func validateOffset(offset int) error {
	if offset < 0 {
		return fmt.Errorf("store: negative offset %d", offset)
	}
	return nil
}
