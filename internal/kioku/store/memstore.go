package store

import (
	"context"
	"sync"
	"time"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// MemoryStore keeps everything in process memory. State snapshots are
// stored CBOR-encoded so callers never share slices with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*memConversation
	now   func() time.Time
}

type memConversation struct {
	meta       Conversation
	transcript []memory.Message
	state      []byte
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string]*memConversation),
		now:   time.Now,
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[id]; ok {
		return nil, ErrExists
	}
	now := s.now().UTC()
	c := &memConversation{meta: Conversation{ID: id, CreatedAt: now, UpdatedAt: now}}
	s.convs[id] = c
	meta := c.meta
	return &meta, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	meta := c.meta
	return &meta, nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[id]; !ok {
		return ErrNotFound
	}
	delete(s.convs, id)
	return nil
}

func (s *MemoryStore) AppendMessages(_ context.Context, id string, msgs []memory.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return 0, ErrNotFound
	}
	c.transcript = append(c.transcript, msgs...)
	c.meta.MessageCount = len(c.transcript)
	c.meta.UpdatedAt = s.now().UTC()
	return c.meta.MessageCount, nil
}

func (s *MemoryStore) Messages(_ context.Context, id string, offset int) ([]memory.Message, error) {
	if err := validateOffset(offset); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if offset >= len(c.transcript) {
		return []memory.Message{}, nil
	}
	out := make([]memory.Message, len(c.transcript)-offset)
	copy(out, c.transcript[offset:])
	return out, nil
}

func (s *MemoryStore) LoadState(_ context.Context, id string) (memory.MemoryState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[id]
	if !ok {
		return memory.MemoryState{}, ErrNotFound
	}
	if c.state == nil {
		return memory.MemoryState{}, nil
	}
	return memory.UnmarshalStateCBOR(c.state)
}

func (s *MemoryStore) SaveState(_ context.Context, id string, state memory.MemoryState) error {
	blob, err := memory.MarshalStateCBOR(state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	c.state = blob
	c.meta.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
