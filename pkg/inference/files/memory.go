package files

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps artifacts in process memory. Handles resolve to memory:// URLs.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: map[string]Blob{}}
}

func (s *MemoryStore) Save(ctx context.Context, blob Blob) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	id := uuid.NewString()
	data := make([]byte, len(blob.Data))
	copy(data, blob.Data)
	blob.Data = data
	blob.MimeType = normalizeMimeType(blob.MimeType)

	s.mu.Lock()
	s.blobs[id] = blob
	s.mu.Unlock()

	return Handle{
		ID:       id,
		URL:      "memory://" + id + extensionFor(blob.MimeType),
		MimeType: blob.MimeType,
		Size:     int64(len(data)),
		Transfer: TransferToolFile,
	}, nil
}

func (s *MemoryStore) Get(id string) (Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	if !ok {
		return Blob{}, ErrNotFound
	}
	return b, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
