package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CursorStore persists the last fully delivered mailbox nonce per
// (source, destination) pair, so a restarted relay resumes without
// re-scanning from zero.
type CursorStore interface {
	Load(srcChainID, dstChainID uint32) (uint64, error)
	Save(srcChainID, dstChainID uint32, nonce uint64) error
}

// FileCursorStore keeps one small JSON file per chain pair in a
// directory. Writes go through a temp file and rename so a crash cannot
// leave a torn cursor.
type FileCursorStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileCursorStore creates the directory if needed.
func NewFileCursorStore(dir string) (*FileCursorStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cursor directory: %w", err)
	}
	return &FileCursorStore{dir: dir}, nil
}

type cursorFile struct {
	Nonce uint64 `json:"nonce"`
}

func (s *FileCursorStore) path(src, dst uint32) string {
	return filepath.Join(s.dir, fmt.Sprintf("cursor_%d_%d.json", src, dst))
}

// Load returns the persisted nonce, or 0 if the pair has no cursor yet.
func (s *FileCursorStore) Load(src, dst uint32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(src, dst))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cursor for pair %d->%d: %w", src, dst, err)
	}
	var c cursorFile
	if err := json.Unmarshal(data, &c); err != nil {
		return 0, fmt.Errorf("corrupt cursor for pair %d->%d: %w", src, dst, err)
	}
	return c.Nonce, nil
}

// Save atomically persists the nonce for the pair.
func (s *FileCursorStore) Save(src, dst uint32, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(cursorFile{Nonce: nonce})
	if err != nil {
		return err
	}
	tmp := s.path(src, dst) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cursor for pair %d->%d: %w", src, dst, err)
	}
	return os.Rename(tmp, s.path(src, dst))
}

// MemoryCursorStore is an in-process store for tests and single-run
// tooling.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[[2]uint32]uint64
}

// NewMemoryCursorStore creates an empty store.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[[2]uint32]uint64)}
}

func (s *MemoryCursorStore) Load(src, dst uint32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[[2]uint32{src, dst}], nil
}

func (s *MemoryCursorStore) Save(src, dst uint32, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[[2]uint32{src, dst}] = nonce
	return nil
}
