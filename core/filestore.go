package core

// filestore.go implements a JSON-snapshot-backed KVStore, the persistence
// adapter the demo CLI uses so state survives across process invocations.
// Modeled on the widespread "load whole table, mutate, marshal back"
// pattern seen in dao_proposal.go's ledger-backed state; here the snapshot
// lives in a single file on disk instead of in a ledger, since the
// evaluation/staged-tx engines depend only on the narrow KVStore port and
// have no notion of a ledger.

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// FileStore is a KVStore that keeps its working set in memory and persists
// a full snapshot to disk after every mutation. It is meant for the single-
// process CLI demo, not for concurrent multi-process access.
type FileStore struct {
	mu   sync.RWMutex
	path string
	data map[string][]byte
}

// OpenFileStore loads path's JSON snapshot into memory, or starts empty if
// the file does not exist yet. The parent directory is created on demand.
func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, data: make(map[string][]byte)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, err
	}
	var wire map[string][]byte
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	fs.data = wire
	return fs, nil
}

func (fs *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(fs.data)
	if err != nil {
		return err
	}
	return os.WriteFile(fs.path, raw, 0o644)
}

func (fs *FileStore) Get(key []byte) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	v, ok := fs.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (fs *FileStore) Set(key, value []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	fs.data[string(key)] = cp
	return fs.persist()
}

func (fs *FileStore) Delete(key []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.data, string(key))
	return fs.persist()
}

// Iterator delegates to the same prefix-scan semantics as InMemoryStore by
// snapshotting the current data into one and reusing its iterator.
func (fs *FileStore) Iterator(prefix, end []byte) Iterator {
	fs.mu.RLock()
	snapshot := make(map[string][]byte, len(fs.data))
	for k, v := range fs.data {
		snapshot[k] = v
	}
	fs.mu.RUnlock()
	mem := &InMemoryStore{data: snapshot}
	return mem.Iterator(prefix, end)
}
