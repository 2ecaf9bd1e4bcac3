package verdictcache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps every verdict in one JSON object on disk, keyed by cache
// key. Writes replace the file atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context, key string) (Verdict, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	verdicts, err := s.readLocked()
	if err != nil {
		return Verdict{}, false, err
	}
	verdict, ok := verdicts[key]
	return verdict, ok, nil
}

func (s *FileStore) Save(_ context.Context, key string, verdict Verdict) error {
	if key == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	verdicts, err := s.readLocked()
	if err != nil {
		// An unreadable file is replaced rather than blocking new verdicts.
		verdicts = map[string]Verdict{}
	}
	verdicts[key] = verdict
	data, err := json.Marshal(verdicts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(s.path, data, 0o644)
}

func (s *FileStore) readLocked() (map[string]Verdict, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Verdict{}, nil
		}
		return nil, err
	}
	verdicts := map[string]Verdict{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return verdicts, nil
	}
	if err := json.Unmarshal(data, &verdicts); err != nil {
		return nil, err
	}
	if verdicts == nil {
		verdicts = map[string]Verdict{}
	}
	return verdicts, nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
