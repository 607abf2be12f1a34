package settings

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

type fileSettings struct {
	Values map[string]string `toml:"values"`
}

// FileStore persists one user's settings as a TOML file under dir. Several
// stores may share a file: every write re-reads it and applies only its own
// change, serialized per path within the process.
type FileStore struct {
	path string
	lock *sync.Mutex

	mu     sync.Mutex
	values map[string]string
}

var pathLocks sync.Map // path -> *sync.Mutex

func lockFor(path string) *sync.Mutex {
	l, _ := pathLocks.LoadOrStore(path, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// OpenFileStore loads (or lazily creates) the settings file for userID.
func OpenFileStore(dir, userID string) (*FileStore, error) {
	name := fileName(userID)
	if name == "" {
		return nil, fmt.Errorf("user id is required")
	}

	path := filepath.Join(dir, name+".toml")
	values, err := readValues(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, lock: lockFor(path), values: values}, nil
}

func readValues(path string) (map[string]string, error) {
	values := make(map[string]string)
	var fc fileSettings
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	for k, v := range fc.Values {
		values[k] = v
	}
	return values, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *FileStore) Set(key, value string) error {
	return s.update(func(values map[string]string) bool {
		values[key] = value
		return true
	})
}

func (s *FileStore) Delete(key string) error {
	return s.update(func(values map[string]string) bool {
		if _, ok := values[key]; !ok {
			return false
		}
		delete(values, key)
		return true
	})
}

// update applies mut to the current file contents and writes them back when
// mut reports a change.
func (s *FileStore) update(mut func(map[string]string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lock.Lock()
	defer s.lock.Unlock()

	values, err := readValues(s.path)
	if err != nil {
		return err
	}
	if !mut(values) {
		s.values = values
		return nil
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(fileSettings{Values: values}); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := writeAtomic(s.path, buf.Bytes()); err != nil {
		return err
	}
	s.values = values
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}

// fileName maps a user id to a file name. Ids made only of letters, digits
// and dashes (Supabase UUIDs) are used as is; anything else is replaced by a
// readable prefix plus a hash of the full id so distinct ids never share a
// file. Hashed names always contain '_' and plain ones never do.
func fileName(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ""
	}
	plain := true
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			plain = false
			b.WriteRune('_')
		}
	}
	if plain {
		return userID
	}
	sum := sha256.Sum256([]byte(userID))
	prefix := b.String()
	if len(prefix) > 32 {
		prefix = prefix[:32]
	}
	return prefix + "_" + hex.EncodeToString(sum[:8])
}
