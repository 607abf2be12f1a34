// Package media holds transient audio blobs and the abstraction of a
// client-side media element that the gateway drives remotely.
package media

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Blob is an addressable chunk of audio bytes, the server-side equivalent of
// a browser object URL. It stays reachable until revoked.
type Blob struct {
	ID        string
	MIMEType  string
	Data      []byte
	CreatedAt time.Time
}

// BlobStore keeps blobs in memory and serves them over HTTP.
type BlobStore struct {
	baseURL string

	mu    sync.RWMutex
	blobs map[string]*Blob
	bytes int64

	onChange func(count int, bytes int64)
}

// NewBlobStore creates a store whose URLs are rooted at baseURL
// (for example "http://localhost:8080"). An empty baseURL yields relative URLs.
func NewBlobStore(baseURL string) *BlobStore {
	return &BlobStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		blobs:   make(map[string]*Blob),
	}
}

// OnChange registers a callback invoked after every Put or Revoke.
func (s *BlobStore) OnChange(fn func(count int, bytes int64)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Put stores data and returns the new blob.
func (s *BlobStore) Put(data []byte, mimeType string) *Blob {
	b := &Blob{
		ID:        uuid.New().String(),
		MIMEType:  mimeType,
		Data:      data,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.blobs[b.ID] = b
	s.bytes += int64(len(data))
	count, total, cb := len(s.blobs), s.bytes, s.onChange
	s.mu.Unlock()

	if cb != nil {
		cb(count, total)
	}
	return b
}

// URL returns the address at which blob id is served.
func (s *BlobStore) URL(id string) string {
	return s.baseURL + "/media/" + id
}

// Get looks up a live blob.
func (s *BlobStore) Get(id string) (*Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	return b, ok
}

// Revoke releases a blob. It reports whether the blob was live.
func (s *BlobStore) Revoke(id string) bool {
	s.mu.Lock()
	b, ok := s.blobs[id]
	if ok {
		delete(s.blobs, id)
		s.bytes -= int64(len(b.Data))
	}
	count, total, cb := len(s.blobs), s.bytes, s.onChange
	s.mu.Unlock()

	if ok && cb != nil {
		cb(count, total)
	}
	return ok
}

// Len returns the number of live blobs.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Handler serves GET /media/{id}.
func (s *BlobStore) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		b, ok := s.Get(id)
		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", b.MIMEType)
		w.Header().Set("Content-Length", strconv.Itoa(len(b.Data)))
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(b.Data)
		}
	}
}
