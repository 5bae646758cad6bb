package clipboard

import (
	"sync"
	"sync/atomic"
)

// File is the single shared attachment. It is never modified after it has been stored.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// FileMeta is the part of a File that is announced over the channel.
type FileMeta struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

func (f *File) Meta() FileMeta {
	return FileMeta{Name: f.Name, ContentType: f.ContentType}
}

// Store holds the shared text and the shared file. The zero value is an empty store ready for use.
type Store struct {
	mu   sync.RWMutex
	text string
	file atomic.Pointer[File]
}

func NewStore() *Store {
	return new(Store)
}

func (s *Store) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}

func (s *Store) SetText(text string) {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
}

// File returns the current file or nil when there is none.
func (s *Store) File() *File {
	return s.file.Load()
}

// SetFile replaces the file slot. A nil file clears it.
func (s *Store) SetFile(f *File) {
	s.file.Store(f)
}

// ClearFile empties the file slot and reports whether a file was present.
func (s *Store) ClearFile() bool {
	return s.file.Swap(nil) != nil
}

func (s *Store) FileMeta() (FileMeta, bool) {
	f := s.file.Load()
	if f == nil {
		return FileMeta{}, false
	}
	return f.Meta(), true
}

// Snapshot returns the text and the file metadata (nil when there is no file). The two reads are
// only mutually consistent when writers are serialized by the caller, as Server does.
func (s *Store) Snapshot() (string, *FileMeta) {
	text := s.Text()
	if m, ok := s.FileMeta(); ok {
		return text, &m
	}
	return text, nil
}
