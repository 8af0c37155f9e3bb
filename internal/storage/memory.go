package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/eugenenazirov/trainconf/internal/hparams"
)

type memoryEntry struct {
	rev Revision
	doc *hparams.Document
}

// MemoryStorage keeps documents in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	mu      sync.RWMutex
	opts    options
	history map[string][]memoryEntry
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage(opts ...Option) *MemoryStorage {
	return &MemoryStorage{
		opts:    buildOptions(opts),
		history: make(map[string][]memoryEntry),
	}
}

// Get returns a defensive copy of the current document stored under name.
func (s *MemoryStorage) Get(_ context.Context, name string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[name]
	if len(entries) == 0 {
		return Record{}, ErrNotFound
	}
	current := entries[len(entries)-1]
	return Record{Revision: current.rev, Document: current.doc.Clone()}, nil
}

// Put validates the name and appends a new revision.
func (s *MemoryStorage) Put(_ context.Context, name string, doc *hparams.Document) (Revision, error) {
	if err := ValidateName(name); err != nil {
		return Revision{}, err
	}
	checksum, _, err := Checksum(doc)
	if err != nil {
		return Revision{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.history[name]
	version := 1
	if n := len(entries); n > 0 {
		current := entries[n-1]
		if hparams.Equivalent(current.doc, doc) {
			return current.rev, nil
		}
		version = current.rev.Version + 1
	}

	rev := Revision{
		Name:      name,
		Version:   version,
		Checksum:  checksum,
		UpdatedAt: s.opts.clock(),
	}
	s.history[name] = append(entries, memoryEntry{rev: rev, doc: doc.Clone()})
	return rev, nil
}

// Delete drops the document and its history.
func (s *MemoryStorage) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.history[name]; !ok {
		return ErrNotFound
	}
	delete(s.history, name)
	return nil
}

// List returns the current revision of every document, sorted by name.
func (s *MemoryStorage) List(_ context.Context) ([]Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Revision, 0, len(s.history))
	for _, entries := range s.history {
		out = append(out, entries[len(entries)-1].rev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// History returns every revision of name, oldest first.
func (s *MemoryStorage) History(_ context.Context, name string) ([]Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[name]
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	out := make([]Revision, len(entries))
	for i, e := range entries {
		out[i] = e.rev
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStorage) Close() error {
	return nil
}
