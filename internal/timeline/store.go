package timeline

import (
	"fmt"
	"sync"
	"time"

	"robot-diary/server/internal/models"
)

// ArchiveWriter persists a journey snapshot and returns the path it was
// written to. Implemented by storage.Archiver.
type ArchiveWriter interface {
	Write(snap models.JourneySnapshot) (string, error)
}

// Store is the bounded, ordered, in-memory timeline for the current journey,
// newest last. One mutex covers both the entry sequence and the journey
// counter; handlers share a single Store for the life of the process.
type Store struct {
	mu         sync.Mutex
	entries    []models.Entry
	maxEntries int
	journeyID  int
}

func NewStore(maxEntries int) *Store {
	return &Store{
		entries:    make([]models.Entry, 0, maxEntries),
		maxEntries: maxEntries,
		journeyID:  1,
	}
}

// Append adds an entry to the end of the timeline, evicting from the front
// when the bound is exceeded. Entries are never mutated after this point.
func (s *Store) Append(entry models.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if len(s.entries) > s.maxEntries {
		excess := len(s.entries) - s.maxEntries
		s.entries = append(s.entries[:0:0], s.entries[excess:]...)
	}
}

// Tail returns a copy of the last n entries in stored (oldest-first) order.
// If n exceeds the timeline length the whole sequence is returned.
func (s *Store) Tail(n int) []models.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 {
		n = 0
	}
	if n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]models.Entry, n)
	copy(out, s.entries[len(s.entries)-n:])
	return out
}

// Len returns the current number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear empties the timeline without touching the journey counter.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]
}

// JourneyID returns the current journey counter. Counting starts at 1 and is
// only ever advanced by Reset.
func (s *Store) JourneyID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.journeyID
}

// Reset archives the current timeline and starts a new journey. The snapshot,
// the archive write, the clear, and the counter increment all happen under one
// lock acquisition, so no concurrent append can slip between the archived
// record and the cleared timeline. If the write fails the timeline and counter
// are left untouched.
func (s *Store) Reset(w ArchiveWriter) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := models.JourneySnapshot{
		ArchivedAt: time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		JourneyID:  s.journeyID,
		Entries:    append([]models.Entry{}, s.entries...),
	}

	path, err := w.Write(snap)
	if err != nil {
		return "", fmt.Errorf("archive journey %d: %w", s.journeyID, err)
	}

	s.entries = s.entries[:0]
	s.journeyID++
	return path, nil
}
