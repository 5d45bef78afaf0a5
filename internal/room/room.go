package room

import (
	"errors"
	"sync"
)

// DefaultLanguage is the language a freshly created room starts with.
const DefaultLanguage = "javascript"

// supportedLanguages is the set of JDoodle language ids the editor offers.
var supportedLanguages = map[string]bool{
	"javascript": true,
	"nodejs":     true,
	"python3":    true,
	"java":       true,
	"cpp17":      true,
	"c":          true,
	"csharp":     true,
	"go":         true,
	"ruby":       true,
	"php":        true,
	"rust":       true,
	"kotlin":     true,
	"swift":      true,
}

func LanguageSupported(language string) bool {
	return supportedLanguages[language]
}

// Field names a mutable slot of the shared document.
type Field string

const (
	FieldCode      Field = "code"
	FieldLanguage  Field = "language"
	FieldUserInput Field = "userInput"
	FieldOutput    Field = "output"
)

// ErrNotFound is returned when an event references a room that was already
// garbage collected. Callers absorb it; it is a benign race, not a failure.
var ErrNotFound = errors.New("room not found")

// Room is the single authoritative copy of one session's shared document.
// Every field update is a total overwrite; the last writer wins.
type Room struct {
	ID string

	mu        sync.RWMutex
	code      string
	language  string
	userInput string
	output    string
}

// Snapshot is a point-in-time copy of the document, taken for the sync sent
// to a joining connection.
type Snapshot struct {
	Code      string
	Language  string
	UserInput string
	Output    string
}

func (r *Room) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		Code:      r.code,
		Language:  r.language,
		UserInput: r.userInput,
		Output:    r.output,
	}
}

func (r *Room) set(field Field, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch field {
	case FieldCode:
		r.code = value
	case FieldLanguage:
		r.language = value
	case FieldUserInput:
		r.userInput = value
	case FieldOutput:
		r.output = value
	}
}

// Store owns every live room, keyed by the client-supplied room id. Rooms
// are created lazily on first join and deleted when the last identified
// connection leaves; nothing survives the process.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewStore() *Store {
	return &Store{
		rooms: make(map[string]*Room),
	}
}

// GetOrCreate returns the room for the id, creating it with default empty
// state if it has never been seen.
func (s *Store) GetOrCreate(roomID string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rooms[roomID]; ok {
		return r
	}
	r := &Room{ID: roomID, language: DefaultLanguage}
	s.rooms[roomID] = r
	return r
}

func (s *Store) Get(roomID string) (*Room, bool) {
	s.mu.RLock()
	r, ok := s.rooms[roomID]
	s.mu.RUnlock()
	return r, ok
}

// UpdateField overwrites one document field. Returns ErrNotFound if the
// room was already deleted, which callers treat as a guard, not a failure.
func (s *Store) UpdateField(roomID string, field Field, value string) error {
	r, ok := s.Get(roomID)
	if !ok {
		return ErrNotFound
	}
	r.set(field, value)
	return nil
}

// DeleteIfEmpty removes the room when no identified connections remain in
// it. Reports whether the room was deleted.
func (s *Store) DeleteIfEmpty(roomID string, presenceCount int) bool {
	if presenceCount > 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return false
	}
	delete(s.rooms, roomID)
	return true
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
