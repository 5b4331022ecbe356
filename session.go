package tinct

import (
	"sync"

	"github.com/google/uuid"

	"github.com/jward/tinct/internal/scope"
)

// Session holds the scope state of one document between Classify calls:
// the last recorded semantic version, the edits since the last pass and the
// span that pass tagged. A Session belongs to exactly one document.
type Session struct {
	ID  uuid.UUID
	Key DocumentKey

	mu         sync.Mutex
	version    scope.Version
	lastChange *ChangeRange
	lastTagged TextSpan
	hasTagged  bool
	editSeq    uint64
}

// NewSession creates a Session for key with no recorded state.
func NewSession(key DocumentKey) *Session {
	return &Session{ID: uuid.New(), Key: key}
}

// RecordEdit notes an edit made since the last pass. Edits recorded before
// the next pass are collapsed into one change range covering all of them.
func (s *Session) RecordEdit(change ChangeRange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastChange != nil {
		change = s.lastChange.Collapse(change)
	}
	s.lastChange = &change
	s.editSeq++
}

// PendingChange returns the collapsed edits not yet consumed by a pass.
func (s *Session) PendingChange() (ChangeRange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastChange == nil {
		return ChangeRange{}, false
	}
	return *s.lastChange, true
}

// SemanticVersion returns the version recorded by the last successful pass.
func (s *Session) SemanticVersion() scope.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// LastTagged returns the span tagged by the last successful pass.
func (s *Session) LastTagged() (TextSpan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTagged, s.hasTagged
}

// sessionState is a consistent snapshot taken at the start of a pass.
type sessionState struct {
	version scope.Version
	change  *ChangeRange
	seq     uint64
}

func (s *Session) snapshot() sessionState {
	if s == nil {
		return sessionState{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := sessionState{version: s.version, seq: s.editSeq}
	if s.lastChange != nil {
		c := *s.lastChange
		st.change = &c
	}
	return st
}

// commit records a successful pass. Edits recorded while the pass was in
// flight stay pending.
func (s *Session) commit(from sessionState, version scope.Version, tagged TextSpan) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
	s.lastTagged = tagged
	s.hasTagged = true
	if s.editSeq == from.seq {
		s.lastChange = nil
	}
}
