package flow

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/messaging"
	"github.com/BTreeMap/TourneyPipe/internal/models"
	"github.com/google/uuid"
)

// State is the lifecycle state of a session.
type State string

const (
	StateAwaitingStart  State = "AWAITING_START"
	StatePrompting      State = "PROMPTING"
	StateAwaitingAnswer State = "AWAITING_ANSWER"
	StateValidating     State = "VALIDATING"
	StateCompleted      State = "COMPLETED"
	StateCancelled      State = "CANCELLED"
	StateTimedOut       State = "TIMED_OUT"
	StateAborted        State = "ABORTED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateTimedOut, StateAborted:
		return true
	default:
		return false
	}
}

// Session is one user's traversal of the registry. All fields are guarded by mu
// once the session has been inserted into a SessionStore.
type Session struct {
	ID        string
	UserID    string
	ChannelID string
	GuildID   string
	Platform  string
	StartedAt time.Time

	// Answers maps question keys to recorded values.
	Answers map[string]string
	// Cursor is the index of the next question to present.
	Cursor int
	// SkipOverrides replaces the registry default skip state for a key.
	SkipOverrides map[string]bool
	// UpdateChannelID is derived from the update-channel answer.
	UpdateChannelID string

	State State

	mu        sync.Mutex
	promptSeq int
	pending   *messaging.Pending
	nudgeID   string
}

// NewSession creates a session at cursor 0 with no answers and registry-default skip flags.
func NewSession(userID, channelID string, now time.Time) *Session {
	return &Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		ChannelID:     channelID,
		StartedAt:     now,
		Answers:       make(map[string]string),
		SkipOverrides: make(map[string]bool),
		State:         StateAwaitingStart,
	}
}

// IsSkipped returns the effective skip state of q for this session.
func (s *Session) IsSkipped(q models.QuestionSpec) bool {
	if v, ok := s.SkipOverrides[q.Key]; ok {
		return v
	}
	return q.InitiallySkipped
}

// Skip forces keys to be bypassed.
func (s *Session) Skip(keys ...string) {
	for _, k := range keys {
		s.SkipOverrides[k] = true
	}
}

// Unskip forces keys to be asked.
func (s *Session) Unskip(keys ...string) {
	for _, k := range keys {
		s.SkipOverrides[k] = false
	}
}

func (s *Session) active() bool {
	return !s.State.Terminal()
}

// SessionStore is the table of active sessions keyed by user ID.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Create inserts s unless its user already has a session.
func (ss *SessionStore) Create(s *Session) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if _, exists := ss.sessions[s.UserID]; exists {
		return models.ErrAlreadyActive
	}
	ss.sessions[s.UserID] = s
	slog.Debug("SessionStore created session", "userID", s.UserID, "sessionID", s.ID)
	return nil
}

// Get returns the session of userID.
func (ss *SessionStore) Get(userID string) (*Session, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.sessions[userID]
	return s, ok
}

// Delete removes s if it is still the user's session.
func (ss *SessionStore) Delete(s *Session) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if current, ok := ss.sessions[s.UserID]; ok && current == s {
		delete(ss.sessions, s.UserID)
		slog.Debug("SessionStore destroyed session", "userID", s.UserID, "sessionID", s.ID)
		return true
	}
	return false
}

// Len returns the number of active sessions.
func (ss *SessionStore) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.sessions)
}

// Snapshot describes the active sessions, oldest first.
func (ss *SessionStore) Snapshot(reg *Registry) []models.SessionInfo {
	ss.mu.Lock()
	list := make([]*Session, 0, len(ss.sessions))
	for _, s := range ss.sessions {
		list = append(list, s)
	}
	ss.mu.Unlock()

	infos := make([]models.SessionInfo, 0, len(list))
	for _, s := range list {
		s.mu.Lock()
		info := models.SessionInfo{
			UserID:    s.UserID,
			ChannelID: s.ChannelID,
			Platform:  s.Platform,
			Cursor:    s.Cursor,
			Answered:  len(s.Answers),
			StartedAt: s.StartedAt,
		}
		if s.Cursor < reg.Len() {
			info.Question = reg.At(s.Cursor).Key
		}
		s.mu.Unlock()
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.Before(infos[j].StartedAt) })
	return infos
}
