// Package chat holds the in-memory conversational state for each chat room,
// bounded both in the number of resident chats and in per-chat history length.
package chat

import (
	"sync"
	"time"
)

// Key identifies one chat room: all connections on the same (project, chat)
// pair share one State.
type Key struct {
	ProjectID string
	ChatID    string
}

// Entry is a single history record. Role is one of user, assistant, system.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// State is a snapshot of one chat's conversational context. Snapshots are
// copies; mutating one never affects the store.
type State struct {
	ChatID       string
	DataSource   string
	History      []Entry
	LastAccessed time.Time
}

// state is the store-owned representation.
type state struct {
	chatID       string
	dataSource   string
	history      []Entry
	lastAccessed time.Time
}

// Store maps Keys to chat state. All methods are safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	states      map[Key]*state
	maxStates   int
	maxHistory  int
	idleTimeout time.Duration
	now         func() time.Time
}

// NewStore builds a store with a resident-state ceiling, a per-chat history
// bound, and the idle timeout used both by eviction-victim selection and the
// reaper. Zero maxStates means unlimited residents; zero maxHistory means
// unbounded history.
func NewStore(maxStates, maxHistory int, idleTimeout time.Duration) *Store {
	return &Store{
		states:      make(map[Key]*state),
		maxStates:   maxStates,
		maxHistory:  maxHistory,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// GetOrCreate returns a snapshot of the chat state for key, creating it with
// empty history on first use. Refreshes last-accessed. Creating beyond the
// ceiling evicts another resident chat; the victim key (if any) is returned
// so callers can tear down its connections.
func (s *Store) GetOrCreate(key Key) (State, *Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, evicted := s.stateLocked(key)
	st.lastAccessed = s.now()
	return s.snapshotLocked(st), evicted
}

// stateLocked returns the state for key, creating it when absent. Creation
// applies the capacity policy, so the resident count never exceeds the
// ceiling no matter which operation first sees the key. Caller holds s.mu.
func (s *Store) stateLocked(key Key) (*state, *Key) {
	st, ok := s.states[key]
	if ok {
		return st, nil
	}
	var evicted *Key
	if s.maxStates > 0 && len(s.states) >= s.maxStates {
		evicted = s.evictLocked()
	}
	st = &state{chatID: key.ChatID}
	s.states[key] = st
	return st, evicted
}

// evictLocked picks an eviction victim: the least-recently-accessed entry
// whose idle time exceeds the timeout, falling back to the least-recently-
// accessed entry overall when every resident chat is still active.
func (s *Store) evictLocked() *Key {
	now := s.now()
	var victim Key
	var victimState *state
	var idleVictim Key
	var idleState *state

	for k, st := range s.states {
		if victimState == nil || st.lastAccessed.Before(victimState.lastAccessed) {
			victim, victimState = k, st
		}
		if now.Sub(st.lastAccessed) > s.idleTimeout {
			if idleState == nil || st.lastAccessed.Before(idleState.lastAccessed) {
				idleVictim, idleState = k, st
			}
		}
	}
	if idleState != nil {
		victim = idleVictim
	}
	if victimState == nil {
		return nil
	}
	delete(s.states, victim)
	return &victim
}

// Append adds one history entry, applying the trim policy in the same
// critical section so history never transiently exceeds the bound.
// Creates the state (under the capacity policy) if absent. Refreshes
// last-accessed.
func (s *Store) Append(key Key, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, _ := s.stateLocked(key)
	st.history = append(st.history, Entry{Role: role, Content: content})
	if s.maxHistory > 0 && len(st.history) > s.maxHistory {
		st.history = trimHistory(st.history, s.maxHistory)
	}
	st.lastAccessed = s.now()
}

// trimHistory keeps every system entry plus the most recent
// (max - systemCount) others, preserving relative order.
func trimHistory(history []Entry, max int) []Entry {
	systemCount := 0
	for _, e := range history {
		if e.Role == "system" {
			systemCount++
		}
	}
	keepOthers := max - systemCount
	if keepOthers < 0 {
		keepOthers = 0
	}

	otherTotal := len(history) - systemCount
	dropOthers := otherTotal - keepOthers

	trimmed := make([]Entry, 0, max)
	for _, e := range history {
		if e.Role != "system" && dropOthers > 0 {
			dropOthers--
			continue
		}
		trimmed = append(trimmed, e)
	}
	return trimmed
}

// SeedHistory installs previously persisted history for a chat that has none
// yet. A no-op when the chat already holds entries, so a reconnect cannot
// clobber live history. The trim policy applies to the seed.
func (s *Store) SeedHistory(key Key, entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, _ := s.stateLocked(key)
	if len(st.history) > 0 {
		return
	}
	st.history = append([]Entry(nil), entries...)
	if s.maxHistory > 0 && len(st.history) > s.maxHistory {
		st.history = trimHistory(st.history, s.maxHistory)
	}
	st.lastAccessed = s.now()
}

// SetDataSource records the active data-source override for the chat.
// Creates the state (under the capacity policy) if absent. Refreshes
// last-accessed.
func (s *Store) SetDataSource(key Key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, _ := s.stateLocked(key)
	st.dataSource = value
	st.lastAccessed = s.now()
}

// Touch refreshes last-accessed without mutating content. A no-op for
// unknown keys.
func (s *Store) Touch(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[key]; ok {
		st.lastAccessed = s.now()
	}
}

// Snapshot returns a copy of the state for key, refreshing last-accessed.
func (s *Store) Snapshot(key Key) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok {
		return State{}, false
	}
	st.lastAccessed = s.now()
	return s.snapshotLocked(st), true
}

func (s *Store) snapshotLocked(st *state) State {
	history := make([]Entry, len(st.history))
	copy(history, st.history)
	return State{
		ChatID:       st.chatID,
		DataSource:   st.dataSource,
		History:      history,
		LastAccessed: st.lastAccessed,
	}
}

// Remove deletes the state for key. Used by the reaper; client disconnects
// never remove state.
func (s *Store) Remove(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
}

// Expired returns the keys idle longer than the store's timeout as of now.
func (s *Store) Expired(now time.Time) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []Key
	for k, st := range s.states {
		if now.Sub(st.lastAccessed) > s.idleTimeout {
			expired = append(expired, k)
		}
	}
	return expired
}

// Len reports the number of resident chat states.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Keys returns all resident keys. Used by the HTTP listing endpoint.
func (s *Store) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, len(s.states))
	for k := range s.states {
		keys = append(keys, k)
	}
	return keys
}
