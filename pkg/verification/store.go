package verification

import (
	"hash/fnv"
	"sync"
)

// storeShards fixes the number of independent map shards. Operations for
// different users only contend when their IDs hash to the same shard.
const storeShards = 16

// Store tracks active verification sessions, at most one per user. The
// session map is sharded by user ID so unrelated users' create/get/remove
// calls do not serialize on one lock. No shard lock is ever held while a
// session waits for user input.
type Store struct {
	shards [storeShards]storeShard
}

type storeShard struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	st := &Store{}
	for i := range st.shards {
		st.shards[i].sessions = make(map[string]*Session)
	}
	return st
}

func (st *Store) shard(userID string) *storeShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &st.shards[h.Sum32()%storeShards]
}

// TryCreate creates a session for userID, or returns ErrAlreadyActive when
// one is already in flight. Concurrent calls for the same user are
// serialized: exactly one caller gets a session, the rest are rejected.
func (st *Store) TryCreate(userID string) (*Session, error) {
	sh := st.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.sessions[userID]; exists {
		return nil, ErrAlreadyActive
	}

	session := newSession(userID)
	sh.sessions[userID] = session
	return session, nil
}

// Get returns the active session for userID, if any.
func (st *Store) Get(userID string) (*Session, bool) {
	sh := st.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	session, ok := sh.sessions[userID]
	return session, ok
}

// Remove discards the session for userID. Removing an absent user is a
// no-op.
func (st *Store) Remove(userID string) {
	sh := st.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	delete(sh.sessions, userID)
}

// Len returns the number of active sessions.
func (st *Store) Len() int {
	var n int
	for i := range st.shards {
		sh := &st.shards[i]
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

// StateCounts returns a snapshot of active sessions grouped by state. The
// sessions are collected shard by shard and their states read afterwards,
// so no shard lock is held across a session lock.
func (st *Store) StateCounts() map[State]int {
	var snapshot []*Session
	for i := range st.shards {
		sh := &st.shards[i]
		sh.mu.Lock()
		for _, session := range sh.sessions {
			snapshot = append(snapshot, session)
		}
		sh.mu.Unlock()
	}

	counts := make(map[State]int)
	for _, session := range snapshot {
		counts[session.State()]++
	}
	return counts
}
