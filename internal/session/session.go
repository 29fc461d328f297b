// Package session keeps per-chat conversation state: the broadcast draft
// finite-state machine and the stats pagination cache.
//
// State lives in memory only. A restart drops in-progress drafts, which
// matches the ephemeral nature of the flows that use it.
package session

import (
	"sync"
	"time"
)

// State is the broadcast conversation step for one chat.
type State string

const (
	StateIdle         State = ""
	StateCollectText  State = "collect_text"
	StateCollectMedia State = "collect_media"
	StateConfirm      State = "confirm"
)

// Draft is the in-progress, not-yet-sent broadcast content.
type Draft struct {
	ControlMessageID int
	Body             string
	// Media is the platform file reference of the attached image; empty
	// means a text-only broadcast.
	Media string
}

// StatPage is one cached statistics report page. HTML is what we render;
// Plain is the tag-stripped form the platform echoes back, used to locate
// the current page on scroll.
type StatPage struct {
	HTML  string
	Plain string
}

type Session struct {
	State     State
	Draft     Draft
	StatPages []StatPage

	touched time.Time
}

// Store is a mutex-guarded session map with a lazy TTL sweep, so chats that
// stop mid-conversation don't retain drafts forever.
type Store struct {
	mu sync.Mutex

	ttl        time.Duration
	sweepEvery time.Duration
	nextSweep  time.Time
	byChat     map[int64]*Session
}

func NewStore() *Store {
	return &Store{
		ttl:        6 * time.Hour,
		sweepEvery: 10 * time.Minute,
		byChat:     map[int64]*Session{},
	}
}

// Peek returns a copy of the chat's session; ok is false when none exists.
func (s *Store) Peek(chatID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeSweepLocked(time.Now())
	sess, ok := s.byChat[chatID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Update mutates the chat's session under the lock, creating it if needed.
func (s *Store) Update(chatID int64, fn func(*Session)) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeSweepLocked(now)
	sess, ok := s.byChat[chatID]
	if !ok {
		sess = &Session{}
		s.byChat[chatID] = sess
	}
	fn(sess)
	sess.touched = now
}

// Clear drops the chat's session entirely (draft and caches).
func (s *Store) Clear(chatID int64) {
	s.mu.Lock()
	delete(s.byChat, chatID)
	s.mu.Unlock()
}

func (s *Store) maybeSweepLocked(now time.Time) {
	if s.nextSweep.IsZero() {
		s.nextSweep = now.Add(s.sweepEvery)
		return
	}
	if now.Before(s.nextSweep) {
		return
	}
	for id, sess := range s.byChat {
		if now.Sub(sess.touched) > s.ttl {
			delete(s.byChat, id)
		}
	}
	s.nextSweep = now.Add(s.sweepEvery)
}
