package agent

import (
	"sync"

	"github.com/go-go-golems/docagent/pkg/conversation"
)

// sessionSet tracks the sessions in flight per conversation so Stop can
// reach them. A conversation may have more than one session when runs
// overlap; Stop signals all of them.
type sessionSet struct {
	mu       sync.Mutex
	sessions map[string]map[*conversation.Session]struct{}
}

func newSessionSet() *sessionSet {
	return &sessionSet{sessions: map[string]map[*conversation.Session]struct{}{}}
}

func (s *sessionSet) add(sess *conversation.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sessions[sess.ID]
	if !ok {
		set = map[*conversation.Session]struct{}{}
		s.sessions[sess.ID] = set
	}
	set[sess] = struct{}{}
}

func (s *sessionSet) remove(sess *conversation.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sessions[sess.ID]
	if !ok {
		return
	}
	delete(set, sess)
	if len(set) == 0 {
		delete(s.sessions, sess.ID)
	}
}

// stop signals every session of the conversation and reports how many
// were running.
func (s *sessionSet) stop(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sessions[conversationID]
	for sess := range set {
		sess.Stop()
	}
	return len(set)
}

func (s *sessionSet) running(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions[conversationID]) > 0
}
