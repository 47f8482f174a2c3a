package conversation

import (
	"sync"

	"github.com/go-go-golems/docagent/pkg/settings"
	"github.com/pkg/errors"
)

type Outcome string

const (
	OutcomeNone      Outcome = "none"
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

func (o Outcome) Terminal() bool {
	return o == OutcomeSuccess || o == OutcomeFailed || o == OutcomeCancelled
}

var ErrRoundLimit = errors.New("round limit reached")

// Session holds the turns and bookkeeping of one agent run.
//
// The stop signal is kept apart from any context.Context: stopping a session
// never interrupts a backend call already in flight, it is observed at the
// next suspension point.
type Session struct {
	ID     string
	Config *settings.AgentConfig

	mu      sync.Mutex
	turns   []Turn
	rounds  int
	outcome Outcome
	partial string

	stopOnce sync.Once
	stop     chan struct{}
}

func NewSession(id string, cfg *settings.AgentConfig, prior []Turn) *Session {
	s := &Session{
		ID:      id,
		Config:  cfg,
		outcome: OutcomeNone,
		stop:    make(chan struct{}),
	}
	s.turns = append(s.turns, prior...)
	return s
}

func (s *Session) Append(turns ...Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turns...)
}

// Turns returns a copy of the turn list.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) LastTurn() (Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) == 0 {
		return Turn{}, false
	}
	return s.turns[len(s.turns)-1], true
}

func (s *Session) MaxRounds() int {
	if s.Config == nil || s.Config.MaxRounds <= 0 {
		return 5
	}
	return s.Config.MaxRounds
}

// BeginRound increments the round counter, refusing to go past MaxRounds.
func (s *Session) BeginRound() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rounds >= s.MaxRounds() {
		return s.rounds, ErrRoundLimit
	}
	s.rounds++
	return s.rounds, nil
}

func (s *Session) Rounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds
}

// SetPartial records the latest assistant text seen, kept for failed sessions.
func (s *Session) SetPartial(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partial = text
}

func (s *Session) Partial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

// Finish sets the terminal outcome. The first terminal outcome wins; later
// calls return false and leave it unchanged.
func (s *Session) Finish(o Outcome) bool {
	if !o.Terminal() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome.Terminal() {
		return false
	}
	s.outcome = o
	return true
}

func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Stop requests cancellation. Safe to call any number of times.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Session) Stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// StopRequested is closed once Stop has been called.
func (s *Session) StopRequested() <-chan struct{} {
	return s.stop
}
