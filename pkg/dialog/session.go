package dialog

import (
	"sync"
	"time"

	"github.com/Radicalscale/virevo-sub005/pkg/llm"
)

// Session holds the mutable per-call conversation state. All access is
// synchronized; the transport, the engine, and the dead-air monitor touch it
// from different goroutines.
type Session struct {
	mu sync.Mutex

	callID  string
	current string

	vars    map[string]string
	history []llm.Turn

	agentSpeaking bool
	userSpeaking  bool

	silenceStart time.Time
	checkins     int

	loopCounts map[string]int

	ended     bool
	endReason string
}

func NewSession(callID, startNode string) *Session {
	return &Session{
		callID:       callID,
		current:      startNode,
		vars:         make(map[string]string),
		loopCounts:   make(map[string]int),
		silenceStart: time.Now(),
	}
}

func (s *Session) CallID() string {
	return s.callID
}

func (s *Session) CurrentNode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) setNode(id string) {
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
}

// SetVar records an extracted value. First write wins: a value captured early
// in the call is never clobbered by a later, usually worse, re-extraction.
func (s *Session) SetVar(name, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.vars[name]; exists {
		return false
	}
	s.vars[name] = value
	return true
}

func (s *Session) Vars() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

func (s *Session) AppendTurn(role, text string) {
	s.mu.Lock()
	s.history = append(s.history, llm.Turn{Role: role, Text: text})
	s.mu.Unlock()
}

func (s *Session) History() []llm.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Turn(nil), s.history...)
}

func (s *Session) SetAgentSpeaking(v bool) {
	s.mu.Lock()
	s.agentSpeaking = v
	if !v {
		s.silenceStart = time.Now()
	}
	s.mu.Unlock()
}

func (s *Session) AgentSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentSpeaking
}

func (s *Session) SetUserSpeaking(v bool) {
	s.mu.Lock()
	s.userSpeaking = v
	if !v {
		s.silenceStart = time.Now()
	}
	s.mu.Unlock()
}

func (s *Session) UserSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userSpeaking
}

// TouchSilence resets the silence clock, e.g. when any party makes a sound.
func (s *Session) TouchSilence() {
	s.mu.Lock()
	s.silenceStart = time.Now()
	s.mu.Unlock()
}

func (s *Session) SilenceSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.silenceStart
}

func (s *Session) IncrCheckin() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkins++
	return s.checkins
}

func (s *Session) Checkins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkins
}

func (s *Session) ResetCheckins() {
	s.mu.Lock()
	s.checkins = 0
	s.mu.Unlock()
}

func (s *Session) incrLoop(nodeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopCounts[nodeID]++
	return s.loopCounts[nodeID]
}

func (s *Session) MarkEnded(reason string) {
	s.mu.Lock()
	if !s.ended {
		s.ended = true
		s.endReason = reason
	}
	s.mu.Unlock()
}

func (s *Session) Ended() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended, s.endReason
}
