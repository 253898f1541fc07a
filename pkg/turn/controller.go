package turn

import (
	"strings"
	"sync"
)

// Decision is the controller's verdict on one transcript fragment.
type Decision int

const (
	// Ignore drops the fragment; backchannel noise while the agent speaks.
	Ignore Decision = iota
	// Deliver passes the fragment to the dialogue engine as a normal turn.
	Deliver
	// Interrupt halts agent playback and then delivers the fragment.
	Interrupt
)

func (d Decision) String() string {
	switch d {
	case Deliver:
		return "deliver"
	case Interrupt:
		return "interrupt"
	default:
		return "ignore"
	}
}

// Backchannel tokens that keep a conversation alive without claiming the
// floor. They never count toward the barge-in threshold.
var defaultFillers = map[string]struct{}{
	"uh": {}, "um": {}, "hmm": {}, "hm": {}, "mm": {}, "mhm": {},
	"uhhuh": {}, "huh": {}, "ah": {}, "oh": {}, "er": {}, "erm": {},
	"yeah": {}, "yep": {}, "ok": {}, "okay": {}, "right": {}, "sure": {},
	"like": {}, "so": {}, "well": {},
}

const defaultMinInterruptWords = 2

// Controller gates user speech against agent playback. While the agent is
// silent everything passes through untouched; the threshold exists only to
// keep "mhm" from cutting the agent off mid-sentence.
type Controller struct {
	fillers  map[string]struct{}
	minWords int
}

func NewController() *Controller {
	return &Controller{
		fillers:  defaultFillers,
		minWords: defaultMinInterruptWords,
	}
}

// Assess decides what to do with a transcript fragment. Finals while the
// agent is silent always deliver, unfiltered; partials while silent are
// ignored because the endpoint result follows. While the agent speaks, a
// fragment interrupts only when it carries enough substantive words.
func (c *Controller) Assess(text string, isFinal, agentSpeaking bool) Decision {
	if !agentSpeaking {
		if isFinal {
			return Deliver
		}
		return Ignore
	}
	if c.substantiveWords(text) >= c.minWords {
		return Interrupt
	}
	return Ignore
}

func (c *Controller) substantiveWords(text string) int {
	n := 0
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:'\"")
		if w == "" {
			continue
		}
		if _, filler := c.fillers[w]; filler {
			continue
		}
		n++
	}
	return n
}

// Phase is the coarse conversational state both the dead-air monitor and the
// transport key off.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseAgentSpeaking Phase = "agent_speaking"
	PhaseUserSpeaking  Phase = "user_speaking"
)

// FSM tracks the current phase and fans out changes to listeners. Listeners
// run on the caller's goroutine and must not block.
type FSM struct {
	mu        sync.Mutex
	phase     Phase
	listeners []func(prev, next Phase)
}

func NewFSM() *FSM {
	return &FSM{phase: PhaseIdle}
}

func (f *FSM) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

func (f *FSM) OnChange(fn func(prev, next Phase)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// Set moves to next and notifies listeners. Setting the current phase is a
// no-op.
func (f *FSM) Set(next Phase) {
	f.mu.Lock()
	prev := f.phase
	if prev == next {
		f.mu.Unlock()
		return
	}
	f.phase = next
	listeners := make([]func(prev, next Phase), len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(prev, next)
	}
}
