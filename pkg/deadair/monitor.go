package deadair

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Radicalscale/virevo-sub005/pkg/coordinator"
	"github.com/Radicalscale/virevo-sub005/pkg/dialog"
	"github.com/Radicalscale/virevo-sub005/pkg/logging"
	"github.com/Radicalscale/virevo-sub005/pkg/metrics"
)

const (
	defaultPollInterval      = 500 * time.Millisecond
	defaultSilenceThreshold  = 7 * time.Second
	defaultExtendedThreshold = 25 * time.Second
	defaultMaxCheckins       = 3
)

var defaultCheckinPhrases = []string{
	"Are you still there?",
	"Hello? Can you hear me?",
	"I'll give you another moment.",
}

// Phrases that mean the caller asked for time. Hearing one stretches the
// silence tolerance so the agent doesn't nag someone who said "hold on".
var waitPhrases = []string{
	"hold on", "hang on", "one moment", "just a moment", "one second",
	"one sec", "just a sec", "give me a second", "give me a minute",
	"just a minute", "bear with me", "let me check", "let me look",
}

type Config struct {
	PollInterval      time.Duration
	SilenceThreshold  time.Duration
	ExtendedThreshold time.Duration
	MaxCheckins       int
	CheckinPhrases    []string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = defaultSilenceThreshold
	}
	if c.ExtendedThreshold <= 0 {
		c.ExtendedThreshold = defaultExtendedThreshold
	}
	if c.MaxCheckins <= 0 {
		c.MaxCheckins = defaultMaxCheckins
	}
	if len(c.CheckinPhrases) == 0 {
		c.CheckinPhrases = defaultCheckinPhrases
	}
	return c
}

// Monitor watches one call for dead air. Every poll it also drains the
// coordinator, so remote flags reach the session at the same cadence. After
// enough silence it speaks a check-in through the normal synthesis path;
// after too many unanswered check-ins it hangs the call up.
type Monitor struct {
	cfg   Config
	sess  *dialog.Session
	coord *coordinator.Coordinator

	speak  func(ctx context.Context, text string) error
	hangup func(ctx context.Context, reason string)

	extended atomic.Bool

	logger   *slog.Logger
	observer metrics.Observer
}

func NewMonitor(
	cfg Config,
	sess *dialog.Session,
	coord *coordinator.Coordinator,
	speak func(ctx context.Context, text string) error,
	hangup func(ctx context.Context, reason string),
	observer metrics.Observer,
) *Monitor {
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &Monitor{
		cfg:      cfg.withDefaults(),
		sess:     sess,
		coord:    coord,
		speak:    speak,
		hangup:   hangup,
		logger:   logging.NewComponentLogger(slog.Default(), "deadair"),
		observer: observer,
	}
}

// NoteUtterance feeds the monitor what the caller last said. A wait phrase
// raises the extended threshold; anything else restores the normal one.
func (m *Monitor) NoteUtterance(text string) {
	m.extended.Store(isWaitPhrase(text))
	m.sess.TouchSilence()
}

// Run blocks until the context is cancelled or the call ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := m.tick(ctx); done {
				return
			}
		}
	}
}

func (m *Monitor) tick(ctx context.Context) bool {
	if m.coord != nil {
		m.coord.Poll(ctx, m.sess.CallID())
	}
	if ended, _ := m.sess.Ended(); ended {
		return true
	}
	if m.sess.AgentSpeaking() || m.sess.UserSpeaking() {
		return false
	}

	threshold := m.cfg.SilenceThreshold
	if m.extended.Load() {
		threshold = m.cfg.ExtendedThreshold
	}
	if time.Since(m.sess.SilenceSince()) < threshold {
		return false
	}

	n := m.sess.IncrCheckin()
	if n > m.cfg.MaxCheckins {
		m.logger.Info("terminating silent call",
			slog.String("call_id", m.sess.CallID()),
			slog.Int("checkins", n-1))
		if m.hangup != nil {
			m.hangup(ctx, "dead_air")
		}
		m.sess.MarkEnded("dead_air")
		return true
	}

	phrase := m.cfg.CheckinPhrases[(n-1)%len(m.cfg.CheckinPhrases)]
	m.logger.Info("dead air check-in",
		slog.String("call_id", m.sess.CallID()),
		slog.Int("attempt", n),
		slog.Duration("threshold", threshold))
	m.observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventCheckin,
		Value: float64(n),
		Tags:  map[string]string{"call_id": m.sess.CallID()},
	})
	if m.speak != nil {
		if err := m.speak(ctx, phrase); err != nil {
			m.logger.Warn("check-in synthesis failed",
				slog.String("call_id", m.sess.CallID()),
				slog.String("error", err.Error()))
		}
	}
	// A check-in spends the wait-phrase grace and restarts the clock.
	m.extended.Store(false)
	m.sess.TouchSilence()
	return false
}

func isWaitPhrase(text string) bool {
	norm := strings.ToLower(strings.TrimSpace(text))
	for _, p := range waitPhrases {
		if strings.Contains(norm, p) {
			return true
		}
	}
	return false
}
