package dialog

import (
	"log/slog"
	"regexp"
	"sync"

	"github.com/Radicalscale/virevo-sub005/pkg/graph"
)

var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}
)

func compilePattern(pattern string) (*regexp.Regexp, error) {
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	patternCache[pattern] = re
	return re, nil
}

// extractVariables runs the node's capture patterns against the utterance and
// stores hits on the session. Existing values are left untouched. A pattern
// with a capture group stores the group; otherwise the whole match.
func extractVariables(sess *Session, vars []graph.Variable, utterance string) {
	for _, v := range vars {
		re, err := compilePattern(v.Pattern)
		if err != nil {
			slog.Warn("invalid variable pattern",
				slog.String("variable", v.Name),
				slog.String("error", err.Error()))
			continue
		}
		m := re.FindStringSubmatch(utterance)
		if m == nil {
			continue
		}
		value := m[0]
		if len(m) > 1 && m[1] != "" {
			value = m[1]
		}
		if sess.SetVar(v.Name, value) {
			slog.Debug("variable captured",
				slog.String("call_id", sess.CallID()),
				slog.String("variable", v.Name))
		}
	}
}
