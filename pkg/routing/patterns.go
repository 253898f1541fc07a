package routing

import "strings"

// Polarity is the coarse stance of an utterance or a transition condition.
// The fast path only fires when both sides classify cleanly and agree.
type Polarity int

const (
	PolarityUnknown Polarity = iota
	PolarityAffirmative
	PolarityNegative
)

// Leading tokens that signal agreement or refusal. Matching is biased to the
// start of the utterance: "yeah, this is John" is affirmative even though the
// rest of the sentence is free text, while "I don't know, maybe yes" is not.
var affirmativeStarts = []string{
	"yes", "yeah", "yep", "yup", "sure", "correct", "right", "absolutely",
	"definitely", "of course", "ok", "okay", "speaking", "this is",
	"that's me", "thats me", "uh huh", "mhm",
}

var negativeStarts = []string{
	"no", "nope", "nah", "not", "never", "don't", "dont", "wrong number",
	"i'm not", "im not", "stop calling", "not interested",
}

// Words a transition condition uses to describe an affirmative answer.
var affirmativeConditionWords = []string{
	"yes", "agrees", "agree", "confirms", "confirm", "affirmative",
	"interested", "accepts", "accept", "positive", "available",
}

var negativeConditionWords = []string{
	"no", "declines", "decline", "refuses", "refuse", "negative",
	"not interested", "denies", "deny", "wrong number", "unavailable",
	"busy", "objects", "object",
}

// normalize lowercases and strips punctuation so pattern checks see plain
// words. Apostrophes stay because the pattern lists carry contractions.
func normalize(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '\'':
			sb.WriteRune(r)
		default:
			sb.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// classifyUtterance resolves the caller's stance by matching the start of the
// normalized utterance against the known leads. A negative lead wins over an
// affirmative one at the same position only if it is checked first, so
// negatives are checked first: "no yeah" reads as a refusal.
func classifyUtterance(utterance string) Polarity {
	norm := normalize(utterance)
	if norm == "" {
		return PolarityUnknown
	}
	for _, lead := range negativeStarts {
		if startsWithToken(norm, lead) {
			return PolarityNegative
		}
	}
	for _, lead := range affirmativeStarts {
		if startsWithToken(norm, lead) {
			return PolarityAffirmative
		}
	}
	return PolarityUnknown
}

// classifyCondition resolves the stance a transition condition describes.
// Conditions mentioning both stances classify as unknown and defer to the
// model.
func classifyCondition(condition string) Polarity {
	norm := " " + normalize(condition) + " "
	var aff, neg bool
	for _, w := range affirmativeConditionWords {
		if strings.Contains(norm, " "+w+" ") {
			aff = true
			break
		}
	}
	for _, w := range negativeConditionWords {
		if strings.Contains(norm, " "+w+" ") {
			neg = true
			break
		}
	}
	switch {
	case aff && !neg:
		return PolarityAffirmative
	case neg && !aff:
		return PolarityNegative
	default:
		return PolarityUnknown
	}
}

// startsWithToken reports whether s starts with lead at a word boundary.
func startsWithToken(s, lead string) bool {
	if !strings.HasPrefix(s, lead) {
		return false
	}
	return len(s) == len(lead) || s[len(lead)] == ' '
}
