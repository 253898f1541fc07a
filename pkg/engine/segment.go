package engine

import "strings"

// splitSegments breaks a reply into sentence-sized fragments for streaming
// synthesis. The first fragment reaching the vendor early is what keeps
// perceived latency low; exact sentence boundaries matter less than getting
// something speakable out fast.
func splitSegments(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	var sb strings.Builder
	for i := 0; i < len(text); i++ {
		c := text[i]
		sb.WriteByte(c)
		if !isSentenceEnd(c) {
			continue
		}
		// Keep trailing runs like "?!" or "..." together.
		for i+1 < len(text) && isSentenceEnd(text[i+1]) {
			i++
			sb.WriteByte(text[i])
		}
		if seg := strings.TrimSpace(sb.String()); seg != "" {
			out = append(out, seg)
		}
		sb.Reset()
	}
	if seg := strings.TrimSpace(sb.String()); seg != "" {
		out = append(out, seg)
	}
	return out
}

func isSentenceEnd(c byte) bool {
	return c == '.' || c == '!' || c == '?' || c == '\n'
}
