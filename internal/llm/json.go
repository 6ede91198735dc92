package llm

import "strings"

// FirstJSONArray returns the first balanced JSON array in text, or "" when none.
func FirstJSONArray(text string) string {
	return firstBalanced(text, '[', ']')
}

// FirstJSONObject returns the first balanced JSON object in text, or "" when none.
func FirstJSONObject(text string) string {
	return firstBalanced(text, '{', '}')
}

// StripFences removes a surrounding markdown code fence.
func StripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

// firstBalanced scans for open and returns the text up to its matching close.
// Brackets inside JSON strings are ignored.
func firstBalanced(text string, open, close byte) string {
	for start := strings.IndexByte(text, open); start >= 0; {
		if end := matchClose(text, start, open, close); end > 0 {
			return text[start : end+1]
		}
		next := strings.IndexByte(text[start+1:], open)
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ""
}

func matchClose(text string, start int, open, close byte) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
