package emoji

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// token is one whitespace separated word of a source line.
type token struct {
	text string
	col  int // 1-based rune column
}

// sourceLine is the lexed form of one line of source text.
type sourceLine struct {
	no         int
	tokens     []token
	comment    string
	commentCol int
	hasComment bool
}

func (l sourceLine) blank() bool { return len(l.tokens) == 0 }

// lexLine splits a line into tokens and an optional trailing comment.
func lexLine(no int, line string) sourceLine {
	out := sourceLine{no: no}
	col := 0
	start := -1
	startCol := 0

	flush := func(end int) {
		if start >= 0 {
			out.tokens = append(out.tokens, token{text: line[start:end], col: startCol})
			start = -1
		}
	}

	for i, r := range line {
		col++
		if isCommentStart(line[i:]) {
			flush(i)
			out.hasComment = true
			out.commentCol = col
			out.comment = strings.TrimSpace(stripCommentMarker(line[i:]))
			return out
		}
		if unicode.IsSpace(r) {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
			startCol = col
		}
	}
	flush(len(line))
	return out
}

func isCommentStart(s string) bool {
	return strings.HasPrefix(s, CommentMarker) ||
		strings.HasPrefix(s, "#") ||
		strings.HasPrefix(s, "//")
}

func stripCommentMarker(s string) string {
	switch {
	case strings.HasPrefix(s, CommentMarker):
		s = strings.TrimPrefix(s, CommentMarker)
		return strings.TrimPrefix(s, variationSelector)
	case strings.HasPrefix(s, "//"):
		return s[2:]
	}
	return s[1:]
}

// splitGlued separates an opcode emoji written directly in front of its
// operand, e.g. "➕5" becomes "➕" and "5".
func splitGlued(tok token) []token {
	norm := strings.ReplaceAll(tok.text, variationSelector, "")
	if _, ok := tokenTable[norm]; ok {
		return []token{tok}
	}
	for _, info := range catalog {
		if info.Code == OP_INVALID || !strings.HasPrefix(norm, info.Emoji) {
			continue
		}
		rest := strings.TrimPrefix(norm[len(info.Emoji):], variationSelector)
		if rest == "" {
			continue
		}
		return []token{
			{text: info.Emoji, col: tok.col},
			{text: rest, col: tok.col + utf8.RuneCountInString(info.Emoji)},
		}
	}
	return []token{tok}
}

// isIdentifier accepts label names.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) && r < utf8.RuneSelf {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}

// looksLikeRegister matches R followed by digits, valid or not.
func looksLikeRegister(s string) bool {
	if len(s) < 2 || (s[0] != 'R' && s[0] != 'r') {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
