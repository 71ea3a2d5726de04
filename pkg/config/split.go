package config

import (
	"strings"
	"unicode"
)

// SplitFlags splits the value of the flags option into arguments, the way a
// shell would. Spaces inside single or double quotes are kept, a backslash
// escapes the next character outside of single quotes, and a pair of quotes
// with nothing between them is an empty argument.
func SplitFlags(in string) []string {
	type stateEnum int
	const (
		inSpace stateEnum = iota
		inField
		inQuote
		inEscape
	)
	var (
		state     = inSpace
		prevState = inSpace
		quote     rune
		r         = []string{}
		buf       strings.Builder
	)

	for _, ch := range in {
		switch state {
		case inSpace, inField:
			switch {
			case ch == '\'' || ch == '"':
				quote = ch
				state = inQuote
			case ch == '\\':
				prevState, state = inField, inEscape
			case unicode.IsSpace(ch):
				if state == inField {
					r = append(r, buf.String())
					buf.Reset()
				}
				state = inSpace
			default:
				buf.WriteRune(ch)
				state = inField
			}

		case inQuote:
			switch {
			case ch == quote:
				state = inField
			case ch == '\\' && quote == '"':
				prevState, state = inQuote, inEscape
			default:
				buf.WriteRune(ch)
			}

		case inEscape:
			buf.WriteRune(ch)
			state = prevState
		}
	}

	if state != inSpace {
		r = append(r, buf.String())
	}
	return r
}
