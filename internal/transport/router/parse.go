package router

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

func newReqID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// closingQuote maps opening quotes to their closers. Mobile Discord clients
// substitute typographic quotes, so those count too.
var closingQuote = map[rune]rune{
	'"':      '"',
	'\'':     '\'',
	'\u201c': '\u201d',
	'\u2018': '\u2019',
}

// tokenizeCommandLine splits command text on whitespace, keeping quoted
// runs together and honoring backslash escapes.
//
//	!stats "Some Name" --mode bedwars
func tokenizeCommandLine(s string) []string {
	var (
		out     []string
		buf     strings.Builder
		started bool
		closer  rune
		esc     bool
	)
	for _, r := range s {
		switch {
		case esc:
			buf.WriteRune(r)
			esc = false
		case r == '\\':
			esc, started = true, true
		case closer != 0:
			if r == closer {
				closer = 0
			} else {
				buf.WriteRune(r)
			}
		case unicode.IsSpace(r):
			if started {
				out = append(out, buf.String())
				buf.Reset()
				started = false
			}
		default:
			if c, ok := closingQuote[r]; ok {
				closer, started = c, true
				continue
			}
			buf.WriteRune(r)
			started = true
		}
	}
	if started {
		out = append(out, buf.String())
	}
	return out
}

// parseFlags splits raw args into positionals and --flags.
// Single-dash tokens stay positional so negative numbers survive.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "--") || len(a) <= 2 {
			pos = append(pos, a)
			continue
		}
		key := strings.TrimPrefix(a, "--")
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			flags[key[:eq]] = key[eq+1:]
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			flags[key] = args[i+1]
			i++
			continue
		}
		bools[key] = true
	}
	return pos, flags, bools
}
