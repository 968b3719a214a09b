package command

import "strings"

// ParseLine splits a command line into the command name and its arguments.
// Arguments are separated by whitespace. A run of words whose first word
// starts with a double quote and whose last word ends with one is joined
// into a single argument with single spaces, quotes removed. An unterminated
// quote extends to the end of the line.
func ParseLine(line string) (string, []string) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return "", nil
	}

	var args []string
	var quoted []string
	inQuotes := false
	for _, w := range words[1:] {
		switch {
		case !inQuotes && strings.HasPrefix(w, `"`):
			if len(w) > 1 && strings.HasSuffix(w, `"`) {
				args = append(args, w[1:len(w)-1])
				continue
			}
			quoted = []string{w[1:]}
			inQuotes = true
		case inQuotes && strings.HasSuffix(w, `"`):
			quoted = append(quoted, w[:len(w)-1])
			args = append(args, strings.Join(quoted, " "))
			quoted, inQuotes = nil, false
		case inQuotes:
			quoted = append(quoted, w)
		default:
			args = append(args, w)
		}
	}
	if inQuotes {
		args = append(args, strings.Join(quoted, " "))
	}
	return words[0], args
}
