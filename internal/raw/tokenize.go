package raw

import (
	"errors"
	"strings"
)

// ErrUnbalancedQuotes is returned for an unterminated or improperly closed
// quoted argument.
var ErrUnbalancedQuotes = errors.New("invalid argument(s): unbalanced quotes")

// SplitArgs splits a command line the way redis-cli does: arguments are
// separated by whitespace, double-quoted arguments understand \n \r \t \b \a
// \\ \" and \xHH escapes, single-quoted arguments only understand \'. A
// closing quote must be followed by whitespace or the end of input.
func SplitArgs(line string) ([]string, error) {
	var args []string
	i := 0
	n := len(line)

	for {
		for i < n && isSpace(line[i]) {
			i++
		}
		if i >= n {
			return args, nil
		}

		var (
			current strings.Builder
			inDQ    bool
			inSQ    bool
			done    bool
		)
		for !done {
			if i >= n {
				if inDQ || inSQ {
					return nil, ErrUnbalancedQuotes
				}
				break
			}
			c := line[i]
			switch {
			case inDQ:
				switch {
				case c == '\\' && i+3 < n && line[i+1] == 'x' && isHex(line[i+2]) && isHex(line[i+3]):
					current.WriteByte(hexVal(line[i+2])<<4 | hexVal(line[i+3]))
					i += 3
				case c == '\\' && i+1 < n:
					i++
					current.WriteByte(unescape(line[i]))
				case c == '"':
					if i+1 < n && !isSpace(line[i+1]) {
						return nil, ErrUnbalancedQuotes
					}
					done = true
				default:
					current.WriteByte(c)
				}
			case inSQ:
				switch {
				case c == '\\' && i+1 < n && line[i+1] == '\'':
					i++
					current.WriteByte('\'')
				case c == '\'':
					if i+1 < n && !isSpace(line[i+1]) {
						return nil, ErrUnbalancedQuotes
					}
					done = true
				default:
					current.WriteByte(c)
				}
			default:
				switch {
				case isSpace(c):
					done = true
				case c == '"':
					inDQ = true
				case c == '\'':
					inSQ = true
				default:
					current.WriteByte(c)
				}
			}
			i++
		}
		args = append(args, current.String())
	}
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'a':
		return '\a'
	default:
		return c
	}
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\n', '\r', '\t', '\v', '\f':
		return true
	}
	return false
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
