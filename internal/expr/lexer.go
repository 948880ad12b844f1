package expr

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/value"
)

type lexer struct {
	input string
	pos   int // 0-based byte offset
}

func (l *lexer) errorf(pos int, format string, args ...any) error {
	return errs.Expression(pos+1, format, args...)
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\r', '\n':
			l.pos++
		default:
			return
		}
	}
}

// next returns the next token. The lexer is context free except for geometry
// literals, which start at an upper-case geometry keyword and run through
// the matching parenthesis or EMPTY marker.
func (l *lexer) next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.input) {
		return token{kind: tokenEOF, pos: l.pos + 1}, nil
	}
	start := l.pos
	c := l.input[l.pos]

	switch c {
	case '(':
		l.pos++
		return token{kind: tokenLParen, pos: start + 1, text: "("}, nil
	case ')':
		l.pos++
		return token{kind: tokenRParen, pos: start + 1, text: ")"}, nil
	case '[':
		l.pos++
		return token{kind: tokenLBracket, pos: start + 1, text: "["}, nil
	case ']':
		l.pos++
		return token{kind: tokenRBracket, pos: start + 1, text: "]"}, nil
	case ',':
		l.pos++
		return token{kind: tokenComma, pos: start + 1, text: ","}, nil
	case '"':
		return l.lexString()
	case '@':
		return l.lexParam()
	}

	// Symbolic operators, longest first.
	for _, op := range []string{"==", "!=", "~=", "<=", ">=", "<", ">", "+", "-", "*", "/"} {
		if strings.HasPrefix(l.input[l.pos:], op) {
			l.pos += len(op)
			return token{kind: tokenOperator, pos: start + 1, text: op}, nil
		}
	}

	// UUID literals start with a hex digit, so they are tried before
	// numbers and names.
	if tok, ok := l.tryUUID(); ok {
		return tok, nil
	}
	if c >= '0' && c <= '9' {
		return l.lexNumberOrTimestamp()
	}
	if isNameStart(c) {
		return l.lexWord()
	}
	return token{}, l.errorf(start, "unexpected character %q", string(c))
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

func (l *lexer) lexString() (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		switch c {
		case '"':
			l.pos++
			return token{kind: tokenText, pos: start + 1, text: sb.String(), val: sb.String()}, nil
		case '\\':
			if l.pos+1 >= len(l.input) {
				return token{}, l.errorf(start, "unterminated text literal")
			}
			l.pos++
			switch e := l.input[l.pos]; e {
			case '"', '\\':
				sb.WriteByte(e)
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				return token{}, l.errorf(l.pos, "invalid escape \\%s", string(e))
			}
			l.pos++
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return token{}, l.errorf(start, "unterminated text literal")
}

func (l *lexer) lexParam() (token, error) {
	start := l.pos
	l.pos++ // '@'
	ws := l.pos
	for l.pos < len(l.input) && isNameChar(l.input[l.pos]) {
		l.pos++
	}
	if l.pos == ws {
		return token{}, l.errorf(start, "parameter name expected after \"@\"")
	}
	return token{kind: tokenParam, pos: start + 1, text: l.input[ws:l.pos]}, nil
}

// lexNumberOrTimestamp handles integers (decimal, 0x, 0o, 0b), reals, and
// timestamp literals. A timestamp is recognized by the date shape
// dddd-dd-dd, including the 0000-00-00 and 9999-99-99 sentinels.
func (l *lexer) lexNumberOrTimestamp() (token, error) {
	start := l.pos
	if ts, ok := l.tryTimestamp(); ok {
		t, err := value.ParseTimestamp(ts)
		if err != nil {
			return token{}, l.errorf(start, "invalid timestamp %q", ts)
		}
		return token{kind: tokenTimestamp, pos: start + 1, text: ts, val: t}, nil
	}

	// Prefixed integers.
	if l.input[l.pos] == '0' && l.pos+1 < len(l.input) {
		base := 0
		switch l.input[l.pos+1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			l.pos += 2
			ds := l.pos
			for l.pos < len(l.input) && isBaseDigit(l.input[l.pos], base) {
				l.pos++
			}
			if l.pos == ds {
				return token{}, l.errorf(start, "invalid integer literal")
			}
			n, err := strconv.ParseInt(l.input[ds:l.pos], base, 64)
			if err != nil {
				return token{}, l.errorf(start, "invalid integer literal %q", l.input[start:l.pos])
			}
			return token{kind: tokenInt, pos: start + 1, text: l.input[start:l.pos], val: n}, nil
		}
	}

	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.pos++
	}
	isReal := false
	if l.pos < len(l.input) && l.input[l.pos] == '.' {
		isReal = true
		l.pos++
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
	}
	if l.pos < len(l.input) && (l.input[l.pos] == 'e' || l.input[l.pos] == 'E') {
		mark := l.pos
		l.pos++
		if l.pos < len(l.input) && (l.input[l.pos] == '+' || l.input[l.pos] == '-') {
			l.pos++
		}
		if l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			isReal = true
			for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
				l.pos++
			}
		} else {
			l.pos = mark
		}
	}
	text := l.input[start:l.pos]
	if isReal {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return token{}, l.errorf(start, "invalid real literal %q", text)
		}
		return token{kind: tokenReal, pos: start + 1, text: text, val: f}, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return token{}, l.errorf(start, "invalid integer literal %q", text)
	}
	return token{kind: tokenInt, pos: start + 1, text: text, val: n}, nil
}

// tryUUID consumes a bare uuid literal (8-4-4-4-12 hex groups) when the
// input at the cursor has the shape and ends at a token boundary.
func (l *lexer) tryUUID() (token, bool) {
	rest := l.input[l.pos:]
	if len(rest) < 36 || !uuidShape(rest[:36]) {
		return token{}, false
	}
	if len(rest) > 36 && (isNameChar(rest[36]) || rest[36] == '-') {
		return token{}, false
	}
	id, err := uuid.Parse(rest[:36])
	if err != nil {
		return token{}, false
	}
	start := l.pos
	l.pos += 36
	return token{kind: tokenUUID, pos: start + 1, text: rest[:36], val: id}, true
}

func uuidShape(s string) bool {
	for i := 0; i < 36; i++ {
		switch i {
		case 8, 13, 18, 23:
			if s[i] != '-' {
				return false
			}
		default:
			if !isBaseDigit(s[i], 16) {
				return false
			}
		}
	}
	return true
}

// tryTimestamp consumes a timestamp literal when the input at the cursor has
// the date shape, optionally followed by T and a time part with fractional
// seconds.
func (l *lexer) tryTimestamp() (string, bool) {
	rest := l.input[l.pos:]
	if len(rest) < 10 || !dateShape(rest[:10]) {
		return "", false
	}
	n := 10
	if len(rest) >= 19 && rest[10] == 'T' && timeShape(rest[11:19]) {
		n = 19
		if len(rest) > 19 && rest[19] == '.' {
			n = 20
			for n < len(rest) && isDigit(rest[n]) {
				n++
			}
		}
	}
	l.pos += n
	return rest[:n], true
}

func dateShape(s string) bool {
	for i, c := range []byte(s) {
		if i == 4 || i == 7 {
			if c != '-' {
				return false
			}
		} else if !isDigit(c) {
			return false
		}
	}
	return true
}

func timeShape(s string) bool {
	for i, c := range []byte(s) {
		if i == 2 || i == 5 {
			if c != ':' {
				return false
			}
		} else if !isDigit(c) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isBaseDigit(c byte, base int) bool {
	switch base {
	case 2:
		return c == '0' || c == '1'
	case 8:
		return c >= '0' && c <= '7'
	case 16:
		return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
	}
	return false
}

// lexWord handles keywords, booleans, geometry literals, and (possibly
// dotted) property names.
func (l *lexer) lexWord() (token, error) {
	start := l.pos
	for l.pos < len(l.input) && isNameChar(l.input[l.pos]) {
		l.pos++
	}
	word := l.input[start:l.pos]

	if geometryKeywords[word] {
		return l.lexGeometry(start, word)
	}
	switch word {
	case "true":
		return token{kind: tokenBool, pos: start + 1, text: word, val: true}, nil
	case "false":
		return token{kind: tokenBool, pos: start + 1, text: word, val: false}, nil
	}
	if keywordOps[word] {
		return token{kind: tokenOperator, pos: start + 1, text: word}, nil
	}

	// Dotted name (namespace.field). At most one dot.
	if l.pos < len(l.input) && l.input[l.pos] == '.' {
		l.pos++
		fs := l.pos
		for l.pos < len(l.input) && isNameChar(l.input[l.pos]) {
			l.pos++
		}
		if l.pos == fs {
			return token{}, l.errorf(start, "field name expected after %q", word+".")
		}
	}
	return token{kind: tokenName, pos: start + 1, text: l.input[start:l.pos]}, nil
}

// lexGeometry consumes WKT from the keyword through the matching close
// parenthesis, or an EMPTY marker, and decodes it.
func (l *lexer) lexGeometry(start int, keyword string) (token, error) {
	l.skipSpace()
	if strings.HasPrefix(l.input[l.pos:], "EMPTY") {
		l.pos += len("EMPTY")
	} else {
		if l.pos >= len(l.input) || l.input[l.pos] != '(' {
			return token{}, l.errorf(start, "%s literal requires coordinates or EMPTY", keyword)
		}
		depth := 0
		for l.pos < len(l.input) {
			switch l.input[l.pos] {
			case '(':
				depth++
			case ')':
				depth--
			}
			l.pos++
			if depth == 0 {
				break
			}
		}
		if depth != 0 {
			return token{}, l.errorf(start, "unterminated %s literal", keyword)
		}
	}
	text := l.input[start:l.pos]
	g, err := value.ParseWKT(text)
	if err != nil {
		return token{}, l.errorf(start, "%v", err)
	}
	return token{kind: tokenGeometry, pos: start + 1, text: text, val: g}, nil
}
