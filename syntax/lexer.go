package syntax

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/szl-sub002/ast"
)

// ---------------------------------------------------------------------------
// Lexer: tokenizer for szl source
// ---------------------------------------------------------------------------

// Lexer tokenizes szl source code.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // current line (1-based)
	col     int  // current column (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = l.readPos
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

// position returns the current position.
func (l *Lexer) position() ast.Position {
	return ast.Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

// Position returns the position of the next unread character.
func (l *Lexer) Position() ast.Position {
	return l.position()
}

// twoCharOps maps two-character operators to their token types.
var twoCharOps = map[string]TokenType{
	"<<": TokenShl,
	">>": TokenShr,
	"&&": TokenAndAnd,
	"||": TokenOrOr,
	"==": TokenEq,
	"!=": TokenNe,
	"<=": TokenLe,
	">=": TokenGe,
	":=": TokenDefine,
	"<-": TokenArrow,
	"++": TokenInc,
	"--": TokenDec,
}

var oneCharOps = map[rune]TokenType{
	'+': TokenPlus,
	'-': TokenMinus,
	'*': TokenStar,
	'/': TokenSlash,
	'%': TokenPercent,
	'&': TokenAmp,
	'|': TokenPipe,
	'^': TokenCaret,
	'~': TokenTilde,
	'!': TokenBang,
	'<': TokenLt,
	'>': TokenGt,
	'=': TokenAssign,
	'@': TokenAt,
	':': TokenColon,
	';': TokenSemi,
	',': TokenComma,
	'.': TokenPeriod,
	'(': TokenLParen,
	')': TokenRParen,
	'[': TokenLBracket,
	']': TokenRBracket,
	'{': TokenLBrace,
	'}': TokenRBrace,
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.position()

	switch {
	case l.ch == 0:
		return Token{Type: TokenEOF, Literal: "", Pos: pos}

	case (l.ch == 'B' || l.ch == 'X' || l.ch == 'T') && l.peekChar() == '"':
		return l.readPrefixedString(pos)

	case isLetter(l.ch):
		return l.readIdentifier(pos)

	case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
		return l.readNumber(pos)

	case l.ch == '"':
		return l.readString(pos, TokenString)

	case l.ch == '`':
		return l.readRawString(pos)

	case l.ch == '\'':
		return l.readChar_(pos)
	}

	if l.readPos < len(l.input) {
		two := string(l.ch) + string(l.peekChar())
		if t, ok := twoCharOps[two]; ok {
			l.readChar()
			l.readChar()
			return Token{Type: t, Literal: two, Pos: pos}
		}
	}
	if t, ok := oneCharOps[l.ch]; ok {
		ch := l.ch
		l.readChar()
		return Token{Type: t, Literal: string(ch), Pos: pos}
	}
	ch := l.ch
	l.readChar()
	return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character: %q", ch), Pos: pos}
}

// skipWhitespaceAndComments skips whitespace and # comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}
		if l.ch != '#' {
			return
		}
		for l.ch != '\n' && l.ch != 0 {
			l.readChar()
		}
	}
}

func (l *Lexer) readIdentifier(pos ast.Position) Token {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	lit := l.input[start:l.pos]
	if t, ok := reservedWords[lit]; ok {
		return Token{Type: t, Literal: lit, Pos: pos}
	}
	return Token{Type: TokenIdent, Literal: lit, Pos: pos}
}

// readNumber reads decimal, hex and octal integers, floats, and the
// unsigned (u) and fingerprint (p) suffixes.
func (l *Lexer) readNumber(pos ast.Position) Token {
	start := l.pos
	typ := TokenInt
	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		for isHexDigit(l.ch) {
			l.readChar()
		}
	} else {
		for isDigit(l.ch) {
			l.readChar()
		}
		if l.ch == '.' && l.peekChar() != '.' {
			typ = TokenFloat
			l.readChar()
			for isDigit(l.ch) {
				l.readChar()
			}
		}
		if l.ch == 'e' || l.ch == 'E' {
			typ = TokenFloat
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			if !isDigit(l.ch) {
				return Token{Type: TokenError, Literal: "malformed exponent", Pos: pos}
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}
	lit := l.input[start:l.pos]
	if typ == TokenInt {
		switch l.ch {
		case 'u', 'U':
			typ = TokenUInt
			l.readChar()
		case 'p', 'P':
			typ = TokenFingerprint
			l.readChar()
		}
	}
	if isLetter(l.ch) {
		return Token{Type: TokenError, Literal: fmt.Sprintf("malformed number %s%c", lit, l.ch), Pos: pos}
	}
	return Token{Type: typ, Literal: lit, Pos: pos}
}

// readString reads a double-quoted literal and returns its decoded
// contents.
func (l *Lexer) readString(pos ast.Position, typ TokenType) Token {
	l.readChar() // opening quote
	var sb strings.Builder
	for l.ch != '"' {
		switch l.ch {
		case 0, '\n':
			return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
		case '\\':
			r, ok := l.readEscape()
			if !ok {
				return Token{Type: TokenError, Literal: "bad escape sequence", Pos: pos}
			}
			if typ == TokenBytes && r < 256 {
				sb.WriteByte(byte(r))
			} else {
				sb.WriteRune(r)
			}
		default:
			sb.WriteRune(l.ch)
			l.readChar()
		}
	}
	l.readChar() // closing quote
	return Token{Type: typ, Literal: sb.String(), Pos: pos}
}

// readEscape decodes one backslash escape, leaving the lexer after it.
func (l *Lexer) readEscape() (rune, bool) {
	l.readChar() // backslash
	c := l.ch
	l.readChar()
	switch c {
	case 'n':
		return '\n', true
	case 't':
		return '\t', true
	case 'r':
		return '\r', true
	case '0':
		return 0, true
	case '\\', '"', '\'':
		return c, true
	case 'x', 'u':
		n := 2
		if c == 'u' {
			n = 4
		}
		var v rune
		for i := 0; i < n; i++ {
			d, ok := hexVal(l.ch)
			if !ok {
				return 0, false
			}
			v = v<<4 | d
			l.readChar()
		}
		return v, true
	}
	return 0, false
}

func (l *Lexer) readRawString(pos ast.Position) Token {
	l.readChar() // opening backquote
	start := l.pos
	for l.ch != '`' {
		if l.ch == 0 {
			return Token{Type: TokenError, Literal: "unterminated raw string", Pos: pos}
		}
		l.readChar()
	}
	lit := l.input[start:l.pos]
	l.readChar()
	return Token{Type: TokenString, Literal: lit, Pos: pos}
}

// readPrefixedString reads B"..." (bytes), X"..." (hex bytes) and T"..."
// (time) literals.
func (l *Lexer) readPrefixedString(pos ast.Position) Token {
	prefix := l.ch
	l.readChar()
	switch prefix {
	case 'B':
		return l.readString(pos, TokenBytes)
	case 'T':
		tok := l.readString(pos, TokenTime)
		tok.Pos = pos
		return tok
	}
	tok := l.readString(pos, TokenString)
	if tok.Type == TokenError {
		return tok
	}
	b, err := hex.DecodeString(tok.Literal)
	if err != nil {
		return Token{Type: TokenError, Literal: "bad hex bytes literal", Pos: pos}
	}
	return Token{Type: TokenBytes, Literal: string(b), Pos: pos}
}

// readChar_ reads a character literal as an int token holding the code
// point.
func (l *Lexer) readChar_(pos ast.Position) Token {
	l.readChar() // opening quote
	var r rune
	switch l.ch {
	case 0, '\n', '\'':
		return Token{Type: TokenError, Literal: "empty character literal", Pos: pos}
	case '\\':
		var ok bool
		if r, ok = l.readEscape(); !ok {
			return Token{Type: TokenError, Literal: "bad escape sequence", Pos: pos}
		}
	default:
		r = l.ch
		l.readChar()
	}
	if l.ch != '\'' {
		return Token{Type: TokenError, Literal: "unterminated character literal", Pos: pos}
	}
	l.readChar()
	return Token{Type: TokenInt, Literal: strconv.Itoa(int(r)), Pos: pos}
}

// Tokenize returns every token of input up to and including EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var toks []Token
	for {
		t := l.NextToken()
		toks = append(toks, t)
		if t.Type == TokenEOF {
			return toks
		}
	}
}

// ---------------------------------------------------------------------------
// Character classes
// ---------------------------------------------------------------------------

func isLetter(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isHexDigit(r rune) bool {
	_, ok := hexVal(r)
	return ok
}

func hexVal(r rune) (rune, bool) {
	switch {
	case r >= '0' && r <= '9':
		return r - '0', true
	case r >= 'a' && r <= 'f':
		return r - 'a' + 10, true
	case r >= 'A' && r <= 'F':
		return r - 'A' + 10, true
	}
	return 0, false
}
