package jsdeps

import (
	"iter"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type TokenType int

const (
	Word TokenType = iota + 1
	Punctuation
	String
	Number
	DocComment
)

func (t TokenType) String() string {
	switch t {
	case Word:
		return "WORD"
	case Punctuation:
		return "PUNCTUATION"
	case String:
		return "STRING"
	case Number:
		return "NUMBER"
	case DocComment:
		return "DOC_COMMENT"
	}
	return "TOKEN" + strconv.Itoa(int(t))
}

type Token struct {
	Type TokenType
	Text string
}

func (t Token) String() string { return t.Type.String() + ":" + t.Text }

// Value returns the unquoted content of a string token. Escapes are kept
// except for escaped quotes and backslashes.
func (t Token) Value() string {
	if t.Type != String || len(t.Text) < 2 {
		return t.Text
	}
	s := t.Text[1 : len(t.Text)-1]
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == '\\' && i+1 < len(s) {
			switch n := s[i+1]; n {
			case '\\', '\'', '"', '`':
				sb.WriteByte(n)
				i++
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// Lexer splits C-style source text into tokens. Whitespace and comments are
// skipped. Comments starting with "/**" are reported as [DocComment] tokens
// if the lexer was created to do so.
type Lexer struct {
	src  string
	pos  int
	docs bool
}

func NewLexer(src string, docComments bool) *Lexer {
	return &Lexer{src: src, docs: docComments}
}

// Tokens iterates over the remaining tokens.
func (lx *Lexer) Tokens() iter.Seq[Token] {
	return func(yield func(Token) bool) {
		for {
			tok, ok := lx.Next()
			if !ok || !yield(tok) {
				return
			}
		}
	}
}

// Next returns false at the end of input.
func (lx *Lexer) Next() (Token, bool) {
	for lx.pos < len(lx.src) {
		c, w := utf8.DecodeRuneInString(lx.src[lx.pos:])
		switch {
		case unicode.IsSpace(c):
			lx.pos += w
		case c == '/' && lx.peek(1) == '/':
			lx.skipLine()
		case c == '/' && lx.peek(1) == '*':
			if tok, ok := lx.blockComment(); ok {
				return tok, true
			}
		case c == '"' || c == '\'' || c == '`':
			return lx.str(byte(c)), true
		case c >= '0' && c <= '9':
			return lx.span(Number, isNumberPart), true
		case isWordStart(c):
			return lx.span(Word, isWordPart), true
		default:
			start := lx.pos
			lx.pos += w
			return Token{Type: Punctuation, Text: lx.src[start:lx.pos]}, true
		}
	}
	return Token{}, false
}

func (lx *Lexer) peek(off int) byte {
	if i := lx.pos + off; i < len(lx.src) {
		return lx.src[i]
	}
	return 0
}

func (lx *Lexer) skipLine() {
	if i := strings.IndexByte(lx.src[lx.pos:], '\n'); i >= 0 {
		lx.pos += i + 1
	} else {
		lx.pos = len(lx.src)
	}
}

func (lx *Lexer) blockComment() (Token, bool) {
	start := lx.pos
	end := strings.Index(lx.src[start+2:], "*/")
	if end < 0 {
		lx.pos = len(lx.src)
	} else {
		lx.pos = start + 2 + end + 2
	}
	text := lx.src[start:lx.pos]
	// "/**/" is an empty plain comment
	if lx.docs && strings.HasPrefix(text, "/**") && text != "/**/" {
		return Token{Type: DocComment, Text: text}, true
	}
	return Token{}, false
}

func (lx *Lexer) str(quote byte) Token {
	start := lx.pos
	lx.pos++
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		lx.pos++
		if c == '\\' && lx.pos < len(lx.src) {
			lx.pos++
		} else if c == quote {
			break
		} else if c == '\n' && quote != '`' {
			break
		}
	}
	return Token{Type: String, Text: lx.src[start:lx.pos]}
}

func (lx *Lexer) span(tt TokenType, part func(rune) bool) Token {
	start := lx.pos
	for lx.pos < len(lx.src) {
		c, w := utf8.DecodeRuneInString(lx.src[lx.pos:])
		if !part(c) {
			break
		}
		lx.pos += w
	}
	return Token{Type: tt, Text: lx.src[start:lx.pos]}
}

func isWordStart(c rune) bool {
	return c == '_' || c == '$' || unicode.IsLetter(c)
}

func isWordPart(c rune) bool { return isWordStart(c) || unicode.IsDigit(c) }

func isNumberPart(c rune) bool {
	return c == '.' || c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c)
}
