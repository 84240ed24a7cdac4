package syntax

import (
	"fmt"

	"github.com/google/szl-sub002/ast"
)

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenIdent       // foo
	TokenInt         // 42, 0x2a, 'a'
	TokenUInt        // 42u
	TokenFloat       // 3.14, 1e10
	TokenString      // "hello", `raw`
	TokenBytes       // B"hello", X"68656c6c6f"
	TokenTime        // T"2006-01-02"
	TokenFingerprint // 0x2aP

	// Operators
	TokenPlus     // +
	TokenMinus    // -
	TokenStar     // *
	TokenSlash    // /
	TokenPercent  // %
	TokenShl      // <<
	TokenShr      // >>
	TokenAmp      // &
	TokenPipe     // |
	TokenCaret    // ^
	TokenTilde    // ~
	TokenBang     // !
	TokenAndAnd   // &&
	TokenOrOr     // ||
	TokenEq       // ==
	TokenNe       // !=
	TokenLt       // <
	TokenLe       // <=
	TokenGt       // >
	TokenGe       // >=
	TokenAssign   // =
	TokenDefine   // :=
	TokenArrow    // <-
	TokenInc      // ++
	TokenDec      // --
	TokenAt       // @
	TokenColon    // :
	TokenSemi     // ;
	TokenComma    // ,
	TokenPeriod   // .
	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
	TokenLBrace   // {
	TokenRBrace   // }

	// Keywords
	TokenAnd
	TokenArray
	TokenBreak
	TokenContinue
	TokenDo
	TokenElse
	TokenEmit
	TokenFalse
	TokenFor
	TokenFunction
	TokenIf
	TokenMap
	TokenNot
	TokenOf
	TokenOr
	TokenReturn
	TokenStatic
	TokenTable
	TokenTrue
	TokenType_
	TokenWeight
	TokenWhile
)

var tokenNames = map[TokenType]string{
	TokenEOF:         "EOF",
	TokenError:       "ERROR",
	TokenIdent:       "IDENT",
	TokenInt:         "INT",
	TokenUInt:        "UINT",
	TokenFloat:       "FLOAT",
	TokenString:      "STRING",
	TokenBytes:       "BYTES",
	TokenTime:        "TIME",
	TokenFingerprint: "FINGERPRINT",
	TokenPlus:        "+",
	TokenMinus:       "-",
	TokenStar:        "*",
	TokenSlash:       "/",
	TokenPercent:     "%",
	TokenShl:         "<<",
	TokenShr:         ">>",
	TokenAmp:         "&",
	TokenPipe:        "|",
	TokenCaret:       "^",
	TokenTilde:       "~",
	TokenBang:        "!",
	TokenAndAnd:      "&&",
	TokenOrOr:        "||",
	TokenEq:          "==",
	TokenNe:          "!=",
	TokenLt:          "<",
	TokenLe:          "<=",
	TokenGt:          ">",
	TokenGe:          ">=",
	TokenAssign:      "=",
	TokenDefine:      ":=",
	TokenArrow:       "<-",
	TokenInc:         "++",
	TokenDec:         "--",
	TokenAt:          "@",
	TokenColon:       ":",
	TokenSemi:        ";",
	TokenComma:       ",",
	TokenPeriod:      ".",
	TokenLParen:      "(",
	TokenRParen:      ")",
	TokenLBracket:    "[",
	TokenRBracket:    "]",
	TokenLBrace:      "{",
	TokenRBrace:      "}",
	TokenAnd:         "and",
	TokenArray:       "array",
	TokenBreak:       "break",
	TokenContinue:    "continue",
	TokenDo:          "do",
	TokenElse:        "else",
	TokenEmit:        "emit",
	TokenFalse:       "false",
	TokenFor:         "for",
	TokenFunction:    "function",
	TokenIf:          "if",
	TokenMap:         "map",
	TokenNot:         "not",
	TokenOf:          "of",
	TokenOr:          "or",
	TokenReturn:      "return",
	TokenStatic:      "static",
	TokenTable:       "table",
	TokenTrue:        "true",
	TokenType_:       "type",
	TokenWeight:      "weight",
	TokenWhile:       "while",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string       // the raw text, or the decoded contents of a quoted literal
	Pos     ast.Position // start position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"and":      TokenAnd,
	"array":    TokenArray,
	"break":    TokenBreak,
	"continue": TokenContinue,
	"do":       TokenDo,
	"else":     TokenElse,
	"emit":     TokenEmit,
	"false":    TokenFalse,
	"for":      TokenFor,
	"function": TokenFunction,
	"if":       TokenIf,
	"map":      TokenMap,
	"not":      TokenNot,
	"of":       TokenOf,
	"or":       TokenOr,
	"return":   TokenReturn,
	"static":   TokenStatic,
	"table":    TokenTable,
	"true":     TokenTrue,
	"type":     TokenType_,
	"weight":   TokenWeight,
	"while":    TokenWhile,
}
