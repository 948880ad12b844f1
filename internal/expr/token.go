// Package expr implements the catalogue expression language: lexer, parser,
// semantic analysis against a namespace registry, and in-memory evaluation.
// Database backends lower the analyzed AST to SQL; the evaluator serves
// in-process filtering.
package expr

import "fmt"

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenName
	tokenParam
	tokenInt
	tokenReal
	tokenText
	tokenBool
	tokenTimestamp
	tokenUUID
	tokenGeometry
	tokenOperator
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenComma
)

func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of expression"
	case tokenName:
		return "name"
	case tokenParam:
		return "parameter"
	case tokenInt:
		return "integer"
	case tokenReal:
		return "real"
	case tokenText:
		return "text"
	case tokenBool:
		return "boolean"
	case tokenTimestamp:
		return "timestamp"
	case tokenUUID:
		return "uuid"
	case tokenGeometry:
		return "geometry"
	case tokenOperator:
		return "operator"
	case tokenLParen:
		return "\"(\""
	case tokenRParen:
		return "\")\""
	case tokenLBracket:
		return "\"[\""
	case tokenRBracket:
		return "\"]\""
	case tokenComma:
		return "\",\""
	}
	return fmt.Sprintf("token(%d)", int(k))
}

type token struct {
	kind tokenKind
	pos  int // 1-based character offset
	text string
	val  any // decoded literal value for literal kinds
}

// Keyword operators. Symbolic operators are matched longest-first by the
// lexer.
var keywordOps = map[string]bool{
	"and": true,
	"or":  true,
	"not": true,
	"in":  true,
}

var geometryKeywords = map[string]bool{
	"POINT":           true,
	"LINESTRING":      true,
	"POLYGON":         true,
	"MULTIPOINT":      true,
	"MULTILINESTRING": true,
	"MULTIPOLYGON":    true,
}
