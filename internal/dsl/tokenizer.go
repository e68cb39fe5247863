// Package dsl implements the filter expression language evaluated against
// the inverted indices. Expressions are flat: comparison atoms joined by
// logical operators, evaluated strictly left to right. There are no
// parentheses and no operator precedence; this is part of the wire contract.
package dsl

import (
	"strings"

	"github.com/bhakti-db/bhakti/internal/errors"
)

// Operator tokens reserved by the language. Index names must not contain any
// of these.
var Keywords = []string{">=", "<=", "==", "!=", ">", "<", "&&", "||"}

var compareOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

// ContainsKeyword reports whether text contains a reserved operator token.
func ContainsKeyword(text string) bool {
	for _, kw := range Keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// atom is one comparison: indexName compareOp literal, plus the logical
// operator that joins it to the running result ("" for the first atom).
type atom struct {
	logical string // "", "&&" or "||"
	index   string
	op      string
	literal string
}

// tokenize splits an expression into raw tokens. Operator characters
// terminate a word, so both `age >= 30` and `age>=30` tokenize identically.
func tokenize(expr string) ([]string, error) {
	var tokens []string
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '<' || c == '>':
			if i+1 < len(expr) && expr[i+1] == '=' {
				tokens = append(tokens, string(c)+"=")
				i += 2
			} else {
				tokens = append(tokens, string(c))
				i++
			}
		case c == '=' || c == '!':
			if i+1 < len(expr) && expr[i+1] == '=' {
				tokens = append(tokens, string(c)+"=")
				i += 2
			} else {
				return nil, errors.Newf(errors.ErrCodeDslSyntax, "unexpected %q in expression", string(c))
			}
		case c == '&' || c == '|':
			if i+1 < len(expr) && expr[i+1] == c {
				tokens = append(tokens, string(c)+string(c))
				i += 2
			} else {
				return nil, errors.Newf(errors.ErrCodeDslSyntax, "unexpected %q in expression", string(c))
			}
		case c == '"':
			// Quoted literal: consume through the closing quote, keeping the
			// quotes so the literal parser can tell strings from numbers.
			j := i + 1
			for j < len(expr) && expr[j] != '"' {
				j++
			}
			if j >= len(expr) {
				return nil, errors.New(errors.ErrCodeDslSyntax, "unterminated string literal", nil)
			}
			tokens = append(tokens, expr[i:j+1])
			i = j + 1
		default:
			j := i
			for j < len(expr) && !isBoundary(expr[j]) {
				j++
			}
			tokens = append(tokens, expr[i:j])
			i = j
		}
	}
	return tokens, nil
}

func isBoundary(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '<', '>', '=', '!', '&', '|', '"':
		return true
	}
	return false
}

// parse groups tokens into atoms. The first atom has no logical operator;
// every following atom must be introduced by && or ||.
func parse(expr string) ([]atom, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errors.New(errors.ErrCodeDslSyntax, "empty expression", nil)
	}

	var atoms []atom
	i := 0
	for i < len(tokens) {
		var a atom
		if len(atoms) > 0 {
			if tokens[i] != "&&" && tokens[i] != "||" {
				return nil, errors.Newf(errors.ErrCodeDslSyntax, "expected && or || before %q", tokens[i])
			}
			a.logical = tokens[i]
			i++
		}
		if i+3 > len(tokens) {
			return nil, errors.New(errors.ErrCodeDslSyntax, "incomplete comparison", nil)
		}
		a.index = tokens[i]
		a.op = tokens[i+1]
		a.literal = tokens[i+2]
		i += 3

		if compareOps[a.index] || a.index == "&&" || a.index == "||" {
			return nil, errors.Newf(errors.ErrCodeDslSyntax, "expected index name, got %q", a.index)
		}
		if !compareOps[a.op] {
			return nil, errors.Newf(errors.ErrCodeDslSyntax, "expected comparison operator, got %q", a.op)
		}
		atoms = append(atoms, a)
	}
	return atoms, nil
}
