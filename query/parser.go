package query

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokOp
	tokComma
	tokStar
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

// lex splits the input into identifiers, numeric literals, operators, commas
// and stars. Operators may sit flush against their operands ("age>25").
func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '*':
			toks = append(toks, token{tokStar, "*"})
			i++
		case c == '=':
			toks = append(toks, token{tokOp, "="})
			i++
		case c == '<':
			toks = append(toks, token{tokOp, "<"})
			i++
		case c == '>':
			toks = append(toks, token{tokOp, ">"})
			i++
		case c == '!':
			if i+1 >= len(input) || input[i+1] != '=' {
				return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
			}
			toks = append(toks, token{tokOp, "!="})
			i += 2
		case c >= '0' && c <= '9' || c == '-' || c == '.':
			j := i
			if input[j] == '-' {
				j++
			}
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, input[i:j]})
			i = j
		case isIdentStart(rune(c)):
			j := i
			for j < len(input) && isIdentPart(rune(input[j])) {
				j++
			}
			toks = append(toks, token{tokIdent, input[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

func isIdentStart(c rune) bool {
	return unicode.IsLetter(c) || c == '_'
}

func isIdentPart(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

// parser is a single-pass recursive-descent parser over the token stream.
type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.next()
		return true
	}
	return false
}

// Parse parses a query string into its typed form. Only the SELECT verb is
// supported; anything else is a parse error.
func Parse(input string) (*Query, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}

	if !p.keyword("SELECT") {
		return nil, fmt.Errorf("unsupported verb %q", p.peek().text)
	}

	q := &Query{}
	if err := p.fieldList(q); err != nil {
		return nil, err
	}
	if !p.keyword("FROM") {
		return nil, fmt.Errorf("expected FROM, got %q", p.peek().text)
	}
	t := p.next()
	if t.kind != tokIdent {
		return nil, fmt.Errorf("expected table name, got %q", t.text)
	}
	q.Table = t.text

	if p.keyword("WHERE") {
		f, err := p.filter()
		if err != nil {
			return nil, err
		}
		q.Where = f
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing input %q", t.text)
	}
	return q, nil
}

// fieldList parses "*" or a comma-separated identifier list. FROM terminates
// the list.
func (p *parser) fieldList(q *Query) error {
	if p.peek().kind == tokStar {
		p.next()
		return nil
	}
	for {
		t := p.peek()
		if t.kind != tokIdent || strings.EqualFold(t.text, "FROM") {
			return fmt.Errorf("expected field name, got %q", t.text)
		}
		p.next()
		q.Fields = append(q.Fields, t.text)
		if p.peek().kind != tokComma {
			return nil
		}
		p.next()
	}
}

// filter parses the single <field><op><number> comparison.
func (p *parser) filter() (*Filter, error) {
	t := p.next()
	if t.kind != tokIdent {
		return nil, fmt.Errorf("expected field name in WHERE, got %q", t.text)
	}
	field := t.text

	t = p.next()
	if t.kind != tokOp {
		return nil, fmt.Errorf("expected operator in WHERE, got %q", t.text)
	}
	op := Op(t.text)

	t = p.next()
	if t.kind != tokNumber {
		return nil, fmt.Errorf("expected numeric literal in WHERE, got %q", t.text)
	}
	value, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid numeric literal %q: %w", t.text, err)
	}

	return &Filter{Field: field, Op: op, Value: value}, nil
}
