package shopifyql

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"shopify-analytics-agent/internal/domain"
)

// Statement is the parsed form of a query.
type Statement struct {
	Table   string
	Show    []domain.Projection
	Where   []domain.Filter
	GroupBy []string
	Since   string
	Until   string
	OrderBy []domain.Sort
	Limit   int
}

// SyntaxError reports a malformed query.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("shopifyql: syntax error at offset %d: %s", e.Pos, e.Msg)
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokComma
	tokLParen
	tokRParen
	tokEquals
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.'
}

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '=':
			toks = append(toks, token{kind: tokEquals, text: "=", pos: i})
			i++
		case r == '\'':
			start := i
			i++
			var b strings.Builder
			closed := false
			for i < len(rs) {
				if rs[i] == '\\' && i+1 < len(rs) {
					b.WriteRune(rs[i+1])
					i += 2
					continue
				}
				if rs[i] == '\'' {
					closed = true
					i++
					break
				}
				b.WriteRune(rs[i])
				i++
			}
			if !closed {
				return nil, &SyntaxError{Pos: start, Msg: "unterminated string literal"}
			}
			toks = append(toks, token{kind: tokString, text: b.String(), pos: start})
		case isWordRune(r):
			start := i
			for i < len(rs) && isWordRune(rs[i]) {
				i++
			}
			toks = append(toks, token{kind: tokWord, text: string(rs[start:i]), pos: start})
		default:
			return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", r)}
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(rs)})
	return toks, nil
}

// clause order; each clause may appear at most once and only in this order.
var clauseOrder = []string{"FROM", "SHOW", "WHERE", "GROUP", "SINCE", "UNTIL", "ORDER", "LIMIT"}

func clauseIndex(word string) int {
	upper := strings.ToUpper(word)
	for i, c := range clauseOrder {
		if c == upper {
			return i
		}
	}
	return -1
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) atClause() bool {
	t := p.peek()
	return t.kind == tokEOF || (t.kind == tokWord && clauseIndex(t.text) >= 0)
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) ident(what string) (string, error) {
	t := p.next()
	if t.kind != tokWord || clauseIndex(t.text) >= 0 {
		return "", p.errorf(t, "expected %s, got %q", what, t.text)
	}
	return strings.ToLower(t.text), nil
}

func (p *parser) keyword(kw string) error {
	t := p.next()
	if t.kind != tokWord || !strings.EqualFold(t.text, kw) {
		return p.errorf(t, "expected %s, got %q", kw, t.text)
	}
	return nil
}

// Parse parses a query string.
func Parse(src string) (Statement, error) {
	if strings.TrimSpace(src) == "" {
		return Statement{}, &SyntaxError{Msg: "query is empty"}
	}
	toks, err := lex(src)
	if err != nil {
		return Statement{}, err
	}
	p := &parser{toks: toks}
	var st Statement
	last := -1
	seenFrom, seenShow := false, false

	for p.peek().kind != tokEOF {
		t := p.next()
		idx := -1
		if t.kind == tokWord {
			idx = clauseIndex(t.text)
		}
		if idx < 0 {
			return Statement{}, p.errorf(t, "expected clause keyword, got %q", t.text)
		}
		if idx <= last {
			return Statement{}, p.errorf(t, "clause %s out of order", strings.ToUpper(t.text))
		}
		if idx > 0 && !seenFrom {
			return Statement{}, p.errorf(t, "FROM clause must come first")
		}
		if idx > 1 && !seenShow {
			return Statement{}, p.errorf(t, "SHOW clause must follow FROM")
		}
		last = idx

		switch clauseOrder[idx] {
		case "FROM":
			if st.Table, err = p.ident("table name"); err != nil {
				return Statement{}, err
			}
			seenFrom = true
		case "SHOW":
			if st.Show, err = p.parseShow(); err != nil {
				return Statement{}, err
			}
			seenShow = true
		case "WHERE":
			if st.Where, err = p.parseWhere(); err != nil {
				return Statement{}, err
			}
		case "GROUP":
			if err := p.keyword("BY"); err != nil {
				return Statement{}, err
			}
			if st.GroupBy, err = p.identList("group field"); err != nil {
				return Statement{}, err
			}
		case "SINCE":
			if st.Since, err = p.timeValue(); err != nil {
				return Statement{}, err
			}
		case "UNTIL":
			if st.Until, err = p.timeValue(); err != nil {
				return Statement{}, err
			}
		case "ORDER":
			if err := p.keyword("BY"); err != nil {
				return Statement{}, err
			}
			if st.OrderBy, err = p.parseOrder(); err != nil {
				return Statement{}, err
			}
		case "LIMIT":
			lt := p.next()
			n, convErr := strconv.Atoi(lt.text)
			if lt.kind != tokWord || convErr != nil || n < 0 {
				return Statement{}, p.errorf(lt, "LIMIT expects a non-negative integer, got %q", lt.text)
			}
			st.Limit = n
		}
		if !p.atClause() {
			t := p.peek()
			return Statement{}, p.errorf(t, "unexpected %q", t.text)
		}
	}
	if !seenFrom {
		return Statement{}, &SyntaxError{Msg: "missing required clause FROM"}
	}
	if !seenShow {
		return Statement{}, &SyntaxError{Msg: "missing required clause SHOW"}
	}
	return st, nil
}

func (p *parser) parseShow() ([]domain.Projection, error) {
	var out []domain.Projection
	for {
		name, err := p.ident("field")
		if err != nil {
			return nil, err
		}
		proj := domain.Projection{Field: name}
		if p.peek().kind == tokLParen {
			p.next()
			agg := domain.Aggregate(name)
			switch agg {
			case domain.AggSum, domain.AggCount, domain.AggAvg, domain.AggMin, domain.AggMax:
			default:
				return nil, p.errorf(p.toks[p.pos-1], "unknown aggregate function %q", name)
			}
			field, err := p.ident("aggregated field")
			if err != nil {
				return nil, err
			}
			if t := p.next(); t.kind != tokRParen {
				return nil, p.errorf(t, "expected ')', got %q", t.text)
			}
			proj = domain.Projection{Field: field, Aggregate: agg}
		}
		if t := p.peek(); t.kind == tokWord && strings.EqualFold(t.text, "AS") {
			p.next()
			alias, err := p.ident("alias")
			if err != nil {
				return nil, err
			}
			proj.Alias = alias
		}
		out = append(out, proj)
		if p.peek().kind != tokComma {
			return out, nil
		}
		p.next()
	}
}

func (p *parser) parseWhere() ([]domain.Filter, error) {
	var out []domain.Filter
	for {
		field, err := p.ident("filter field")
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokEquals {
			return nil, p.errorf(t, "expected '=', got %q", t.text)
		}
		v := p.next()
		if v.kind != tokString && v.kind != tokWord {
			return nil, p.errorf(v, "expected literal, got %q", v.text)
		}
		out = append(out, domain.Filter{Field: field, Value: v.text})
		if t := p.peek(); t.kind == tokWord && strings.EqualFold(t.text, "AND") {
			p.next()
			continue
		}
		return out, nil
	}
}

func (p *parser) identList(what string) ([]string, error) {
	var out []string
	for {
		name, err := p.ident(what)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
		if p.peek().kind != tokComma {
			return out, nil
		}
		p.next()
	}
}

func (p *parser) parseOrder() ([]domain.Sort, error) {
	var out []domain.Sort
	for {
		col, err := p.ident("sort column")
		if err != nil {
			return nil, err
		}
		s := domain.Sort{Column: col}
		if t := p.peek(); t.kind == tokWord {
			switch strings.ToUpper(t.text) {
			case "DESC":
				s.Descending = true
				p.next()
			case "ASC":
				p.next()
			}
		}
		out = append(out, s)
		if p.peek().kind != tokComma {
			return out, nil
		}
		p.next()
	}
}

func (p *parser) timeValue() (string, error) {
	t := p.next()
	if t.kind != tokWord || clauseIndex(t.text) >= 0 {
		return "", p.errorf(t, "expected time value, got %q", t.text)
	}
	return strings.ToLower(t.text), nil
}
