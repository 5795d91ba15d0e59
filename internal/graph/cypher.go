package graph

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParseQuery parses the small legacy-Cypher subset understood by the
// executor:
//
//	START n=node:index(key='value')
//	[MATCH n-[r:TYPE]->(m) | n<-[:TYPE]-() | n-[:TYPE]-()]
//	[WHERE n.prop = 'literal' [AND n.prop = literal ...]]
//	RETURN n | m | COUNT(r) | COUNT(*)
//
// MATCH and WHERE may appear in either order. Filters apply to the start
// node only.
func ParseQuery(text string) (Query, error) {
	toks, err := lex(text)
	if err != nil {
		return Query{}, err
	}
	p := &parser{toks: toks}
	q, err := p.parse()
	if err != nil {
		return Query{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return q, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of query"
	}
	return fmt.Sprintf("%q at %d", t.text, t.pos)
}

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '_' || unicode.IsLetter(r):
			j := i + 1
			for j < len(rs) && (rs[j] == '_' || unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j])) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[i:j]), pos: i})
			i = j
		case r == '`':
			j := i + 1
			for j < len(rs) && rs[j] != '`' {
				j++
			}
			if j == len(rs) {
				return nil, fmt.Errorf("%w: unterminated quoted name at %d", ErrInvalidQuery, i)
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[i+1 : j]), pos: i})
			i = j + 1
		case r == '\'' || r == '"':
			var b strings.Builder
			j := i + 1
			for ; j < len(rs) && rs[j] != r; j++ {
				if rs[j] == '\\' && j+1 < len(rs) {
					j++
				}
				b.WriteRune(rs[j])
			}
			if j == len(rs) {
				return nil, fmt.Errorf("%w: unterminated string at %d", ErrInvalidQuery, i)
			}
			toks = append(toks, token{kind: tokString, text: b.String(), pos: i})
			i = j + 1
		case unicode.IsDigit(r):
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[i:j]), pos: i})
			i = j
		case strings.ContainsRune("=:()[],.*-<>", r):
			toks = append(toks, token{kind: tokPunct, text: string(r), pos: i})
			i++
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrInvalidQuery, r, i)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(rs)}), nil
}

type parser struct {
	toks []token
	pos  int

	startVar  string
	relVar    string
	targetVar string
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

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

func (p *parser) isPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) keyword(word string) error {
	if !p.isKeyword(word) {
		return fmt.Errorf("expected %s, found %s", word, p.peek())
	}
	p.next()
	return nil
}

func (p *parser) punct(s string) error {
	if !p.isPunct(s) {
		return fmt.Errorf("expected %q, found %s", s, p.peek())
	}
	p.next()
	return nil
}

func (p *parser) ident() (string, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return "", fmt.Errorf("expected a name, found %s", t)
	}
	p.next()
	return t.text, nil
}

func (p *parser) parse() (Query, error) {
	var q Query

	if err := p.keyword("START"); err != nil {
		return q, err
	}
	if err := p.start(&q); err != nil {
		return q, err
	}

	var sawMatch, sawWhere bool
	for {
		switch {
		case p.isKeyword("MATCH") && !sawMatch:
			p.next()
			sawMatch = true
			if err := p.match(&q); err != nil {
				return q, err
			}
			continue
		case p.isKeyword("WHERE") && !sawWhere:
			p.next()
			sawWhere = true
			if err := p.where(&q); err != nil {
				return q, err
			}
			continue
		}
		break
	}

	if err := p.keyword("RETURN"); err != nil {
		return q, err
	}
	if err := p.returnItem(&q); err != nil {
		return q, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return q, fmt.Errorf("unexpected %s", t)
	}
	return q, nil
}

// start parses n=node:index(key=literal).
func (p *parser) start(q *Query) error {
	v, err := p.ident()
	if err != nil {
		return err
	}
	p.startVar = v
	if err := p.punct("="); err != nil {
		return err
	}
	if err := p.keyword("node"); err != nil {
		return err
	}
	if err := p.punct(":"); err != nil {
		return err
	}
	if q.Index, err = p.ident(); err != nil {
		return err
	}
	if err := p.punct("("); err != nil {
		return err
	}
	if q.Key, err = p.ident(); err != nil {
		return err
	}
	if err := p.punct("="); err != nil {
		return err
	}
	if q.Value, err = p.literal(); err != nil {
		return err
	}
	return p.punct(")")
}

// match parses a single hop from the start variable.
func (p *parser) match(q *Query) error {
	paren := p.isPunct("(")
	if paren {
		p.next()
	}
	v, err := p.ident()
	if err != nil {
		return err
	}
	if v != p.startVar {
		return fmt.Errorf("pattern must begin at start variable %q, found %q", p.startVar, v)
	}
	if paren {
		if err := p.punct(")"); err != nil {
			return err
		}
	}

	hop := &Hop{Direction: Both}
	incoming := false
	if p.isPunct("<") {
		p.next()
		incoming = true
	}
	if err := p.punct("-"); err != nil {
		return err
	}
	if err := p.punct("["); err != nil {
		return err
	}
	if p.peek().kind == tokIdent {
		p.relVar = p.next().text
	}
	if p.isPunct(":") {
		p.next()
		if hop.Type, err = p.ident(); err != nil {
			return err
		}
	}
	if err := p.punct("]"); err != nil {
		return err
	}
	if err := p.punct("-"); err != nil {
		return err
	}
	outgoing := false
	if p.isPunct(">") {
		p.next()
		outgoing = true
	}
	switch {
	case incoming && outgoing:
		return fmt.Errorf("relationship cannot point both ways")
	case incoming:
		hop.Direction = Incoming
	case outgoing:
		hop.Direction = Outgoing
	}

	if p.isPunct("(") {
		p.next()
		if p.peek().kind == tokIdent {
			p.targetVar = p.next().text
		}
		if err := p.punct(")"); err != nil {
			return err
		}
	} else {
		if p.targetVar, err = p.ident(); err != nil {
			return err
		}
	}
	q.Hop = hop
	return nil
}

// where parses var.prop = literal [AND ...].
func (p *parser) where(q *Query) error {
	for {
		v, err := p.ident()
		if err != nil {
			return err
		}
		if v != p.startVar {
			return fmt.Errorf("filters apply to start variable %q only, found %q", p.startVar, v)
		}
		if err := p.punct("."); err != nil {
			return err
		}
		key, err := p.ident()
		if err != nil {
			return err
		}
		if err := p.punct("="); err != nil {
			return err
		}
		val, err := p.literal()
		if err != nil {
			return err
		}
		q.Where = append(q.Where, Predicate{Key: key, Value: val})

		if !p.isKeyword("AND") {
			return nil
		}
		p.next()
	}
}

func (p *parser) returnItem(q *Query) error {
	if p.isKeyword("COUNT") {
		word := p.next().text
		if err := p.punct("("); err != nil {
			return err
		}
		var arg string
		if p.isPunct("*") {
			arg = p.next().text
		} else {
			v, err := p.ident()
			if err != nil {
				return err
			}
			if v != p.startVar && v != p.relVar && v != p.targetVar {
				return fmt.Errorf("unknown variable %q", v)
			}
			arg = v
		}
		if err := p.punct(")"); err != nil {
			return err
		}
		q.Return = ReturnCount
		q.Column = word + "(" + arg + ")"
		return nil
	}

	v, err := p.ident()
	if err != nil {
		return err
	}
	switch {
	case v == p.startVar:
		q.Return = ReturnStart
	case v != "" && v == p.targetVar:
		q.Return = ReturnTarget
	default:
		return fmt.Errorf("cannot return %q", v)
	}
	q.Column = v
	return nil
}

func (p *parser) literal() (Value, error) {
	neg := false
	if p.isPunct("-") {
		p.next()
		neg = true
	}
	t := p.next()
	switch {
	case t.kind == tokString && !neg:
		return t.text, nil
	case t.kind == tokNumber:
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			if neg {
				i = -i
			}
			return i, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %s", t)
		}
		if neg {
			f = -f
		}
		return f, nil
	case t.kind == tokIdent && !neg && strings.EqualFold(t.text, "true"):
		return true, nil
	case t.kind == tokIdent && !neg && strings.EqualFold(t.text, "false"):
		return false, nil
	default:
		return nil, fmt.Errorf("expected a literal, found %s", t)
	}
}
