package enginetest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// filterExpr is a compiled filter predicate over a document's fields. It
// supports the subset of the engine's filter syntax the bridge exercises:
// comparisons (=, !=, >, >=, <, <=), AND/OR, NOT, and parentheses.
type filterExpr interface {
	eval(doc map[string]any) bool
	fields(into map[string]struct{})
}

type andExpr struct{ l, r filterExpr }
type orExpr struct{ l, r filterExpr }
type notExpr struct{ inner filterExpr }

type cmpExpr struct {
	field string
	op    string
	value string // literal text; compared numerically when both sides parse
}

func (e andExpr) eval(doc map[string]any) bool { return e.l.eval(doc) && e.r.eval(doc) }
func (e orExpr) eval(doc map[string]any) bool  { return e.l.eval(doc) || e.r.eval(doc) }
func (e notExpr) eval(doc map[string]any) bool { return !e.inner.eval(doc) }

func (e andExpr) fields(into map[string]struct{}) { e.l.fields(into); e.r.fields(into) }
func (e orExpr) fields(into map[string]struct{})  { e.l.fields(into); e.r.fields(into) }
func (e notExpr) fields(into map[string]struct{}) { e.inner.fields(into) }

func (e cmpExpr) fields(into map[string]struct{}) { into[e.field] = struct{}{} }

func (e cmpExpr) eval(doc map[string]any) bool {
	raw, ok := doc[e.field]
	if !ok || raw == nil {
		// A missing field matches nothing, except explicit inequality.
		return e.op == "!="
	}

	// Arrays match when any element matches.
	if arr, isArr := raw.([]any); isArr {
		for _, el := range arr {
			if e.evalScalar(el) {
				return true
			}
		}
		return false
	}
	return e.evalScalar(raw)
}

func (e cmpExpr) evalScalar(raw any) bool {
	lit := scalarLiteral(raw)

	ln, lerr := strconv.ParseFloat(lit, 64)
	rn, rerr := strconv.ParseFloat(e.value, 64)
	numeric := lerr == nil && rerr == nil

	switch e.op {
	case "=":
		if numeric {
			return ln == rn
		}
		return strings.EqualFold(lit, e.value)
	case "!=":
		if numeric {
			return ln != rn
		}
		return !strings.EqualFold(lit, e.value)
	case ">", ">=", "<", "<=":
		if !numeric {
			return false
		}
		switch e.op {
		case ">":
			return ln > rn
		case ">=":
			return ln >= rn
		case "<":
			return ln < rn
		default:
			return ln <= rn
		}
	default:
		return false
	}
}

// scalarLiteral renders a decoded JSON scalar as its filterable text.
func scalarLiteral(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// parseFilter compiles the filter text. An empty filter returns nil.
func parseFilter(input string) (filterExpr, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	p := &filterParser{toks: tokenizeFilter(input)}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected token %q", p.toks[p.pos])
	}
	return expr, nil
}

type filterParser struct {
	toks []string
	pos  int
}

func (p *filterParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *filterParser) next() string {
	t := p.peek()
	if t != "" {
		p.pos++
	}
	return t
}

func (p *filterParser) parseOr() (filterExpr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for strings.EqualFold(p.peek(), "OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{l: left, r: right}
	}
	return left, nil
}

func (p *filterParser) parseAnd() (filterExpr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for strings.EqualFold(p.peek(), "AND") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andExpr{l: left, r: right}
	}
	return left, nil
}

func (p *filterParser) parseUnary() (filterExpr, error) {
	switch {
	case strings.EqualFold(p.peek(), "NOT"):
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{inner: inner}, nil
	case p.peek() == "(":
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil
	default:
		return p.parseComparison()
	}
}

var comparisonOps = map[string]bool{
	"=": true, "!=": true, ">": true, ">=": true, "<": true, "<=": true,
}

func (p *filterParser) parseComparison() (filterExpr, error) {
	field := p.next()
	if field == "" || comparisonOps[field] || field == "(" || field == ")" {
		return nil, fmt.Errorf("expected field name, got %q", field)
	}
	op := p.next()
	if !comparisonOps[op] {
		return nil, fmt.Errorf("expected comparison operator after %q, got %q", field, op)
	}
	value := p.next()
	if value == "" || comparisonOps[value] {
		return nil, fmt.Errorf("expected value after %q %s", field, op)
	}
	return cmpExpr{field: field, op: op, value: unquote(value)}, nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// tokenizeFilter splits the input into fields, operators, parentheses and
// quoted or bare values.
func tokenizeFilter(input string) []string {
	var toks []string
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++
		case c == '(' || c == ')':
			toks = append(toks, string(c))
			i++
		case c == '"' || c == '\'':
			quote := c
			j := i + 1
			for j < len(input) && input[j] != quote {
				j++
			}
			if j < len(input) {
				j++ // include closing quote
			}
			toks = append(toks, input[i:j])
			i = j
		case c == '!' || c == '<' || c == '>' || c == '=':
			j := i + 1
			if j < len(input) && input[j] == '=' {
				j++
			}
			toks = append(toks, input[i:j])
			i = j
		default:
			j := i
			for j < len(input) && !unicode.IsSpace(rune(input[j])) &&
				!strings.ContainsRune("()!<>=\"'", rune(input[j])) {
				j++
			}
			toks = append(toks, input[i:j])
			i = j
		}
	}
	return toks
}
