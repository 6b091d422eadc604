package cypher

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser is a recursive-descent parser over a token stream produced by
// Lexer, with a Pratt (operator-precedence) sub-parser for expressions and
// WHERE predicates. It looks exactly one token ahead.
type Parser struct {
	lex  *Lexer
	cur  Token
	next Token
	err  error
}

// Parse parses a complete Cypher query. An empty (or all-whitespace) input
// returns a *ParseError with message "Empty query".
func Parse(text string) (*Query, error) {
	p := &Parser{lex: NewLexer(text)}
	if err := p.prime(); err != nil {
		return nil, err
	}
	if p.cur.Kind == TokenEOF {
		return nil, &ParseError{Message: "Empty query", Pos: p.cur.Pos}
	}
	return p.parseQuery()
}

// prime fills cur and next from the lexer.
func (p *Parser) prime() error {
	t1, err := p.lex.Next()
	if err != nil {
		return lexErrToParseErr(err)
	}
	t2, err := p.lex.Next()
	if err != nil {
		return lexErrToParseErr(err)
	}
	p.cur, p.next = t1, t2
	return nil
}

func lexErrToParseErr(err error) error {
	if le, ok := err.(*LexError); ok {
		return &ParseError{Message: le.Message, Pos: le.Pos}
	}
	return err
}

// advance consumes cur and pulls the next token from the lexer into next.
func (p *Parser) advance() error {
	p.cur = p.next
	t, err := p.lex.Next()
	if err != nil {
		return lexErrToParseErr(err)
	}
	p.next = t
	return nil
}

func (p *Parser) atKeyword(kw string) bool {
	return p.cur.Kind == TokenKeyword && p.cur.Text == kw
}

func (p *Parser) atPunct(text string) bool {
	return (p.cur.Kind == TokenPunct || p.cur.Kind == TokenOperator) && p.cur.Text == text
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.atKeyword(kw) {
		return p.unexpected(kw)
	}
	return p.advance()
}

func (p *Parser) expectPunct(text string) error {
	if !p.atPunct(text) {
		return p.unexpected(text)
	}
	return p.advance()
}

func (p *Parser) unexpected(want string) error {
	got := p.cur.Text
	if p.cur.Kind == TokenEOF {
		got = "end of input"
	}
	return &ParseError{
		Message: fmt.Sprintf("Expected %s, got %s", want, got),
		Pos:     p.cur.Pos,
	}
}

// identifierAllowingKeyword consumes an identifier in a position where
// Cypher keywords are also legal (alias position, property key, dotted
// procedure names) per §4.1.
func (p *Parser) identifierAllowingKeyword() (string, error) {
	if p.cur.Kind == TokenIdentifier || p.cur.Kind == TokenKeyword {
		text := p.cur.Text
		if err := p.advance(); err != nil {
			return "", err
		}
		return text, nil
	}
	return "", p.unexpected("identifier")
}

func (p *Parser) identifier() (string, error) {
	if p.cur.Kind != TokenIdentifier {
		return "", p.unexpected("identifier")
	}
	text := p.cur.Text
	return text, p.advance()
}

// parseQuery parses Query := Statement (('UNION' 'ALL'?) Statement)*
func (p *Parser) parseQuery() (*Query, error) {
	q := &Query{}
	for {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		q.Statements = append(q.Statements, Statement_{Clauses: stmt})
		if !p.atKeyword("UNION") {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		all := false
		if p.atKeyword("ALL") {
			all = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		q.Statements[len(q.Statements)-1].UnionAll = all
	}
	if p.cur.Kind != TokenEOF {
		return nil, p.unexpected("end of query")
	}
	return q, nil
}

// parseStatement parses one or more clauses until EOF or UNION.
func (p *Parser) parseStatement() ([]Clause, error) {
	var clauses []Clause
	for p.cur.Kind != TokenEOF && !p.atKeyword("UNION") {
		clause, err := p.parseClause()
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	if len(clauses) == 0 {
		return nil, &ParseError{Message: "Expected a clause (MATCH, CREATE, RETURN, ...)", Pos: p.cur.Pos}
	}
	return clauses, nil
}

func (p *Parser) parseClause() (Clause, error) {
	switch {
	case p.atKeyword("MATCH"):
		return p.parseMatch(false)
	case p.atKeyword("OPTIONAL"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("MATCH"); err != nil {
			return nil, err
		}
		return p.parseMatchBody(true)
	case p.atKeyword("CREATE"):
		return p.parseCreate()
	case p.atKeyword("MERGE"):
		return p.parseMerge()
	case p.atKeyword("SET"):
		return p.parseSet()
	case p.atKeyword("DETACH"), p.atKeyword("DELETE"):
		return p.parseDelete()
	case p.atKeyword("RETURN"):
		return p.parseReturn()
	case p.atKeyword("WITH"):
		return p.parseWith()
	case p.atKeyword("UNWIND"):
		return p.parseUnwind()
	case p.atKeyword("CALL"):
		return p.parseCall()
	default:
		return nil, p.unexpected("a clause (MATCH, CREATE, RETURN, ...)")
	}
}

func (p *Parser) parseMatch(optional bool) (Clause, error) {
	if err := p.expectKeyword("MATCH"); err != nil {
		return nil, err
	}
	return p.parseMatchBody(optional)
}

func (p *Parser) parseMatchBody(optional bool) (Clause, error) {
	patterns, err := p.parsePatternList()
	if err != nil {
		return nil, err
	}
	clause := &MatchClause{Patterns: patterns, Optional: optional}
	if p.atKeyword("WHERE") {
		pred, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		clause.Where = pred
	}
	return clause, nil
}

func (p *Parser) parseCreate() (Clause, error) {
	if err := p.expectKeyword("CREATE"); err != nil {
		return nil, err
	}
	patterns, err := p.parsePatternList()
	if err != nil {
		return nil, err
	}
	return &CreateClause{Patterns: patterns}, nil
}

func (p *Parser) parseMerge() (Clause, error) {
	if err := p.expectKeyword("MERGE"); err != nil {
		return nil, err
	}
	pattern, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	clause := &MergeClause{Pattern: pattern}
	for p.atKeyword("ON") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch {
		case p.atKeyword("CREATE"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectKeyword("SET"); err != nil {
				return nil, err
			}
			items, err := p.parseAssignments()
			if err != nil {
				return nil, err
			}
			clause.OnCreate = items
		case p.atKeyword("MATCH"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectKeyword("SET"); err != nil {
				return nil, err
			}
			items, err := p.parseAssignments()
			if err != nil {
				return nil, err
			}
			clause.OnMatch = items
		default:
			return nil, p.unexpected("CREATE or MATCH")
		}
	}
	return clause, nil
}

func (p *Parser) parseSet() (Clause, error) {
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	items, err := p.parseAssignments()
	if err != nil {
		return nil, err
	}
	return &SetClause{Items: items}, nil
}

// parseAssignments parses a comma-separated list of `v.prop = expr` or
// `v:Label` assignments, as used by SET and ON CREATE/ON MATCH SET.
func (p *Parser) parseAssignments() ([]SetItem, error) {
	var items []SetItem
	for {
		variable, err := p.identifierAllowingKeyword()
		if err != nil {
			return nil, err
		}
		item := SetItem{Variable: variable}
		switch {
		case p.atPunct(":"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			label, err := p.identifierAllowingKeyword()
			if err != nil {
				return nil, err
			}
			item.AddLabels = append(item.AddLabels, label)
			for p.atPunct(":") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				label, err := p.identifierAllowingKeyword()
				if err != nil {
					return nil, err
				}
				item.AddLabels = append(item.AddLabels, label)
			}
		case p.atPunct("."):
			if err := p.advance(); err != nil {
				return nil, err
			}
			prop, err := p.identifierAllowingKeyword()
			if err != nil {
				return nil, err
			}
			item.Property = prop
			if err := p.expectPunct("="); err != nil {
				return nil, err
			}
			val, err := p.parseExpression(0)
			if err != nil {
				return nil, err
			}
			item.Value = val
		default:
			return nil, p.unexpected("'.' or ':'")
		}
		items = append(items, item)
		if !p.atPunct(",") {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (p *Parser) parseDelete() (Clause, error) {
	detach := false
	if p.atKeyword("DETACH") {
		detach = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("DELETE"); err != nil {
		return nil, err
	}
	var vars []string
	for {
		v, err := p.identifier()
		if err != nil {
			return nil, err
		}
		vars = append(vars, v)
		if !p.atPunct(",") {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return &DeleteClause{Variables: vars, Detach: detach}, nil
}

func (p *Parser) parseReturn() (Clause, error) {
	if err := p.expectKeyword("RETURN"); err != nil {
		return nil, err
	}
	distinct, items, order, skip, limit, err := p.parseProjectionBody()
	if err != nil {
		return nil, err
	}
	return &ReturnClause{Distinct: distinct, Items: items, OrderBy: order, Skip: skip, Limit: limit}, nil
}

func (p *Parser) parseWith() (Clause, error) {
	if err := p.expectKeyword("WITH"); err != nil {
		return nil, err
	}
	distinct, items, order, skip, limit, err := p.parseProjectionBody()
	if err != nil {
		return nil, err
	}
	clause := &WithClause{Distinct: distinct, Items: items, OrderBy: order, Skip: skip, Limit: limit}
	if p.atKeyword("WHERE") {
		pred, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		clause.Where = pred
	}
	return clause, nil
}

// parseProjectionBody parses the shared tail of RETURN and WITH:
// ('DISTINCT')? Projections OrderBy? Skip? Limit?
func (p *Parser) parseProjectionBody() (bool, []ProjectionItem, []OrderItem, Expression, Expression, error) {
	distinct := false
	if p.atKeyword("DISTINCT") {
		distinct = true
		if err := p.advance(); err != nil {
			return false, nil, nil, nil, nil, err
		}
	}
	items, err := p.parseProjections()
	if err != nil {
		return false, nil, nil, nil, nil, err
	}
	var order []OrderItem
	if p.atKeyword("ORDER") {
		order, err = p.parseOrderBy()
		if err != nil {
			return false, nil, nil, nil, nil, err
		}
	}
	var skip, limit Expression
	if p.atKeyword("SKIP") {
		if err := p.advance(); err != nil {
			return false, nil, nil, nil, nil, err
		}
		skip, err = p.parseExpression(0)
		if err != nil {
			return false, nil, nil, nil, nil, err
		}
	}
	if p.atKeyword("LIMIT") {
		if err := p.advance(); err != nil {
			return false, nil, nil, nil, nil, err
		}
		limit, err = p.parseExpression(0)
		if err != nil {
			return false, nil, nil, nil, nil, err
		}
	}
	return distinct, items, order, skip, limit, nil
}

func (p *Parser) parseProjections() ([]ProjectionItem, error) {
	var items []ProjectionItem
	for {
		expr, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		item := ProjectionItem{Expr: expr}
		if p.atKeyword("AS") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			alias, err := p.identifierAllowingKeyword()
			if err != nil {
				return nil, err
			}
			item.Alias = alias
		}
		items = append(items, item)
		if !p.atPunct(",") {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (p *Parser) parseOrderBy() ([]OrderItem, error) {
	if err := p.expectKeyword("ORDER"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("BY"); err != nil {
		return nil, err
	}
	var items []OrderItem
	for {
		expr, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		item := OrderItem{Expr: expr}
		switch {
		case p.atKeyword("DESC"), p.atKeyword("DESCENDING"):
			item.Descending = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		case p.atKeyword("ASC"), p.atKeyword("ASCENDING"):
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		items = append(items, item)
		if !p.atPunct(",") {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (p *Parser) parseUnwind() (Clause, error) {
	if err := p.expectKeyword("UNWIND"); err != nil {
		return nil, err
	}
	expr, err := p.parseExpression(0)
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	v, err := p.identifierAllowingKeyword()
	if err != nil {
		return nil, err
	}
	return &UnwindClause{Expr: expr, Variable: v}, nil
}

func (p *Parser) parseCall() (Clause, error) {
	if err := p.expectKeyword("CALL"); err != nil {
		return nil, err
	}
	var name strings.Builder
	part, err := p.identifierAllowingKeyword()
	if err != nil {
		return nil, err
	}
	name.WriteString(part)
	for p.atPunct(".") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		part, err := p.identifierAllowingKeyword()
		if err != nil {
			return nil, err
		}
		name.WriteByte('.')
		name.WriteString(part)
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var args []Expression
	if !p.atPunct(")") {
		for {
			arg, err := p.parseExpression(0)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if !p.atPunct(",") {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	clause := &CallClause{Name: name.String(), Args: args}
	if p.atKeyword("YIELD") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		for {
			y, err := p.identifierAllowingKeyword()
			if err != nil {
				return nil, err
			}
			clause.Yield = append(clause.Yield, y)
			if !p.atPunct(",") {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if p.atKeyword("WHERE") {
			pred, err := p.parseWhere()
			if err != nil {
				return nil, err
			}
			clause.Where = pred
		}
	}
	return clause, nil
}

func (p *Parser) parseWhere() (Predicate, error) {
	if err := p.expectKeyword("WHERE"); err != nil {
		return nil, err
	}
	return p.parsePredicate(0)
}

// parseIntLiteral reads a plain (non-negative) integer used in VarLen hop
// bounds; it does not go through the general expression parser because
// `*1..2` must not be confused with multiplication.
func parseIntLiteral(text string) (int, error) {
	return strconv.Atoi(text)
}
