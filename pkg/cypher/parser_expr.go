package cypher

import "strconv"

// binding powers for the Pratt expression parser. Cypher's only infix
// expression operator in this subset is '+' (numeric addition or list
// concatenation, resolved at translation/execution time — see
// ListConcatExpr and §4.3 of SPEC_FULL.md).
const (
	bpNone = iota
	bpAdd
)

func infixBindingPower(opText string) int {
	if opText == "+" {
		return bpAdd
	}
	return bpNone
}

// parseExpression parses an expression with Pratt precedence climbing,
// stopping once an infix operator's binding power is <= minBP.
func (p *Parser) parseExpression(minBP int) (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == TokenPunct && infixBindingPower(p.cur.Text) > minBP {
		op := p.cur.Text
		bp := infixBindingPower(op)
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseExpression(bp)
		if err != nil {
			return nil, err
		}
		left = &ListConcatExpr{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expression, error) {
	if p.atPunct("-") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := inner.(*LiteralExpr); ok {
			switch v := lit.Value.(type) {
			case int64:
				return &LiteralExpr{Value: -v}, nil
			case float64:
				return &LiteralExpr{Value: -v}, nil
			}
		}
		return &FunctionExpr{Name: "negate", Args: []Expression{inner}}, nil
	}
	return p.parsePostfix()
}

// parsePostfix parses a primary expression followed by any number of
// '.property' accesses.
func (p *Parser) parsePostfix() (Expression, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.atPunct(".") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		prop, err := p.identifierAllowingKeyword()
		if err != nil {
			return nil, err
		}
		v, ok := expr.(*VariableExpr)
		if !ok {
			return nil, &ParseError{Message: "property access requires a variable on the left", Pos: p.cur.Pos}
		}
		expr = &PropertyExpr{Variable: v.Name, Property: prop}
	}
	return expr, nil
}

func (p *Parser) parsePrimary() (Expression, error) {
	switch {
	case p.cur.Kind == TokenNumber:
		return p.parseNumberLiteral()
	case p.cur.Kind == TokenString:
		text := p.cur.Text
		return &LiteralExpr{Value: text}, p.advance()
	case p.cur.Kind == TokenParameter:
		name := p.cur.Text
		return &ParameterExpr{Name: name}, p.advance()
	case p.atKeyword("TRUE"):
		return &LiteralExpr{Value: true}, p.advance()
	case p.atKeyword("FALSE"):
		return &LiteralExpr{Value: false}, p.advance()
	case p.atKeyword("NULL"):
		return &LiteralExpr{Value: nil}, p.advance()
	case p.atKeyword("CASE"):
		return p.parseCaseExpr()
	case p.atKeyword("EXISTS"):
		return p.parseExistsExpr()
	case p.atPunct("["):
		return p.parseListLiteral()
	case p.atPunct("{"):
		return p.parseMapLiteralExpr()
	case p.atPunct("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return inner, nil
	case p.cur.Kind == TokenIdentifier || p.cur.Kind == TokenKeyword:
		return p.parseIdentOrCall()
	default:
		return nil, p.unexpected("an expression")
	}
}

func (p *Parser) parseNumberLiteral() (Expression, error) {
	text := p.cur.Text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if isFloatText(text) {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, &ParseError{Message: "invalid numeric literal: " + text, Pos: p.cur.Pos}
		}
		return &LiteralExpr{Value: f}, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, &ParseError{Message: "invalid numeric literal: " + text, Pos: p.cur.Pos}
	}
	return &LiteralExpr{Value: n}, nil
}

func isFloatText(s string) bool {
	for _, c := range s {
		if c == '.' || c == 'e' || c == 'E' {
			return true
		}
	}
	return false
}

// parseIdentOrCall disambiguates a bare variable (`n`), id(n), a function
// call (`toUpper(n.name)`), or an aggregate (`count(DISTINCT n)`).
func (p *Parser) parseIdentOrCall() (Expression, error) {
	name, err := p.identifierAllowingKeyword()
	if err != nil {
		return nil, err
	}
	if !p.atPunct("(") {
		return &VariableExpr{Name: name}, nil
	}
	if err := p.advance(); err != nil { // consume '('
		return nil, err
	}
	lower := lowerASCII(name)
	if lower == "id" {
		inner, err := p.identifier()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &IDExpr{Variable: inner}, nil
	}
	if isAggregateName(lower) {
		return p.parseAggregateArgs(lower)
	}
	var args []Expression
	if p.atPunct("*") {
		// count(*) handled by isAggregateName above; a bare '*' elsewhere is
		// a syntax error since ordinary functions never take a wildcard arg.
		return nil, p.unexpected("an argument")
	}
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
	return &FunctionExpr{Name: lower, Args: args}, nil
}

func isAggregateName(lower string) bool {
	switch lower {
	case "count", "sum", "avg", "min", "max", "collect":
		return true
	default:
		return false
	}
}

// parseAggregateArgs parses the inside of an aggregate call: '*', or
// ('DISTINCT')? Expr.
func (p *Parser) parseAggregateArgs(name string) (Expression, error) {
	agg := &AggregateExpr{Name: name}
	if p.atPunct("*") {
		agg.Star = true
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return agg, nil
	}
	if p.atKeyword("DISTINCT") {
		agg.Distinct = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	arg, err := p.parseExpression(0)
	if err != nil {
		return nil, err
	}
	agg.Arg = arg
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return agg, nil
}

func (p *Parser) parseCaseExpr() (Expression, error) {
	if err := p.expectKeyword("CASE"); err != nil {
		return nil, err
	}
	ce := &CaseExpr{}
	if !p.atKeyword("WHEN") {
		subj, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		ce.Subject = subj
	}
	for p.atKeyword("WHEN") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		var cond Expression
		var err error
		if ce.Subject == nil {
			pred, perr := p.parsePredicate(0)
			if perr != nil {
				return nil, perr
			}
			cond = &predicateAsExpr{pred}
		} else {
			cond, err = p.parseExpression(0)
			if err != nil {
				return nil, err
			}
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		result, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		ce.Whens = append(ce.Whens, CaseWhen{Cond: cond, Result: result})
	}
	if p.atKeyword("ELSE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		elseExpr, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		ce.Else = elseExpr
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return ce, nil
}

// predicateAsExpr adapts a Predicate into the When-condition slot of a
// subject-less CASE, which is the one place a predicate is nested inside
// the expression grammar.
type predicateAsExpr struct{ Pred Predicate }

func (*predicateAsExpr) exprNode() {}

func (p *Parser) parseExistsExpr() (Expression, error) {
	if err := p.expectKeyword("EXISTS"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	pattern, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &ExistsExpr{Pattern: pattern}, nil
}

func (p *Parser) parseListLiteral() (Expression, error) {
	if err := p.expectPunct("["); err != nil {
		return nil, err
	}
	lit := &ListLiteralExpr{}
	if p.atPunct("]") {
		return lit, p.advance()
	}
	for {
		item, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		lit.Items = append(lit.Items, item)
		if !p.atPunct(",") {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct("]"); err != nil {
		return nil, err
	}
	return lit, nil
}

func (p *Parser) parseMapLiteralExpr() (Expression, error) {
	props, err := p.parsePropertyMap()
	if err != nil {
		return nil, err
	}
	return &MapLiteralExpr{Entries: props}, nil
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// --- WHERE predicates ---

const (
	predBPNone = iota
	predBPOr
	predBPAnd
	predBPNot
)

// parsePredicate parses Predicate := Or
func (p *Parser) parsePredicate(minBP int) (Predicate, error) {
	left, err := p.parseAndPredicate()
	if err != nil {
		return nil, err
	}
	for predBPOr > minBP && p.atKeyword("OR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAndPredicate()
		if err != nil {
			return nil, err
		}
		left = combineOr(left, right)
	}
	return left, nil
}

func combineOr(left, right Predicate) Predicate {
	if or, ok := left.(*OrPredicate); ok {
		or.Operands = append(or.Operands, right)
		return or
	}
	return &OrPredicate{Operands: []Predicate{left, right}}
}

func (p *Parser) parseAndPredicate() (Predicate, error) {
	left, err := p.parseNotPredicate()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("AND") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNotPredicate()
		if err != nil {
			return nil, err
		}
		left = combineAnd(left, right)
	}
	return left, nil
}

func combineAnd(left, right Predicate) Predicate {
	if and, ok := left.(*AndPredicate); ok {
		and.Operands = append(and.Operands, right)
		return and
	}
	return &AndPredicate{Operands: []Predicate{left, right}}
}

func (p *Parser) parseNotPredicate() (Predicate, error) {
	if p.atKeyword("NOT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseNotPredicate()
		if err != nil {
			return nil, err
		}
		return &NotPredicate{Operand: operand}, nil
	}
	return p.parsePredicateAtom()
}

func (p *Parser) parsePredicateAtom() (Predicate, error) {
	if p.atKeyword("EXISTS") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		pattern, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &ExistsPredicate{Pattern: pattern}, nil
	}
	if p.atPunct("(") {
		// A '(' here is ambiguous between a parenthesised sub-predicate
		// ("(a.age > 5 OR a.age < 2)") and a parenthesised expression about
		// to be compared ("(a.x + a.y) > 10"). Recursing into parsePredicate
		// handles both: a bare expression bottoms out as an ExprPredicate,
		// which is then unwrapped below if a comparison tail follows.
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parsePredicate(0)
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		if wrapped, ok := inner.(*ExprPredicate); ok {
			return p.parsePredicateTail(wrapped.Expr)
		}
		return inner, nil
	}
	left, err := p.parseExpression(0)
	if err != nil {
		return nil, err
	}
	return p.parsePredicateTail(left)
}

func (p *Parser) parsePredicateTail(left Expression) (Predicate, error) {
	switch {
	case p.cur.Kind == TokenOperator && isComparisonOp(p.cur.Text):
		op := p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		return &ComparisonPredicate{Left: left, Operator: op, Right: right}, nil
	case p.atPunct("="):
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		return &ComparisonPredicate{Left: left, Operator: "=", Right: right}, nil
	case p.atKeyword("CONTAINS"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		return &ContainsPredicate{Left: left, Right: right}, nil
	case p.atKeyword("STARTS"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("WITH"); err != nil {
			return nil, err
		}
		right, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		return &StartsWithPredicate{Left: left, Right: right}, nil
	case p.atKeyword("ENDS"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("WITH"); err != nil {
			return nil, err
		}
		right, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		return &EndsWithPredicate{Left: left, Right: right}, nil
	case p.atKeyword("IN"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		return &InPredicate{Left: left, Right: right}, nil
	case p.atKeyword("IS"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		negated := false
		if p.atKeyword("NOT") {
			negated = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &IsNullPredicate{Operand: left, Negated: negated}, nil
	default:
		return &ExprPredicate{Expr: left}, nil
	}
}

func isComparisonOp(text string) bool {
	switch text {
	case "<>", "<=", ">=", "<", ">":
		return true
	default:
		return false
	}
}
