package cypher

// parsePatternList parses a comma-separated list of patterns, as used by
// MATCH and CREATE.
func (p *Parser) parsePatternList() ([]Pattern, error) {
	var patterns []Pattern
	for {
		pattern, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, pattern)
		if !p.atPunct(",") {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return patterns, nil
}

// parsePattern parses Pattern := ('var' '=')? Node (Edge Node)*
func (p *Parser) parsePattern() (Pattern, error) {
	var patternVar string
	if p.cur.Kind == TokenIdentifier && p.next.Kind == TokenPunct && p.next.Text == "=" {
		v, err := p.identifier()
		if err != nil {
			return Pattern{}, err
		}
		if err := p.advance(); err != nil { // consume '='
			return Pattern{}, err
		}
		patternVar = v
	}
	source, err := p.parseNodePattern()
	if err != nil {
		return Pattern{}, err
	}
	pattern := Pattern{Variable: patternVar, Source: source}
	for p.atPunct("-[") || p.atPunct("<-[") {
		edge, err := p.parseEdgeSpec()
		if err != nil {
			return Pattern{}, err
		}
		node, err := p.parseNodePattern()
		if err != nil {
			return Pattern{}, err
		}
		pattern.Steps = append(pattern.Steps, PatternStep{Edge: edge, Node: node})
	}
	return pattern, nil
}

// parseNodePattern parses '(' Variable? (':' Label)* Props? ')'
func (p *Parser) parseNodePattern() (NodePattern, error) {
	if err := p.expectPunct("("); err != nil {
		return NodePattern{}, err
	}
	var np NodePattern
	if p.cur.Kind == TokenIdentifier {
		v, err := p.identifier()
		if err != nil {
			return NodePattern{}, err
		}
		np.Variable = v
	}
	for p.atPunct(":") {
		if err := p.advance(); err != nil {
			return NodePattern{}, err
		}
		label, err := p.identifierAllowingKeyword()
		if err != nil {
			return NodePattern{}, err
		}
		np.Labels = append(np.Labels, label)
	}
	if p.atPunct("{") {
		props, err := p.parsePropertyMap()
		if err != nil {
			return NodePattern{}, err
		}
		np.Properties = props
	}
	if err := p.expectPunct(")"); err != nil {
		return NodePattern{}, err
	}
	return np, nil
}

// parseEdgeSpec parses one of:
//
//	-[ var? (':' Type)? VarLen? Props? ]->     direction right
//	<-[ var? (':' Type)? VarLen? Props? ]-     direction left
//	-[ var? (':' Type)? VarLen? Props? ]-      direction none
//	<-[ ... ]->                                error: arrows on both ends
func (p *Parser) parseEdgeSpec() (EdgeSpec, error) {
	leftArrow := false
	switch {
	case p.atPunct("<-["):
		leftArrow = true
		if err := p.advance(); err != nil {
			return EdgeSpec{}, err
		}
	case p.atPunct("-["):
		if err := p.advance(); err != nil {
			return EdgeSpec{}, err
		}
	default:
		return EdgeSpec{}, p.unexpected("a relationship pattern")
	}

	var spec EdgeSpec
	if p.cur.Kind == TokenIdentifier {
		v, err := p.identifier()
		if err != nil {
			return EdgeSpec{}, err
		}
		spec.Variable = v
	}
	if p.atPunct(":") {
		if err := p.advance(); err != nil {
			return EdgeSpec{}, err
		}
		t, err := p.identifierAllowingKeyword()
		if err != nil {
			return EdgeSpec{}, err
		}
		spec.Type = t
	}
	if p.atPunct("*") {
		if err := p.parseVarLen(&spec); err != nil {
			return EdgeSpec{}, err
		}
	}
	if p.atPunct("{") {
		props, err := p.parsePropertyMap()
		if err != nil {
			return EdgeSpec{}, err
		}
		spec.Properties = props
	}

	// The lexer folds the closing "]" together with the trailing "-" or
	// "->" into a single composite token (see Lexer.lexPunctOrOperator),
	// so the bracket close and the direction arrow are consumed together.
	rightArrow := false
	switch {
	case p.atPunct("]->"):
		rightArrow = true
		if err := p.advance(); err != nil {
			return EdgeSpec{}, err
		}
	case p.atPunct("]-"):
		if err := p.advance(); err != nil {
			return EdgeSpec{}, err
		}
	default:
		return EdgeSpec{}, p.unexpected("']-' or ']->'")
	}

	switch {
	case leftArrow && rightArrow:
		return EdgeSpec{}, &ParseError{
			Message: "relationship pattern cannot have an arrow on both ends",
			Pos:     p.cur.Pos,
		}
	case leftArrow:
		spec.Direction = DirLeft
	case rightArrow:
		spec.Direction = DirRight
	default:
		spec.Direction = DirNone
	}
	return spec, nil
}

// parseVarLen parses '*' (Int? ('..' Int?)?)? immediately after the opening
// '*' token has been recognised but not yet consumed.
func (p *Parser) parseVarLen(spec *EdgeSpec) error {
	if err := p.expectPunct("*"); err != nil {
		return err
	}
	one := 1
	spec.MinHops = &one
	if p.cur.Kind != TokenNumber && !p.atPunct("..") {
		return nil
	}
	if p.cur.Kind == TokenNumber {
		n, err := parseIntLiteral(p.cur.Text)
		if err != nil {
			return &ParseError{Message: "invalid hop count", Pos: p.cur.Pos}
		}
		spec.MinHops = &n
		max := n
		spec.MaxHops = &max
		if err := p.advance(); err != nil {
			return err
		}
	}
	if p.atPunct("..") {
		if err := p.advance(); err != nil {
			return err
		}
		spec.MaxHops = nil
		if p.cur.Kind == TokenNumber {
			n, err := parseIntLiteral(p.cur.Text)
			if err != nil {
				return &ParseError{Message: "invalid hop count", Pos: p.cur.Pos}
			}
			spec.MaxHops = &n
			if err := p.advance(); err != nil {
				return err
			}
		}
	}
	return nil
}

// parsePropertyMap parses '{' (key ':' Expr (',' key ':' Expr)*)? '}'
func (p *Parser) parsePropertyMap() ([]PropertyAssignment, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var props []PropertyAssignment
	if p.atPunct("}") {
		return props, p.advance()
	}
	for {
		key, err := p.identifierAllowingKeyword()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		val, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		props = append(props, PropertyAssignment{Key: key, Value: val})
		if !p.atPunct(",") {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return props, nil
}
