package cypher

import (
	"fmt"
	"strings"
)

// compilePredicate compiles a WHERE-clause Predicate into a boolean SQL
// fragment (§4.3.4).
func (s *Scope) compilePredicate(lv *level, p Predicate) (string, error) {
	switch pr := p.(type) {
	case *ComparisonPredicate:
		left, err := s.compileExprText(lv, pr.Left)
		if err != nil {
			return "", err
		}
		right, err := s.compileExprText(lv, pr.Right)
		if err != nil {
			return "", err
		}
		op := pr.Operator
		if op == "<>" {
			op = "!="
		}
		return fmt.Sprintf("%s %s %s", left, op, right), nil
	case *AndPredicate:
		return s.compileConjunction(lv, pr.Operands, "AND")
	case *OrPredicate:
		return s.compileConjunction(lv, pr.Operands, "OR")
	case *NotPredicate:
		inner, err := s.compilePredicate(lv, pr.Operand)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case *ContainsPredicate:
		left, right, err := s.compilePair(lv, pr.Left, pr.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s LIKE '%%' || %s || '%%'", left, likeEscaped(right)), nil
	case *StartsWithPredicate:
		left, right, err := s.compilePair(lv, pr.Left, pr.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s LIKE %s || '%%'", left, likeEscaped(right)), nil
	case *EndsWithPredicate:
		left, right, err := s.compilePair(lv, pr.Left, pr.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s LIKE '%%' || %s", left, likeEscaped(right)), nil
	case *IsNullPredicate:
		operand, err := s.compileExprText(lv, pr.Operand)
		if err != nil {
			return "", err
		}
		if pr.Negated {
			return operand + " IS NOT NULL", nil
		}
		return operand + " IS NULL", nil
	case *InPredicate:
		return s.compileIn(lv, pr)
	case *ExistsPredicate:
		return s.compileExistsSQL(lv, pr.Pattern)
	case *ExprPredicate:
		return s.compileExprText(lv, pr.Expr)
	default:
		return "", fmt.Errorf("%w: unsupported predicate type %T", ErrUnsupportedClause, p)
	}
}

// likeEscaped wraps a compiled text operand so that its backslashes, '%'
// and '_' match literally inside a LIKE pattern.
func likeEscaped(operand string) string {
	return fmt.Sprintf(`replace(replace(replace(%s, '\', '\\'), '%%', '\%%'), '_', '\_')`, operand)
}

func (s *Scope) compilePair(lv *level, a, b Expression) (string, string, error) {
	left, err := s.compileExprText(lv, a)
	if err != nil {
		return "", "", err
	}
	right, err := s.compileExprText(lv, b)
	if err != nil {
		return "", "", err
	}
	return left, right, nil
}

func (s *Scope) compileConjunction(lv *level, operands []Predicate, joiner string) (string, error) {
	parts := make([]string, len(operands))
	for i, op := range operands {
		p, err := s.compilePredicate(lv, op)
		if err != nil {
			return "", err
		}
		parts[i] = "(" + p + ")"
	}
	return strings.Join(parts, " "+joiner+" "), nil
}

// compileIn supports the common literal-list, parameter-list and
// variable-list right-hand sides (§4.3.4, "IN").
func (s *Scope) compileIn(lv *level, pr *InPredicate) (string, error) {
	left, err := s.compileExprJSON(lv, pr.Left)
	if err != nil {
		return "", err
	}
	if lit, ok := pr.Right.(*ListLiteralExpr); ok {
		parts := make([]string, len(lit.Items))
		for i, item := range lit.Items {
			p, err := s.compileExprJSON(lv, item)
			if err != nil {
				return "", err
			}
			parts[i] = p
		}
		return fmt.Sprintf("%s IN (%s)", left, strings.Join(parts, ", ")), nil
	}
	// Parameter or variable bound to a JSON array: use jsonb containment via
	// EXISTS over jsonb_array_elements, which works for both scalar and
	// mixed-type lists without needing to know the element type up front.
	right, err := s.compileExprJSON(lv, pr.Right)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM jsonb_array_elements(%s) elem WHERE elem = %s)", right, left), nil
}

// compileExistsSQL compiles EXISTS { pattern } (as both a Predicate and as
// an Expression context, via ExistsExpr) into a correlated SQL EXISTS
// subquery that reuses the enclosing level's already-bound variables
// (§4.3.4, "EXISTS patterns").
func (s *Scope) compileExistsSQL(lv *level, pattern Pattern) (string, error) {
	sub := newLevel()
	for name, b := range lv.vars {
		sub.vars[name] = b
	}
	if err := s.compilePatternInto(sub, pattern, false); err != nil {
		return "", err
	}
	fromSQL, err := s.renderFrom(sub.from)
	if err != nil {
		return "", err
	}
	where := ""
	if len(sub.where) > 0 {
		where = " WHERE " + strings.Join(sub.where, " AND ")
	}
	// sub.args were appended using sub's own numbering; fold them into the
	// parent level so the final statement's placeholders stay consistent.
	renumbered := renumberArgs(fmt.Sprintf("%s%s", fromSQL, where), len(lv.args))
	lv.args = append(lv.args, sub.args...)
	return "EXISTS (SELECT 1 " + renumbered + ")", nil
}

// renumberArgs shifts every "$n" placeholder in sql up by offset, used when
// splicing a sub-level's SQL (numbered from $1) into an outer statement
// that already has `offset` bound args.
func renumberArgs(sql string, offset int) string {
	if offset == 0 {
		return sql
	}
	var sb strings.Builder
	i := 0
	for i < len(sql) {
		c := sql[i]
		if c == '$' && i+1 < len(sql) && sql[i+1] >= '0' && sql[i+1] <= '9' {
			j := i + 1
			for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
				j++
			}
			var n int
			fmt.Sscanf(sql[i+1:j], "%d", &n)
			sb.WriteString(fmt.Sprintf("$%d", n+offset))
			i = j
			continue
		}
		sb.WriteByte(c)
		i++
	}
	return sb.String()
}
