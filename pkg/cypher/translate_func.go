package cypher

import (
	"fmt"
	"strings"
)

// compileFunction compiles a scalar function call (§4.3.3, "Scalar
// functions"). Names are matched case-insensitively against Cypher's
// built-ins and mapped onto the closest Postgres equivalent; jsonNative
// controls whether a bare variable/property argument is pulled as -> or
// ->> when that distinction matters to the function.
func (s *Scope) compileFunction(lv *level, fn *FunctionExpr, jsonNative bool) (string, error) {
	name := strings.ToLower(fn.Name)

	// type(e) and labels(n)/label(n) read structural columns, not properties,
	// so they bypass the generic arg compiler.
	switch name {
	case "type":
		if len(fn.Args) != 1 {
			return "", fmt.Errorf("%w: type() takes exactly one argument", ErrUnsupportedClause)
		}
		v, ok := fn.Args[0].(*VariableExpr)
		if !ok {
			return "", fmt.Errorf("%w: type() requires a bound relationship variable", ErrUnsupportedClause)
		}
		b, err := s.lookup(v.Name)
		if err != nil {
			return "", err
		}
		if b.literalID != "" {
			return lv.bindArg(b.literalLabel), nil
		}
		return b.alias + ".type", nil
	case "labels":
		if len(fn.Args) != 1 {
			return "", fmt.Errorf("%w: labels() takes exactly one argument", ErrUnsupportedClause)
		}
		v, ok := fn.Args[0].(*VariableExpr)
		if !ok {
			return "", fmt.Errorf("%w: labels() requires a bound node variable", ErrUnsupportedClause)
		}
		b, err := s.lookup(v.Name)
		if err != nil {
			return "", err
		}
		if b.literalID != "" {
			return fmt.Sprintf("jsonb_build_array(%s)", lv.bindArg(b.literalLabel)), nil
		}
		return fmt.Sprintf("jsonb_build_array(%s.label)", b.alias), nil
	}

	args := make([]string, len(fn.Args))
	for i, a := range fn.Args {
		compiled, err := s.compileExpr(lv, a, jsonNative)
		if err != nil {
			return "", err
		}
		args[i] = compiled
	}

	switch name {
	case "tolower":
		return wrap1("lower", args)
	case "toupper":
		return wrap1("upper", args)
	case "trim":
		return wrap1("btrim", args)
	case "tostring":
		return wrapCast(args, "text")
	case "tointeger":
		return wrapCast(args, "bigint")
	case "tofloat":
		return wrapCast(args, "double precision")
	case "toboolean":
		return wrapCast(args, "boolean")
	case "size", "length":
		if len(args) != 1 {
			return "", fmt.Errorf("%w: %s() takes exactly one argument", ErrUnsupportedClause, name)
		}
		return fmt.Sprintf("jsonb_array_length(%s)", args[0]), nil
	case "coalesce":
		return fmt.Sprintf("coalesce(%s)", strings.Join(args, ", ")), nil
	case "abs":
		return wrap1("abs", args)
	case "round":
		return wrap1("round", args)
	case "sign":
		return wrap1("sign", args)
	case "sqrt":
		return wrap1("sqrt", args)
	case "substring":
		if len(args) == 2 {
			return fmt.Sprintf("substr(%s, (%s)::int + 1)", args[0], args[1]), nil
		}
		if len(args) == 3 {
			return fmt.Sprintf("substr(%s, (%s)::int + 1, (%s)::int)", args[0], args[1], args[2]), nil
		}
		return "", fmt.Errorf("%w: substring() takes 2 or 3 arguments", ErrUnsupportedClause)
	case "replace":
		if len(args) != 3 {
			return "", fmt.Errorf("%w: replace() takes exactly 3 arguments", ErrUnsupportedClause)
		}
		return fmt.Sprintf("replace(%s, %s, %s)", args[0], args[1], args[2]), nil
	case "split":
		if len(args) != 2 {
			return "", fmt.Errorf("%w: split() takes exactly 2 arguments", ErrUnsupportedClause)
		}
		return fmt.Sprintf("to_jsonb(string_to_array(%s, %s))", args[0], args[1]), nil
	case "keys":
		if len(args) != 1 {
			return "", fmt.Errorf("%w: keys() takes exactly one argument", ErrUnsupportedClause)
		}
		return fmt.Sprintf("(SELECT jsonb_agg(k) FROM jsonb_object_keys(%s) k)", args[0]), nil
	default:
		return "", fmt.Errorf("%w: function %q", ErrUnsupportedClause, fn.Name)
	}
}

func wrap1(sqlFn string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: %s() takes exactly one argument", ErrUnsupportedClause, sqlFn)
	}
	return fmt.Sprintf("%s(%s)", sqlFn, args[0]), nil
}

func wrapCast(args []string, pgType string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: cast takes exactly one argument", ErrUnsupportedClause)
	}
	return fmt.Sprintf("(%s)::%s", args[0], pgType), nil
}

// compileAggregate compiles count/sum/avg/min/max/collect (§4.3.3,
// "Aggregate functions"). Aggregates always operate on the JSON-native form
// of their argument so collect() and min/max over mixed types behave
// sensibly.
func (s *Scope) compileAggregate(lv *level, ag *AggregateExpr) (string, error) {
	distinct := ""
	if ag.Distinct {
		distinct = "DISTINCT "
	}
	name := strings.ToLower(ag.Name)
	if name == "count" && ag.Star {
		return "count(*)", nil
	}
	arg, err := s.compileExprJSON(lv, ag.Arg)
	if err != nil {
		return "", err
	}
	switch name {
	case "count":
		return fmt.Sprintf("count(%s%s)", distinct, arg), nil
	case "collect":
		return fmt.Sprintf("jsonb_agg(%s%s)", distinct, arg), nil
	case "sum":
		return fmt.Sprintf("sum((%s%s)::numeric)", distinct, arg), nil
	case "avg":
		return fmt.Sprintf("avg((%s%s)::numeric)", distinct, arg), nil
	case "min":
		return fmt.Sprintf("min(%s)", arg), nil
	case "max":
		return fmt.Sprintf("max(%s)", arg), nil
	default:
		return "", fmt.Errorf("%w: aggregate %q", ErrUnsupportedClause, ag.Name)
	}
}

// compileCase compiles both the generic `CASE WHEN cond THEN r ... END` and
// the subject form `CASE x WHEN v THEN r ... END` (§4.3.3, "CASE").
func (s *Scope) compileCase(lv *level, ce *CaseExpr) (string, error) {
	var sb strings.Builder
	sb.WriteString("CASE")
	var subject string
	if ce.Subject != nil {
		v, err := s.compileExprJSON(lv, ce.Subject)
		if err != nil {
			return "", err
		}
		subject = v
	}
	for _, when := range ce.Whens {
		result, err := s.compileExprJSON(lv, when.Result)
		if err != nil {
			return "", err
		}
		if ce.Subject != nil {
			val, err := s.compileExprJSON(lv, when.Cond)
			if err != nil {
				return "", err
			}
			sb.WriteString(fmt.Sprintf(" WHEN %s = %s THEN %s", subject, val, result))
		} else {
			cond, err := s.compileExpr(lv, when.Cond, false)
			if err != nil {
				return "", err
			}
			sb.WriteString(fmt.Sprintf(" WHEN %s THEN %s", cond, result))
		}
	}
	if ce.Else != nil {
		elseVal, err := s.compileExprJSON(lv, ce.Else)
		if err != nil {
			return "", err
		}
		sb.WriteString(" ELSE " + elseVal)
	}
	sb.WriteString(" END")
	return sb.String(), nil
}
