package parser

import (
	"fmt"

	"github.com/Oliver2213/moor/types"
)

// ParseLiteral reads one value literal: the inverse of a value's
// String() form. Composite literals may only contain literals.
func ParseLiteral(src string) (types.Value, error) {
	p := NewParser(src)
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TOKEN_EOF {
		return nil, p.errorf(p.current.Position, "trailing input after literal")
	}
	return constValue(expr)
}

// constValue folds an AST produced from a literal back into a value.
func constValue(e Expr) (types.Value, error) {
	switch expr := e.(type) {
	case *LiteralExpr:
		return expr.Value, nil
	case *IdentifierExpr:
		if expr.Name == "none" {
			return types.None(), nil
		}
		return nil, fmt.Errorf("not a literal: %s", expr.Name)
	case *UnaryExpr:
		if expr.Operator != TOKEN_MINUS {
			return nil, fmt.Errorf("not a literal operator")
		}
		inner, err := constValue(expr.Operand)
		if err != nil {
			return nil, err
		}
		switch v := inner.(type) {
		case types.IntValue:
			return types.NewInt(-v.Val), nil
		case types.FloatValue:
			return types.NewFloat(-v.Val), nil
		}
		return nil, fmt.Errorf("negation of non-number literal")
	case *ListExpr:
		elems := make([]types.Value, 0, len(expr.Elements))
		for _, el := range expr.Elements {
			v, err := constValue(el)
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
		}
		return types.NewList(elems), nil
	case *MapExpr:
		m := types.NewEmptyMap()
		for _, pair := range expr.Pairs {
			k, err := constValue(pair.Key)
			if err != nil {
				return nil, err
			}
			v, err := constValue(pair.Value)
			if err != nil {
				return nil, err
			}
			m = m.Set(k, v)
		}
		return m, nil
	case *FlyweightExpr:
		del, err := constValue(expr.Delegate)
		if err != nil {
			return nil, err
		}
		delObj, ok := del.(types.ObjValue)
		if !ok {
			return nil, fmt.Errorf("flyweight delegate must be an object")
		}
		slots := types.NewEmptyMap()
		for _, pair := range expr.Slots {
			k, err := constValue(pair.Key)
			if err != nil {
				return nil, err
			}
			v, err := constValue(pair.Value)
			if err != nil {
				return nil, err
			}
			slots = slots.Set(k, v)
		}
		contents := make([]types.Value, 0, len(expr.Contents))
		for _, el := range expr.Contents {
			v, err := constValue(el)
			if err != nil {
				return nil, err
			}
			contents = append(contents, v)
		}
		return types.NewFlyweight(delObj.Val, slots, types.NewList(contents)), nil
	}
	return nil, fmt.Errorf("not a literal")
}
