package vm

import (
	"fmt"

	"github.com/Oliver2213/moor/parser"
	"github.com/Oliver2213/moor/types"
)

var binaryOps = map[parser.TokenType]OpCode{
	parser.TOKEN_PLUS: OP_ADD, parser.TOKEN_MINUS: OP_SUB,
	parser.TOKEN_STAR: OP_MUL, parser.TOKEN_SLASH: OP_DIV,
	parser.TOKEN_PERCENT: OP_MOD, parser.TOKEN_CARET: OP_POW,
	parser.TOKEN_EQ: OP_EQ, parser.TOKEN_NE: OP_NE,
	parser.TOKEN_LT: OP_LT, parser.TOKEN_GT: OP_GT,
	parser.TOKEN_LE: OP_LE, parser.TOKEN_GE: OP_GE,
	parser.TOKEN_IN: OP_IN,
	parser.TOKEN_BITAND: OP_BITAND, parser.TOKEN_BITOR: OP_BITOR,
	parser.TOKEN_BITXOR: OP_BITXOR,
	parser.TOKEN_LSHIFT: OP_SHL, parser.TOKEN_RSHIFT: OP_SHR,
}

func (c *Compiler) compileExpr(e parser.Expr) error {
	c.at(e)
	switch expr := e.(type) {
	case *parser.LiteralExpr:
		c.emitConstant(expr.Value)
		return nil

	case *parser.IdentifierExpr:
		// Declared variables shadow the built-in type constants
		// (INT, OBJ, STR, ...); undeclared names that match a type
		// constant compile to its code.
		if idx, ok := c.lookupExisting(expr.Name); ok {
			c.emit(OP_GET_VAR, idx, 0, 0)
			return nil
		}
		if tc, ok := typeConstantFor(expr.Name); ok {
			c.emitConstant(types.NewInt(int64(tc)))
			return nil
		}
		idx, _ := c.lookup(expr.Name)
		c.emit(OP_GET_VAR, idx, 0, 0)
		return nil

	case *parser.SysRefExpr:
		c.emitConstant(types.NewObj(0))
		c.emitConstant(types.NewStr(expr.Name))
		c.emit(OP_GET_PROP, 0, 0, 0)
		return nil

	case *parser.ParenExpr:
		return c.compileExpr(expr.Expr)

	case *parser.UnaryExpr:
		if err := c.compileExpr(expr.Operand); err != nil {
			return err
		}
		switch expr.Operator {
		case parser.TOKEN_MINUS:
			c.emit(OP_NEG, 0, 0, 0)
		case parser.TOKEN_NOT:
			c.emit(OP_NOT, 0, 0, 0)
		case parser.TOKEN_BITNOT:
			c.emit(OP_BITNOT, 0, 0, 0)
		default:
			return &CompileError{Pos: expr.Pos, Msg: "unknown unary operator"}
		}
		return nil

	case *parser.BinaryExpr:
		if expr.Operator == parser.TOKEN_AND || expr.Operator == parser.TOKEN_OR {
			if err := c.compileExpr(expr.Left); err != nil {
				return err
			}
			op := OP_AND
			if expr.Operator == parser.TOKEN_OR {
				op = OP_OR
			}
			site := c.emit(op, 0, 0, 0)
			if err := c.compileExpr(expr.Right); err != nil {
				return err
			}
			c.patch(site, c.here())
			return nil
		}
		op, ok := binaryOps[expr.Operator]
		if !ok {
			return &CompileError{Pos: expr.Pos, Msg: "unknown binary operator"}
		}
		if err := c.compileExpr(expr.Left); err != nil {
			return err
		}
		if err := c.compileExpr(expr.Right); err != nil {
			return err
		}
		c.at(expr)
		c.emit(op, 0, 0, 0)
		return nil

	case *parser.TernaryExpr:
		if err := c.compileExpr(expr.Condition); err != nil {
			return err
		}
		elseSite := c.emit(OP_JUMP_NOT, 0, 0, 0)
		if err := c.compileExpr(expr.ThenExpr); err != nil {
			return err
		}
		endSite := c.emit(OP_JUMP, 0, 0, 0)
		c.patch(elseSite, c.here())
		if err := c.compileExpr(expr.ElseExpr); err != nil {
			return err
		}
		c.patch(endSite, c.here())
		return nil

	case *parser.IndexExpr:
		if err := c.compileExpr(expr.Expr); err != nil {
			return err
		}
		tmp := c.newTmp()
		c.emit(OP_SET_VAR, tmp, 0, 0)
		c.indexTmps = append(c.indexTmps, tmp)
		err := c.compileExpr(expr.Index)
		c.indexTmps = c.indexTmps[:len(c.indexTmps)-1]
		if err != nil {
			return err
		}
		c.at(expr)
		c.emit(OP_INDEX, 0, 0, 0)
		return nil

	case *parser.RangeExpr:
		if err := c.compileExpr(expr.Expr); err != nil {
			return err
		}
		tmp := c.newTmp()
		c.emit(OP_SET_VAR, tmp, 0, 0)
		c.indexTmps = append(c.indexTmps, tmp)
		err := c.compileExpr(expr.Start)
		if err == nil {
			err = c.compileExpr(expr.End)
		}
		c.indexTmps = c.indexTmps[:len(c.indexTmps)-1]
		if err != nil {
			return err
		}
		c.at(expr)
		c.emit(OP_SLICE, 0, 0, 0)
		return nil

	case *parser.IndexMarkerExpr:
		if expr.Marker == parser.TOKEN_CARET {
			c.emitConstant(types.NewInt(1))
			return nil
		}
		if len(c.indexTmps) == 0 {
			return &CompileError{Pos: expr.Pos, Msg: "$ outside of index"}
		}
		c.emit(OP_GET_VAR, c.indexTmps[len(c.indexTmps)-1], 0, 0)
		c.emit(OP_LENGTH, 0, 0, 0)
		return nil

	case *parser.PropertyExpr:
		if err := c.compileExpr(expr.Expr); err != nil {
			return err
		}
		if expr.Dynamic != nil {
			if err := c.compileExpr(expr.Dynamic); err != nil {
				return err
			}
		} else {
			c.emitConstant(types.NewStr(expr.Property))
		}
		c.at(expr)
		c.emit(OP_GET_PROP, 0, 0, 0)
		return nil

	case *parser.VerbCallExpr:
		if err := c.compileExpr(expr.Expr); err != nil {
			return err
		}
		if expr.Dynamic != nil {
			if err := c.compileExpr(expr.Dynamic); err != nil {
				return err
			}
		} else {
			c.emitConstant(types.NewStr(expr.Verb))
		}
		if err := c.compileArgs(expr.Args); err != nil {
			return err
		}
		c.at(expr)
		c.emit(OP_CALL_VERB, 0, 0, 0)
		return nil

	case *parser.BuiltinCallExpr:
		if expr.Name == "pass" {
			if err := c.compileArgs(expr.Args); err != nil {
				return err
			}
			c.at(expr)
			c.emit(OP_PASS, 0, 0, 0)
			return nil
		}
		id, ok := c.registry.IDFor(expr.Name)
		if !ok {
			return &CompileError{Pos: expr.Pos, Msg: fmt.Sprintf("unknown built-in function %q", expr.Name)}
		}
		if err := c.compileArgs(expr.Args); err != nil {
			return err
		}
		c.at(expr)
		c.emit(OP_CALL_BUILTIN, id, 0, 0)
		return nil

	case *parser.SpliceExpr:
		return &CompileError{Pos: expr.Pos, Msg: "@ splice outside of list or argument context"}

	case *parser.ListExpr:
		return c.compileArgs(expr.Elements)

	case *parser.MapExpr:
		for _, pair := range expr.Pairs {
			if err := c.compileExpr(pair.Key); err != nil {
				return err
			}
			if err := c.compileExpr(pair.Value); err != nil {
				return err
			}
		}
		c.at(expr)
		c.emit(OP_MAKE_MAP, len(expr.Pairs), 0, 0)
		return nil

	case *parser.FlyweightExpr:
		if err := c.compileExpr(expr.Delegate); err != nil {
			return err
		}
		for _, pair := range expr.Slots {
			if err := c.compileExpr(pair.Key); err != nil {
				return err
			}
			if err := c.compileExpr(pair.Value); err != nil {
				return err
			}
		}
		c.at(expr)
		c.emit(OP_MAKE_MAP, len(expr.Slots), 0, 0)
		if err := c.compileArgs(expr.Contents); err != nil {
			return err
		}
		c.at(expr)
		c.emit(OP_MAKE_FLYWEIGHT, 0, 0, 0)
		return nil

	case *parser.CatchExpr:
		specIdx := len(c.prog.Excepts)
		c.prog.Excepts = append(c.prog.Excepts, ExceptSpec{})
		c.emit(OP_CATCH, specIdx, 0, 0)
		c.handlers++
		if err := c.compileExpr(expr.Expr); err != nil {
			return err
		}
		c.handlers--
		endSite := c.emit(OP_END_EXCEPT, 0, 0, 0)
		target := c.here()
		if expr.Default != nil {
			c.emit(OP_POP, 0, 0, 0)
			if err := c.compileExpr(expr.Default); err != nil {
				return err
			}
		}
		c.patch(endSite, c.here())
		c.prog.Excepts[specIdx] = ExceptSpec{Clauses: []ExceptClauseSpec{{
			Codes: expr.Codes, IsAny: expr.IsAny, VarIdx: -1, Target: target,
		}}}
		return nil

	case *parser.AssignExpr:
		return c.compileAssign(expr.Target, expr.Value)

	case *parser.ScatterExpr:
		return c.compileScatter(expr)
	}
	return &CompileError{Pos: e.Position(), Msg: "unknown expression"}
}

// compileArgs builds a list from element expressions, honoring @
// splices. Without splices a single OP_MAKE_LIST suffices.
func (c *Compiler) compileArgs(elems []parser.Expr) error {
	hasSplice := false
	for _, el := range elems {
		if _, ok := el.(*parser.SpliceExpr); ok {
			hasSplice = true
			break
		}
	}
	if !hasSplice {
		for _, el := range elems {
			if err := c.compileExpr(el); err != nil {
				return err
			}
		}
		c.emit(OP_MAKE_LIST, len(elems), 0, 0)
		return nil
	}

	c.emit(OP_MAKE_EMPTY, 0, 0, 0)
	for _, el := range elems {
		if sp, ok := el.(*parser.SpliceExpr); ok {
			if err := c.compileExpr(sp.Expr); err != nil {
				return err
			}
			c.at(sp)
			c.emit(OP_LIST_EXTEND, 0, 0, 0)
			continue
		}
		if err := c.compileExpr(el); err != nil {
			return err
		}
		c.emit(OP_LIST_APPEND, 0, 0, 0)
	}
	return nil
}

// compileAssign compiles target = value, leaving the value on the
// stack as the expression result.
func (c *Compiler) compileAssign(target parser.Expr, value parser.Expr) error {
	switch t := target.(type) {
	case *parser.IdentifierExpr:
		idx, isConst := c.lookup(t.Name)
		if isConst {
			return &CompileError{Pos: t.Pos, Msg: fmt.Sprintf("cannot rebind const %s", t.Name)}
		}
		if err := c.compileExpr(value); err != nil {
			return err
		}
		c.at(target)
		c.emit(OP_SET_VAR, idx, 0, 0)
		return nil

	case *parser.PropertyExpr:
		if err := c.compileExpr(t.Expr); err != nil {
			return err
		}
		if t.Dynamic != nil {
			if err := c.compileExpr(t.Dynamic); err != nil {
				return err
			}
		} else {
			c.emitConstant(types.NewStr(t.Property))
		}
		if err := c.compileExpr(value); err != nil {
			return err
		}
		c.at(target)
		c.emit(OP_SET_PROP, 0, 0, 0)
		return nil

	case *parser.SysRefExpr:
		c.emitConstant(types.NewObj(0))
		c.emitConstant(types.NewStr(t.Name))
		if err := c.compileExpr(value); err != nil {
			return err
		}
		c.at(target)
		c.emit(OP_SET_PROP, 0, 0, 0)
		return nil

	case *parser.IndexExpr, *parser.RangeExpr:
		// Compute the value once into a temp, rebuild the container
		// functionally, store it back, and leave the value.
		tmpV := c.newTmp()
		if err := c.compileExpr(value); err != nil {
			return err
		}
		c.emit(OP_SET_VAR, tmpV, 0, 0)
		c.emit(OP_POP, 0, 0, 0)
		if err := c.compileContainerUpdate(target, tmpV); err != nil {
			return err
		}
		c.emit(OP_GET_VAR, tmpV, 0, 0)
		return nil
	}
	return &CompileError{Pos: target.Position(), Msg: "invalid assignment target"}
}

// compileContainerUpdate emits code that updates the container
// described by target with Locals[tmpV] and stores the rebuilt
// container back into its own target. Nothing is left on the stack.
func (c *Compiler) compileContainerUpdate(target parser.Expr, tmpV int) error {
	switch t := target.(type) {
	case *parser.IndexExpr:
		if err := c.compileExpr(t.Expr); err != nil {
			return err
		}
		tmp := c.newTmp()
		c.emit(OP_SET_VAR, tmp, 0, 0)
		c.indexTmps = append(c.indexTmps, tmp)
		err := c.compileExpr(t.Index)
		c.indexTmps = c.indexTmps[:len(c.indexTmps)-1]
		if err != nil {
			return err
		}
		c.emit(OP_GET_VAR, tmpV, 0, 0)
		c.at(target)
		c.emit(OP_INDEX_SET, 0, 0, 0)
		return c.compileStoreInto(t.Expr)

	case *parser.RangeExpr:
		if err := c.compileExpr(t.Expr); err != nil {
			return err
		}
		tmp := c.newTmp()
		c.emit(OP_SET_VAR, tmp, 0, 0)
		c.indexTmps = append(c.indexTmps, tmp)
		err := c.compileExpr(t.Start)
		if err == nil {
			err = c.compileExpr(t.End)
		}
		c.indexTmps = c.indexTmps[:len(c.indexTmps)-1]
		if err != nil {
			return err
		}
		c.emit(OP_GET_VAR, tmpV, 0, 0)
		c.at(target)
		c.emit(OP_SLICE_SET, 0, 0, 0)
		return c.compileStoreInto(t.Expr)
	}
	return &CompileError{Pos: target.Position(), Msg: "invalid indexed assignment target"}
}

// compileStoreInto consumes the container on top of the stack,
// storing it into the given lvalue.
func (c *Compiler) compileStoreInto(target parser.Expr) error {
	switch t := target.(type) {
	case *parser.IdentifierExpr:
		idx, isConst := c.lookup(t.Name)
		if isConst {
			return &CompileError{Pos: t.Pos, Msg: fmt.Sprintf("cannot rebind const %s", t.Name)}
		}
		c.emit(OP_SET_VAR, idx, 0, 0)
		c.emit(OP_POP, 0, 0, 0)
		return nil

	case *parser.ParenExpr:
		return c.compileStoreInto(t.Expr)

	case *parser.PropertyExpr:
		tmpC := c.newTmp()
		c.emit(OP_SET_VAR, tmpC, 0, 0)
		c.emit(OP_POP, 0, 0, 0)
		if err := c.compileExpr(t.Expr); err != nil {
			return err
		}
		if t.Dynamic != nil {
			if err := c.compileExpr(t.Dynamic); err != nil {
				return err
			}
		} else {
			c.emitConstant(types.NewStr(t.Property))
		}
		c.emit(OP_GET_VAR, tmpC, 0, 0)
		c.emit(OP_SET_PROP, 0, 0, 0)
		c.emit(OP_POP, 0, 0, 0)
		return nil

	case *parser.SysRefExpr:
		tmpC := c.newTmp()
		c.emit(OP_SET_VAR, tmpC, 0, 0)
		c.emit(OP_POP, 0, 0, 0)
		c.emitConstant(types.NewObj(0))
		c.emitConstant(types.NewStr(t.Name))
		c.emit(OP_GET_VAR, tmpC, 0, 0)
		c.emit(OP_SET_PROP, 0, 0, 0)
		c.emit(OP_POP, 0, 0, 0)
		return nil

	case *parser.IndexExpr, *parser.RangeExpr:
		// Nested update: the rebuilt inner container becomes the
		// value for the next level out.
		tmpInner := c.newTmp()
		c.emit(OP_SET_VAR, tmpInner, 0, 0)
		c.emit(OP_POP, 0, 0, 0)
		return c.compileContainerUpdate(target, tmpInner)
	}
	return &CompileError{Pos: target.Position(), Msg: "invalid assignment target"}
}

func (c *Compiler) compileScatter(expr *parser.ScatterExpr) error {
	if err := c.compileExpr(expr.Value); err != nil {
		return err
	}

	spec := ScatterSpec{}
	varIdxs := make([]int, len(expr.Targets))
	for i, t := range expr.Targets {
		idx, isConst := c.lookup(t.Name)
		if isConst {
			return &CompileError{Pos: t.Pos, Msg: fmt.Sprintf("cannot rebind const %s", t.Name)}
		}
		varIdxs[i] = idx
		spec.Targets = append(spec.Targets, ScatterSlot{
			VarIdx: idx, Optional: t.Optional, Rest: t.Rest,
		})
	}
	specIdx := len(c.prog.Scatters)
	c.prog.Scatters = append(c.prog.Scatters, spec)
	c.at(expr)
	c.emit(OP_SCATTER, specIdx, 0, 0)

	// Optional defaults fill any still-unbound targets.
	for i, t := range expr.Targets {
		if !t.Optional || t.Default == nil {
			continue
		}
		skip := c.emit(OP_JUMP_IF_BOUND, 0, varIdxs[i], 0)
		if err := c.compileExpr(t.Default); err != nil {
			return err
		}
		c.emit(OP_SET_VAR, varIdxs[i], 0, 0)
		c.emit(OP_POP, 0, 0, 0)
		c.patch(skip, c.here())
	}
	return nil
}

func typeConstantFor(name string) (types.TypeCode, bool) {
	tc, ok := typeConstants[name]
	if !ok {
		lower := make([]byte, len(name))
		for i := 0; i < len(name); i++ {
			ch := name[i]
			if ch >= 'A' && ch <= 'Z' {
				ch += 'a' - 'A'
			}
			lower[i] = ch
		}
		tc, ok = typeConstants[string(lower)]
	}
	return tc, ok
}
