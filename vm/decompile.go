package vm

import (
	"fmt"
	"strings"

	"github.com/Oliver2213/moor/builtins"
	"github.com/Oliver2213/moor/parser"
	"github.com/Oliver2213/moor/types"
)

// Decompile reconstructs an AST from bytecode. The compiler's output
// is canonical, so every construct decodes from a known instruction
// shape; Unparse of the result re-compiles to identical code.
func Decompile(prog *Program, registry *builtins.Registry) ([]parser.Stmt, error) {
	d := &decompiler{prog: prog, registry: registry, code: prog.Code}
	end := len(prog.Code)
	// Strip the implicit trailing return 0.
	if end > 0 && prog.Code[end-1].Op == OP_RETURN0 {
		end--
	}
	return d.stmts(0, end)
}

// UnparseProgram renders a program back to source lines.
func UnparseProgram(prog *Program, registry *builtins.Registry) ([]string, error) {
	stmts, err := Decompile(prog, registry)
	if err != nil {
		return nil, err
	}
	return parser.UnparseLines(stmts), nil
}

type decompiler struct {
	prog     *Program
	registry *builtins.Registry
	code     []Instr

	stack    []parser.Expr
	tmpValue map[int]parser.Expr // SET tmp; POP substitutions
	loops    []decLoop
}

type decLoop struct {
	condStart int // continue target
	end       int // break target
	label     string
	isFor     bool
}

// idxAssignExpr is an internal marker: a rebuilt container awaiting
// its store target.
type idxAssignExpr struct {
	parser.Expr
	container parser.Expr
	index     parser.Expr // nil for ranges
	lo, hi    parser.Expr
	value     parser.Expr
}

func (d *decompiler) push(e parser.Expr) { d.stack = append(d.stack, e) }

func (d *decompiler) pop() (parser.Expr, error) {
	if len(d.stack) == 0 {
		return nil, fmt.Errorf("decompile: expression stack underflow")
	}
	e := d.stack[len(d.stack)-1]
	d.stack = d.stack[:len(d.stack)-1]
	return e, nil
}

func (d *decompiler) varName(idx int) string {
	if idx >= 0 && idx < len(d.prog.VarNames) {
		return d.prog.VarNames[idx]
	}
	return fmt.Sprintf("var%d", idx)
}

func isTmpVar(name string) bool { return strings.HasPrefix(name, " t") }

// paren wraps compound operands so the rendered source re-parses to
// the same tree.
func paren(e parser.Expr) parser.Expr {
	switch e.(type) {
	case *parser.BinaryExpr, *parser.TernaryExpr, *parser.UnaryExpr,
		*parser.AssignExpr, *parser.ScatterExpr:
		return &parser.ParenExpr{Expr: e}
	}
	return e
}

var tokenForOp = map[OpCode]parser.TokenType{
	OP_ADD: parser.TOKEN_PLUS, OP_SUB: parser.TOKEN_MINUS,
	OP_MUL: parser.TOKEN_STAR, OP_DIV: parser.TOKEN_SLASH,
	OP_MOD: parser.TOKEN_PERCENT, OP_POW: parser.TOKEN_CARET,
	OP_EQ: parser.TOKEN_EQ, OP_NE: parser.TOKEN_NE,
	OP_LT: parser.TOKEN_LT, OP_GT: parser.TOKEN_GT,
	OP_LE: parser.TOKEN_LE, OP_GE: parser.TOKEN_GE,
	OP_IN: parser.TOKEN_IN,
	OP_BITAND: parser.TOKEN_BITAND, OP_BITOR: parser.TOKEN_BITOR,
	OP_BITXOR: parser.TOKEN_BITXOR,
	OP_SHL: parser.TOKEN_LSHIFT, OP_SHR: parser.TOKEN_RSHIFT,
}

// stmts decodes the instruction range [from, to) into statements.
func (d *decompiler) stmts(from, to int) ([]parser.Stmt, error) {
	if d.tmpValue == nil {
		d.tmpValue = make(map[int]parser.Expr)
	}
	var out []parser.Stmt
	ip := from
	for ip < to {
		next, stmt, err := d.decode(ip, to)
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			out = append(out, stmt)
		}
		ip = next
	}
	return out, nil
}

// exprRange decodes a range that must produce exactly one expression.
func (d *decompiler) exprRange(from, to int) (parser.Expr, error) {
	base := len(d.stack)
	ip := from
	for ip < to {
		next, stmt, err := d.decode(ip, to)
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			return nil, fmt.Errorf("decompile: statement inside expression at %d", ip)
		}
		ip = next
	}
	if len(d.stack) != base+1 {
		return nil, fmt.Errorf("decompile: expression range %d..%d yields %d values", from, to, len(d.stack)-base)
	}
	return d.pop()
}

// decode processes one construct starting at ip, returning the next
// ip and a completed statement when one ends here.
func (d *decompiler) decode(ip, limit int) (int, parser.Stmt, error) {
	ins := d.code[ip]
	switch ins.Op {
	case OP_PUSH:
		d.push(&parser.LiteralExpr{Value: d.prog.Constants[ins.A]})
		return ip + 1, nil, nil

	case OP_POP:
		e, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		if decl, ok := e.(*declExpr); ok {
			return ip + 1, decl.stmt, nil
		}
		return ip + 1, &parser.ExprStmt{Pos: pos(ins), Expr: e}, nil

	case OP_GET_VAR:
		name := d.varName(ins.A)
		if isTmpVar(name) {
			// $ marker (GET tmp; LENGTH) or a substituted value.
			if ip+1 < len(d.code) && d.code[ip+1].Op == OP_LENGTH {
				d.push(&parser.IndexMarkerExpr{Marker: parser.TOKEN_DOLLAR})
				return ip + 2, nil, nil
			}
			if v, ok := d.tmpValue[ins.A]; ok {
				d.push(v)
				return ip + 1, nil, nil
			}
			return 0, nil, fmt.Errorf("decompile: unresolved temp %q", name)
		}
		d.push(&parser.IdentifierExpr{Name: name})
		return ip + 1, nil, nil

	case OP_SET_VAR:
		name := d.varName(ins.A)
		if isTmpVar(name) {
			if ip+1 < len(d.code) && d.code[ip+1].Op == OP_POP {
				// value temp: remember and drop
				v, err := d.pop()
				if err != nil {
					return 0, nil, err
				}
				d.tmpValue[ins.A] = v
				return ip + 2, nil, nil
			}
			// container marker for ^/$: transparent
			return ip + 1, nil, nil
		}
		v, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		if ia, ok := v.(*idxAssignExpr); ok {
			// Store of a rebuilt container: target[i] = value. The
			// compiled store pairs SET_VAR with a POP; consume both.
			if err := d.finishIndexedAssign(ia, &parser.IdentifierExpr{Name: name}); err != nil {
				return 0, nil, err
			}
			return skipPop(d.code, ip+1), nil, nil
		}
		d.push(&parser.AssignExpr{Target: &parser.IdentifierExpr{Name: name}, Value: v})
		return ip + 1, nil, nil

	case OP_DECL:
		v, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		d.push(&declExpr{stmt: &parser.DeclStmt{
			Kind: parser.DeclKind(ins.B), Name: d.varName(ins.A), Value: v,
		}})
		return ip + 1, nil, nil

	case OP_MAKE_LIST:
		elems := make([]parser.Expr, ins.A)
		for i := ins.A - 1; i >= 0; i-- {
			e, err := d.pop()
			if err != nil {
				return 0, nil, err
			}
			elems[i] = e
		}
		d.push(&parser.ListExpr{Elements: elems})
		return ip + 1, nil, nil

	case OP_MAKE_EMPTY:
		d.push(&parser.ListExpr{})
		return ip + 1, nil, nil

	case OP_LIST_APPEND, OP_LIST_EXTEND:
		v, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		l, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		list, ok := l.(*parser.ListExpr)
		if !ok {
			return 0, nil, fmt.Errorf("decompile: list build on non-list")
		}
		if ins.Op == OP_LIST_EXTEND {
			v = &parser.SpliceExpr{Expr: v}
		}
		d.push(&parser.ListExpr{Elements: append(append([]parser.Expr(nil), list.Elements...), v)})
		return ip + 1, nil, nil

	case OP_MAKE_MAP:
		pairs := make([]parser.MapPair, ins.A)
		for i := ins.A - 1; i >= 0; i-- {
			v, err := d.pop()
			if err != nil {
				return 0, nil, err
			}
			k, err := d.pop()
			if err != nil {
				return 0, nil, err
			}
			pairs[i] = parser.MapPair{Key: k, Value: v}
		}
		d.push(&parser.MapExpr{Pairs: pairs})
		return ip + 1, nil, nil

	case OP_MAKE_FLYWEIGHT:
		contents, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		slots, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		delegate, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		fw := &parser.FlyweightExpr{Delegate: paren(delegate)}
		if m, ok := slots.(*parser.MapExpr); ok {
			fw.Slots = m.Pairs
		}
		if l, ok := contents.(*parser.ListExpr); ok {
			fw.Contents = l.Elements
		}
		d.push(fw)
		return ip + 1, nil, nil

	case OP_GET_PROP:
		name, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		obj, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		d.push(makePropExpr(obj, name))
		return ip + 1, nil, nil

	case OP_SET_PROP:
		v, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		name, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		obj, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		if ia, ok := v.(*idxAssignExpr); ok {
			if err := d.finishIndexedAssign(ia, makePropExpr(obj, name)); err != nil {
				return 0, nil, err
			}
			return skipPop(d.code, ip+1), nil, nil
		}
		d.push(&parser.AssignExpr{Target: makePropExpr(obj, name), Value: v})
		return ip + 1, nil, nil

	case OP_CALL_VERB:
		args, err := d.popArgs()
		if err != nil {
			return 0, nil, err
		}
		name, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		obj, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		call := &parser.VerbCallExpr{Expr: paren(obj), Args: args}
		if lit, ok := name.(*parser.LiteralExpr); ok {
			if s, ok := lit.Value.(types.StrValue); ok {
				call.Verb = s.Value()
				d.push(call)
				return ip + 1, nil, nil
			}
		}
		call.Dynamic = name
		d.push(call)
		return ip + 1, nil, nil

	case OP_PASS:
		args, err := d.popArgs()
		if err != nil {
			return 0, nil, err
		}
		d.push(&parser.BuiltinCallExpr{Name: "pass", Args: args})
		return ip + 1, nil, nil

	case OP_CALL_BUILTIN:
		args, err := d.popArgs()
		if err != nil {
			return 0, nil, err
		}
		d.push(&parser.BuiltinCallExpr{Name: d.registry.NameOf(ins.A), Args: args})
		return ip + 1, nil, nil

	case OP_RETURN:
		v, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		return ip + 1, &parser.ReturnStmt{Pos: pos(ins), Value: v}, nil

	case OP_RETURN0:
		return ip + 1, &parser.ReturnStmt{Pos: pos(ins)}, nil

	case OP_NEG, OP_NOT, OP_BITNOT:
		v, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		tok := parser.TOKEN_MINUS
		if ins.Op == OP_NOT {
			tok = parser.TOKEN_NOT
		} else if ins.Op == OP_BITNOT {
			tok = parser.TOKEN_BITNOT
		}
		d.push(&parser.UnaryExpr{Operator: tok, Operand: paren(v)})
		return ip + 1, nil, nil

	case OP_ADD, OP_SUB, OP_MUL, OP_DIV, OP_MOD, OP_POW,
		OP_EQ, OP_NE, OP_LT, OP_GT, OP_LE, OP_GE, OP_IN,
		OP_BITAND, OP_BITOR, OP_BITXOR, OP_SHL, OP_SHR:
		b, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		a, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		d.push(&parser.BinaryExpr{
			Left: paren(a), Operator: tokenForOp[ins.Op], Right: paren(b),
		})
		return ip + 1, nil, nil

	case OP_AND, OP_OR:
		left, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		right, err := d.exprRange(ip+1, ins.A)
		if err != nil {
			return 0, nil, err
		}
		tok := parser.TOKEN_AND
		if ins.Op == OP_OR {
			tok = parser.TOKEN_OR
		}
		d.push(&parser.BinaryExpr{Left: paren(left), Operator: tok, Right: paren(right)})
		return ins.A, nil, nil

	case OP_JUMP_NOT: // ternary
		cond, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		elseStart := ins.A
		if elseStart < 1 || d.code[elseStart-1].Op != OP_JUMP {
			return 0, nil, fmt.Errorf("decompile: malformed ternary at %d", ip)
		}
		end := d.code[elseStart-1].A
		thenE, err := d.exprRange(ip+1, elseStart-1)
		if err != nil {
			return 0, nil, err
		}
		elseE, err := d.exprRange(elseStart, end)
		if err != nil {
			return 0, nil, err
		}
		d.push(&parser.TernaryExpr{
			Condition: paren(cond), ThenExpr: paren(thenE), ElseExpr: paren(elseE),
		})
		return end, nil, nil

	case OP_INDEX:
		idx, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		c, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		d.push(&parser.IndexExpr{Expr: paren(c), Index: idx})
		return ip + 1, nil, nil

	case OP_SLICE:
		hi, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		lo, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		c, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		d.push(&parser.RangeExpr{Expr: paren(c), Start: lo, End: hi})
		return ip + 1, nil, nil

	case OP_INDEX_SET:
		v, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		idx, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		c, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		d.push(&idxAssignExpr{container: c, index: idx, value: v})
		return ip + 1, nil, nil

	case OP_SLICE_SET:
		v, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		hi, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		lo, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		c, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		d.push(&idxAssignExpr{container: c, lo: lo, hi: hi, value: v})
		return ip + 1, nil, nil

	case OP_IF:
		return d.decodeIf(ip, limit)

	case OP_WHILE:
		return d.decodeWhile(ip)

	case OP_FOR_LIST, OP_FOR_RANGE:
		return d.decodeFor(ip, ins)

	case OP_EXIT:
		return d.decodeExit(ip, ins)

	case OP_TRY_EXCEPT:
		return d.decodeTryExcept(ip, ins)

	case OP_CATCH:
		return d.decodeCatch(ip, ins)

	case OP_TRY_FINALLY:
		return d.decodeTryFinally(ip, ins)

	case OP_SCATTER:
		return d.decodeScatter(ip, ins)

	case OP_FORK:
		return d.decodeFork(ip, ins)
	}
	return 0, nil, fmt.Errorf("decompile: unexpected %s at %d", ins.Op, ip)
}

// declExpr is an internal marker wrapping a declaration statement
// until its trailing POP.
type declExpr struct {
	parser.Expr
	stmt *parser.DeclStmt
}

func pos(ins Instr) parser.Position {
	return parser.Position{Line: ins.Line}
}

func makePropExpr(obj, name parser.Expr) parser.Expr {
	if lit, ok := name.(*parser.LiteralExpr); ok {
		if s, ok := lit.Value.(types.StrValue); ok {
			if olit, ok := obj.(*parser.LiteralExpr); ok {
				if o, ok := olit.Value.(types.ObjValue); ok && o.Val == 0 {
					return &parser.SysRefExpr{Name: s.Value()}
				}
			}
			return &parser.PropertyExpr{Expr: paren(obj), Property: s.Value()}
		}
	}
	return &parser.PropertyExpr{Expr: paren(obj), Dynamic: name}
}

func (d *decompiler) popArgs() ([]parser.Expr, error) {
	a, err := d.pop()
	if err != nil {
		return nil, err
	}
	list, ok := a.(*parser.ListExpr)
	if !ok {
		return nil, fmt.Errorf("decompile: argument list is not a list build")
	}
	return list.Elements, nil
}

// finishIndexedAssign turns a chain of idxAssign markers plus the
// final store target back into the source-level assignment. The value
// temp is remapped to the assignment, so the trailing GET_VAR temp
// produces it as the expression result.
func (d *decompiler) finishIndexedAssign(ia *idxAssignExpr, base parser.Expr) error {
	target := paren(base)
	cur := ia
	for {
		if cur.index != nil {
			target = &parser.IndexExpr{Expr: target, Index: cur.index}
		} else {
			target = &parser.RangeExpr{Expr: target, Start: cur.lo, End: cur.hi}
		}
		inner, nested := cur.value.(*idxAssignExpr)
		if !nested {
			break
		}
		cur = inner
	}
	full := &parser.AssignExpr{Target: target, Value: cur.value}
	for tmp, v := range d.tmpValue {
		if v == cur.value {
			d.tmpValue[tmp] = full
			return nil
		}
	}
	return fmt.Errorf("decompile: indexed assignment with no value temp")
}

// skipPop advances past the POP that pairs with a consumed store.
func skipPop(code []Instr, ip int) int {
	if ip < len(code) && code[ip].Op == OP_POP {
		return ip + 1
	}
	return ip
}

func (d *decompiler) decodeIf(ip, limit int) (int, parser.Stmt, error) {
	cond, err := d.pop()
	if err != nil {
		return 0, nil, err
	}
	skipTo := d.code[ip].A
	bodyEnd := skipTo
	end := skipTo
	hasElse := false
	if skipTo >= 1 && d.code[skipTo-1].Op == OP_JUMP && d.code[skipTo-1].A >= skipTo {
		bodyEnd = skipTo - 1
		end = d.code[skipTo-1].A
		hasElse = true
	}
	body, err := d.stmts(ip+1, bodyEnd)
	if err != nil {
		return 0, nil, err
	}
	stmt := &parser.IfStmt{Pos: pos(d.code[ip]), Condition: cond, Body: body}
	if hasElse {
		elseStmts, err := d.stmts(skipTo, end)
		if err != nil {
			return 0, nil, err
		}
		// Fold an else consisting of a single if into an elseif chain.
		if len(elseStmts) == 1 {
			if inner, ok := elseStmts[0].(*parser.IfStmt); ok {
				stmt.ElseIfs = append([]*parser.ElseIfClause{{
					Condition: inner.Condition, Body: inner.Body,
				}}, inner.ElseIfs...)
				stmt.Else = inner.Else
				return end, stmt, nil
			}
		}
		stmt.Else = elseStmts
	}
	return end, stmt, nil
}

func (d *decompiler) decodeWhile(ip int) (int, parser.Stmt, error) {
	cond, err := d.pop()
	if err != nil {
		return 0, nil, err
	}
	ins := d.code[ip]
	end := ins.A
	label := ""
	if ins.B >= 0 {
		label = d.varName(ins.B)
	}
	if end < 1 || d.code[end-1].Op != OP_JUMP {
		return 0, nil, fmt.Errorf("decompile: malformed while at %d", ip)
	}
	condStart := d.code[end-1].A
	d.loops = append(d.loops, decLoop{condStart: condStart, end: end, label: label})
	body, err := d.stmts(ip+1, end-1)
	d.loops = d.loops[:len(d.loops)-1]
	if err != nil {
		return 0, nil, err
	}
	return end, &parser.WhileStmt{Pos: pos(ins), Label: label, Condition: cond, Body: body}, nil
}

func (d *decompiler) decodeFor(ip int, ins Instr) (int, parser.Stmt, error) {
	end := ins.B
	if end < 1 || d.code[end-1].Op != OP_JUMP {
		return 0, nil, fmt.Errorf("decompile: malformed for at %d", ip)
	}
	stmt := &parser.ForStmt{Pos: pos(ins), Value: d.varName(ins.A)}
	if ins.Op == OP_FOR_LIST {
		if ins.C >= 0 {
			stmt.Index = d.varName(ins.C)
		}
		// stack: container, then the constant 1 iteration seed
		if _, err := d.pop(); err != nil {
			return 0, nil, err
		}
		container, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		stmt.Container = container
	} else {
		endE, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		startE, err := d.pop()
		if err != nil {
			return 0, nil, err
		}
		stmt.RangeStart = startE
		stmt.RangeEnd = endE
	}

	d.loops = append(d.loops, decLoop{condStart: ip, end: end, label: stmt.Value, isFor: true})
	body, err := d.stmts(ip+1, end-1)
	d.loops = d.loops[:len(d.loops)-1]
	if err != nil {
		return 0, nil, err
	}
	stmt.Body = body
	return end, stmt, nil
}

func (d *decompiler) decodeExit(ip int, ins Instr) (int, parser.Stmt, error) {
	for i := len(d.loops) - 1; i >= 0; i-- {
		loop := d.loops[i]
		label := ""
		if i != len(d.loops)-1 {
			label = loop.label
		}
		if ins.A == loop.end {
			return ip + 1, &parser.BreakStmt{Pos: pos(ins), Label: label}, nil
		}
		if ins.A == loop.condStart {
			return ip + 1, &parser.ContinueStmt{Pos: pos(ins), Label: label}, nil
		}
	}
	return 0, nil, fmt.Errorf("decompile: EXIT at %d matches no loop", ip)
}

func (d *decompiler) decodeTryExcept(ip int, ins Instr) (int, parser.Stmt, error) {
	spec := d.prog.Excepts[ins.A]
	if len(spec.Clauses) == 0 {
		return 0, nil, fmt.Errorf("decompile: empty except spec at %d", ip)
	}
	firstTarget := spec.Clauses[0].Target
	if firstTarget < 1 || d.code[firstTarget-1].Op != OP_END_EXCEPT {
		return 0, nil, fmt.Errorf("decompile: malformed try at %d", ip)
	}
	end := d.code[firstTarget-1].A

	body, err := d.stmts(ip+1, firstTarget-1)
	if err != nil {
		return 0, nil, err
	}
	stmt := &parser.TryStmt{Pos: pos(ins), Body: body}

	for i, clause := range spec.Clauses {
		start := clause.Target
		stop := end
		if i+1 < len(spec.Clauses) {
			stop = spec.Clauses[i+1].Target
		}
		// Skip the error binding prologue: [SET_VAR var] POP
		ec := &parser.ExceptClause{Codes: clause.Codes, IsAny: clause.IsAny}
		if clause.VarIdx >= 0 {
			ec.Variable = d.varName(clause.VarIdx)
			start++ // SET_VAR
		}
		if start >= stop || d.code[start].Op != OP_POP {
			return 0, nil, fmt.Errorf("decompile: malformed except clause at %d", start)
		}
		start++
		bodyStop := stop
		if i+1 < len(spec.Clauses) && bodyStop >= 1 && d.code[bodyStop-1].Op == OP_JUMP {
			bodyStop--
		}
		cb, err := d.stmts(start, bodyStop)
		if err != nil {
			return 0, nil, err
		}
		ec.Body = cb
		stmt.Excepts = append(stmt.Excepts, ec)
	}
	return end, stmt, nil
}

func (d *decompiler) decodeCatch(ip int, ins Instr) (int, parser.Stmt, error) {
	spec := d.prog.Excepts[ins.A]
	clause := spec.Clauses[0]
	target := clause.Target
	if target < 1 || d.code[target-1].Op != OP_END_EXCEPT {
		return 0, nil, fmt.Errorf("decompile: malformed catch at %d", ip)
	}
	end := d.code[target-1].A
	inner, err := d.exprRange(ip+1, target-1)
	if err != nil {
		return 0, nil, err
	}
	catch := &parser.CatchExpr{Expr: paren(inner), Codes: clause.Codes, IsAny: clause.IsAny}
	if target < end {
		if d.code[target].Op != OP_POP {
			return 0, nil, fmt.Errorf("decompile: malformed catch default at %d", target)
		}
		def, err := d.exprRange(target+1, end)
		if err != nil {
			return 0, nil, err
		}
		catch.Default = def
	}
	d.push(catch)
	return end, nil, nil
}

func (d *decompiler) decodeTryFinally(ip int, ins Instr) (int, parser.Stmt, error) {
	finallyStart := d.code[ip].A
	if finallyStart < 1 || d.code[finallyStart-1].Op != OP_END_FINALLY {
		return 0, nil, fmt.Errorf("decompile: malformed try/finally at %d", ip)
	}
	body, err := d.stmts(ip+1, finallyStart-1)
	if err != nil {
		return 0, nil, err
	}
	// The finally body runs to its FINALLY_DONE; bodies are balanced,
	// so count nested TRY_FINALLYs.
	depth := 0
	end := -1
	for i := finallyStart; i < len(d.code); i++ {
		switch d.code[i].Op {
		case OP_TRY_FINALLY:
			depth++
		case OP_FINALLY_DONE:
			if depth == 0 {
				end = i
			} else {
				depth--
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return 0, nil, fmt.Errorf("decompile: unterminated finally at %d", ip)
	}
	fin, err := d.stmts(finallyStart, end)
	if err != nil {
		return 0, nil, err
	}

	stmt := &parser.TryStmt{Pos: pos(ins), Finally: fin}
	// A protected region that is exactly one try/except merges back
	// into the combined try/except/finally form.
	if len(body) == 1 {
		if inner, ok := body[0].(*parser.TryStmt); ok && inner.Finally == nil {
			stmt.Body = inner.Body
			stmt.Excepts = inner.Excepts
			return end + 1, stmt, nil
		}
	}
	stmt.Body = body
	return end + 1, stmt, nil
}

func (d *decompiler) decodeScatter(ip int, ins Instr) (int, parser.Stmt, error) {
	value, err := d.pop()
	if err != nil {
		return 0, nil, err
	}
	spec := d.prog.Scatters[ins.A]
	sc := &parser.ScatterExpr{Value: paren(value)}
	for _, t := range spec.Targets {
		sc.Targets = append(sc.Targets, parser.ScatterTarget{
			Name: d.varName(t.VarIdx), Optional: t.Optional, Rest: t.Rest,
		})
	}

	// Default-fill sequences: JUMP_IF_BOUND skip,var; expr; SET_VAR; POP
	next := ip + 1
	for next < len(d.code) && d.code[next].Op == OP_JUMP_IF_BOUND {
		varIdx := d.code[next].B
		skip := d.code[next].A
		if skip < 2 || d.code[skip-1].Op != OP_POP || d.code[skip-2].Op != OP_SET_VAR {
			break
		}
		def, err := d.exprRange(next+1, skip-2)
		if err != nil {
			return 0, nil, err
		}
		for i := range sc.Targets {
			if sc.Targets[i].Name == d.varName(varIdx) {
				sc.Targets[i].Default = def
			}
		}
		next = skip
	}
	d.push(sc)
	return next, nil, nil
}

func (d *decompiler) decodeFork(ip int, ins Instr) (int, parser.Stmt, error) {
	delay, err := d.pop()
	if err != nil {
		return 0, nil, err
	}
	spec := d.prog.Forks[ins.A]
	label := ""
	if spec.TidVar >= 0 {
		label = d.varName(spec.TidVar)
	}
	sub := &decompiler{prog: d.prog, registry: d.registry, code: spec.Body.Code}
	bodyEnd := len(spec.Body.Code)
	if bodyEnd > 0 && spec.Body.Code[bodyEnd-1].Op == OP_RETURN0 {
		bodyEnd--
	}
	body, err := sub.stmts(0, bodyEnd)
	if err != nil {
		return 0, nil, err
	}
	return ip + 1, &parser.ForkStmt{
		Pos: pos(ins), Label: label, Delay: delay, Body: body,
	}, nil
}
