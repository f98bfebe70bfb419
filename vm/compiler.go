package vm

import (
	"fmt"
	"strings"

	"github.com/Oliver2213/moor/builtins"
	"github.com/Oliver2213/moor/parser"
	"github.com/Oliver2213/moor/types"
)

// Standard environment variables, pre-declared in every program in
// this order so frames can bind them by index.
var EnvVars = []string{
	"this", "player", "caller", "verb", "args",
	"argstr", "dobj", "dobjstr", "prepstr", "iobj", "iobjstr",
}

const (
	EnvThis = iota
	EnvPlayer
	EnvCaller
	EnvVerb
	EnvArgs
	EnvArgstr
	EnvDobj
	EnvDobjstr
	EnvPrepstr
	EnvIobj
	EnvIobjstr
)

// typeConstants are the built-in variables naming type codes.
var typeConstants = map[string]types.TypeCode{
	"int": types.TYPE_INT, "num": types.TYPE_INT, "obj": types.TYPE_OBJ,
	"str": types.TYPE_STR, "err": types.TYPE_ERR, "list": types.TYPE_LIST,
	"float": types.TYPE_FLOAT, "map": types.TYPE_MAP, "bool": types.TYPE_BOOL,
	"sym": types.TYPE_SYM, "flyweight": types.TYPE_FLYWEIGHT,
}

// CompileError is a compile-time failure with position information.
type CompileError struct {
	Pos parser.Position
	Msg string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Pos.Line, e.Msg)
}

// Compiler lowers an AST to a Program.
type Compiler struct {
	prog     *Program
	code     []Instr // current code buffer (swapped for fork bodies)
	registry *builtins.Registry

	constants map[string]int // constant dedup: literal form -> index
	globals   map[string]int // verb-scoped variables, folded case
	scopes    []scope        // let/const block scopes
	loops     []loopCtx
	forDepth  int   // operand slots held by enclosing for-loop states
	indexTmps []int // container temps for ^/$ resolution
	handlers  int   // open handler regions, for break/continue floors
	tmpCount  int
	line      int
}

type scope struct {
	names  map[string]int
	consts map[string]bool
}

type loopCtx struct {
	label        string
	top          int   // continue target
	breaks       []int // patch sites for break
	entryDepth   int   // operand depth at loop entry
	stateSize    int   // loop state slots (2 for for-loops, 0 for while)
	handlerFloor int   // open handlers at loop entry
}

// NewCompiler creates a compiler against a builtin registry.
func NewCompiler(registry *builtins.Registry) *Compiler {
	c := &Compiler{
		prog:      &Program{},
		registry:  registry,
		constants: make(map[string]int),
		globals:   make(map[string]int),
	}
	for _, name := range EnvVars {
		c.declareGlobal(name)
	}
	return c
}

// Compile lowers a statement list to a Program. An implicit return 0
// is appended; verbs without an explicit return yield 0.
func Compile(stmts []parser.Stmt, registry *builtins.Registry) (*Program, error) {
	c := NewCompiler(registry)
	if err := c.compileBlock(stmts); err != nil {
		return nil, err
	}
	c.emit(OP_RETURN0, 0, 0, 0)
	c.prog.Code = c.code
	// Fork bodies share the parent's tables; bind the final slices.
	for i := range c.prog.Forks {
		c.prog.Forks[i].Body.Constants = c.prog.Constants
		c.prog.Forks[i].Body.VarNames = c.prog.VarNames
		c.prog.Forks[i].Body.Excepts = c.prog.Excepts
		c.prog.Forks[i].Body.Scatters = c.prog.Scatters
		c.prog.Forks[i].Body.Forks = c.prog.Forks
	}
	return c.prog, nil
}

// CompileSource parses and compiles a source string.
func CompileSource(src string, registry *builtins.Registry) (*Program, error) {
	stmts, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	prog, err := Compile(stmts, registry)
	if err != nil {
		return nil, err
	}
	prog.Source = src
	return prog, nil
}

// --- emit helpers --------------------------------------------------------

func (c *Compiler) emit(op OpCode, a, b, cc int) int {
	pos := len(c.code)
	c.code = append(c.code, Instr{Op: op, A: a, B: b, C: cc, Line: c.line})
	return pos
}

func (c *Compiler) patch(site int, target int) {
	c.code[site].A = target
}

func (c *Compiler) here() int { return len(c.code) }

func (c *Compiler) addConstant(v types.Value) int {
	key := fmt.Sprintf("%d:%s", v.Type(), v.String())
	if idx, ok := c.constants[key]; ok {
		return idx
	}
	idx := len(c.prog.Constants)
	c.prog.Constants = append(c.prog.Constants, v)
	c.constants[key] = idx
	return idx
}

func (c *Compiler) emitConstant(v types.Value) {
	c.emit(OP_PUSH, c.addConstant(v), 0, 0)
}

func (c *Compiler) at(n parser.Node) {
	if n != nil {
		c.line = n.Position().Line
	}
}

// --- variables -----------------------------------------------------------

func (c *Compiler) declareGlobal(name string) int {
	key := strings.ToLower(name)
	if idx, ok := c.globals[key]; ok {
		return idx
	}
	idx := len(c.prog.VarNames)
	c.prog.VarNames = append(c.prog.VarNames, name)
	c.globals[key] = idx
	return idx
}

// declareScoped allocates a fresh slot visible in the current scope.
func (c *Compiler) declareScoped(name string, isConst bool) int {
	idx := len(c.prog.VarNames)
	c.prog.VarNames = append(c.prog.VarNames, name)
	s := &c.scopes[len(c.scopes)-1]
	key := strings.ToLower(name)
	s.names[key] = idx
	s.consts[key] = isConst
	return idx
}

// lookup resolves a name: scoped declarations shadow verb-scoped
// variables; unknown names become verb-scoped variables.
func (c *Compiler) lookup(name string) (idx int, isConst bool) {
	key := strings.ToLower(name)
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if idx, ok := c.scopes[i].names[key]; ok {
			return idx, c.scopes[i].consts[key]
		}
	}
	return c.declareGlobal(name), false
}

// lookupExisting resolves a name only if it is already declared.
func (c *Compiler) lookupExisting(name string) (int, bool) {
	key := strings.ToLower(name)
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if idx, ok := c.scopes[i].names[key]; ok {
			return idx, true
		}
	}
	idx, ok := c.globals[key]
	return idx, ok
}

func (c *Compiler) newTmp() int {
	c.tmpCount++
	return c.declareGlobal(fmt.Sprintf(" t%d", c.tmpCount))
}

func (c *Compiler) beginScope() {
	c.scopes = append(c.scopes, scope{
		names:  make(map[string]int),
		consts: make(map[string]bool),
	})
}

func (c *Compiler) endScope() {
	c.scopes = c.scopes[:len(c.scopes)-1]
}

// --- statements ----------------------------------------------------------

func (c *Compiler) compileBlock(stmts []parser.Stmt) error {
	c.beginScope()
	defer c.endScope()
	for _, s := range stmts {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileStmt(s parser.Stmt) error {
	c.at(s)
	switch stmt := s.(type) {
	case *parser.ExprStmt:
		if err := c.compileExpr(stmt.Expr); err != nil {
			return err
		}
		c.emit(OP_POP, 0, 0, 0)
		return nil

	case *parser.IfStmt:
		return c.compileIf(stmt)

	case *parser.WhileStmt:
		return c.compileWhile(stmt)

	case *parser.ForStmt:
		return c.compileFor(stmt)

	case *parser.ForkStmt:
		return c.compileFork(stmt)

	case *parser.TryStmt:
		return c.compileTry(stmt)

	case *parser.ReturnStmt:
		if stmt.Value == nil {
			c.emit(OP_RETURN0, 0, 0, 0)
			return nil
		}
		if err := c.compileExpr(stmt.Value); err != nil {
			return err
		}
		c.emit(OP_RETURN, 0, 0, 0)
		return nil

	case *parser.BreakStmt:
		loop, err := c.findLoop(stmt.Label, stmt.Pos)
		if err != nil {
			return err
		}
		site := c.emit(OP_EXIT, 0, loop.entryDepth, loop.handlerFloor)
		loop.breaks = append(loop.breaks, site)
		return nil

	case *parser.ContinueStmt:
		loop, err := c.findLoop(stmt.Label, stmt.Pos)
		if err != nil {
			return err
		}
		c.emit(OP_EXIT, loop.top, loop.entryDepth+loop.stateSize, loop.handlerFloor)
		return nil

	case *parser.DeclStmt:
		return c.compileDecl(stmt)
	}
	return &CompileError{Pos: s.Position(), Msg: "unknown statement"}
}

func (c *Compiler) findLoop(label string, pos parser.Position) (*loopCtx, error) {
	if len(c.loops) == 0 {
		return nil, &CompileError{Pos: pos, Msg: "break/continue outside loop"}
	}
	if label == "" {
		return &c.loops[len(c.loops)-1], nil
	}
	for i := len(c.loops) - 1; i >= 0; i-- {
		if strings.EqualFold(c.loops[i].label, label) {
			return &c.loops[i], nil
		}
	}
	return nil, &CompileError{Pos: pos, Msg: fmt.Sprintf("no enclosing loop labeled %q", label)}
}

func (c *Compiler) compileIf(stmt *parser.IfStmt) error {
	var endSites []int
	cond := stmt.Condition
	body := stmt.Body
	clauses := append([]*parser.ElseIfClause{{Condition: cond, Body: body, Pos: stmt.Pos}}, stmt.ElseIfs...)

	for i, clause := range clauses {
		c.at(clause.Condition)
		if err := c.compileExpr(clause.Condition); err != nil {
			return err
		}
		skip := c.emit(OP_IF, 0, 0, 0)
		if err := c.compileBlock(clause.Body); err != nil {
			return err
		}
		last := i == len(clauses)-1 && stmt.Else == nil
		if !last {
			endSites = append(endSites, c.emit(OP_JUMP, 0, 0, 0))
		}
		c.patch(skip, c.here())
	}
	if stmt.Else != nil {
		if err := c.compileBlock(stmt.Else); err != nil {
			return err
		}
	}
	for _, site := range endSites {
		c.patch(site, c.here())
	}
	return nil
}

func (c *Compiler) compileWhile(stmt *parser.WhileStmt) error {
	top := c.here()
	if err := c.compileExpr(stmt.Condition); err != nil {
		return err
	}
	labelVar := -1
	if stmt.Label != "" {
		labelVar, _ = c.lookup(stmt.Label)
	}
	exit := c.emit(OP_WHILE, 0, labelVar, 0)

	c.loops = append(c.loops, loopCtx{
		label: stmt.Label, top: top, entryDepth: c.forDepth, stateSize: 0,
		handlerFloor: c.handlers,
	})
	if err := c.compileBlock(stmt.Body); err != nil {
		return err
	}
	loop := c.loops[len(c.loops)-1]
	c.loops = c.loops[:len(c.loops)-1]

	c.emit(OP_JUMP, top, 0, 0)
	end := c.here()
	c.patch(exit, end)
	for _, site := range loop.breaks {
		c.patch(site, end)
	}
	return nil
}

// compileFor lowers both loop forms. The loop label is the value
// variable, so "break x;" exits "for x in (...)".
func (c *Compiler) compileFor(stmt *parser.ForStmt) error {
	valueIdx, isConst := c.lookup(stmt.Value)
	if isConst {
		return &CompileError{Pos: stmt.Pos, Msg: fmt.Sprintf("cannot rebind const %s", stmt.Value)}
	}
	keyIdx := -1
	if stmt.Index != "" {
		keyIdx, isConst = c.lookup(stmt.Index)
		if isConst {
			return &CompileError{Pos: stmt.Pos, Msg: fmt.Sprintf("cannot rebind const %s", stmt.Index)}
		}
	}

	var loopOp OpCode
	if stmt.Container != nil {
		if err := c.compileExpr(stmt.Container); err != nil {
			return err
		}
		c.emitConstant(types.NewInt(1)) // iteration position
		loopOp = OP_FOR_LIST
	} else {
		if err := c.compileExpr(stmt.RangeStart); err != nil {
			return err
		}
		if err := c.compileExpr(stmt.RangeEnd); err != nil {
			return err
		}
		loopOp = OP_FOR_RANGE
	}

	top := c.emit(loopOp, valueIdx, 0, keyIdx)
	c.loops = append(c.loops, loopCtx{
		label: stmt.Value, top: top, entryDepth: c.forDepth, stateSize: 2,
		handlerFloor: c.handlers,
	})
	c.forDepth += 2
	if err := c.compileBlock(stmt.Body); err != nil {
		return err
	}
	c.forDepth -= 2
	loop := c.loops[len(c.loops)-1]
	c.loops = c.loops[:len(c.loops)-1]

	c.emit(OP_JUMP, top, 0, 0)
	end := c.here()
	c.code[top].B = end
	for _, site := range loop.breaks {
		c.patch(site, end)
	}
	return nil
}

func (c *Compiler) compileFork(stmt *parser.ForkStmt) error {
	if err := c.compileExpr(stmt.Delay); err != nil {
		return err
	}
	tidVar := -1
	if stmt.Label != "" {
		idx, isConst := c.lookup(stmt.Label)
		if isConst {
			return &CompileError{Pos: stmt.Pos, Msg: fmt.Sprintf("cannot rebind const %s", stmt.Label)}
		}
		tidVar = idx
	}

	// Fork bodies compile into their own code buffer against the
	// shared tables; loop state does not cross the fork boundary.
	savedCode := c.code
	savedLoops := c.loops
	savedDepth := c.forDepth
	c.code = nil
	c.loops = nil
	c.forDepth = 0
	err := c.compileBlock(stmt.Body)
	forkCode := c.code
	c.code = savedCode
	c.loops = savedLoops
	c.forDepth = savedDepth
	if err != nil {
		return err
	}
	forkCode = append(forkCode, Instr{Op: OP_RETURN0, Line: c.line})

	idx := len(c.prog.Forks)
	c.prog.Forks = append(c.prog.Forks, ForkSpec{
		Body: &Program{Code: forkCode}, TidVar: tidVar, Line: stmt.Pos.Line,
	})
	c.emit(OP_FORK, idx, tidVar, 0)
	return nil
}

func (c *Compiler) compileTry(stmt *parser.TryStmt) error {
	if stmt.Finally != nil {
		site := c.emit(OP_TRY_FINALLY, 0, 0, 0)
		c.handlers++
		if err := c.compileTryExcepts(stmt); err != nil {
			return err
		}
		c.handlers--
		c.emit(OP_END_FINALLY, 0, 0, 0)
		c.patch(site, c.here())
		if err := c.compileBlock(stmt.Finally); err != nil {
			return err
		}
		c.emit(OP_FINALLY_DONE, 0, 0, 0)
		return nil
	}
	return c.compileTryExcepts(stmt)
}

// compileTryExcepts compiles the body plus except clauses (the
// finally wrapper, if any, is already open).
func (c *Compiler) compileTryExcepts(stmt *parser.TryStmt) error {
	if len(stmt.Excepts) == 0 {
		return c.compileBlock(stmt.Body)
	}

	specIdx := len(c.prog.Excepts)
	c.prog.Excepts = append(c.prog.Excepts, ExceptSpec{})
	c.emit(OP_TRY_EXCEPT, specIdx, 0, 0)
	c.handlers++
	if err := c.compileBlock(stmt.Body); err != nil {
		return err
	}
	c.handlers--
	endSite := c.emit(OP_END_EXCEPT, 0, 0, 0)

	var endJumps []int
	spec := ExceptSpec{}
	for i, clause := range stmt.Excepts {
		target := c.here()
		varIdx := -1
		if clause.Variable != "" {
			idx, isConst := c.lookup(clause.Variable)
			if isConst {
				return &CompileError{Pos: clause.Pos, Msg: fmt.Sprintf("cannot rebind const %s", clause.Variable)}
			}
			varIdx = idx
			c.emit(OP_SET_VAR, varIdx, 0, 0)
		}
		c.emit(OP_POP, 0, 0, 0) // drop the error value
		if err := c.compileBlock(clause.Body); err != nil {
			return err
		}
		if i < len(stmt.Excepts)-1 {
			endJumps = append(endJumps, c.emit(OP_JUMP, 0, 0, 0))
		}
		spec.Clauses = append(spec.Clauses, ExceptClauseSpec{
			Codes: clause.Codes, IsAny: clause.IsAny, VarIdx: varIdx, Target: target,
		})
	}
	end := c.here()
	c.patch(endSite, end)
	for _, site := range endJumps {
		c.patch(site, end)
	}
	c.prog.Excepts[specIdx] = spec
	return nil
}

func (c *Compiler) compileDecl(stmt *parser.DeclStmt) error {
	switch stmt.Kind {
	case parser.DeclGlobal:
		idx := c.declareGlobal(stmt.Name)
		if stmt.Value == nil {
			c.emitConstant(types.NewInt(0))
		} else if err := c.compileExpr(stmt.Value); err != nil {
			return err
		}
		c.emit(OP_DECL, idx, int(stmt.Kind), 0)
		c.emit(OP_POP, 0, 0, 0)
		return nil
	case parser.DeclConst, parser.DeclLet:
		idx := c.declareScoped(stmt.Name, stmt.Kind == parser.DeclConst)
		if stmt.Value != nil {
			if err := c.compileExpr(stmt.Value); err != nil {
				return err
			}
		} else {
			c.emitConstant(types.NewInt(0))
		}
		c.emit(OP_DECL, idx, int(stmt.Kind), 0)
		c.emit(OP_POP, 0, 0, 0)
		return nil
	}
	return &CompileError{Pos: stmt.Pos, Msg: "unknown declaration"}
}
