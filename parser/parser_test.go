package parser

import (
	"testing"

	"github.com/Oliver2213/moor/types"
)

func parseOne(t *testing.T, src string) Stmt {
	t.Helper()
	stmts, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	if len(stmts) != 1 {
		t.Fatalf("Parse(%q): expected 1 statement, got %d", src, len(stmts))
	}
	return stmts[0]
}

func parseExprStmt(t *testing.T, src string) Expr {
	t.Helper()
	stmt := parseOne(t, src)
	es, ok := stmt.(*ExprStmt)
	if !ok {
		t.Fatalf("Parse(%q): expected ExprStmt, got %T", src, stmt)
	}
	return es.Expr
}

func TestParseArithmeticPrecedence(t *testing.T) {
	expr := parseExprStmt(t, "1 + 2 * 3;")
	bin, ok := expr.(*BinaryExpr)
	if !ok || bin.Operator != TOKEN_PLUS {
		t.Fatalf("expected + at top, got %T", expr)
	}
	right, ok := bin.Right.(*BinaryExpr)
	if !ok || right.Operator != TOKEN_STAR {
		t.Fatalf("expected * on the right, got %T", bin.Right)
	}
}

func TestParsePowerRightAssociative(t *testing.T) {
	expr := parseExprStmt(t, "2 ^ 3 ^ 4;")
	bin := expr.(*BinaryExpr)
	if bin.Operator != TOKEN_CARET {
		t.Fatalf("expected ^, got %s", bin.Operator)
	}
	if _, ok := bin.Right.(*BinaryExpr); !ok {
		t.Error("^ should associate to the right")
	}
}

func TestParseTernary(t *testing.T) {
	expr := parseExprStmt(t, `x > 0 ? "pos" | "neg";`)
	tern, ok := expr.(*TernaryExpr)
	if !ok {
		t.Fatalf("expected ternary, got %T", expr)
	}
	if _, ok := tern.Condition.(*BinaryExpr); !ok {
		t.Error("condition should be a comparison")
	}
}

func TestParsePostfixChain(t *testing.T) {
	expr := parseExprStmt(t, "this.parts[2]:describe(1, @rest);")
	call, ok := expr.(*VerbCallExpr)
	if !ok {
		t.Fatalf("expected verb call, got %T", expr)
	}
	if call.Verb != "describe" || len(call.Args) != 2 {
		t.Fatalf("call = %s/%d args", call.Verb, len(call.Args))
	}
	if _, ok := call.Args[1].(*SpliceExpr); !ok {
		t.Error("second argument should be a splice")
	}
	idx, ok := call.Expr.(*IndexExpr)
	if !ok {
		t.Fatalf("receiver should be index, got %T", call.Expr)
	}
	prop, ok := idx.Expr.(*PropertyExpr)
	if !ok || prop.Property != "parts" {
		t.Fatalf("receiver base should be this.parts, got %T", idx.Expr)
	}
}

func TestParseDynamicForms(t *testing.T) {
	expr := parseExprStmt(t, "obj.(propname);")
	prop := expr.(*PropertyExpr)
	if prop.Dynamic == nil {
		t.Error("expected dynamic property form")
	}

	expr = parseExprStmt(t, "obj:(verbname)(1);")
	call := expr.(*VerbCallExpr)
	if call.Dynamic == nil || len(call.Args) != 1 {
		t.Error("expected dynamic verb form")
	}
}

func TestParseSysRef(t *testing.T) {
	expr := parseExprStmt(t, "$room;")
	if sr, ok := expr.(*SysRefExpr); !ok || sr.Name != "room" {
		t.Fatalf("expected $room, got %T", expr)
	}

	expr = parseExprStmt(t, "$do_command(1);")
	call, ok := expr.(*VerbCallExpr)
	if !ok || call.Verb != "do_command" {
		t.Fatalf("$verb() should parse as #0 verb call, got %T", expr)
	}
	lit := call.Expr.(*LiteralExpr)
	if !lit.Value.Equal(types.NewObj(0)) {
		t.Error("sysref verb call receiver should be #0")
	}
}

func TestParseIndexMarkers(t *testing.T) {
	expr := parseExprStmt(t, "x[$];")
	idx := expr.(*IndexExpr)
	if m, ok := idx.Index.(*IndexMarkerExpr); !ok || m.Marker != TOKEN_DOLLAR {
		t.Fatalf("expected $ marker, got %T", idx.Index)
	}

	expr = parseExprStmt(t, "x[^..$ - 1];")
	rng := expr.(*RangeExpr)
	if _, ok := rng.Start.(*IndexMarkerExpr); !ok {
		t.Error("range start should be ^ marker")
	}
	if bin, ok := rng.End.(*BinaryExpr); !ok || bin.Operator != TOKEN_MINUS {
		t.Error("range end should be $ - 1")
	}
}

func TestParseMapAndListLiterals(t *testing.T) {
	expr := parseExprStmt(t, `["a" -> 1, 2 -> {3, @x}];`)
	m := expr.(*MapExpr)
	if len(m.Pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(m.Pairs))
	}
	inner := m.Pairs[1].Value.(*ListExpr)
	if len(inner.Elements) != 2 {
		t.Error("inner list should have 2 elements")
	}
}

func TestParseFlyweight(t *testing.T) {
	expr := parseExprStmt(t, `<$thing, ['color -> "red"], {1, 2}>;`)
	fw, ok := expr.(*FlyweightExpr)
	if !ok {
		t.Fatalf("expected flyweight, got %T", expr)
	}
	if len(fw.Slots) != 1 || len(fw.Contents) != 2 {
		t.Errorf("slots/contents = %d/%d", len(fw.Slots), len(fw.Contents))
	}

	// A bare comparison still parses as comparison.
	expr = parseExprStmt(t, "a < b;")
	if _, ok := expr.(*BinaryExpr); !ok {
		t.Errorf("a < b should be a comparison, got %T", expr)
	}
}

func TestParseCatchExpr(t *testing.T) {
	expr := parseExprStmt(t, "`x.y ! E_PROPNF, E_PERM => 0';")
	c := expr.(*CatchExpr)
	if len(c.Codes) != 2 || c.IsAny || c.Default == nil {
		t.Errorf("catch = %+v", c)
	}

	expr = parseExprStmt(t, "`f() ! ANY';")
	c = expr.(*CatchExpr)
	if !c.IsAny || c.Default != nil {
		t.Errorf("catch-any = %+v", c)
	}
}

func TestParseScatter(t *testing.T) {
	expr := parseExprStmt(t, "{a, ?b = 5, @rest} = args;")
	sc, ok := expr.(*ScatterExpr)
	if !ok {
		t.Fatalf("expected scatter, got %T", expr)
	}
	if len(sc.Targets) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(sc.Targets))
	}
	if sc.Targets[0].Name != "a" || sc.Targets[0].Optional || sc.Targets[0].Rest {
		t.Error("first target should be plain a")
	}
	if !sc.Targets[1].Optional || sc.Targets[1].Default == nil {
		t.Error("second target should be optional with default")
	}
	if !sc.Targets[2].Rest {
		t.Error("third target should be rest")
	}
}

func TestParseStatements(t *testing.T) {
	src := `
if (x > 1)
  y = 1;
elseif (x < 0)
  y = -1;
else
  y = 0;
endif
`
	stmt := parseOne(t, src)
	ifs := stmt.(*IfStmt)
	if len(ifs.ElseIfs) != 1 || ifs.Else == nil {
		t.Errorf("if shape wrong: %d elseifs", len(ifs.ElseIfs))
	}
}

func TestParseLoops(t *testing.T) {
	stmt := parseOne(t, "while outer (1) break outer; endwhile")
	w := stmt.(*WhileStmt)
	if w.Label != "outer" {
		t.Errorf("label = %q", w.Label)
	}
	br := w.Body[0].(*BreakStmt)
	if br.Label != "outer" {
		t.Errorf("break label = %q", br.Label)
	}

	stmt = parseOne(t, "for x, i in (items) continue x; endfor")
	f := stmt.(*ForStmt)
	if f.Value != "x" || f.Index != "i" || f.Container == nil {
		t.Errorf("for shape wrong: %+v", f)
	}

	stmt = parseOne(t, "for i in [1..10] endfor")
	f = stmt.(*ForStmt)
	if f.Container != nil || f.RangeStart == nil || f.RangeEnd == nil {
		t.Error("range for shape wrong")
	}
}

func TestParseFork(t *testing.T) {
	stmt := parseOne(t, "fork tid (5) player:tell(tid); endfork")
	fk := stmt.(*ForkStmt)
	if fk.Label != "tid" || len(fk.Body) != 1 {
		t.Errorf("fork shape wrong: %+v", fk)
	}
}

func TestParseTry(t *testing.T) {
	src := `
try
  x = obj.prop;
except e (E_PROPNF)
  x = 0;
except (ANY)
  x = -1;
finally
  done = 1;
endtry
`
	stmt := parseOne(t, src)
	try := stmt.(*TryStmt)
	if len(try.Excepts) != 2 || try.Finally == nil {
		t.Fatalf("try shape wrong")
	}
	if try.Excepts[0].Variable != "e" || try.Excepts[0].IsAny {
		t.Error("first except should bind e for E_PROPNF")
	}
	if !try.Excepts[1].IsAny {
		t.Error("second except should catch ANY")
	}
}

func TestParseTryRequiresHandler(t *testing.T) {
	if _, err := Parse("try x = 1; endtry"); err == nil {
		t.Error("try without except/finally should fail to parse")
	}
}

func TestParseDecls(t *testing.T) {
	stmt := parseOne(t, "let x = 5;")
	d := stmt.(*DeclStmt)
	if d.Kind != DeclLet || d.Name != "x" || d.Value == nil {
		t.Errorf("let shape wrong: %+v", d)
	}

	stmt = parseOne(t, "global counter;")
	d = stmt.(*DeclStmt)
	if d.Kind != DeclGlobal || d.Value != nil {
		t.Errorf("global shape wrong: %+v", d)
	}

	if _, err := Parse("const k;"); err == nil {
		t.Error("const without initializer should fail")
	}
}

func TestParseErrorsCarryPosition(t *testing.T) {
	_, err := Parse("x = ;\n")
	if err == nil {
		t.Fatal("expected parse error")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Pos.Line != 1 {
		t.Errorf("error line = %d", pe.Pos.Line)
	}
}

func TestParseComments(t *testing.T) {
	stmts, err := Parse("x = 1; // trailing\n/* block\ncomment */ y = 2;")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(stmts) != 2 {
		t.Errorf("expected 2 statements, got %d", len(stmts))
	}
}
