package vm

import (
	"testing"

	"github.com/Oliver2213/moor/builtins"
	"github.com/Oliver2213/moor/parser"
)

// codeEqual compares instruction streams ignoring line annotations:
// the rendered source re-lines the program, which is the permitted
// whitespace difference.
func codeEqual(a, b []Instr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Op != b[i].Op || a[i].A != b[i].A || a[i].B != b[i].B || a[i].C != b[i].C {
			return false
		}
	}
	return true
}

// The round-trip contract: decompiling a program and recompiling its
// unparse yields identical bytecode.
func TestDecompileRoundTrip(t *testing.T) {
	sources := []string{
		"return 1 + 2 * 3;",
		"x = 5; y = x * (x - 1); return y;",
		"return {1, \"two\", #3, E_PERM, 'sym, 2.5};",
		"return [1 -> \"one\", \"k\" -> {2}];",
		"return <#7, ['color -> \"red\"], {1}>;",
		"if (x > 1)\nreturn \"big\";\nelseif (x < 0)\nreturn \"neg\";\nelse\nreturn \"small\";\nendif",
		"while (x < 10)\nx = x + 1;\nendwhile\nreturn x;",
		"while loop (1)\nbreak loop;\nendwhile",
		"s = 0;\nfor i in [1..10]\ns = s + i;\nendfor\nreturn s;",
		"for x, k in (things)\nif (x == 0)\ncontinue;\nendif\nendfor",
		"s = 0; for i in [1..3] for j in [1..3] if (j == 2) continue i; endif s = s + 1; endfor endfor return s;",
		"fork tid (60)\nplayer:tell(tid);\nendfork",
		"try\nx = o.p;\nexcept e (E_PROPNF, E_PERM)\nx = 0;\nexcept (ANY)\nx = -1;\nendtry",
		"try\nrandom();\nfinally\ndone = 1;\nendtry",
		"try\nx = 1/0;\nexcept (E_DIV)\nx = 0;\nfinally\ny = 1;\nendtry",
		"return `o.p ! E_PROPNF => 0';",
		"return `random() ! ANY';",
		"{a, ?b = 5, @rest} = args;\nreturn rest;",
		"o.name = \"thing\";",
		"o.(p) = 1;",
		"$foo = $bar(1, @rest);",
		"x[2] = 9;",
		"x[2..3] = {0};",
		"x = y[^..$ - 1];",
		"this:(v)(1, 2);",
		"let k = 5; const c = {1}; global g = 2; return k;",
		"return a && b || !c;",
		"return x ? abs(1) | abs(2);",
		"player:tell(\"a\", @rest);",
		"return pass(@args);",
	}

	reg := builtins.Default()
	for _, src := range sources {
		t.Run(src, func(t *testing.T) {
			prog1, err := CompileSource(src, reg)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			stmts, err := Decompile(prog1, reg)
			if err != nil {
				t.Fatalf("decompile: %v", err)
			}
			rendered := parser.Unparse(stmts)
			prog2, err := CompileSource(rendered, reg)
			if err != nil {
				t.Fatalf("recompile of %q: %v", rendered, err)
			}
			if !codeEqual(prog1.Code, prog2.Code) {
				t.Errorf("bytecode differs after round trip\nsource: %s\nrendered: %s\nfirst:  %v\nsecond: %v",
					src, rendered, prog1.Listing(), prog2.Listing())
			}
		})
	}
}

func TestUnparseProgramLines(t *testing.T) {
	reg := builtins.Default()
	prog, err := CompileSource("if (x)\nreturn 1;\nendif", reg)
	if err != nil {
		t.Fatal(err)
	}
	lines, err := UnparseProgram(prog, reg)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"if (x)", "  return 1;", "endif"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}
