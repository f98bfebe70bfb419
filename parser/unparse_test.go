package parser

import "testing"

// Unparse output must re-parse to the same canonical form.
func TestUnparseStable(t *testing.T) {
	sources := []string{
		"x = 1 + 2 * 3;",
		"y = (1 + 2) * 3;",
		`player:tell("hi", @rest);`,
		"if (x)\n  y = 1;\nelseif (z)\n  y = 2;\nelse\n  y = 3;\nendif",
		"while outer (1)\n  break outer;\nendwhile",
		"for x, i in (items)\n  continue x;\nendfor",
		"for i in [1..10]\n  sum = sum + i;\nendfor",
		"fork tid (60)\n  $cleaner:sweep(tid);\nendfork",
		"try\n  x = o.p;\nexcept e (E_PROPNF, E_PERM)\n  x = e[1];\nexcept (ANY)\n  x = 0;\nendtry",
		"try\n  f();\nfinally\n  done = 1;\nendtry",
		"{a, ?b = 5, @rest} = args;",
		"let x = 5;",
		"const k = {1, 2};",
		"global counter;",
		"v = `o.p ! ANY => 0';",
		"m = [1 -> \"one\", 'two -> 2];",
		"f = <#7, ['color -> \"red\"], {1}>;",
		"w = x[^..$ - 1];",
		"o.(p) = obj:(v)(1, 2);",
		"$foo = $bar(1);",
		"r = a < b ? -c | !d;",
	}
	for _, src := range sources {
		t.Run(src, func(t *testing.T) {
			stmts, err := Parse(src)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			out := Unparse(stmts)
			stmts2, err := Parse(out)
			if err != nil {
				t.Fatalf("reparse of %q: %v", out, err)
			}
			out2 := Unparse(stmts2)
			if out != out2 {
				t.Errorf("unparse not stable:\nfirst:  %q\nsecond: %q", out, out2)
			}
		})
	}
}

func TestUnparseLines(t *testing.T) {
	stmts, err := Parse("if (x)\ny = 1;\nendif")
	if err != nil {
		t.Fatal(err)
	}
	lines := UnparseLines(stmts)
	want := []string{"if (x)", "  y = 1;", "endif"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}
