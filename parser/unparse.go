package parser

import (
	"fmt"
	"strings"

	"github.com/Oliver2213/moor/types"
)

// Unparse renders statements back to MOO source, one statement per
// line with nested bodies indented. compile(Unparse(compile(src)))
// equals compile(src); formatting is canonical, comments are gone.
func Unparse(stmts []Stmt) string {
	var b strings.Builder
	unparseBody(&b, stmts, 0)
	return b.String()
}

// UnparseLines is Unparse split into lines, the .program editor view.
func UnparseLines(stmts []Stmt) []string {
	src := Unparse(stmts)
	if src == "" {
		return []string{}
	}
	return strings.Split(strings.TrimRight(src, "\n"), "\n")
}

func unparseBody(b *strings.Builder, stmts []Stmt, depth int) {
	for _, s := range stmts {
		unparseStmt(b, s, depth)
	}
}

func indent(b *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteString("  ")
	}
}

func unparseStmt(b *strings.Builder, s Stmt, depth int) {
	switch stmt := s.(type) {
	case *ExprStmt:
		indent(b, depth)
		b.WriteString(UnparseExpr(stmt.Expr))
		b.WriteString(";\n")

	case *IfStmt:
		indent(b, depth)
		fmt.Fprintf(b, "if (%s)\n", UnparseExpr(stmt.Condition))
		unparseBody(b, stmt.Body, depth+1)
		for _, ei := range stmt.ElseIfs {
			indent(b, depth)
			fmt.Fprintf(b, "elseif (%s)\n", UnparseExpr(ei.Condition))
			unparseBody(b, ei.Body, depth+1)
		}
		if stmt.Else != nil {
			indent(b, depth)
			b.WriteString("else\n")
			unparseBody(b, stmt.Else, depth+1)
		}
		indent(b, depth)
		b.WriteString("endif\n")

	case *WhileStmt:
		indent(b, depth)
		if stmt.Label != "" {
			fmt.Fprintf(b, "while %s (%s)\n", stmt.Label, UnparseExpr(stmt.Condition))
		} else {
			fmt.Fprintf(b, "while (%s)\n", UnparseExpr(stmt.Condition))
		}
		unparseBody(b, stmt.Body, depth+1)
		indent(b, depth)
		b.WriteString("endwhile\n")

	case *ForStmt:
		indent(b, depth)
		vars := stmt.Value
		if stmt.Index != "" {
			vars += ", " + stmt.Index
		}
		if stmt.Container != nil {
			fmt.Fprintf(b, "for %s in (%s)\n", vars, UnparseExpr(stmt.Container))
		} else {
			fmt.Fprintf(b, "for %s in [%s..%s]\n", vars,
				UnparseExpr(stmt.RangeStart), UnparseExpr(stmt.RangeEnd))
		}
		unparseBody(b, stmt.Body, depth+1)
		indent(b, depth)
		b.WriteString("endfor\n")

	case *ForkStmt:
		indent(b, depth)
		if stmt.Label != "" {
			fmt.Fprintf(b, "fork %s (%s)\n", stmt.Label, UnparseExpr(stmt.Delay))
		} else {
			fmt.Fprintf(b, "fork (%s)\n", UnparseExpr(stmt.Delay))
		}
		unparseBody(b, stmt.Body, depth+1)
		indent(b, depth)
		b.WriteString("endfork\n")

	case *TryStmt:
		indent(b, depth)
		b.WriteString("try\n")
		unparseBody(b, stmt.Body, depth+1)
		for _, ex := range stmt.Excepts {
			indent(b, depth)
			b.WriteString("except ")
			if ex.Variable != "" {
				b.WriteString(ex.Variable)
				b.WriteByte(' ')
			}
			fmt.Fprintf(b, "(%s)\n", unparseCodes(ex.Codes, ex.IsAny))
			unparseBody(b, ex.Body, depth+1)
		}
		if stmt.Finally != nil {
			indent(b, depth)
			b.WriteString("finally\n")
			unparseBody(b, stmt.Finally, depth+1)
		}
		indent(b, depth)
		b.WriteString("endtry\n")

	case *ReturnStmt:
		indent(b, depth)
		if stmt.Value != nil {
			fmt.Fprintf(b, "return %s;\n", UnparseExpr(stmt.Value))
		} else {
			b.WriteString("return;\n")
		}

	case *BreakStmt:
		indent(b, depth)
		if stmt.Label != "" {
			fmt.Fprintf(b, "break %s;\n", stmt.Label)
		} else {
			b.WriteString("break;\n")
		}

	case *ContinueStmt:
		indent(b, depth)
		if stmt.Label != "" {
			fmt.Fprintf(b, "continue %s;\n", stmt.Label)
		} else {
			b.WriteString("continue;\n")
		}

	case *DeclStmt:
		indent(b, depth)
		kw := "let"
		switch stmt.Kind {
		case DeclConst:
			kw = "const"
		case DeclGlobal:
			kw = "global"
		}
		if stmt.Value != nil {
			fmt.Fprintf(b, "%s %s = %s;\n", kw, stmt.Name, UnparseExpr(stmt.Value))
		} else {
			fmt.Fprintf(b, "%s %s;\n", kw, stmt.Name)
		}
	}
}

func unparseCodes(codes []types.ErrorCode, isAny bool) string {
	if isAny {
		return "ANY"
	}
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}

// UnparseExpr renders one expression.
func UnparseExpr(e Expr) string {
	switch expr := e.(type) {
	case *LiteralExpr:
		return expr.Value.String()
	case *IdentifierExpr:
		return expr.Name
	case *SysRefExpr:
		return "$" + expr.Name
	case *ParenExpr:
		return "(" + UnparseExpr(expr.Expr) + ")"
	case *UnaryExpr:
		return expr.Operator.String() + UnparseExpr(expr.Operand)
	case *BinaryExpr:
		return fmt.Sprintf("%s %s %s",
			UnparseExpr(expr.Left), expr.Operator.String(), UnparseExpr(expr.Right))
	case *TernaryExpr:
		return fmt.Sprintf("%s ? %s | %s",
			UnparseExpr(expr.Condition), UnparseExpr(expr.ThenExpr), UnparseExpr(expr.ElseExpr))
	case *IndexExpr:
		return fmt.Sprintf("%s[%s]", UnparseExpr(expr.Expr), UnparseExpr(expr.Index))
	case *RangeExpr:
		return fmt.Sprintf("%s[%s..%s]",
			UnparseExpr(expr.Expr), UnparseExpr(expr.Start), UnparseExpr(expr.End))
	case *IndexMarkerExpr:
		return expr.Marker.String()
	case *PropertyExpr:
		if expr.Dynamic != nil {
			return fmt.Sprintf("%s.(%s)", UnparseExpr(expr.Expr), UnparseExpr(expr.Dynamic))
		}
		return fmt.Sprintf("%s.%s", UnparseExpr(expr.Expr), expr.Property)
	case *VerbCallExpr:
		if expr.Dynamic != nil {
			return fmt.Sprintf("%s:(%s)(%s)",
				UnparseExpr(expr.Expr), UnparseExpr(expr.Dynamic), unparseArgs(expr.Args))
		}
		return fmt.Sprintf("%s:%s(%s)", UnparseExpr(expr.Expr), expr.Verb, unparseArgs(expr.Args))
	case *BuiltinCallExpr:
		return fmt.Sprintf("%s(%s)", expr.Name, unparseArgs(expr.Args))
	case *SpliceExpr:
		return "@" + UnparseExpr(expr.Expr)
	case *AssignExpr:
		return fmt.Sprintf("%s = %s", UnparseExpr(expr.Target), UnparseExpr(expr.Value))
	case *ListExpr:
		return "{" + unparseArgs(expr.Elements) + "}"
	case *MapExpr:
		parts := make([]string, len(expr.Pairs))
		for i, pair := range expr.Pairs {
			parts[i] = UnparseExpr(pair.Key) + " -> " + UnparseExpr(pair.Value)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *FlyweightExpr:
		var b strings.Builder
		b.WriteByte('<')
		b.WriteString(UnparseExpr(expr.Delegate))
		if len(expr.Slots) > 0 {
			parts := make([]string, len(expr.Slots))
			for i, pair := range expr.Slots {
				parts[i] = UnparseExpr(pair.Key) + " -> " + UnparseExpr(pair.Value)
			}
			b.WriteString(", [" + strings.Join(parts, ", ") + "]")
		}
		if len(expr.Contents) > 0 {
			b.WriteString(", {" + unparseArgs(expr.Contents) + "}")
		}
		b.WriteByte('>')
		return b.String()
	case *CatchExpr:
		s := "`" + UnparseExpr(expr.Expr) + " ! " + unparseCodes(expr.Codes, expr.IsAny)
		if expr.Default != nil {
			s += " => " + UnparseExpr(expr.Default)
		}
		return s + "'"
	case *ScatterExpr:
		parts := make([]string, len(expr.Targets))
		for i, t := range expr.Targets {
			switch {
			case t.Rest:
				parts[i] = "@" + t.Name
			case t.Optional && t.Default != nil:
				parts[i] = "?" + t.Name + " = " + UnparseExpr(t.Default)
			case t.Optional:
				parts[i] = "?" + t.Name
			default:
				parts[i] = t.Name
			}
		}
		return "{" + strings.Join(parts, ", ") + "} = " + UnparseExpr(expr.Value)
	}
	return ""
}

func unparseArgs(args []Expr) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = UnparseExpr(a)
	}
	return strings.Join(parts, ", ")
}
