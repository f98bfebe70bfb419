package vm

import (
	"fmt"
	"strings"

	"github.com/Oliver2213/moor/types"
)

// Instr is one VM instruction. Operand meaning depends on the opcode;
// Line is the source line for tracebacks and decompilation.
type Instr struct {
	Op   OpCode
	A    int
	B    int
	C    int
	Line int
}

// ExceptSpec describes the clauses of one try/except (or one catch
// expression). Clauses are tested in order.
type ExceptSpec struct {
	Clauses []ExceptClauseSpec
}

type ExceptClauseSpec struct {
	Codes  []types.ErrorCode
	IsAny  bool
	VarIdx int // -1: no binding
	Target int // clause entry point
}

// Matches reports whether the clause catches the given code.
func (c *ExceptClauseSpec) Matches(code types.ErrorCode) bool {
	if c.IsAny {
		return true
	}
	for _, want := range c.Codes {
		if want == code {
			return true
		}
	}
	return false
}

// ScatterSpec describes one scatter pattern.
type ScatterSpec struct {
	Targets []ScatterSlot
}

type ScatterSlot struct {
	VarIdx   int
	Optional bool
	Rest     bool
}

// ForkSpec is a fork statement: a sub-program sharing the parent's
// variable table, plus the variable receiving the child task id.
type ForkSpec struct {
	Body   *Program
	TidVar int // -1: anonymous fork
	Line   int
}

// Program is one compiled unit: a verb body, an eval snippet, or a
// fork body. Fork bodies share VarNames with their parent.
type Program struct {
	Code      []Instr
	Constants []types.Value
	VarNames  []string
	Excepts   []ExceptSpec
	Scatters  []ScatterSpec
	Forks     []ForkSpec
	Source    string
}

// VarIndex finds a variable slot by name, case-insensitively.
func (p *Program) VarIndex(name string) (int, bool) {
	for i, n := range p.VarNames {
		if strings.EqualFold(n, name) {
			return i, true
		}
	}
	return 0, false
}

// Listing renders the instruction stream for debugging and the
// disassembly builtin.
func (p *Program) Listing() []string {
	out := make([]string, 0, len(p.Code))
	for i, ins := range p.Code {
		out = append(out, fmt.Sprintf("%4d: %-14s %d %d %d  ; line %d",
			i, ins.Op, ins.A, ins.B, ins.C, ins.Line))
	}
	return out
}
