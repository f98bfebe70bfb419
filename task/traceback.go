package task

import (
	"fmt"

	"github.com/Oliver2213/moor/vm"
)

// FormatTraceback renders a task abort for delivery to the player and
// the log.
func FormatTraceback(t *Task, te *vm.TaskError) []string {
	var out []string
	switch te.Reason {
	case "ticks":
		out = append(out, fmt.Sprintf("*** Task %d ran out of ticks ***", t.ID))
	case "seconds":
		out = append(out, fmt.Sprintf("*** Task %d ran out of seconds ***", t.ID))
	case "killed":
		return nil // killed tasks deliver no output
	}
	out = append(out, te.Traceback...)
	if te.Reason == "uncaught" && len(te.Traceback) == 0 {
		out = append(out, fmt.Sprintf("%s (%s)", te.Err.String(), te.Err.Message()))
	}
	return out
}
