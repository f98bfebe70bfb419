package server

import "github.com/Oliver2213/moor/task"

// taskQueue orders tasks by wake time, breaking ties on the lower
// task id.
type taskQueue []*task.Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].WakeAt.Equal(q[j].WakeAt) {
		return q[i].ID < q[j].ID
	}
	return q[i].WakeAt.Before(q[j].WakeAt)
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x interface{}) {
	*q = append(*q, x.(*task.Task))
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}
