package core

import "fmt"

// TaskOp selects a task operation.
type TaskOp uint8

const (
	TaskCreate TaskOp = iota
	TaskWait
	TaskWakeup
	TaskYield
	TaskExit
	TaskRemove
	TaskCurrent
	TaskExitOver
)

func (o TaskOp) String() string {
	switch o {
	case TaskCreate:
		return "create"
	case TaskWait:
		return "wait"
	case TaskWakeup:
		return "wakeup"
	case TaskYield:
		return "yield"
	case TaskExit:
		return "exit"
	case TaskRemove:
		return "remove"
	case TaskCurrent:
		return "current"
	case TaskExitOver:
		return "exit_over"
	}
	return fmt.Sprintf("task_op(%d)", uint8(o))
}

// TaskMeta describes a task handed to TaskCreate.
type TaskMeta struct {
	TID         uint64
	Priority    uint32
	CPUsAllowed uint64
}

// TaskOperation is one request to the task subsystem. TID is used by
// Wakeup, Remove and ExitOver; Meta by Create.
type TaskOperation struct {
	Meta TaskMeta
	TID  uint64
	Op   TaskOp
}

// OperationResult is the reply to a TaskOperation. Which field is set
// depends on the operation.
type OperationResult struct {
	// Current is the running task for TaskCurrent when HasCurrent is set.
	Current    uint64
	HasCurrent bool

	// KstackTop is the new task's stack top for TaskCreate.
	KstackTop uint64

	// ExitOver reports for TaskExitOver whether the task has finished.
	ExitOver bool
}
