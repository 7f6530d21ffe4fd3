package enums

import "fmt"

// TaskStatus tracks the lifecycle of a staff task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusCanceled   TaskStatus = "CANCELED"
)

var validTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusInProgress,
	TaskStatusCompleted,
	TaskStatusCanceled,
}

// pause() is the IN_PROGRESS -> PENDING edge.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusInProgress, TaskStatusCanceled},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusPending, TaskStatusCanceled},
	TaskStatusCompleted:  {},
	TaskStatusCanceled:   {},
}

// String implements fmt.Stringer.
func (t TaskStatus) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TaskStatus.
func (t TaskStatus) IsValid() bool {
	for _, candidate := range validTaskStatuses {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (t TaskStatus) IsTerminal() bool {
	return len(taskTransitions[t]) == 0 && t.IsValid()
}

// CanTransitionTo reports whether target is reachable from the current status.
func (t TaskStatus) CanTransitionTo(target TaskStatus) bool {
	for _, candidate := range taskTransitions[t] {
		if candidate == target {
			return true
		}
	}
	return false
}

// ParseTaskStatus converts raw input into a TaskStatus.
func ParseTaskStatus(value string) (TaskStatus, error) {
	for _, candidate := range validTaskStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid task status %q", value)
}
