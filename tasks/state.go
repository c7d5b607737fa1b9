package tasks

import "time"

// Task states, in the order a task moves through them
const (
	StatePending  = "PENDING"
	StateReceived = "RECEIVED"
	StateStarted  = "STARTED"
	StateSuccess  = "SUCCESS"
	StateFailure  = "FAILURE"
)

// TaskState is what a result backend stores for a task. Results keep the
// tags the task func returned them with.
type TaskState struct {
	TaskUUID  string    `json:"uuid"`
	TaskName  string    `json:"name,omitempty"`
	State     string    `json:"state"`
	Results   []Arg     `json:"results,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTaskState returns signature's task in the given state
func NewTaskState(signature *Signature, state string) *TaskState {
	return &TaskState{
		TaskUUID:  signature.UUID,
		TaskName:  signature.Name,
		State:     state,
		CreatedAt: time.Now().UTC(),
	}
}

// IsCompleted returns true once the task either succeeded or failed
func (taskState *TaskState) IsCompleted() bool {
	return taskState.IsSuccess() || taskState.IsFailure()
}

// IsSuccess returns true if state is SUCCESS
func (taskState *TaskState) IsSuccess() bool {
	return taskState.State == StateSuccess
}

// IsFailure returns true if state is FAILURE
func (taskState *TaskState) IsFailure() bool {
	return taskState.State == StateFailure
}
