package result

import (
	"context"
	"errors"
	"time"

	"github.com/RichardKnop/combiner/backends/iface"
	"github.com/RichardKnop/combiner/tasks"
)

var (
	// ErrBackendNotConfigured ...
	ErrBackendNotConfigured = errors.New("Result backend not configured")
	// ErrTimeoutReached ...
	ErrTimeoutReached = errors.New("Timeout reached")
)

// AsyncResult follows the state of a sent task
type AsyncResult struct {
	Signature *tasks.Signature
	taskState *tasks.TaskState
	backend   iface.Backend
}

// NewAsyncResult creates AsyncResult instance
func NewAsyncResult(signature *tasks.Signature, backend iface.Backend) *AsyncResult {
	return &AsyncResult{
		Signature: signature,
		taskState: new(tasks.TaskState),
		backend:   backend,
	}
}

// Touch reads the state once. Results are nil while the task is not
// finished; a finished task without return values gives an empty slice.
func (asyncResult *AsyncResult) Touch() ([]tasks.Arg, error) {
	if asyncResult.backend == nil {
		return nil, ErrBackendNotConfigured
	}

	state := asyncResult.GetState()
	switch {
	case state.IsFailure():
		return nil, errors.New(state.Error)
	case state.IsSuccess():
		if state.Results == nil {
			return []tasks.Arg{}, nil
		}
		return state.Results, nil
	}
	return nil, nil
}

// Get blocks until the task finishes
func (asyncResult *AsyncResult) Get(sleepDuration time.Duration) ([]tasks.Arg, error) {
	return asyncResult.GetWithContext(context.Background(), sleepDuration)
}

// GetWithTimeout blocks until the task finishes or timeoutDuration passes
func (asyncResult *AsyncResult) GetWithTimeout(timeoutDuration, sleepDuration time.Duration) ([]tasks.Arg, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeoutDuration)
	defer cancel()
	return asyncResult.GetWithContext(ctx, sleepDuration)
}

// GetWithContext polls the backend every sleepDuration until the task
// finishes or ctx is done. An expired deadline is reported as
// ErrTimeoutReached.
func (asyncResult *AsyncResult) GetWithContext(ctx context.Context, sleepDuration time.Duration) ([]tasks.Arg, error) {
	if sleepDuration <= 0 {
		sleepDuration = time.Millisecond
	}
	ticker := time.NewTicker(sleepDuration)
	defer ticker.Stop()

	for {
		results, err := asyncResult.Touch()
		if results != nil || err != nil {
			return results, err
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeoutReached
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetState returns the latest known task state. Once the task has finished
// the backend is no longer read.
func (asyncResult *AsyncResult) GetState() *tasks.TaskState {
	if asyncResult.taskState.IsCompleted() {
		return asyncResult.taskState
	}

	taskState, err := asyncResult.backend.GetState(asyncResult.Signature.UUID)
	if err == nil {
		asyncResult.taskState = taskState
	}

	return asyncResult.taskState
}
