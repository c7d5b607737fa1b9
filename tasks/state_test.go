package tasks_test

import (
	"testing"

	"github.com/RichardKnop/combiner/tasks"
	"github.com/stretchr/testify/assert"
)

func TestTaskStateIsCompleted(t *testing.T) {
	t.Parallel()

	signature := &tasks.Signature{UUID: "task_1", Name: "combine"}

	pending := tasks.NewTaskState(signature, tasks.StatePending)
	assert.Equal(t, "task_1", pending.TaskUUID)
	assert.Equal(t, "combine", pending.TaskName)
	assert.False(t, pending.CreatedAt.IsZero())
	assert.False(t, pending.IsCompleted())
	assert.False(t, tasks.NewTaskState(signature, tasks.StateReceived).IsCompleted())
	assert.False(t, tasks.NewTaskState(signature, tasks.StateStarted).IsCompleted())

	success := tasks.NewTaskState(signature, tasks.StateSuccess)
	assert.True(t, success.IsCompleted())
	assert.True(t, success.IsSuccess())
	assert.False(t, success.IsFailure())

	failure := tasks.NewTaskState(signature, tasks.StateFailure)
	assert.True(t, failure.IsCompleted())
	assert.True(t, failure.IsFailure())
}

func TestHeadersForeachKey(t *testing.T) {
	t.Parallel()

	headers := tasks.Headers{"number": 1}
	headers.Set("trace", "abc")

	seen := map[string]string{}
	err := headers.ForeachKey(func(key, val string) error {
		seen[key] = val
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{"trace": "abc"}, seen)
}
