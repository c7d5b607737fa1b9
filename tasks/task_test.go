package tasks_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/RichardKnop/combiner/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskCallErrorTest(t *testing.T) {
	t.Parallel()

	// Create test task that returns tasks.ErrTypeMismatch error
	f := func(arg string) (float64, error) {
		return 0, tasks.NewErrTypeMismatch(arg, "float64")
	}

	task, err := tasks.New(f, []tasks.Arg{{Type: "string", Value: "foo"}})
	require.NoError(t, err)

	// The task error comes back unchanged
	results, err := task.Call()
	assert.Nil(t, results)
	var mismatch tasks.ErrTypeMismatch
	assert.True(t, errors.As(err, &mismatch))

	// Create test task that returns a standard error
	f = func(arg string) (float64, error) {
		return 0, errors.New("some error")
	}

	task, err = tasks.New(f, []tasks.Arg{{Type: "string", Value: "foo"}})
	require.NoError(t, err)

	results, err = task.Call()
	assert.Nil(t, results)
	assert.EqualError(t, err, "some error")
}

func TestTaskCallPanic(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		f        func() (float64, error)
		expected string
	}{
		{
			name:     "string",
			f:        func() (float64, error) { panic("oops") },
			expected: "oops",
		},
		{
			name:     "error",
			f:        func() (float64, error) { panic(errors.New("broken")) },
			expected: "broken",
		},
		{
			name:     "other",
			f:        func() (float64, error) { panic(42) },
			expected: tasks.ErrTaskPanicked.Error(),
		},
	}

	for _, tc := range testCases {
		task, err := tasks.New(tc.f, []tasks.Arg{})
		require.NoError(t, err, tc.name)

		results, err := task.Call()
		assert.Nil(t, results, tc.name)
		assert.EqualError(t, err, tc.expected, tc.name)
	}
}

func TestTaskCallResults(t *testing.T) {
	t.Parallel()

	f := func(a, b float64) (float64, float64, error) {
		return a + b, a * b, nil
	}

	task, err := tasks.New(f, []tasks.Arg{
		tasks.NewFloat64Arg("a", 2),
		tasks.NewFloat64Arg("b", 3),
	})
	require.NoError(t, err)

	results, err := task.Call()
	require.NoError(t, err)
	assert.Equal(t, []tasks.Arg{
		{Type: "float64", Value: 5.0},
		{Type: "float64", Value: 6.0},
	}, results)
}

func TestTaskCallUnsupportedResult(t *testing.T) {
	t.Parallel()

	f := func() (int, error) {
		return 1, nil
	}

	task, err := tasks.New(f, nil)
	require.NoError(t, err)

	_, err = task.Call()
	assert.Equal(t, tasks.NewErrUnsupportedType("int"), err)
}

func TestTaskArgsMismatch(t *testing.T) {
	t.Parallel()

	f := func(a, b float64) (float64, error) {
		return math.Max(a, b), nil
	}

	// int64 is a supported dynamic type, but not the one the func takes
	_, err := tasks.New(f, []tasks.Arg{
		tasks.NewFloat64Arg("a", 2),
		{Name: "b", Type: "int64", Value: int64(3)},
	})
	assert.Equal(t, tasks.NewErrTypeMismatch(int64(3), "float64"), err)

	// an unknown tag can never match
	_, err = tasks.New(f, []tasks.Arg{
		{Name: "a", Type: "complex128", Value: "1+2i"},
		tasks.NewFloat64Arg("b", 2),
	})
	assert.Equal(t, tasks.NewErrTypeMismatch("1+2i", "float64"), err)

	_, err = tasks.New(f, []tasks.Arg{tasks.NewFloat64Arg("a", 2)})
	assert.EqualError(t, err, "Task expects 2 arguments, got 1")
}

func TestTaskUsesContext(t *testing.T) {
	t.Parallel()

	f := func(ctx context.Context, a float64) (string, error) {
		signature := tasks.SignatureFromContext(ctx)
		if signature == nil {
			return "", errors.New("signature missing from context")
		}
		return signature.Name, nil
	}

	signature, err := tasks.NewSignature("named", []tasks.Arg{tasks.NewFloat64Arg("a", 1)})
	require.NoError(t, err)

	task, err := tasks.NewWithSignature(context.Background(), f, signature)
	require.NoError(t, err)
	assert.True(t, task.UseContext)

	results, err := task.Call()
	require.NoError(t, err)
	assert.Equal(t, []tasks.Arg{{Type: "string", Value: "named"}}, results)
}

func TestValidateTask(t *testing.T) {
	t.Parallel()

	assert.Equal(t, tasks.ErrTaskMustBeFunc, tasks.ValidateTask("not a func"))
	assert.Equal(t, tasks.ErrTaskMustBeFunc, tasks.ValidateTask(nil))
	assert.Equal(t, tasks.ErrTaskReturnsNoValue, tasks.ValidateTask(func() {}))
	assert.Equal(t, tasks.ErrLastReturnValueMustBeError, tasks.ValidateTask(func() int { return 0 }))
	assert.NoError(t, tasks.ValidateTask(func() error { return nil }))
}
