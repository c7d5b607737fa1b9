package integration_test

import (
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardKnop/combiner"
	"github.com/RichardKnop/combiner/combine"
	"github.com/RichardKnop/combiner/config"
	"github.com/RichardKnop/combiner/tasks"
)

func testAll(server *combiner.Server, t *testing.T) {
	testSendCombine(server, t)
	testCommutative(server, t)
	testTypeMismatch(server, t)
	testPanic(server, t)
}

func testSendCombine(server *combiner.Server, t *testing.T) {
	testCases := []struct {
		a, b     float64
		expected float64
	}{
		{2, 3, 13.6548},
		{0, 0, 2.6548},
		{-1, 1, 1.6548},
	}

	for _, tc := range testCases {
		asyncResult, err := server.SendTask(newCombineTask(tasks.NewFloat64Arg("", tc.a), tasks.NewFloat64Arg("", tc.b)))
		require.NoError(t, err)

		results, err := asyncResult.GetWithTimeout(5*time.Second, 5*time.Millisecond)
		require.NoError(t, err)
		value, err := tasks.Float64Result(results)
		require.NoError(t, err)
		assert.InDelta(t, tc.expected, value, 1e-9, "combine(%v, %v)", tc.a, tc.b)

		state := asyncResult.GetState()
		assert.True(t, state.IsSuccess())
		assert.Equal(t, combine.TaskName, state.TaskName)
	}
}

func testCommutative(server *combiner.Server, t *testing.T) {
	a, b := tasks.NewFloat64Arg("", 1.25), tasks.NewFloat64Arg("", -7.5)

	ab, err := server.SendTask(newCombineTask(a, b))
	require.NoError(t, err)
	ba, err := server.SendTask(newCombineTask(b, a))
	require.NoError(t, err)

	abResults, err := ab.GetWithTimeout(5*time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	baResults, err := ba.GetWithTimeout(5*time.Second, 5*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, abResults, baResults)
}

func testTypeMismatch(server *combiner.Server, t *testing.T) {
	asyncResult, err := server.SendTask(newCombineTask(tasks.Arg{Type: "string", Value: "2"}, tasks.NewFloat64Arg("", 3)))
	require.NoError(t, err)

	results, err := asyncResult.GetWithTimeout(5*time.Second, 5*time.Millisecond)
	assert.Empty(t, results)
	assert.EqualError(t, err, "type mismatch: 2 (string) is not float64")
	assert.True(t, asyncResult.GetState().IsFailure())
}

func testPanic(server *combiner.Server, t *testing.T) {
	task := &tasks.Signature{Name: "panic"}
	asyncResult, err := server.SendTask(task)
	require.NoError(t, err)

	results, err := asyncResult.GetWithTimeout(5*time.Second, 5*time.Millisecond)
	assert.Empty(t, results)
	assert.EqualError(t, err, "oops")
}

func testSetup(cnf *config.Config) (*combiner.Server, *combiner.Worker) {
	cnf.NoUnixSignals = true

	server, err := combiner.NewServer(cnf)
	if err != nil {
		log.Fatal(err, "Could not initialize server")
	}

	if err := server.RegisterCombine(); err != nil {
		log.Fatal(err, "Could not register combine")
	}

	err = server.RegisterTask("panic", func() (string, error) {
		panic(errors.New("oops"))
	})
	if err != nil {
		log.Fatal(err, "Could not register panic task")
	}

	worker := server.NewWorker("test_worker", 0)
	errorsChan := make(chan error, 1)
	worker.LaunchAsync(errorsChan)

	return server, worker
}

func newCombineTask(a, b tasks.Arg) *tasks.Signature {
	signature, err := combine.Signature(a, b)
	if err != nil {
		log.Fatal(err)
	}
	return signature
}
