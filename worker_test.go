package combiner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardKnop/combiner"
	eagerbackend "github.com/RichardKnop/combiner/backends/eager"
	"github.com/RichardKnop/combiner/brokers/iface"
	"github.com/RichardKnop/combiner/combine"
	"github.com/RichardKnop/combiner/common"
	"github.com/RichardKnop/combiner/config"
	"github.com/RichardKnop/combiner/tasks"
)

// flakyBroker fails the first consume attempts and then consumes until stopped
type flakyBroker struct {
	*common.Broker
	mu       sync.Mutex
	failures int
	attempts int
}

func (b *flakyBroker) StartConsuming(consumerTag string, concurrency int, p iface.TaskProcessor) (bool, error) {
	b.mu.Lock()
	b.attempts++
	attempt := b.attempts
	b.mu.Unlock()

	if attempt <= b.failures {
		return true, errors.New("connection refused")
	}

	<-b.Stopped()
	return false, nil
}

func (b *flakyBroker) Publish(ctx context.Context, signature *tasks.Signature) error {
	return nil
}

func TestWorkerLaunchQuit(t *testing.T) {
	t.Parallel()

	server := getTestServer(t)
	require.NoError(t, server.RegisterCombine())
	worker := server.NewWorker("test_worker", 1)
	assert.Equal(t, "worker test_worker", worker.String())
	assert.Same(t, server, worker.GetServer())

	errorsChan := make(chan error, 1)
	worker.LaunchAsync(errorsChan)

	// the eager broker has the worker attached once LaunchAsync returns
	signature, err := combine.Signature(tasks.NewFloat64Arg("", 2), tasks.NewFloat64Arg("", 3))
	require.NoError(t, err)
	asyncResult, err := server.SendTask(signature)
	require.NoError(t, err)
	results, err := asyncResult.Get(time.Millisecond)
	require.NoError(t, err)
	value, err := tasks.Float64Result(results)
	require.NoError(t, err)
	assert.InDelta(t, 13.6548, value, 1e-9)

	worker.Quit()

	select {
	case err := <-errorsChan:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerRetriesBroker(t *testing.T) {
	t.Parallel()

	cnf := config.NewDefault()
	cnf.NoUnixSignals = true
	broker := &flakyBroker{Broker: common.NewBroker(cnf), failures: 2}
	server := combiner.NewServerWithBrokerBackend(cnf, broker, eagerbackend.New(cnf))

	var (
		mu       sync.Mutex
		failures []error
	)
	worker := server.NewWorker("test_worker", 0)
	worker.SetErrorHandler(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, err)
	})

	errorsChan := make(chan error, 1)
	worker.LaunchAsync(errorsChan)

	require.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return broker.attempts == 3
	}, time.Second, time.Millisecond)

	worker.Quit()
	assert.NoError(t, <-errorsChan)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 2)
	assert.EqualError(t, failures[0], "connection refused")
}
