package combiner

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	backendsiface "github.com/RichardKnop/combiner/backends/iface"
	"github.com/RichardKnop/combiner/backends/result"
	brokersiface "github.com/RichardKnop/combiner/brokers/iface"
	"github.com/RichardKnop/combiner/combine"
	"github.com/RichardKnop/combiner/config"
	"github.com/RichardKnop/combiner/tasks"
	"github.com/RichardKnop/combiner/tracing"
)

// Server is the main combiner object and stores all configuration.
// All the tasks workers process are registered against the server
type Server struct {
	config          *config.Config
	registeredTasks *sync.Map
	broker          brokersiface.Broker
	backend         backendsiface.Backend
}

// NewServer creates Server instance, picking the broker and result backend
// from the configured URLs
func NewServer(cnf *config.Config) (*Server, error) {
	broker, err := BrokerFactory(cnf)
	if err != nil {
		return nil, err
	}

	backend, err := BackendFactory(cnf)
	if err != nil {
		return nil, err
	}

	return NewServerWithBrokerBackend(cnf, broker, backend), nil
}

// NewServerWithBrokerBackend ...
func NewServerWithBrokerBackend(cnf *config.Config, brokerServer brokersiface.Broker, backendServer backendsiface.Backend) *Server {
	return &Server{
		config:          cnf,
		registeredTasks: new(sync.Map),
		broker:          brokerServer,
		backend:         backendServer,
	}
}

// NewWorker creates Worker instance. Concurrency bounds how many tasks a
// remote broker hands to the worker at once; 0 means no limit
func (server *Server) NewWorker(consumerTag string, concurrency int) *Worker {
	return &Worker{
		server:      server,
		ConsumerTag: consumerTag,
		Concurrency: concurrency,
		stopped:     make(chan struct{}),
	}
}

// GetBroker returns broker
func (server *Server) GetBroker() brokersiface.Broker {
	return server.broker
}

// GetBackend returns backend
func (server *Server) GetBackend() backendsiface.Backend {
	return server.backend
}

// GetConfig returns connection object
func (server *Server) GetConfig() *config.Config {
	return server.config
}

// RegisterTasks registers all tasks at once
func (server *Server) RegisterTasks(namedTaskFuncs map[string]interface{}) error {
	for _, task := range namedTaskFuncs {
		if err := tasks.ValidateTask(task); err != nil {
			return err
		}
	}

	for k, v := range namedTaskFuncs {
		server.registeredTasks.Store(k, v)
	}

	server.broker.SetRegisteredTaskNames(server.GetRegisteredTaskNames())
	return nil
}

// RegisterTask registers a single task
func (server *Server) RegisterTask(name string, taskFunc interface{}) error {
	if err := tasks.ValidateTask(taskFunc); err != nil {
		return err
	}
	server.registeredTasks.Store(name, taskFunc)
	server.broker.SetRegisteredTaskNames(server.GetRegisteredTaskNames())
	return nil
}

// RegisterCombine registers combine.Task under combine.TaskName
func (server *Server) RegisterCombine() error {
	return server.RegisterTask(combine.TaskName, combine.Task)
}

// IsTaskRegistered returns true if the task name is registered with this broker
func (server *Server) IsTaskRegistered(name string) bool {
	_, ok := server.registeredTasks.Load(name)
	return ok
}

// GetRegisteredTask returns registered task by name
func (server *Server) GetRegisteredTask(name string) (interface{}, error) {
	taskFunc, ok := server.registeredTasks.Load(name)
	if !ok {
		return nil, fmt.Errorf("Task not registered error: %s", name)
	}
	return taskFunc, nil
}

// GetRegisteredTaskNames returns slice of registered task names
func (server *Server) GetRegisteredTaskNames() []string {
	taskNames := make([]string, 0)
	server.registeredTasks.Range(func(key, value interface{}) bool {
		taskNames = append(taskNames, key.(string))
		return true
	})
	return taskNames
}

// SendTaskWithContext will inject the trace context in the signature headers before publishing it
func (server *Server) SendTaskWithContext(ctx context.Context, signature *tasks.Signature) (*result.AsyncResult, error) {
	// Make sure result backend is defined
	if server.backend == nil {
		return nil, result.ErrBackendNotConfigured
	}

	// Auto generate a UUID if not set already
	if signature.UUID == "" {
		taskID := uuid.New().String()
		signature.UUID = fmt.Sprintf("task_%v", taskID)
	}

	span, ctx := tracing.StartProducerSpan(ctx, signature)
	defer span.Finish()

	// tag the span with some info about the signature
	signature.Headers = tracing.HeadersWithSpan(signature.Headers, span)

	// Set initial task state to PENDING
	if err := server.backend.SetStatePending(signature); err != nil {
		return nil, errors.Wrap(err, "Set state pending error")
	}

	if err := server.broker.Publish(ctx, signature); err != nil {
		return nil, errors.Wrap(err, "Publish message error")
	}

	return result.NewAsyncResult(signature, server.backend), nil
}

// SendTask publishes a task to the default queue
func (server *Server) SendTask(signature *tasks.Signature) (*result.AsyncResult, error) {
	return server.SendTaskWithContext(context.Background(), signature)
}

// Combine sends a combine task for the two dynamic values and waits for its
// result, polling the backend as configured. Running out of time gives
// result.ErrTimeoutReached and a result that is not a float64 gives
// tasks.ErrTypeMismatch.
func (server *Server) Combine(ctx context.Context, a, b tasks.Arg) (*result.AsyncResult, tasks.Arg, error) {
	signature, err := combine.Signature(a, b)
	if err != nil {
		return nil, tasks.Arg{}, err
	}

	asyncResult, err := server.SendTaskWithContext(ctx, signature)
	if err != nil {
		return nil, tasks.Arg{}, err
	}

	combineCnf := server.config.Combine
	ctx, cancel := context.WithTimeout(ctx, combineCnf.Timeout())
	defer cancel()

	results, err := asyncResult.GetWithContext(ctx, combineCnf.PollPeriod())
	if err != nil {
		return asyncResult, tasks.Arg{}, err
	}

	value, err := tasks.Float64Result(results)
	if err != nil {
		return asyncResult, tasks.Arg{}, errors.Wrapf(err, "Result of task %s", signature.UUID)
	}
	return asyncResult, tasks.NewFloat64Arg("", value), nil
}
