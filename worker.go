package combiner

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	eagerbroker "github.com/RichardKnop/combiner/brokers/eager"
	"github.com/RichardKnop/combiner/log"
	"github.com/RichardKnop/combiner/tasks"
	"github.com/RichardKnop/combiner/tracing"
	"github.com/RichardKnop/combiner/utils"
)

var (
	// ErrWorkerQuitGracefully is return when worker quit gracefully
	ErrWorkerQuitGracefully = errors.New("Worker quit gracefully")
	// ErrWorkerQuitAbruptly is return when worker quit abruptly
	ErrWorkerQuitAbruptly = errors.New("Worker quit abruptly")
)

// Worker represents a single worker process
type Worker struct {
	server          *Server
	ConsumerTag     string
	Concurrency     int
	errorHandler    func(err error)
	preTaskHandler  func(*tasks.Signature)
	postTaskHandler func(*tasks.Signature)

	// signals replaces SIGINT and SIGTERM notifications when set
	signals <-chan os.Signal
	// stopped is closed once the consumer goroutine has reported its exit
	stopped chan struct{}
}

// Launch starts a new worker process. The worker subscribes
// to the default queue and processes incoming registered tasks
func (worker *Worker) Launch() error {
	// After a signal Launch returns on the first report. The consumer
	// still sends its own, so one slot keeps it from blocking.
	errorsChan := make(chan error, 1)

	worker.LaunchAsync(errorsChan)

	return <-errorsChan
}

// LaunchAsync is a non blocking version of Launch
func (worker *Worker) LaunchAsync(errorsChan chan<- error) {
	cnf := worker.server.GetConfig()
	broker := worker.server.GetBroker()

	log.INFO.Printf("Launching a worker with the following settings:")
	log.INFO.Printf("- Broker: %s", utils.RedactURL(cnf.Broker))
	if cnf.DefaultQueue != "" {
		log.INFO.Printf("- DefaultQueue: %s", cnf.DefaultQueue)
	}
	log.INFO.Printf("- ResultBackend: %s", utils.RedactURL(cnf.ResultBackend))
	log.INFO.Printf("- ConsumerTag: %s", worker.ConsumerTag)
	log.INFO.Printf("- Concurrency: %d", worker.Concurrency)

	// The eager broker runs tasks on the publisher's goroutine, so the
	// worker has to be attached before LaunchAsync returns
	if eagerMode, ok := broker.(eagerbroker.Mode); ok {
		eagerMode.AssignWorker(worker)
	}

	// a graceful quit reports first, the consumer's own exit comes after it
	var quitting sync.WaitGroup

	go func() {
		defer close(worker.stopped)

		for {
			retry, err := broker.StartConsuming(worker.ConsumerTag, worker.Concurrency, worker)
			if !retry {
				quitting.Wait()
				errorsChan <- err
				return
			}

			if worker.errorHandler != nil {
				worker.errorHandler(err)
			} else {
				log.WARNING.Printf("Broker failed with error: %s", err)
			}
		}
	}()

	if cnf.NoUnixSignals {
		return
	}

	signals := worker.signals
	if signals == nil {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		signals = sig
	}

	go func() {
		var received int
		for {
			select {
			case <-worker.stopped:
				return
			case s := <-signals:
				log.WARNING.Printf("Signal received: %v", s)
				received++

				if received > 1 {
					// a second signal does not wait for running tasks
					errorsChan <- ErrWorkerQuitAbruptly
					continue
				}

				log.WARNING.Print("Waiting for running tasks to finish before shutting down")
				quitting.Add(1)
				go func() {
					defer quitting.Done()
					worker.Quit()
					errorsChan <- ErrWorkerQuitGracefully
				}()
			}
		}
	}()
}

// Quit tears down the running worker process
func (worker *Worker) Quit() {
	worker.server.GetBroker().StopConsuming()
}

// Process handles received tasks and triggers success/error callbacks
func (worker *Worker) Process(signature *tasks.Signature) error {
	backend := worker.server.GetBackend()

	taskFunc, err := worker.server.GetRegisteredTask(signature.Name)
	if err != nil {
		return worker.taskFailed(signature, err)
	}

	// Update task state to RECEIVED
	if err = backend.SetStateReceived(signature); err != nil {
		return errors.Wrapf(err, "Set state to 'received' for task %s returned error", signature.UUID)
	}

	// Continue the producer's trace; Task.Call finishes the span
	taskSpan := tracing.StartSpanFromHeaders(signature.Headers, signature.Name)
	tracing.AnnotateSpanWithSignatureInfo(taskSpan, signature)
	ctx := opentracing.ContextWithSpan(context.Background(), taskSpan)

	// Prepare task for processing
	task, err := tasks.NewWithSignature(ctx, taskFunc, signature)
	// if this failed, it means the task is malformed, probably has invalid
	// signature, go directly to task failed
	if err != nil {
		taskSpan.SetTag("error", true)
		taskSpan.Finish()
		return worker.taskFailed(signature, err)
	}

	// Update task state to STARTED
	if err = backend.SetStateStarted(signature); err != nil {
		taskSpan.Finish()
		return errors.Wrapf(err, "Set state to 'started' for task %s returned error", signature.UUID)
	}

	// Executes pre task handler if one has been defined
	if worker.preTaskHandler != nil {
		worker.preTaskHandler(signature)
	}

	// Executes post task handler if one has been defined
	if worker.postTaskHandler != nil {
		defer worker.postTaskHandler(signature)
	}

	// Call the task
	results, err := task.Call()
	if err != nil {
		return worker.taskFailed(signature, err)
	}

	return worker.taskSucceeded(signature, results)
}

// taskSucceeded stores the typed results
func (worker *Worker) taskSucceeded(signature *tasks.Signature, results []tasks.Arg) error {
	if err := worker.server.GetBackend().SetStateSuccess(signature, results); err != nil {
		return errors.Wrapf(err, "Set state to 'success' for task %s returned error", signature.UUID)
	}

	log.DEBUG.Printf("Processed task %s. Results = %s", signature.UUID, tasks.FormatArgs(results))
	return nil
}

// taskFailed records the failure. The task error itself is reported through
// the result backend, so only backend errors are returned.
func (worker *Worker) taskFailed(signature *tasks.Signature, taskErr error) error {
	if err := worker.server.GetBackend().SetStateFailure(signature, taskErr.Error()); err != nil {
		return errors.Wrapf(err, "Set state to 'failure' for task %s returned error", signature.UUID)
	}

	if worker.errorHandler != nil {
		worker.errorHandler(taskErr)
	} else {
		log.ERROR.Printf("Failed processing task %s. Error = %v", signature.UUID, taskErr)
	}

	return nil
}

// SetErrorHandler sets a custom error handler for task errors.
// By default the error is logged
func (worker *Worker) SetErrorHandler(handler func(err error)) {
	worker.errorHandler = handler
}

// SetPreTaskHandler sets a custom handler func before a job is started
func (worker *Worker) SetPreTaskHandler(handler func(*tasks.Signature)) {
	worker.preTaskHandler = handler
}

// SetPostTaskHandler sets a custom handler for the end of a job
func (worker *Worker) SetPostTaskHandler(handler func(*tasks.Signature)) {
	worker.postTaskHandler = handler
}

// GetServer returns server
func (worker *Worker) GetServer() *Server {
	return worker.server
}

func (worker *Worker) String() string {
	return fmt.Sprintf("worker %s", worker.ConsumerTag)
}
