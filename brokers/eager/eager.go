package eager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/RichardKnop/combiner/brokers/iface"
	"github.com/RichardKnop/combiner/common"
	"github.com/RichardKnop/combiner/config"
	"github.com/RichardKnop/combiner/tasks"
)

// ErrWorkerNotAssigned is returned by Publish before a worker is assigned
var ErrWorkerNotAssigned = errors.New("worker is not assigned in eager-mode")

// Broker represents an "eager" in-memory broker
type Broker struct {
	*common.Broker
	mu     sync.RWMutex
	worker iface.TaskProcessor
}

// New creates new Broker instance
func New(cnf *config.Config) iface.Broker {
	return &Broker{Broker: common.NewBroker(cnf)}
}

// Mode interface with methods specific for this broker
type Mode interface {
	AssignWorker(p iface.TaskProcessor)
}

// StartConsuming assigns the processor and waits for StopConsuming.
// Tasks run on the publisher's goroutine as soon as they are published.
func (eagerBroker *Broker) StartConsuming(consumerTag string, concurrency int, p iface.TaskProcessor) (bool, error) {
	eagerBroker.mu.Lock()
	select {
	case <-eagerBroker.Stopped():
		eagerBroker.worker = nil
	default:
		eagerBroker.worker = p
	}
	eagerBroker.mu.Unlock()

	<-eagerBroker.Stopped()
	return false, nil
}

// StopConsuming detaches the worker and releases StartConsuming
func (eagerBroker *Broker) StopConsuming() {
	eagerBroker.Broker.StopConsuming()
	eagerBroker.AssignWorker(nil)
}

// Publish runs the task on the assigned worker, on the caller's goroutine
func (eagerBroker *Broker) Publish(ctx context.Context, task *tasks.Signature) error {
	eagerBroker.mu.RLock()
	worker := eagerBroker.worker
	eagerBroker.mu.RUnlock()

	if worker == nil {
		return ErrWorkerNotAssigned
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// the task sees the same JSON round trip as on a remote broker
	message, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("JSON marshal error: %s", err)
	}

	signature, err := tasks.DecodeSignature(message)
	if err != nil {
		return fmt.Errorf("JSON unmarshal error: %s", err)
	}

	// blocking call to the task directly
	return worker.Process(signature)
}

// AssignWorker assigns a worker to the eager broker
func (eagerBroker *Broker) AssignWorker(w iface.TaskProcessor) {
	eagerBroker.mu.Lock()
	eagerBroker.worker = w
	eagerBroker.mu.Unlock()
}
