package common

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/RichardKnop/combiner/backends/iface"
	"github.com/RichardKnop/combiner/config"
	"github.com/RichardKnop/combiner/tasks"
)

// Backend moves task states through their lifecycle and keeps them in a
// Store as JSON. It implements iface.Backend for every store.
type Backend struct {
	cnf   *config.Config
	store iface.Store
}

// NewBackend creates a Backend writing to store
func NewBackend(cnf *config.Config, store iface.Store) *Backend {
	if cnf == nil {
		cnf = new(config.Config)
	}
	return &Backend{cnf: cnf, store: store}
}

// GetConfig returns config
func (b *Backend) GetConfig() *config.Config {
	return b.cnf
}

// Store returns the store states are kept in
func (b *Backend) Store() iface.Store {
	return b.store
}

// ResultsExpireIn returns how long task states are kept, falling back to
// config.DefaultResultsExpireIn
func (b *Backend) ResultsExpireIn() time.Duration {
	expiresIn := config.DefaultResultsExpireIn
	if b.cnf.ResultsExpireIn > 0 {
		expiresIn = b.cnf.ResultsExpireIn
	}
	return time.Duration(expiresIn) * time.Second
}

// SetStatePending records a freshly sent task
func (b *Backend) SetStatePending(signature *tasks.Signature) error {
	return b.put(tasks.NewTaskState(signature, tasks.StatePending))
}

// SetStateReceived updates task state to RECEIVED
func (b *Backend) SetStateReceived(signature *tasks.Signature) error {
	return b.transition(signature, tasks.StateReceived, nil)
}

// SetStateStarted updates task state to STARTED
func (b *Backend) SetStateStarted(signature *tasks.Signature) error {
	return b.transition(signature, tasks.StateStarted, nil)
}

// SetStateSuccess updates task state to SUCCESS with the task's results
func (b *Backend) SetStateSuccess(signature *tasks.Signature, results []tasks.Arg) error {
	return b.transition(signature, tasks.StateSuccess, func(state *tasks.TaskState) {
		state.Results = results
	})
}

// SetStateFailure updates task state to FAILURE with the task's error
func (b *Backend) SetStateFailure(signature *tasks.Signature, err string) error {
	return b.transition(signature, tasks.StateFailure, func(state *tasks.TaskState) {
		state.Error = err
	})
}

// GetState reads a task state back. Results are decoded to the Go types
// their tags name, so a float64 result is a float64 again and not a
// json.Number; a result that does not decode is an error.
func (b *Backend) GetState(taskUUID string) (*tasks.TaskState, error) {
	data, err := b.store.Get(context.Background(), taskUUID)
	if err != nil {
		return nil, err
	}

	state := new(tasks.TaskState)
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(state); err != nil {
		return nil, errors.Wrapf(err, "Failed to unmarshal task state %s", taskUUID)
	}

	for i, result := range state.Results {
		value, err := tasks.Value(result)
		if err != nil {
			return nil, errors.Wrapf(err, "Stored result %d of task %s", i, taskUUID)
		}
		state.Results[i].Value = value
	}

	return state, nil
}

// PurgeState deletes stored task state
func (b *Backend) PurgeState(taskUUID string) error {
	return b.store.Delete(context.Background(), taskUUID)
}

// transition writes the next state of a task. The name and creation time
// recorded when the task was sent are kept.
func (b *Backend) transition(signature *tasks.Signature, next string, update func(*tasks.TaskState)) error {
	state := tasks.NewTaskState(signature, next)

	stored, err := b.GetState(signature.UUID)
	switch {
	case err == nil:
		state.TaskName = stored.TaskName
		state.CreatedAt = stored.CreatedAt
	case errors.Is(err, iface.ErrStateNotFound):
	default:
		return err
	}

	if update != nil {
		update(state)
	}
	return b.put(state)
}

func (b *Backend) put(state *tasks.TaskState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrapf(err, "Marshal task state %s error", state.TaskUUID)
	}
	return b.store.Put(context.Background(), state.TaskUUID, data, b.ResultsExpireIn())
}
