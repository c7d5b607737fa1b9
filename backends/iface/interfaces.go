package iface

import (
	"context"
	"errors"
	"time"

	"github.com/RichardKnop/combiner/tasks"
)

// ErrStateNotFound is returned by Store.Get for a key that was never written,
// was purged or has expired
var ErrStateNotFound = errors.New("task state not found")

// Backend - a common interface for all result backends
type Backend interface {
	// Setting / getting task state
	SetStatePending(signature *tasks.Signature) error
	SetStateReceived(signature *tasks.Signature) error
	SetStateStarted(signature *tasks.Signature) error
	SetStateSuccess(signature *tasks.Signature, results []tasks.Arg) error
	SetStateFailure(signature *tasks.Signature, err string) error
	GetState(taskUUID string) (*tasks.TaskState, error)

	// Purging stored task states
	PurgeState(taskUUID string) error
}

// Store keeps encoded task states by key. Each result backend is a Store
// for one kind of database; the state transitions live in common.Backend.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
