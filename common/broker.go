package common

import (
	"sync"

	"github.com/RichardKnop/combiner/config"
	"github.com/RichardKnop/combiner/log"
	"github.com/RichardKnop/combiner/retry"
)

// Broker holds the state every broker shares: the config, the task names
// this worker accepts and the stop signal
type Broker struct {
	cnf *config.Config

	mu    sync.RWMutex
	names map[string]struct{}

	backoff  func(chan int)
	stopChan chan int
	stopOnce sync.Once
}

// NewBroker creates new Broker instance
func NewBroker(cnf *config.Config) *Broker {
	return &Broker{
		cnf:      cnf,
		names:    make(map[string]struct{}),
		backoff:  retry.Closure(),
		stopChan: make(chan int),
	}
}

// GetConfig returns config
func (b *Broker) GetConfig() *config.Config {
	return b.cnf
}

// SetRegisteredTaskNames replaces the accepted task names
func (b *Broker) SetRegisteredTaskNames(names []string) {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}

	b.mu.Lock()
	b.names = set
	b.mu.Unlock()
}

// IsTaskRegistered returns true if the task is registered with this broker
func (b *Broker) IsTaskRegistered(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.names[name]
	return ok
}

// Stopped is closed by StopConsuming
func (b *Broker) Stopped() chan int {
	return b.stopChan
}

// Retry reports whether a consumer that returned should be started again.
// It turns false for good once StopConsuming is called.
func (b *Broker) Retry() bool {
	select {
	case <-b.stopChan:
		return false
	default:
		return true
	}
}

// Backoff waits before the next connection attempt. A stop cuts the wait
// short.
func (b *Broker) Backoff() {
	b.backoff(b.stopChan)
}

// StopConsuming closes the stop channel. Later calls do nothing.
func (b *Broker) StopConsuming() {
	b.stopOnce.Do(func() {
		log.WARNING.Print("Stopping consumer")
		close(b.stopChan)
	})
}
