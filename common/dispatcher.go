package common

import (
	"sync"

	"github.com/RichardKnop/combiner/log"
)

// Dispatcher runs deliveries on at most a fixed number of goroutines and
// keeps the first error they return
type Dispatcher struct {
	slots  chan struct{}
	wg     sync.WaitGroup
	errors chan error
}

// NewDispatcher allows concurrency deliveries in flight at once. Zero or
// less means no limit.
func NewDispatcher(concurrency int) *Dispatcher {
	d := &Dispatcher{errors: make(chan error, 1)}
	if concurrency > 0 {
		d.slots = make(chan struct{}, concurrency)
	}
	return d
}

// Acquire blocks until a slot is free. It returns false if stop closes
// first.
func (d *Dispatcher) Acquire(stop <-chan int) bool {
	if d.slots == nil {
		return true
	}
	select {
	case d.slots <- struct{}{}:
		return true
	case <-stop:
		return false
	}
}

// Release frees a slot taken with Acquire
func (d *Dispatcher) Release() {
	if d.slots != nil {
		<-d.slots
	}
}

// Go runs fn on its own goroutine and frees the caller's slot when fn
// returns. Errors beyond the first unread one are only logged.
func (d *Dispatcher) Go(fn func() error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.Release()

		if err := fn(); err != nil {
			select {
			case d.errors <- err:
			default:
				log.ERROR.Print(err)
			}
		}
	}()
}

// Errors delivers errors returned by deliveries
func (d *Dispatcher) Errors() <-chan error {
	return d.errors
}

// Wait blocks until every delivery started with Go has returned
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
