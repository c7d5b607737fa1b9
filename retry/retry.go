package retry

import (
	"time"

	"github.com/RichardKnop/combiner/log"
)

// Closure returns a function to call before every broker connection attempt.
// The first call returns at once, later calls wait a growing number of
// seconds along the Fibonacci sequence. A closed or signalled stopChan cuts
// a wait short.
var Closure = func() func(chan int) {
	return closure(time.Second)
}

func closure(unit time.Duration) func(chan int) {
	retryIn := 0
	seq := newSequence(maxRetryIn)
	return func(stopChan chan int) {
		if retryIn > 0 {
			log.WARNING.Printf("Retrying in %v seconds", retryIn)

			select {
			case <-stopChan:
			case <-time.After(time.Duration(retryIn) * unit):
			}
		}
		retryIn = seq.step()
	}
}
