// Package combine implements the binary numeric combiner:
//
//	result = (a + b) + (a * b) + Offset
//
// Combine is the statically typed core. CombineArgs accepts dynamically typed
// tasks.Arg values and fails with tasks.ErrTypeMismatch when either one does
// not hold a float64. Task is the same computation in the shape expected by
// combiner.Server.RegisterTask.
package combine

import (
	"github.com/RichardKnop/combiner/tasks"
)

const (
	// Offset is the constant added to every combination
	Offset = 2.6548

	// TaskName is the name Task is registered under
	TaskName = "combine"
)

// Combine returns (a + b) + (a * b) + Offset
func Combine(a, b float64) float64 {
	sum := a + b
	product := a * b
	return sum + product + Offset
}

// CombineArgs extracts float64 values from a and b and combines them. The
// first extraction error is returned unchanged.
func CombineArgs(a, b tasks.Arg) (tasks.Arg, error) {
	av, err := tasks.Float64(a)
	if err != nil {
		return tasks.Arg{}, err
	}

	bv, err := tasks.Float64(b)
	if err != nil {
		return tasks.Arg{}, err
	}

	return tasks.NewFloat64Arg("", Combine(av, bv)), nil
}

// Task is Combine with the task func signature
func Task(a, b float64) (float64, error) {
	return Combine(a, b), nil
}

// Signature builds a task signature that combines a and b
func Signature(a, b tasks.Arg) (*tasks.Signature, error) {
	a.Name, b.Name = "a", "b"
	return tasks.NewSignature(TaskName, []tasks.Arg{a, b})
}
