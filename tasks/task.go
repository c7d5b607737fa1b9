package tasks

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"

	"github.com/opentracing/opentracing-go"

	"github.com/RichardKnop/combiner/log"
)

var (
	// ErrTaskMustBeFunc ...
	ErrTaskMustBeFunc = errors.New("Task must be a func type")
	// ErrTaskReturnsNoValue ...
	ErrTaskReturnsNoValue = errors.New("Task must return at least a single value")
	// ErrLastReturnValueMustBeError ...
	ErrLastReturnValueMustBeError = errors.New("Last return value of a task must be error")
	// ErrTaskPanicked is reported for a panic that carried neither an error nor a string
	ErrTaskPanicked = errors.New("Invoking task caused a panic")

	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

type signatureKey struct{}

// SignatureFromContext returns the signature a task was invoked for
func SignatureFromContext(ctx context.Context) *Signature {
	if ctx == nil {
		return nil
	}
	signature, _ := ctx.Value(signatureKey{}).(*Signature)
	return signature
}

// ValidateTask makes sure fn can be registered as a task: a func whose last
// return value is an error, returning at least that
func ValidateTask(fn interface{}) error {
	if fn == nil {
		return ErrTaskMustBeFunc
	}

	fnType := reflect.TypeOf(fn)
	switch {
	case fnType.Kind() != reflect.Func:
		return ErrTaskMustBeFunc
	case fnType.NumOut() == 0:
		return ErrTaskReturnsNoValue
	case !fnType.Out(fnType.NumOut() - 1).Implements(errorType):
		return ErrLastReturnValueMustBeError
	}
	return nil
}

// Task is a task func bound to decoded arguments, ready to be called
type Task struct {
	fn         reflect.Value
	ctx        context.Context
	args       []reflect.Value
	UseContext bool
}

// New binds args to fn. Every Arg must decode to exactly the type of the
// matching parameter.
func New(fn interface{}, args []Arg) (*Task, error) {
	return newTask(context.Background(), fn, args)
}

// NewWithSignature binds the signature's args to fn. A func taking a
// context.Context first gets ctx, from which the signature can be read back.
func NewWithSignature(ctx context.Context, fn interface{}, signature *Signature) (*Task, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return newTask(context.WithValue(ctx, signatureKey{}, signature), fn, signature.Args)
}

func newTask(ctx context.Context, fn interface{}, args []Arg) (*Task, error) {
	if err := ValidateTask(fn); err != nil {
		return nil, err
	}

	fnType := reflect.TypeOf(fn)
	task := &Task{
		fn:         reflect.ValueOf(fn),
		ctx:        ctx,
		UseContext: fnType.NumIn() > 0 && fnType.In(0) == contextType,
	}

	params := make([]reflect.Type, 0, fnType.NumIn())
	for i := 0; i < fnType.NumIn(); i++ {
		params = append(params, fnType.In(i))
	}
	if task.UseContext {
		params = params[1:]
	}

	if len(params) != len(args) {
		return nil, fmt.Errorf("Task expects %d arguments, got %d", len(params), len(args))
	}

	task.args = make([]reflect.Value, len(args))
	for i, arg := range args {
		value, err := Value(arg)
		if err != nil {
			// no decoded value matches a parameter when the tag is unknown
			// or the payload disagrees with it
			return nil, NewErrTypeMismatch(arg.Value, params[i].String())
		}

		argValue := reflect.ValueOf(value)
		if argValue.Type() != params[i] {
			return nil, NewErrTypeMismatch(arg.Value, params[i].String())
		}
		task.args[i] = argValue
	}

	return task, nil
}

// Call invokes the task. The error is the one the task returned, or the
// value it panicked with.
func (t *Task) Call() (results []Arg, err error) {
	span := opentracing.SpanFromContext(t.ctx)
	if span != nil {
		defer span.Finish()
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		switch r := r.(type) {
		case error:
			err = r
		case string:
			err = errors.New(r)
		default:
			err = ErrTaskPanicked
		}
		results = nil

		stack := debug.Stack()
		if span != nil {
			span.SetTag("error", true)
			span.LogKV("error.message", err.Error(), "stack", string(stack))
		}
		log.ERROR.Printf("%v stack: %s", err, stack)
	}()

	in := t.args
	if t.UseContext {
		in = append([]reflect.Value{reflect.ValueOf(t.ctx)}, in...)
	}

	out := t.fn.Call(in)

	last := out[len(out)-1]
	if !last.IsNil() {
		return nil, last.Interface().(error)
	}

	results = make([]Arg, 0, len(out)-1)
	for _, value := range out[:len(out)-1] {
		arg, err := NewArg(value.Interface())
		if err != nil {
			return nil, err
		}
		results = append(results, arg)
	}
	return results, nil
}
