package tasks

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Tags an Arg may carry. The tag names the Go type of the payload.
const (
	TagFloat64 = "float64"
	TagInt64   = "int64"
	TagString  = "string"
	TagBool    = "bool"
)

// decoders turn a payload into the Go value its tag names. A payload that
// went through a JSON round trip arrives as json.Number, never as a float64
// or int64, so numeric decoders accept both forms.
var decoders = map[string]func(payload interface{}) (interface{}, bool){
	TagFloat64: func(payload interface{}) (interface{}, bool) {
		switch v := payload.(type) {
		case float64:
			return v, true
		case json.Number:
			f, err := v.Float64()
			return f, err == nil
		}
		return nil, false
	},
	TagInt64: func(payload interface{}) (interface{}, bool) {
		switch v := payload.(type) {
		case int64:
			return v, true
		case json.Number:
			i, err := v.Int64()
			return i, err == nil
		}
		return nil, false
	},
	TagString: func(payload interface{}) (interface{}, bool) {
		s, ok := payload.(string)
		return s, ok
	},
	TagBool: func(payload interface{}) (interface{}, bool) {
		b, ok := payload.(bool)
		return b, ok
	},
}

// ErrUnsupportedType is returned for an Arg whose tag has no decoder
type ErrUnsupportedType struct {
	valueType string
}

// NewErrUnsupportedType returns new ErrUnsupportedType
func NewErrUnsupportedType(valueType string) ErrUnsupportedType {
	return ErrUnsupportedType{valueType}
}

// Error implements the error interface
func (e ErrUnsupportedType) Error() string {
	return fmt.Sprintf("%v is not one of supported types", e.valueType)
}

// ErrTypeMismatch is returned when a dynamic value does not hold the
// requested type. Values are never coerced between types.
type ErrTypeMismatch struct {
	Value    interface{}
	Expected string
}

// NewErrTypeMismatch returns new ErrTypeMismatch
func NewErrTypeMismatch(value interface{}, expected string) ErrTypeMismatch {
	return ErrTypeMismatch{Value: value, Expected: expected}
}

// Error implements the error interface
func (e ErrTypeMismatch) Error() string {
	return fmt.Sprintf("type mismatch: %v (%T) is not %v", e.Value, e.Value, e.Expected)
}

// Value returns the payload of arg as the Go type its tag names
func Value(arg Arg) (interface{}, error) {
	decode, ok := decoders[arg.Type]
	if !ok {
		return nil, NewErrUnsupportedType(arg.Type)
	}

	value, ok := decode(arg.Value)
	if !ok {
		return nil, NewErrTypeMismatch(arg.Value, arg.Type)
	}
	return value, nil
}

// Float64 extracts a double from a dynamic value. The tag must be "float64"
// and the payload either a float64 or a json.Number, which is how a float64
// comes back from a JSON round trip.
func Float64(arg Arg) (float64, error) {
	if arg.Type != TagFloat64 {
		return 0, NewErrTypeMismatch(arg.Value, TagFloat64)
	}

	value, err := Value(arg)
	if err != nil {
		return 0, err
	}
	return value.(float64), nil
}

// Float64Result reads the single float64 a task such as combine returns.
// Anything else stored as its result is a mismatch.
func Float64Result(results []Arg) (float64, error) {
	if len(results) != 1 {
		return 0, fmt.Errorf("expected a single result, got %d", len(results))
	}
	return Float64(results[0])
}

// NewArg tags a Go value returned by a task func
func NewArg(value interface{}) (Arg, error) {
	if value == nil {
		return Arg{}, NewErrUnsupportedType("nil")
	}

	tag := reflect.TypeOf(value).String()
	if _, ok := decoders[tag]; !ok {
		return Arg{}, NewErrUnsupportedType(tag)
	}
	return Arg{Type: tag, Value: value}, nil
}

// FormatArgs renders values for log lines
func FormatArgs(args []Arg) string {
	values := make([]interface{}, len(args))
	for i, arg := range args {
		values[i] = arg.Value
	}
	if len(values) == 1 {
		return fmt.Sprint(values[0])
	}
	return fmt.Sprint(values)
}
