package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Arg is a dynamically typed value passed to a task. Type tags the value
// ("float64", "int64", "string", ...) and Value holds the payload.
type Arg struct {
	Name  string      `json:"name,omitempty" bson:"name"`
	Type  string      `json:"type,omitempty" bson:"type"`
	Value interface{} `json:"value,omitempty" bson:"value"`
}

// NewFloat64Arg tags a float64 payload
func NewFloat64Arg(name string, value float64) Arg {
	return Arg{Name: name, Type: TagFloat64, Value: value}
}

// Headers represents the headers which should be used to direct the task
type Headers map[string]interface{}

// Set on Headers implements opentracing.TextMapWriter for trace propagation
func (h Headers) Set(key, val string) {
	h[key] = val
}

// ForeachKey on Headers implements opentracing.TextMapReader for trace propagation.
// Non string values are skipped.
func (h Headers) ForeachKey(handler func(key, val string) error) error {
	for k, v := range h {
		stringValue, ok := v.(string)
		if !ok {
			continue
		}

		if err := handler(k, stringValue); err != nil {
			return err
		}
	}

	return nil
}

// Signature represents a single task invocation
type Signature struct {
	UUID       string     `json:"UUID,omitempty"`
	Name       string     `json:"name,omitempty"`
	RoutingKey string     `json:"routingKey,omitempty"`
	Args       []Arg      `json:"args,omitempty"`
	Headers    Headers    `json:"headers,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
}

// NewSignature creates a new task signature
func NewSignature(name string, args []Arg) (*Signature, error) {
	signatureID := uuid.New().String()
	now := time.Now().UTC()
	return &Signature{
		UUID:      fmt.Sprintf("task_%v", signatureID),
		Name:      name,
		Args:      args,
		CreatedAt: &now,
	}, nil
}

// DecodeSignature reads a signature from a message body. Numbers in args
// are kept as json.Number so Value can tell integers from floats.
func DecodeSignature(body []byte) (*Signature, error) {
	signature := new(Signature)
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(signature); err != nil {
		return nil, err
	}
	return signature, nil
}
