package combiner

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	dynamobackend "github.com/RichardKnop/combiner/backends/dynamodb"
	eagerbackend "github.com/RichardKnop/combiner/backends/eager"
	backendiface "github.com/RichardKnop/combiner/backends/iface"
	memcachebackend "github.com/RichardKnop/combiner/backends/memcache"
	mongobackend "github.com/RichardKnop/combiner/backends/mongo"
	redisbackend "github.com/RichardKnop/combiner/backends/redis"
	amqpbroker "github.com/RichardKnop/combiner/brokers/amqp"
	eagerbroker "github.com/RichardKnop/combiner/brokers/eager"
	brokeriface "github.com/RichardKnop/combiner/brokers/iface"
	sqsbroker "github.com/RichardKnop/combiner/brokers/sqs"
	"github.com/RichardKnop/combiner/config"
)

// brokerKinds picks a broker by URL prefix. Each constructor parses its own
// URL.
var brokerKinds = []struct {
	name     string
	prefixes []string
	create   func(*config.Config) (brokeriface.Broker, error)
}{
	{
		name:     "eager",
		prefixes: []string{"eager"},
		create: func(cnf *config.Config) (brokeriface.Broker, error) {
			return eagerbroker.New(cnf), nil
		},
	},
	{
		name:     "AMQP",
		prefixes: []string{"amqp://", "amqps://"},
		create: func(cnf *config.Config) (brokeriface.Broker, error) {
			return amqpbroker.New(cnf), nil
		},
	},
	{
		name:     "SQS",
		prefixes: []string{"https://sqs"},
		create:   sqsbroker.New,
	},
}

// backendKinds picks a result backend by URL prefix
var backendKinds = []struct {
	name     string
	prefixes []string
	create   func(*config.Config) (backendiface.Backend, error)
}{
	{
		name:     "eager",
		prefixes: []string{"eager"},
		create: func(cnf *config.Config) (backendiface.Backend, error) {
			return eagerbackend.New(cnf), nil
		},
	},
	{
		name:     "Redis",
		prefixes: []string{"redis://", "rediss://", "unix://"},
		create:   redisbackend.New,
	},
	{
		name:     "Memcache",
		prefixes: []string{"memcache://"},
		create:   memcachebackend.New,
	},
	{
		name:     "MongoDB",
		prefixes: []string{"mongodb://", "mongodb+srv://"},
		create:   mongobackend.New,
	},
	{
		name:     "DynamoDB",
		prefixes: []string{"https://dynamodb"},
		create:   dynamobackend.New,
	},
}

// BrokerFactory creates the broker cnf.Broker names: eager, amqp://,
// amqps:// or an https://sqs queue URL prefix
func BrokerFactory(cnf *config.Config) (brokeriface.Broker, error) {
	for _, kind := range brokerKinds {
		if !hasAnyPrefix(cnf.Broker, kind.prefixes) {
			continue
		}
		broker, err := kind.create(cnf)
		if err != nil {
			return nil, errors.Wrapf(err, "%s broker error", kind.name)
		}
		return broker, nil
	}
	return nil, fmt.Errorf("Factory failed with broker URL: %v", cnf.Broker)
}

// BackendFactory creates the result backend cnf.ResultBackend names: eager,
// redis://, rediss://, unix://, memcache://, mongodb://, mongodb+srv:// or
// an https://dynamodb endpoint
func BackendFactory(cnf *config.Config) (backendiface.Backend, error) {
	for _, kind := range backendKinds {
		if !hasAnyPrefix(cnf.ResultBackend, kind.prefixes) {
			continue
		}
		backend, err := kind.create(cnf)
		if err != nil {
			return nil, errors.Wrapf(err, "%s result backend error", kind.name)
		}
		return backend, nil
	}
	return nil, fmt.Errorf("Factory failed with result backend: %v", cnf.ResultBackend)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
