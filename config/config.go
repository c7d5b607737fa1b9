package config

import (
	"crypto/tls"
	"time"

	dynamodbiface "github.com/RichardKnop/combiner/backends/iface/dynamodb"
	sqsiface "github.com/RichardKnop/combiner/brokers/iface/sqs"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	// DefaultResultsExpireIn is a default time used to expire task states from the backend
	DefaultResultsExpireIn = 3600
	// DefaultResultPollPeriod is how often (in milliseconds) a pending result is polled
	DefaultResultPollPeriod = 50
	// DefaultResultTimeout is how long (in seconds) a caller waits for a result
	DefaultResultTimeout = 30
	// DefaultQueue is the queue remote brokers publish to and consume from
	DefaultQueue = "combiner_tasks"
)

// Config holds all configuration for our program
type Config struct {
	Broker                  string          `yaml:"broker" envconfig:"BROKER"`
	MultipleBrokerSeparator string          `yaml:"multiple_broker_separator" envconfig:"MULTIPLE_BROKER_SEPARATOR"`
	DefaultQueue            string          `yaml:"default_queue" envconfig:"DEFAULT_QUEUE"`
	ResultBackend           string          `yaml:"result_backend" envconfig:"RESULT_BACKEND"`
	ResultsExpireIn         int             `yaml:"results_expire_in" envconfig:"RESULTS_EXPIRE_IN"`
	AMQP                    *AMQPConfig     `yaml:"amqp"`
	SQS                     *SQSConfig      `yaml:"sqs"`
	Redis                   *RedisConfig    `yaml:"redis"`
	DynamoDB                *DynamoDBConfig `yaml:"dynamodb"`
	MongoDB                 *MongoDBConfig  `yaml:"-" ignored:"true"`
	Combine                 *CombineConfig  `yaml:"combine"`
	TLSConfig               *tls.Config     `yaml:"-" ignored:"true"`
	// NoUnixSignals when set disables signal handling in workers
	NoUnixSignals bool `yaml:"no_unix_signals" envconfig:"NO_UNIX_SIGNALS"`
}

// AMQPConfig wraps RabbitMQ related configuration
type AMQPConfig struct {
	Exchange      string `yaml:"exchange" envconfig:"EXCHANGE"`
	ExchangeType  string `yaml:"exchange_type" envconfig:"EXCHANGE_TYPE"`
	BindingKey    string `yaml:"binding_key" envconfig:"BINDING_KEY"`
	PrefetchCount int    `yaml:"prefetch_count" envconfig:"PREFETCH_COUNT"`
}

// SQSConfig wraps SQS related configuration
type SQSConfig struct {
	Client          sqsiface.API `yaml:"-" ignored:"true"`
	WaitTimeSeconds int          `yaml:"receive_wait_time_seconds" envconfig:"WAIT_TIME_SECONDS"`
	// https://docs.aws.amazon.com/AWSSimpleQueueService/latest/SQSDeveloperGuide/sqs-visibility-timeout.html
	// visibility timeout should default to nil to use the overall visibility timeout for the queue
	VisibilityTimeout *int `yaml:"receive_visibility_timeout" envconfig:"VISIBILITY_TIMEOUT"`
	// VisibilityHeartBeat keeps extending the visibility timeout of a message while its task runs
	VisibilityHeartBeat bool `yaml:"visibility_heartbeat" envconfig:"VISIBILITY_HEARTBEAT"`
}

// RedisConfig tunes the go-redis client of the Redis result backend
type RedisConfig struct {
	// Maximum number of socket connections per node. 0 leaves the
	// go-redis default of 10 per CPU.
	PoolSize int `yaml:"pool_size" envconfig:"POOL_SIZE"`

	// Minimum number of idle connections kept open.
	// Default: 2
	MinIdleConns int `yaml:"min_idle_conns" envconfig:"MIN_IDLE_CONNS"`

	// Close connections after remaining idle for this duration in seconds.
	// Default: 300
	IdleTimeout int `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`

	// Timeouts in seconds for reading a reply, writing a command and connecting.
	// Default: 15
	ReadTimeout    int `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout   int `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	ConnectTimeout int `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`

	// MasterName specifies a redis master name in order to configure a sentinel-backed redis FailoverClient
	MasterName string `yaml:"master_name" envconfig:"MASTER_NAME"`
}

// DynamoDBConfig wraps DynamoDB related configuration
type DynamoDBConfig struct {
	Client          dynamodbiface.API `yaml:"-" ignored:"true"`
	TaskStatesTable string            `yaml:"task_states_table" envconfig:"TASK_STATES_TABLE"`
}

// MongoDBConfig ...
type MongoDBConfig struct {
	Client   *mongo.Client
	Database string
}

// CombineConfig controls how callers wait for combine results
type CombineConfig struct {
	// ResultPollPeriod in milliseconds
	ResultPollPeriod int `yaml:"result_poll_period" envconfig:"RESULT_POLL_PERIOD"`
	// ResultTimeout in seconds
	ResultTimeout int `yaml:"result_timeout" envconfig:"RESULT_TIMEOUT"`
}

// PollPeriod returns the result poll period as a duration
func (c *CombineConfig) PollPeriod() time.Duration {
	if c == nil || c.ResultPollPeriod <= 0 {
		return DefaultResultPollPeriod * time.Millisecond
	}
	return time.Duration(c.ResultPollPeriod) * time.Millisecond
}

// Timeout returns the result timeout as a duration
func (c *CombineConfig) Timeout() time.Duration {
	if c == nil || c.ResultTimeout <= 0 {
		return DefaultResultTimeout * time.Second
	}
	return time.Duration(c.ResultTimeout) * time.Second
}

// newDefaultConfig starts with sensible default values. A fresh value is
// built on every call so loaders never mutate shared nested structs.
func newDefaultConfig() *Config {
	return &Config{
		Broker:          "eager",
		DefaultQueue:    DefaultQueue,
		ResultBackend:   "eager",
		ResultsExpireIn: DefaultResultsExpireIn,
		AMQP: &AMQPConfig{
			Exchange:      "combiner_exchange",
			ExchangeType:  "direct",
			BindingKey:    DefaultQueue,
			PrefetchCount: 3,
		},
		SQS: &SQSConfig{
			WaitTimeSeconds: 20,
		},
		Redis: &RedisConfig{
			MinIdleConns:   2,
			IdleTimeout:    300,
			ReadTimeout:    15,
			WriteTimeout:   15,
			ConnectTimeout: 15,
		},
		DynamoDB: &DynamoDBConfig{
			TaskStatesTable: "task_states",
		},
		Combine: &CombineConfig{
			ResultPollPeriod: DefaultResultPollPeriod,
			ResultTimeout:    DefaultResultTimeout,
		},
	}
}

// NewDefault returns the default configuration: in-process broker and
// in-memory result backend
func NewDefault() *Config {
	return newDefaultConfig()
}
