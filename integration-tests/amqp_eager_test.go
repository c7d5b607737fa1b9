package integration_test

import (
	"os"
	"testing"

	"github.com/RichardKnop/combiner/config"
)

func TestAmqpEager(t *testing.T) {
	amqpURL := os.Getenv("AMQP_URL")
	if amqpURL == "" {
		t.Skip("AMQP_URL is not defined")
	}

	cnf := config.NewDefault()
	cnf.Broker = amqpURL
	cnf.DefaultQueue = "combiner_integration_tasks"
	cnf.AMQP.Exchange = "combiner_integration_exchange"
	cnf.AMQP.BindingKey = "combiner_integration_tasks"

	server, worker := testSetup(cnf)
	defer worker.Quit()

	testAll(server, t)
}

func TestAmqpRedis(t *testing.T) {
	amqpURL := os.Getenv("AMQP_URL")
	if amqpURL == "" {
		t.Skip("AMQP_URL is not defined")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL is not defined")
	}

	cnf := config.NewDefault()
	cnf.Broker = amqpURL
	cnf.DefaultQueue = "combiner_integration_tasks"
	cnf.ResultBackend = "redis://" + redisURL
	cnf.AMQP.Exchange = "combiner_integration_exchange"
	cnf.AMQP.BindingKey = "combiner_integration_tasks"

	server, worker := testSetup(cnf)
	defer worker.Quit()

	testAll(server, t)
}
