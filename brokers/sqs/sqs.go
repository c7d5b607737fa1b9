package sqs

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pkg/errors"

	"github.com/RichardKnop/combiner/brokers/errs"
	"github.com/RichardKnop/combiner/brokers/iface"
	sqsiface "github.com/RichardKnop/combiner/brokers/iface/sqs"
	"github.com/RichardKnop/combiner/common"
	"github.com/RichardKnop/combiner/config"
	"github.com/RichardKnop/combiner/log"
	"github.com/RichardKnop/combiner/tasks"
)

// how long the receiver backs off after a failed ReceiveMessage call
var receiveErrorBackoff = time.Second

// ErrNoReceiptHandle is returned when deleting a message without a receipt
// handle
var ErrNoReceiptHandle = errors.New("message has no receipt handle")

// Broker consumes and publishes through AWS SQS. Queue URLs are the broker
// URL joined with the queue name.
type Broker struct {
	*common.Broker
	service   sqsiface.API
	consuming sync.WaitGroup
}

// New creates new Broker instance
func New(cnf *config.Config) (iface.Broker, error) {
	if cnf.SQS == nil {
		cnf.SQS = new(config.SQSConfig)
	}

	b := &Broker{Broker: common.NewBroker(cnf), service: cnf.SQS.Client}
	if b.service == nil {
		awsCnf, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, errors.Wrap(err, "Load AWS config error")
		}
		b.service = sqs.NewFromConfig(awsCnf)
	}
	return b, nil
}

// StartConsuming receives from the default queue until StopConsuming is
// called or a task fails
func (b *Broker) StartConsuming(consumerTag string, concurrency int, taskProcessor iface.TaskProcessor) (bool, error) {
	b.consuming.Add(1)
	defer b.consuming.Done()

	// every receive holds a slot, so at least one is needed
	if concurrency < 1 {
		concurrency = 1
	}
	dispatcher := common.NewDispatcher(concurrency)
	messages := make(chan types.Message, concurrency)

	// both end the receiver once consume returns; cancelling ctx also cuts
	// a long poll in flight short
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan int)

	var receiving sync.WaitGroup
	receiving.Add(1)
	go func() {
		defer receiving.Done()
		b.receive(ctx, quit, dispatcher, messages)
	}()

	err := b.consume(messages, dispatcher, taskProcessor)

	close(quit)
	cancel()
	receiving.Wait()
	dispatcher.Wait()
	return b.Retry(), err
}

// StopConsuming quits the loop and waits for running tasks
func (b *Broker) StopConsuming() {
	b.Broker.StopConsuming()
	b.consuming.Wait()
}

// Publish sends the signature to the queue named by its routing key
func (b *Broker) Publish(ctx context.Context, signature *tasks.Signature) error {
	if signature.RoutingKey == "" {
		signature.RoutingKey = b.GetConfig().DefaultQueue
	}

	body, err := json.Marshal(signature)
	if err != nil {
		return errors.Wrap(err, "JSON marshal error")
	}

	out, err := b.service.SendMessage(ctx, &sqs.SendMessageInput{
		MessageBody: aws.String(string(body)),
		QueueUrl:    b.queueURL(signature.RoutingKey),
	})
	if err != nil {
		log.ERROR.Printf("Error when sending a message: %v", err)
		return err
	}

	log.DEBUG.Printf("Sent message %s for task %s", aws.ToString(out.MessageId), signature.UUID)
	return nil
}

// receive long polls the default queue, one message per free slot, until
// quit closes. A received message keeps its slot, so messages never holds
// more than the dispatcher allows.
func (b *Broker) receive(ctx context.Context, quit <-chan int, dispatcher *common.Dispatcher, messages chan<- types.Message) {
	qURL := b.queueURL(b.GetConfig().DefaultQueue)
	log.INFO.Printf("[*] Waiting for messages on queue: %s. To exit press CTRL+C", aws.ToString(qURL))

	for dispatcher.Acquire(quit) {
		if ctx.Err() != nil {
			dispatcher.Release()
			return
		}

		out, err := b.service.ReceiveMessage(ctx, b.receiveInput(qURL))
		if err == nil && len(out.Messages) > 0 {
			messages <- out.Messages[0]
			continue
		}
		dispatcher.Release()

		if err != nil && ctx.Err() == nil {
			log.ERROR.Printf("Queue consume error: %s", err)
			select {
			case <-ctx.Done():
			case <-time.After(receiveErrorBackoff):
			}
		}
	}
}

// consume runs received messages until a stop or the first task error
func (b *Broker) consume(messages <-chan types.Message, dispatcher *common.Dispatcher, taskProcessor iface.TaskProcessor) error {
	for {
		select {
		case err := <-dispatcher.Errors():
			return err
		case message := <-messages:
			dispatcher.Go(func() error {
				return b.consumeOne(message, taskProcessor)
			})
		case <-b.Stopped():
			return nil
		}
	}
}

// consumeOne runs a message and deletes it once the task is processed.
// Undecodable messages are deleted straight away; unknown tasks are left
// for other workers.
func (b *Broker) consumeOne(message types.Message, taskProcessor iface.TaskProcessor) error {
	body := aws.ToString(message.Body)
	if body == "" {
		return errs.ErrEmptyMessage
	}

	if b.heartbeatEnabled() {
		done := make(chan struct{})
		defer close(done)
		go b.visibilityHeartbeat(message, done)
	}

	signature, err := tasks.DecodeSignature([]byte(body))
	if err != nil {
		if delErr := b.deleteOne(message); delErr != nil {
			log.ERROR.Printf("Deleting message %s: %v", aws.ToString(message.MessageId), delErr)
		}
		return errs.NewErrCouldNotUnmarshalTaskSignature([]byte(body), err)
	}

	if !b.IsTaskRegistered(signature.Name) {
		log.INFO.Printf("Task %s is not registered with this worker, leaving it in the queue", signature.Name)
		return nil
	}

	if err := taskProcessor.Process(signature); err != nil {
		return err
	}

	if err := b.deleteOne(message); err != nil {
		return errors.Wrapf(err, "Deleting message %s", aws.ToString(message.MessageId))
	}
	return nil
}

func (b *Broker) deleteOne(message types.Message) error {
	if message.ReceiptHandle == nil {
		return ErrNoReceiptHandle
	}

	_, err := b.service.DeleteMessage(context.Background(), &sqs.DeleteMessageInput{
		QueueUrl:      b.queueURL(b.GetConfig().DefaultQueue),
		ReceiptHandle: message.ReceiptHandle,
	})
	return err
}

func (b *Broker) receiveInput(qURL *string) *sqs.ReceiveMessageInput {
	cnf := b.GetConfig().SQS

	input := &sqs.ReceiveMessageInput{
		QueueUrl:            qURL,
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     int32(cnf.WaitTimeSeconds),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameSentTimestamp,
		},
	}
	if cnf.VisibilityTimeout != nil {
		input.VisibilityTimeout = int32(*cnf.VisibilityTimeout)
	}
	return input
}

func (b *Broker) heartbeatEnabled() bool {
	cnf := b.GetConfig().SQS
	return cnf.VisibilityHeartBeat && cnf.VisibilityTimeout != nil && *cnf.VisibilityTimeout > 0
}

// visibilityHeartbeat extends the message's visibility timeout every half
// timeout until done is closed
func (b *Broker) visibilityHeartbeat(message types.Message, done <-chan struct{}) {
	timeout := *b.GetConfig().SQS.VisibilityTimeout
	ticker := time.NewTicker(time.Duration(timeout) * time.Second / 2)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_, err := b.service.ChangeMessageVisibility(context.Background(), &sqs.ChangeMessageVisibilityInput{
				QueueUrl:          b.queueURL(b.GetConfig().DefaultQueue),
				ReceiptHandle:     message.ReceiptHandle,
				VisibilityTimeout: int32(timeout),
			})
			if err != nil {
				log.ERROR.Printf("Error when changing message visibility: %v", err)
			}
		}
	}
}

func (b *Broker) queueURL(queueName string) *string {
	return aws.String(strings.TrimSuffix(b.GetConfig().Broker, "/") + "/" + queueName)
}
