package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardKnop/combiner/brokers/errs"
	"github.com/RichardKnop/combiner/config"
	"github.com/RichardKnop/combiner/tasks"
)

const testBrokerURL = "https://sqs.us-east-1.amazonaws.com/123456789012"

// fakeSQS keeps one in-memory list of messages per queue URL
type fakeSQS struct {
	mu                 sync.Mutex
	queues             map[string][]types.Message
	deleted            []string
	visibilityChanges  int
	lastReceiveTimeout int32
	sendErr            error
	nextID             int
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{queues: make(map[string][]types.Message)}
}

func (f *fakeSQS) SendMessage(ctx context.Context, input *awssqs.SendMessageInput, _ ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprintf("message_%d", f.nextID)
	queueURL := aws.ToString(input.QueueUrl)
	f.queues[queueURL] = append(f.queues[queueURL], types.Message{
		MessageId:     aws.String(id),
		Body:          input.MessageBody,
		ReceiptHandle: aws.String("receipt_" + id),
	})
	return &awssqs.SendMessageOutput{MessageId: aws.String(id)}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, input *awssqs.ReceiveMessageInput, _ ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	f.lastReceiveTimeout = input.VisibilityTimeout
	queueURL := aws.ToString(input.QueueUrl)
	if messages := f.queues[queueURL]; len(messages) > 0 {
		f.queues[queueURL] = messages[1:]
		f.mu.Unlock()
		return &awssqs.ReceiveMessageOutput{Messages: messages[:1]}, nil
	}
	f.mu.Unlock()

	// a short long poll
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Millisecond):
		return &awssqs.ReceiveMessageOutput{}, nil
	}
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, input *awssqs.DeleteMessageInput, _ ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(input.ReceiptHandle))
	return &awssqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(ctx context.Context, input *awssqs.ChangeMessageVisibilityInput, _ ...func(*awssqs.Options)) (*awssqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visibilityChanges++
	return &awssqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeSQS) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeSQS) pending(queueURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[queueURL])
}

type recordingProcessor struct {
	mu       sync.Mutex
	received []*tasks.Signature
	err      error
}

func (p *recordingProcessor) Process(signature *tasks.Signature) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, signature)
	return p.err
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received)
}

func newTestBroker(t *testing.T, client *fakeSQS) *Broker {
	cnf := config.NewDefault()
	cnf.Broker = testBrokerURL
	cnf.SQS.Client = client

	broker, err := New(cnf)
	require.NoError(t, err)
	broker.SetRegisteredTaskNames([]string{"combine"})
	return broker.(*Broker)
}

func newMessage(t *testing.T, signature *tasks.Signature, receipt string) types.Message {
	body, err := json.Marshal(signature)
	require.NoError(t, err)
	return types.Message{
		MessageId:     aws.String("message_" + receipt),
		Body:          aws.String(string(body)),
		ReceiptHandle: aws.String(receipt),
	}
}

func TestPublish(t *testing.T) {
	t.Parallel()

	client := newFakeSQS()
	broker := newTestBroker(t, client)

	signature := &tasks.Signature{UUID: "task_1", Name: "combine"}
	require.NoError(t, broker.Publish(context.Background(), signature))

	assert.Equal(t, config.DefaultQueue, signature.RoutingKey)
	assert.Equal(t, 1, client.pending(testBrokerURL+"/"+config.DefaultQueue))
}

func TestPublishError(t *testing.T) {
	t.Parallel()

	client := newFakeSQS()
	client.sendErr = errors.New("this is an error")
	broker := newTestBroker(t, client)

	err := broker.Publish(context.Background(), &tasks.Signature{Name: "combine"})
	assert.EqualError(t, err, "this is an error")
}

func TestConsumeOne(t *testing.T) {
	t.Parallel()

	client := newFakeSQS()
	broker := newTestBroker(t, client)
	processor := new(recordingProcessor)

	signature := &tasks.Signature{
		UUID: "task_1",
		Name: "combine",
		Args: []tasks.Arg{tasks.NewFloat64Arg("a", 2), tasks.NewFloat64Arg("b", 3)},
	}
	require.NoError(t, broker.consumeOne(newMessage(t, signature, "receipt_1"), processor))

	require.Equal(t, 1, processor.count())
	assert.IsType(t, json.Number(""), processor.received[0].Args[1].Value)
	assert.Equal(t, []string{"receipt_1"}, client.deletedHandles())
}

func TestConsumeOneKeepsFailedMessage(t *testing.T) {
	t.Parallel()

	client := newFakeSQS()
	broker := newTestBroker(t, client)
	processor := &recordingProcessor{err: errors.New("backend down")}

	err := broker.consumeOne(newMessage(t, &tasks.Signature{Name: "combine"}, "receipt_1"), processor)
	assert.EqualError(t, err, "backend down")
	assert.Empty(t, client.deletedHandles())
}

func TestConsumeOneNotRegistered(t *testing.T) {
	t.Parallel()

	client := newFakeSQS()
	broker := newTestBroker(t, client)
	processor := new(recordingProcessor)

	err := broker.consumeOne(newMessage(t, &tasks.Signature{Name: "multiply"}, "receipt_1"), processor)
	assert.NoError(t, err)
	assert.Equal(t, 0, processor.count())
	assert.Empty(t, client.deletedHandles())
}

func TestConsumeOneBadMessages(t *testing.T) {
	t.Parallel()

	client := newFakeSQS()
	broker := newTestBroker(t, client)
	processor := new(recordingProcessor)

	err := broker.consumeOne(types.Message{}, processor)
	assert.Equal(t, errs.ErrEmptyMessage, err)

	err = broker.consumeOne(types.Message{
		Body:          aws.String("{"),
		ReceiptHandle: aws.String("receipt_bad"),
	}, processor)
	assert.IsType(t, errs.ErrCouldNotUnmarshalTaskSignature{}, err)
	// undecodable messages are dropped from the queue
	assert.Equal(t, []string{"receipt_bad"}, client.deletedHandles())
	assert.Equal(t, 0, processor.count())
}

func TestVisibilityHeartbeat(t *testing.T) {
	t.Parallel()

	client := newFakeSQS()
	broker := newTestBroker(t, client)
	broker.GetConfig().SQS.VisibilityTimeout = aws.Int(30)
	broker.GetConfig().SQS.VisibilityHeartBeat = true
	assert.True(t, broker.heartbeatEnabled())

	broker.GetConfig().SQS.VisibilityHeartBeat = false
	assert.False(t, broker.heartbeatEnabled())

	broker.GetConfig().SQS.VisibilityHeartBeat = true
	broker.GetConfig().SQS.VisibilityTimeout = aws.Int(0)
	assert.False(t, broker.heartbeatEnabled())
}

func TestStartConsuming(t *testing.T) {
	t.Parallel()

	client := newFakeSQS()
	broker := newTestBroker(t, client)
	broker.GetConfig().SQS.VisibilityTimeout = aws.Int(45)
	processor := new(recordingProcessor)

	type consumeResult struct {
		retry bool
		err   error
	}
	done := make(chan consumeResult, 1)
	go func() {
		retry, err := broker.StartConsuming("test", 2, processor)
		done <- consumeResult{retry, err}
	}()

	for i := 0; i < 3; i++ {
		signature := &tasks.Signature{UUID: fmt.Sprintf("task_%d", i), Name: "combine"}
		require.NoError(t, broker.Publish(context.Background(), signature))
	}

	require.Eventually(t, func() bool {
		return processor.count() == 3 && len(client.deletedHandles()) == 3
	}, 5*time.Second, 5*time.Millisecond)

	broker.StopConsuming()

	select {
	case res := <-done:
		assert.False(t, res.retry)
		assert.NoError(t, res.err)
	case <-time.After(time.Second):
		t.Fatal("StartConsuming did not return after StopConsuming")
	}

	client.mu.Lock()
	assert.Equal(t, int32(45), client.lastReceiveTimeout)
	client.mu.Unlock()
}

func TestStartConsumingProcessError(t *testing.T) {
	t.Parallel()

	client := newFakeSQS()
	broker := newTestBroker(t, client)
	processor := &recordingProcessor{err: errors.New("backend down")}

	require.NoError(t, broker.Publish(context.Background(), &tasks.Signature{Name: "combine"}))

	retry, err := broker.StartConsuming("test", 1, processor)
	assert.True(t, retry)
	assert.EqualError(t, err, "backend down")

	broker.StopConsuming()
	assert.False(t, broker.Retry())
}

func TestDeleteWithoutReceiptHandle(t *testing.T) {
	t.Parallel()

	broker := newTestBroker(t, newFakeSQS())
	message := newMessage(t, &tasks.Signature{Name: "combine"}, "receipt_1")
	message.ReceiptHandle = nil

	err := broker.consumeOne(message, new(recordingProcessor))
	assert.ErrorIs(t, err, ErrNoReceiptHandle)
}

func TestStartConsumingStopsWithBusySlots(t *testing.T) {
	t.Parallel()

	client := newFakeSQS()
	broker := newTestBroker(t, client)
	release := make(chan struct{})
	processor := &blockingProcessor{release: release}

	for i := 0; i < 3; i++ {
		require.NoError(t, broker.Publish(context.Background(), &tasks.Signature{Name: "combine"}))
	}

	done := make(chan error, 1)
	go func() {
		_, err := broker.StartConsuming("test", 1, processor)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return processor.started() == 1
	}, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		broker.StopConsuming()
		close(stopped)
	}()
	close(release)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("StopConsuming did not return")
	}
	assert.NoError(t, <-done)
}

// blockingProcessor holds every task until release is closed
type blockingProcessor struct {
	mu      sync.Mutex
	count   int
	release chan struct{}
}

func (p *blockingProcessor) Process(signature *tasks.Signature) error {
	p.mu.Lock()
	p.count++
	p.mu.Unlock()
	<-p.release
	return nil
}

func (p *blockingProcessor) started() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}
