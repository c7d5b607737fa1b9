package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/RichardKnop/combiner/brokers/errs"
	"github.com/RichardKnop/combiner/brokers/iface"
	"github.com/RichardKnop/combiner/common"
	"github.com/RichardKnop/combiner/config"
	"github.com/RichardKnop/combiner/log"
	"github.com/RichardKnop/combiner/tasks"
)

// ErrNotConfirmed is returned when a publishing channel closes before the
// broker confirmed the message
var ErrNotConfirmed = errors.New("Channel closed before the message was confirmed")

// publishChannel is the part of a session publishing needs
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// publisher is a channel in confirm mode. The broker confirms messages in
// publish order, one confirmation per message.
type publisher struct {
	ch       publishChannel
	confirms <-chan amqp.Confirmation
	closed   <-chan *amqp.Error
}

// Broker represents an AMQP broker
type Broker struct {
	*common.Broker

	// publishMu serialises publishing so every confirmation read belongs
	// to the message just sent
	publishMu     sync.Mutex
	publishers    map[string]*publisher
	openPublisher func(queueName, bindingKey string) (*publisher, error)

	consuming sync.WaitGroup
}

// New creates new Broker instance
func New(cnf *config.Config) iface.Broker {
	if cnf.AMQP == nil {
		cnf.AMQP = new(config.AMQPConfig)
	}

	b := &Broker{
		Broker:     common.NewBroker(cnf),
		publishers: make(map[string]*publisher),
	}
	b.openPublisher = b.dialPublisher
	return b
}

// StartConsuming consumes the default queue until StopConsuming is called
// or the connection fails
func (b *Broker) StartConsuming(consumerTag string, concurrency int, taskProcessor iface.TaskProcessor) (bool, error) {
	b.consuming.Add(1)
	defer b.consuming.Done()

	s, deliveries, err := b.openConsumer(consumerTag)
	if err != nil {
		b.Backoff()
		return b.Retry(), err
	}
	defer s.Close()

	log.INFO.Print("[*] Waiting for messages. To exit press CTRL+C")

	dispatcher := common.NewDispatcher(concurrency)
	err = b.consume(deliveries, s.closed, dispatcher, taskProcessor)

	// acks go out on the channel, so it stays open until deliveries finish
	dispatcher.Wait()
	return b.Retry(), err
}

// StopConsuming quits the loop, waits for running tasks and closes the
// publishing connections
func (b *Broker) StopConsuming() {
	b.Broker.StopConsuming()
	b.consuming.Wait()

	b.publishMu.Lock()
	defer b.publishMu.Unlock()
	for queueName := range b.publishers {
		b.discard(queueName)
	}
}

// Publish sends the signature and waits until the broker confirms it
func (b *Broker) Publish(ctx context.Context, signature *tasks.Signature) error {
	b.adjustRoutingKey(signature)

	body, err := json.Marshal(signature)
	if err != nil {
		return errors.Wrap(err, "JSON marshal error")
	}

	cnf := b.GetConfig()
	queueName, bindingKey := cnf.DefaultQueue, cnf.AMQP.BindingKey
	if b.isDirectExchange() {
		queueName, bindingKey = signature.RoutingKey, signature.RoutingKey
	}

	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	p, err := b.publisher(queueName, bindingKey)
	if err != nil {
		return errors.Wrapf(err, "Failed to get a connection for queue %s", queueName)
	}

	err = p.ch.PublishWithContext(ctx, cnf.AMQP.Exchange, signature.RoutingKey, false, false, amqp.Publishing{
		Headers:      amqp.Table(signature.Headers),
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		b.discard(queueName)
		return errors.Wrap(err, "Failed to publish task")
	}

	select {
	case confirmed, ok := <-p.confirms:
		if !ok {
			b.discard(queueName)
			return ErrNotConfirmed
		}
		if !confirmed.Ack {
			return fmt.Errorf("Failed delivery of delivery tag: %v", confirmed.DeliveryTag)
		}
		return nil
	case <-ctx.Done():
		// The confirmation can still arrive after we stop waiting. Left in
		// the channel it would be read as the next message's, so the
		// channel is dropped and the next publish opens a fresh one.
		b.discard(queueName)
		return ctx.Err()
	}
}

// publisher returns the open publisher for queueName, replacing one whose
// connection has closed. Callers hold publishMu.
func (b *Broker) publisher(queueName, bindingKey string) (*publisher, error) {
	if p, ok := b.publishers[queueName]; ok {
		select {
		case <-p.closed:
			log.WARNING.Printf("Connection for queue %s closed, reconnecting", queueName)
			b.discard(queueName)
		default:
			return p, nil
		}
	}

	p, err := b.openPublisher(queueName, bindingKey)
	if err != nil {
		return nil, err
	}
	b.publishers[queueName] = p
	return p, nil
}

// discard closes and forgets the publisher for queueName. Callers hold
// publishMu.
func (b *Broker) discard(queueName string) {
	p, ok := b.publishers[queueName]
	if !ok {
		return
	}
	delete(b.publishers, queueName)

	if err := p.ch.Close(); err != nil {
		log.WARNING.Printf("Closing publisher for queue %s: %v", queueName, err)
	}
}

func (b *Broker) dialPublisher(queueName, bindingKey string) (*publisher, error) {
	s, err := dial(b.GetConfig())
	if err != nil {
		return nil, err
	}
	if err := s.declare(b.GetConfig().AMQP, queueName, bindingKey); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.ch.Confirm(false); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "Channel could not be put into confirm mode")
	}

	return &publisher{
		ch:       s,
		confirms: s.ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		closed:   s.closed,
	}, nil
}

func (b *Broker) openConsumer(consumerTag string) (*session, <-chan amqp.Delivery, error) {
	cnf := b.GetConfig()

	s, err := dial(cnf)
	if err != nil {
		return nil, nil, err
	}

	if err := s.declare(cnf.AMQP, cnf.DefaultQueue, cnf.AMQP.BindingKey); err != nil {
		s.Close()
		return nil, nil, err
	}

	if err := s.ch.Qos(cnf.AMQP.PrefetchCount, 0, false); err != nil {
		s.Close()
		return nil, nil, errors.Wrap(err, "Channel qos error")
	}

	deliveries, err := s.ch.Consume(cnf.DefaultQueue, consumerTag, false, false, false, false, nil)
	if err != nil {
		s.Close()
		return nil, nil, errors.Wrap(err, "Queue consume error")
	}
	return s, deliveries, nil
}

// consume hands deliveries to the dispatcher until a stop, a task error or
// a closed connection
func (b *Broker) consume(deliveries <-chan amqp.Delivery, closed <-chan *amqp.Error, dispatcher *common.Dispatcher, taskProcessor iface.TaskProcessor) error {
	for {
		select {
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return amqp.ErrClosed
			}
			return amqpErr
		case err := <-dispatcher.Errors():
			return err
		case delivery, ok := <-deliveries:
			if !ok {
				return errs.ErrConsumerStopped
			}

			if !dispatcher.Acquire(b.Stopped()) {
				delivery.Nack(false, true)
				return nil
			}
			dispatcher.Go(func() error {
				return b.consumeOne(delivery, taskProcessor)
			})
		case <-b.Stopped():
			return nil
		}
	}
}

// consumeOne decodes a delivery and runs it. Tasks this worker does not
// know are requeued for other workers.
func (b *Broker) consumeOne(delivery amqp.Delivery, taskProcessor iface.TaskProcessor) error {
	if len(delivery.Body) == 0 {
		delivery.Nack(true, false)
		return errs.ErrEmptyMessage
	}

	signature, err := tasks.DecodeSignature(delivery.Body)
	if err != nil {
		delivery.Nack(false, false)
		return errs.NewErrCouldNotUnmarshalTaskSignature(delivery.Body, err)
	}

	if !b.IsTaskRegistered(signature.Name) {
		log.INFO.Printf("Task not registered with this worker. Requeuing message: %s", delivery.Body)
		delivery.Nack(false, true)
		return nil
	}

	log.DEBUG.Printf("Received new message: %s", delivery.Body)

	err = taskProcessor.Process(signature)
	delivery.Ack(false)
	return err
}

// adjustRoutingKey fills in an empty routing key: the binding key on a
// direct exchange, otherwise the default queue
func (b *Broker) adjustRoutingKey(signature *tasks.Signature) {
	if signature.RoutingKey != "" {
		return
	}
	if b.isDirectExchange() {
		signature.RoutingKey = b.GetConfig().AMQP.BindingKey
		return
	}
	signature.RoutingKey = b.GetConfig().DefaultQueue
}

func (b *Broker) isDirectExchange() bool {
	return b.GetConfig().AMQP.ExchangeType == "direct"
}
