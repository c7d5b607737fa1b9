package amqp

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/RichardKnop/combiner/config"
)

// session is a connection with a single channel whose queue is declared and
// bound
type session struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed <-chan *amqp.Error
}

// dial connects to the first reachable broker URL. cnf.Broker may list
// several URLs joined by cnf.MultipleBrokerSeparator.
func dial(cnf *config.Config) (*session, error) {
	urls := []string{cnf.Broker}
	if cnf.MultipleBrokerSeparator != "" {
		urls = strings.Split(cnf.Broker, cnf.MultipleBrokerSeparator)
	}

	var lastErr error
	for _, url := range urls {
		// DialTLS only uses the TLS config for amqps:// URLs
		conn, err := amqp.DialTLS(strings.TrimSpace(url), cnf.TLSConfig)
		if err != nil {
			lastErr = errors.Wrap(err, "Dial error")
			continue
		}

		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			lastErr = errors.Wrap(err, "Open channel error")
			continue
		}

		return &session{
			conn:   conn,
			ch:     ch,
			closed: conn.NotifyClose(make(chan *amqp.Error, 1)),
		}, nil
	}
	return nil, lastErr
}

// declare makes sure the exchange exists and queueName is bound to it with
// bindingKey
func (s *session) declare(cnf *config.AMQPConfig, queueName, bindingKey string) error {
	if cnf.Exchange != "" {
		if err := s.ch.ExchangeDeclare(cnf.Exchange, cnf.ExchangeType, true, false, false, false, nil); err != nil {
			return errors.Wrap(err, "Exchange declare error")
		}
	}

	queue, err := s.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "Queue declare error")
	}

	if err := s.ch.QueueBind(queue.Name, bindingKey, cnf.Exchange, false, nil); err != nil {
		return errors.Wrap(err, "Queue bind error")
	}
	return nil
}

// PublishWithContext publishes on the session's channel
func (s *session) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return s.ch.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
}

// Close closes the channel and then the connection
func (s *session) Close() error {
	chErr := s.ch.Close()
	if err := s.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return errors.Wrap(err, "Close connection error")
	}
	if chErr != nil && !errors.Is(chErr, amqp.ErrClosed) {
		return errors.Wrap(chErr, "Close channel error")
	}
	return nil
}
