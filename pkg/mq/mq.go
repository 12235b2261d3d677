package mq

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"corpusd/config"
)

// RabbitMQ hands out channels on a managed connection. Callers close the
// channel when done; the connection is re-dialed transparently if the broker
// drops it.
type RabbitMQ interface {
	GetChannel() (*amqp.Channel, error)
}

type rabbitMQImpl struct {
	logger      *zap.Logger
	rabbitmqURL string
	context     context.Context

	mu   sync.Mutex
	conn *amqp.Connection
}

type RabbitMQParams struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

func NewRabbitMQ(p RabbitMQParams) RabbitMQ {
	mqCtx, cancel := context.WithCancel(context.Background())

	svc := &rabbitMQImpl{
		logger:      p.Logger,
		rabbitmqURL: p.Config.RabbitMQURL,
		context:     mqCtx,
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := svc.activeConnection(); err != nil {
				p.Logger.Error("failed to establish initial RabbitMQ connection", zap.Error(err))
				return err
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			svc.mu.Lock()
			defer svc.mu.Unlock()
			if svc.conn != nil && !svc.conn.IsClosed() {
				svc.conn.Close()
			}
			return nil
		},
	})
	return svc
}

func (r *rabbitMQImpl) activeConnection() (*amqp.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}
	if r.context.Err() != nil {
		return nil, errors.New("rabbitmq service is shut down")
	}

	conn, err := amqp.Dial(r.rabbitmqURL)
	if err != nil {
		return nil, err
	}
	r.conn = conn

	closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		select {
		case err := <-closeChan:
			if err != nil {
				r.logger.Error("RabbitMQ connection closed", zap.Error(err))
			}
		case <-r.context.Done():
		}
	}()

	return conn, nil
}

func (r *rabbitMQImpl) GetChannel() (*amqp.Channel, error) {
	conn, err := r.activeConnection()
	if err != nil {
		r.logger.Error("failed to get RabbitMQ connection", zap.Error(err))
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		r.logger.Error("failed to create RabbitMQ channel", zap.Error(err))
		return nil, err
	}
	return ch, nil
}
