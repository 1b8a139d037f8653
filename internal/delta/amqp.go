package delta

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"

	"booking-core/internal/pkg/config"

	"github.com/rabbitmq/amqp091-go"
)

// AMQPSink publishes each operation's envelope to a topic exchange as a
// persistent JSON message. Routing key: delta.<tenant>.<source>.
type AMQPSink struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger
}

func NewAMQPSink(ctx context.Context, cfg config.AMQPConfig, logger *slog.Logger) (*AMQPSink, error) {
	conn, err := dialWithRetry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		cfg.Exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPSink{
		conn:     conn,
		exchange: cfg.Exchange,
		logger:   logger,
	}, nil
}

func (s *AMQPSink) Consume(ctx context.Context, env Envelope) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	key := "delta." + env.TenantID + "." + env.Source
	err = ch.PublishWithContext(
		ctx, s.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    env.ID,
			Timestamp:    env.At,
			Body:         body,
		},
	)
	if err == nil {
		s.logger.Info("published deltas",
			slog.String("key", key),
			slog.String("exchange", s.exchange),
			slog.Int("deltas", len(env.Deltas)))
	}
	return err
}

func (s *AMQPSink) Close() error {
	return s.conn.Close()
}

const maxDialDelay = 60 * time.Second

// dialWithRetry connects with exponential backoff and respects context
// cancellation for graceful shutdown.
func dialWithRetry(ctx context.Context, cfg config.AMQPConfig, logger *slog.Logger) (*amqp091.Connection, error) {
	var lastErr error

	for i := 1; i <= cfg.RetryAttempts; i++ {
		conn, err := amqp091.Dial(cfg.URL)
		if err == nil {
			if i > 1 {
				logger.Info("amqp connected", slog.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err

		sleep := cfg.RetryDelay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}

		logger.Warn("amqp dial failed",
			slog.Int("attempt", i),
			slog.Duration("sleep", sleep),
			slog.Any("error", err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}

	return nil, errors.Join(errors.New("failed to connect to AMQP broker"), lastErr)
}
