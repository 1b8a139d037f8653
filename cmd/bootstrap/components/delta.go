package components

import (
	"context"
	"log/slog"

	"booking-core/internal/delta"
	"booking-core/internal/pkg/config"

	"go.uber.org/fx"
)

var DeltaModule = fx.Module("delta",
	fx.Provide(
		NewDeltaPublisher,
	),
)

// NewDeltaPublisher always carries the log sink; the AMQP sink is added
// when a broker is configured. Publisher shutdown drains the queue so
// late batches still reach the sinks.
func NewDeltaPublisher(lc fx.Lifecycle, cfg config.Config, logger *slog.Logger) (*delta.Publisher, error) {
	sinks := []delta.Sink{delta.NewLogSink(logger)}

	var amqpSink *delta.AMQPSink
	if cfg.AMQP.Enabled {
		sink, err := delta.NewAMQPSink(context.Background(), cfg.AMQP, logger)
		if err != nil {
			return nil, err
		}
		amqpSink = sink
		sinks = append(sinks, sink)
	}

	publisher := delta.NewPublisher(logger, sinks...)

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			publisher.Close()
			if amqpSink != nil {
				return amqpSink.Close()
			}
			return nil
		},
	})

	return publisher, nil
}
