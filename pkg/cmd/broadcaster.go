package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/flowstone-io/flowstone/pkg/channels/gochannel"
	"github.com/flowstone-io/flowstone/pkg/channels/kafka"
)

// NewBroadcaster builds the best-effort event broadcast channel. Kafka is
// used for multi-process deployments; gochannel keeps everything in one
// process.
func NewBroadcaster(provider string, logger *slog.Logger) (message.Publisher, message.Subscriber) {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermillLogger, "flowstone")
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return pub, sub
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(watermillLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create gochannel pub/sub: %w", err))
		}

		return pub, sub
	default:
		panic("unsupported broadcast provider: " + provider)
	}
}
