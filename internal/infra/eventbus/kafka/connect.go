package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/campusops/batchline/pkg/common/logger"
)

// ConnectWithRetry attempts to establish a connection to Kafka with
// exponential backoff. It retries failed connection attempts for up to 5
// minutes, starting with 5 second intervals, to ride out broker
// unavailability during startup.
func ConnectWithRetry(cfg *Config, log *logger.Logger, tracer trace.Tracer) (*EventBus, error) {
	var bus *EventBus

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		var err error
		bus, err = NewEventBus(cfg, log, tracer)
		if err != nil {
			log.Warn(context.Background(), "kafka connect attempt failed", "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}

	return bus, nil
}
