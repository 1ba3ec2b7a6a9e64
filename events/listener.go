/*
Package events consumes checkout events from Kafka.

PURPOSE:
  The checkout subsystem publishes an OrderCompleted event once a customer
  order is paid and persisted. OrderListener turns each event into one
  Fulfillment.FulfillFromOrder call so stock leaves the shelf without the
  web tier in the loop.

DELIVERY:
  Kafka delivers at least once. The listener fetches a message, handles it
  and only then commits the offset:

    outcome                          commit?  next step
    -------------------------------  -------  -------------------------
    sale created                     yes      next message
    order already fulfilled          yes      next message (redelivery)
    undecodable / other event type   yes      next message (poison)
    client error (stock, not found)  yes      next message, logged
    busy after retries / infra       no       same message after a pause

  Replaying an event is therefore harmless: the unique order id on the
  sale makes the second FulfillFromOrder an AlreadyFulfilled no-op.

SEE ALSO:
  - stock/sale.go: FulfillFromOrder
  - stock/retry.go: Busy retry policy
*/
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/warp/stock-engine/stock"
)

const (
	EventOrderCompleted = "OrderCompleted"

	// DefaultActor is recorded on ledger rows when the event names no actor.
	DefaultActor stock.ActorID = "system:checkout"
)

var tracer = otel.Tracer("github.com/warp/stock-engine/events")

// MessageReader is the subset of *kafka.Reader the listener needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderFulfiller is satisfied by *stock.Fulfillment.
type OrderFulfiller interface {
	FulfillFromOrder(ctx context.Context, orderID stock.OrderID, actorID stock.ActorID) (*stock.Sale, error)
}

type OrderCompletedEvent struct {
	EventID   string       `json:"event_id"`
	EventType string       `json:"event_type"`
	Payload   OrderPayload `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

type OrderPayload struct {
	OrderID string `json:"order_id"`
	ActorID string `json:"actor_id,omitempty"`
}

type OrderListener struct {
	reader        MessageReader
	fulfillment   OrderFulfiller
	logger        *zap.Logger
	retryAttempts int

	// RetryDelay is the pause before a message that failed on
	// infrastructure is handled again.
	RetryDelay time.Duration
}

func NewOrderListener(reader MessageReader, fulfillment OrderFulfiller, retryAttempts int, logger *zap.Logger) *OrderListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderListener{
		reader:        reader,
		fulfillment:   fulfillment,
		logger:        logger.Named("order-listener"),
		retryAttempts: retryAttempts,
		RetryDelay:    time.Second,
	}
}

// NewKafkaReader builds a consumer-group reader. Offsets are committed
// explicitly by the listener, never on a timer.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
}

// Start blocks until ctx is cancelled or the reader fails for good.
func (l *OrderListener) Start(ctx context.Context) error {
	l.logger.Info("Starting order listener")
	defer l.logger.Info("Stopping order listener")

	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("fetch message: %w", err)
			}
			l.logger.Error("Failed to fetch kafka message", zap.Error(err))
			if !l.pause(ctx) {
				return nil
			}
			continue
		}

		for {
			err := l.handle(ctx, msg)
			if err == nil {
				break
			}
			l.logger.Error("Order event not processed, will retry",
				zap.Int64("offset", msg.Offset),
				zap.Int("partition", msg.Partition),
				zap.Error(err),
			)
			if !l.pause(ctx) {
				return nil
			}
		}

		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Error("Failed to commit kafka offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// handle returns an error only when the message should be handled again.
func (l *OrderListener) handle(ctx context.Context, msg kafka.Message) (err error) {
	ctx, span := tracer.Start(ctx, "events.OrderListener.handle")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var event OrderCompletedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		l.logger.Error("Dropping undecodable event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	if event.EventType != EventOrderCompleted {
		return nil
	}
	if event.Payload.OrderID == "" {
		l.logger.Error("Dropping event without order id", zap.String("event_id", event.EventID))
		return nil
	}

	orderID := stock.OrderID(event.Payload.OrderID)
	actor := stock.ActorID(event.Payload.ActorID)
	if actor == "" {
		actor = DefaultActor
	}
	span.SetAttributes(attribute.String("order_id", string(orderID)), attribute.String("event_id", event.EventID))

	var sale *stock.Sale
	err = stock.Retry(ctx, l.retryAttempts, func() error {
		var ferr error
		sale, ferr = l.fulfillment.FulfillFromOrder(ctx, orderID, actor)
		return ferr
	})

	var done *stock.AlreadyFulfilledError
	switch {
	case err == nil:
		l.logger.Info("Fulfilled order from event",
			zap.String("order_id", string(orderID)),
			zap.String("sale_id", string(sale.ID)),
			zap.String("sale_number", sale.SaleNumber),
		)
		return nil
	case errors.As(err, &done):
		l.logger.Info("Order already fulfilled, acknowledging",
			zap.String("order_id", string(orderID)),
			zap.String("sale_id", string(done.SaleID)),
		)
		return nil
	case stock.IsClientError(err) || stock.IsNotFound(err):
		l.logger.Error("Order cannot be fulfilled",
			zap.String("order_id", string(orderID)),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return nil
	default:
		return err
	}
}

func (l *OrderListener) pause(ctx context.Context) bool {
	t := time.NewTimer(l.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (l *OrderListener) Close() error {
	return l.reader.Close()
}
