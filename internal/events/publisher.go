package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stockscout/stockscout/internal/catalog"
)

// EventTypeVariantResolved is published once per resolved variant.
const EventTypeVariantResolved = "VARIANT_RESOLVED"

// VariantResolvedPayload is the stream message body.
type VariantResolvedPayload struct {
	EventID    string              `json:"event_id"`
	EventType  string              `json:"event_type"`
	Timestamp  time.Time           `json:"timestamp"`
	Key        string              `json:"key"`
	ProductURL string              `json:"product_url"`
	Quantity   int                 `json:"quantity"`
	Selections []catalog.Selection `json:"selections,omitempty"`
	Brand      string              `json:"brand,omitempty"`
	Price      string              `json:"price,omitempty"`
}

// Publisher pushes per-variant events onto a Redis stream so downstream
// consumers (alerting, dashboards) see stock changes as they are observed.
type Publisher struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewPublisher(addr, password string, db int, stream string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Publisher{
		client: client,
		stream: stream,
		logger: slog.Default().With("component", "event_publisher"),
	}, nil
}

// VariantResolved publishes one resolved-variant event.
func (p *Publisher) VariantResolved(ctx context.Context, rec catalog.StockRecord) error {
	payload := VariantResolvedPayload{
		EventID:    uuid.New().String(),
		EventType:  EventTypeVariantResolved,
		Timestamp:  rec.ObservedAt,
		Key:        rec.Key,
		ProductURL: rec.ProductURL,
		Quantity:   rec.Quantity,
		Selections: rec.Selections,
		Brand:      rec.Fields.Brand,
		Price:      rec.Fields.Price,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"event_type": payload.EventType,
			"event_id":   payload.EventID,
			"payload":    string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", p.stream, err)
	}

	p.logger.Debug("event published", "stream", p.stream, "key", rec.Key)
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
