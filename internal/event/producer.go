// Package event publishes sync lifecycle events to Kafka.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/catalogsync/internal/domain"
	pkgkafka "github.com/utafrali/catalogsync/pkg/kafka"
)

// TopicSyncFinished receives one event per finalized sync log.
var TopicSyncFinished = pkgkafka.Topic("sync", "finished")

// Aggregate type constant.
const AggregateTypeSyncLog = "sync_log"

// Source identifier for events originating from the sync engine.
const SourceCatalogSync = "catalog-sync"

// SyncFinishedData is the payload for a sync.finished event.
type SyncFinishedData struct {
	SyncID         string     `json:"sync_id"`
	Kind           string     `json:"kind"`
	TargetID       string     `json:"target_id,omitempty"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	ItemsProcessed int        `json:"items_processed"`
	ItemsFailed    int        `json:"items_failed"`
	ItemsDeleted   int        `json:"items_deleted"`
	FirstError     *string    `json:"first_error,omitempty"`
}

// NewSyncFinishedData copies the counters of a finalized log into the event
// payload.
func NewSyncFinishedData(log *domain.SyncLog) SyncFinishedData {
	return SyncFinishedData{
		SyncID:         log.ID,
		Kind:           string(log.Kind),
		TargetID:       log.TargetID,
		Status:         string(log.Status),
		StartedAt:      log.StartedAt,
		FinishedAt:     log.FinishedAt,
		ItemsProcessed: log.ItemsProcessed,
		ItemsFailed:    log.ItemsFailed,
		ItemsDeleted:   log.ItemsDeleted,
		FirstError:     log.FirstError,
	}
}

// Publisher is the subset of pkg/kafka.Producer the event producer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes sync domain events.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer. A nil publisher yields a
// producer that drops every event.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishSyncFinished publishes a sync.finished event with the final log.
// It is a no-op on a nil producer or one without a publisher.
func (p *Producer) PublishSyncFinished(ctx context.Context, log *domain.SyncLog) error {
	if p == nil || p.kafka == nil {
		return nil
	}

	event, err := pkgkafka.NewEvent(ctx, TopicSyncFinished,
		pkgkafka.Aggregate{ID: log.ID, Type: AggregateTypeSyncLog},
		SourceCatalogSync, NewSyncFinishedData(log))
	if err != nil {
		return fmt.Errorf("create sync.finished event: %w", err)
	}
	event.WithMetadata("kind", string(log.Kind))

	if err := p.kafka.Publish(ctx, TopicSyncFinished, event); err != nil {
		return fmt.Errorf("publish sync.finished event: %w", err)
	}

	p.logger.DebugContext(ctx, "published sync.finished event",
		slog.String("sync_id", log.ID),
		slog.String("status", string(log.Status)),
	)

	return nil
}
