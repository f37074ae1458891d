//go:build integration

package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	kafkacontainer "github.com/testcontainers/testcontainers-go/modules/kafka"
)

// TestDLQReplayRedeliversToKafka drives the full failure path: a dead
// broker sends the event to the DLQ, the manager requeues it, and a second
// dispatch against a live broker delivers the replayed event.
func TestDLQReplayRedeliversToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	subjectID := uuid.NewString()
	aggregateID := uuid.NewString()
	eventID := seedOutbox(t, ctx, pool, subjectID, aggregateID, "record.upserted")
	require.NotZero(t, eventID)

	registry := &stubRegistry{id: 100}

	// 1. Initial dispatch fails and moves the message to the DLQ.
	failingProducer := &stubProducer{err: errors.New("upstream kafka unavailable")}
	dispatcher := NewDispatcher(pool, failingProducer, registry, 5*time.Millisecond, 10)
	require.NoError(t, dispatcher.processBatch(ctx))

	var dlqCount int
	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqCount)
	require.NoError(t, err)
	require.Equal(t, 1, dlqCount, "expected message routed to DLQ on failure")

	// 2. Requeue the DLQ entry.
	manager := NewDLQManager(pool, 5, time.Second)
	replayed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, replayed)

	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqCount)
	require.NoError(t, err)
	require.Equal(t, 0, dlqCount, "expected DLQ cleared after requeue")

	var unpublished int
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&unpublished)
	require.NoError(t, err)
	require.Equal(t, 1, unpublished, "requeued event should be eligible for dispatch again")

	// 3. Start Kafka and dispatch the replayed event for real.
	kContainer, err := kafkacontainer.RunContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kContainer.Terminate(context.Background()) })

	brokers, err := kContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{
		Topic:             "biometric_events",
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))

	producer := NewKafkaProducer(brokers)
	defer producer.Close()

	dispatcher = NewDispatcher(pool, producer, registry, 5*time.Millisecond, 10)
	require.NoError(t, dispatcher.processBatch(ctx))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       "biometric_events",
		StartOffset: kafka.FirstOffset,
		MaxWait:     time.Second,
	})
	defer reader.Close()

	readCtx, readCancel := context.WithTimeout(ctx, 45*time.Second)
	defer readCancel()

	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err, "expected replayed event on the topic")
	require.Equal(t, subjectID+":"+aggregateID, string(msg.Key))
	require.GreaterOrEqual(t, len(msg.Value), 5, "expected Confluent wire framing")

	var published int
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published)
	require.NoError(t, err)
	require.Equal(t, 1, published)
}

func TestDLQManagerQuarantinesAfterRetryLimit(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	subjectID := uuid.NewString()
	_, err := pool.Exec(ctx,
		`INSERT INTO outbox_dlq (subject_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count, next_retry_at)
         VALUES ($1, 1, 'record.upserted', 'biometric_events', '{}', 'kafka down', 'biometric_record', $2, 'biometric_events-value', $3, 5, NOW())`,
		subjectID, uuid.NewString(), subjectID+":x",
	)
	require.NoError(t, err)

	manager := NewDLQManager(pool, 5, time.Second)
	processed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	var quarantined int
	var reason string
	err = pool.QueryRow(ctx, `SELECT COUNT(*), MAX(quarantine_reason) FROM outbox_dlq WHERE quarantined_at IS NOT NULL`).Scan(&quarantined, &reason)
	require.NoError(t, err)
	require.Equal(t, 1, quarantined)
	require.Equal(t, "retry limit reached", reason)

	var requeued int
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&requeued)
	require.NoError(t, err)
	require.Zero(t, requeued, "quarantined entries must not re-enter the outbox")
}
