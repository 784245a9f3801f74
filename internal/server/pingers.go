package server

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/qdrant/go-client/qdrant"
	kafkago "github.com/segmentio/kafka-go"
)

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// RedisPinger probes the Redis instance backing item activity tracking.
type RedisPinger struct {
	// client is the Redis client to probe.
	client *redis.Client
}

// NewRedisPinger constructs a RedisPinger for the given Redis client.
func NewRedisPinger(client *redis.Client) *RedisPinger {
	return &RedisPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *RedisPinger) Name() string { return "redis" }

// Ping sends a Redis PING command.
func (p *RedisPinger) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// KafkaPinger probes a Kafka broker by opening and closing a connection.
type KafkaPinger struct {
	// broker is the bootstrap address to dial.
	broker string
}

// NewKafkaPinger constructs a KafkaPinger for the given bootstrap broker.
func NewKafkaPinger(broker string) *KafkaPinger {
	return &KafkaPinger{broker: broker}
}

// Name returns the dependency label used in readiness responses.
func (p *KafkaPinger) Name() string { return "kafka" }

// Ping dials the bootstrap broker.
func (p *KafkaPinger) Ping(ctx context.Context) error {
	conn, err := kafkago.DialContext(ctx, "tcp", p.broker)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	return conn.Close()
}
