// Package notify publishes layer update events to live-update subscribers.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// EventLayerFeaturesCreated is the event type sent when a layer has been
// populated.
const EventLayerFeaturesCreated = "layer_features_created"

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "geosight:layer_updates"

// Event is the payload pushed to subscribers.
type Event struct {
	Type     string `json:"type"`
	LayerID  int64  `json:"layer_id"`
	IsActive bool   `json:"is_active"`
}

// Notifier signals that a layer's features are ready.
type Notifier interface {
	LayerUpdated(ctx context.Context, layerID int64) error
}

// publisher is the subset of the redis client used for publishing.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier publishes events on a Redis pub/sub channel.
type RedisNotifier struct {
	client  publisher
	channel string
	closeFn func() error
}

// NewRedisNotifier connects to Redis and verifies the connection.
func NewRedisNotifier(ctx context.Context, addr, channel string) (*RedisNotifier, error) {
	if addr == "" {
		return nil, eris.New("notify: redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "notify: redis ping")
	}

	n := newRedisNotifier(rdb, channel)
	n.closeFn = rdb.Close
	return n, nil
}

func newRedisNotifier(client publisher, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

// LayerUpdated publishes a layer_features_created event.
func (n *RedisNotifier) LayerUpdated(ctx context.Context, layerID int64) error {
	raw, err := json.Marshal(Event{Type: EventLayerFeaturesCreated, LayerID: layerID, IsActive: true})
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	receivers, err := n.client.Publish(ctx, n.channel, raw).Result()
	if err != nil {
		return eris.Wrapf(err, "notify: publish layer %d", layerID)
	}
	zap.L().Debug("notify: layer update published",
		zap.String("component", "notify"),
		zap.Int64("layer_id", layerID),
		zap.Int64("receivers", receivers),
	)
	return nil
}

// Close releases the Redis connection.
func (n *RedisNotifier) Close() error {
	if n.closeFn == nil {
		return nil
	}
	return n.closeFn()
}

// LogNotifier writes events to the log instead of a broker.
type LogNotifier struct{}

// LayerUpdated implements Notifier.
func (LogNotifier) LayerUpdated(_ context.Context, layerID int64) error {
	zap.L().Info("notify: layer updated",
		zap.String("component", "notify"),
		zap.String("type", EventLayerFeaturesCreated),
		zap.Int64("layer_id", layerID),
	)
	return nil
}
