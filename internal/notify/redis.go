package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const redisEventChannel = "zapfield:events"

// wireEvent is the Redis pub/sub envelope. Origin lets nodes skip their
// own messages when re-broadcasting.
type wireEvent struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisBridge extends a local Hub with cross-node fan-out over Redis
// pub/sub: every published event also reaches subscribers connected to
// other nodes. Implements Notifier.
type RedisBridge struct {
	hub    *Hub
	rdb    *redis.Client
	nodeID string
	cancel context.CancelFunc
}

// NewRedisBridge connects to Redis and starts relaying remote events into
// the local hub.
func NewRedisBridge(ctx context.Context, hub *Hub, addr, password string, db int, nodeID string) (*RedisBridge, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	b := &RedisBridge{hub: hub, rdb: rdb, nodeID: nodeID, cancel: cancel}
	go b.relay(runCtx)

	slog.Info("redis fan-out bridge connected", "addr", addr, "node", nodeID)
	return b, nil
}

// Publish broadcasts locally and forwards to other nodes. Redis failures
// are logged and swallowed: fan-out is fire-and-forget.
func (b *RedisBridge) Publish(tenantID, event string, payload any) {
	b.hub.Publish(tenantID, event, payload)

	data, err := json.Marshal(wireEvent{
		Origin: b.nodeID,
		Event:  Event{Tenant: tenantID, Name: event, Payload: payload},
	})
	if err != nil {
		return
	}
	if err := b.rdb.Publish(context.Background(), redisEventChannel, data).Err(); err != nil {
		slog.Warn("redis publish failed", "event", event, "error", err)
	}
}

func (b *RedisBridge) relay(ctx context.Context) {
	sub := b.rdb.Subscribe(ctx, redisEventChannel)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var we wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
				slog.Warn("unreadable redis event", "error", err)
				continue
			}
			if we.Origin == b.nodeID {
				continue
			}
			b.hub.Publish(we.Event.Tenant, we.Event.Name, we.Event.Payload)
		}
	}
}

// Close stops the relay loop and the Redis connection.
func (b *RedisBridge) Close() error {
	b.cancel()
	return b.rdb.Close()
}
