package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"go-aftershock/metrics"
)

// RedisNotifier publishes notifications on Redis pub/sub so that any
// instance holding the user's connection can forward them.
type RedisNotifier struct {
	client *redis.Client
	log    *logrus.Entry
	now    func() time.Time
}

// NewRedisNotifier connects to Redis and checks the connection with PING.
func NewRedisNotifier(ctx context.Context, addr, password string, db int, log *logrus.Entry) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	log.WithField("addr", addr).Info("connected to redis")
	return &RedisNotifier{client: client, log: log, now: time.Now}, nil
}

func (n *RedisNotifier) Notify(ctx context.Context, userID, message string) {
	topic := Topic(userID)
	entry := n.log.WithField("topic", topic)

	payload, err := Payload(message, n.now())
	if err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		entry.WithError(err).Error("failed to encode notification")
		return
	}

	receivers, err := n.client.Publish(ctx, topic, payload).Result()
	if err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		entry.WithError(err).Warn("failed to publish notification")
		return
	}
	if receivers == 0 {
		metrics.Notifications.WithLabelValues("dropped").Inc()
		entry.Debug("no subscriber, notification dropped")
		return
	}
	metrics.Notifications.WithLabelValues("sent").Inc()
}

// Relay subscribes to every user topic and forwards each message to the
// local hub. It returns when ctx is done.
func (n *RedisNotifier) Relay(ctx context.Context, hub *Hub) error {
	sub := n.client.PSubscribe(ctx, Topic("*"))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			userID := msg.Channel[len(Topic("")):]
			hub.forward(userID, []byte(msg.Payload))
		}
	}
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
