package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/gradedesk/internal/config"
	"github.com/stemsi/gradedesk/internal/logger"
	"github.com/stemsi/gradedesk/internal/model"
)

const publishTimeout = 2 * time.Second

// envelope is the Pub/Sub message shared by the hubs of one teacher session.
type envelope struct {
	Origin       uuid.UUID          `json:"origin"`
	Notification model.Notification `json:"notification"`
}

// RedisRelay mirrors notifications between every open tab of a teacher
// session over Redis Pub/Sub.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	log     zerolog.Logger
}

// NewRedisRelay creates a relay for sessionID.
func NewRedisRelay(rdb *redis.Client, sessionID string, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		rdb:     rdb,
		channel: config.CacheKey.NotificationChannel(sessionID),
		log:     logger.Component(log, "notify_relay").With().Str("session", sessionID).Logger(),
	}
}

// Publish sends n to the session channel. Errors are logged, never returned:
// the local hub has already shown the notification.
func (r *RedisRelay) Publish(n model.Notification, origin uuid.UUID) {
	payload, err := encodeEnvelope(origin, n)
	if err != nil {
		r.log.Error().Err(err).Msg("Encode notification")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
			r.log.Warn().Err(err).Msg("Publish notification")
		}
	}()
}

// Run subscribes to the session channel and shows notifications from other
// hubs on hub until ctx is done. Call in a goroutine.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	r.log.Debug().Msg("Relay attached")

	for {
		select {
		case <-ctx.Done():
			r.log.Debug().Msg("Relay detached")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			origin, n, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				r.log.Warn().Err(err).Msg("Decode notification")
				continue
			}
			if origin == hub.Origin() {
				continue
			}
			hub.Show(n)
		}
	}
}

func encodeEnvelope(origin uuid.UUID, n model.Notification) ([]byte, error) {
	return json.Marshal(envelope{Origin: origin, Notification: n})
}

func decodeEnvelope(raw []byte) (uuid.UUID, model.Notification, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return uuid.Nil, model.Notification{}, err
	}
	return env.Origin, env.Notification, nil
}
