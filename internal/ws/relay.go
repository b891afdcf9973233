package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"ciphertalk/internal/observability"
)

const relayChannel = "ciphertalk:rooms"

type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay mirrors room broadcasts to the other nodes over Redis pub/sub.
// Each node skips the envelopes it published itself.
type RedisRelay struct {
	client *redis.Client
	nodeID string
	logger zerolog.Logger
}

// NewRedisRelay connects to redisURL and verifies the connection.
func NewRedisRelay(ctx context.Context, redisURL string, logger zerolog.Logger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return newRedisRelay(client, logger), nil
}

func newRedisRelay(client *redis.Client, logger zerolog.Logger) *RedisRelay {
	nodeID := ulid.Make().String()
	return &RedisRelay{
		client: client,
		nodeID: nodeID,
		logger: logger.With().Str("component", "relay").Str("node_id", nodeID).Logger(),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, room string, payload []byte) error {
	body, err := json.Marshal(relayEnvelope{Origin: r.nodeID, Room: room, Payload: payload})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, relayChannel, body).Err()
}

// Run forwards envelopes from other nodes to deliver until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, deliver func(room string, payload []byte)) error {
	sub := r.client.Subscribe(ctx, relayChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.logger.Info().Msg("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay subscription closed")
			}
			r.handle(msg.Payload, deliver)
		}
	}
}

func (r *RedisRelay) handle(raw string, deliver func(room string, payload []byte)) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		observability.IncRelayError()
		r.logger.Warn().Err(err).Msg("relay decode failed")
		return
	}
	if env.Origin == r.nodeID {
		return
	}
	deliver(env.Room, env.Payload)
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
