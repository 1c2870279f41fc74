package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/typerace/pkg/racedto"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "race:events:"

// Publisher fans an event out to every subscriber of a contest.
type Publisher interface {
	Publish(ctx context.Context, contestID int64, topic string, payload any) error
}

// Channel is the Redis pub/sub channel of a contest.
func Channel(contestID int64) string { return channelPrefix + strconv.FormatInt(contestID, 10) }

func contestFromChannel(ch string) (int64, bool) {
	if !strings.HasPrefix(ch, channelPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(ch, channelPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// RedisPublisher publishes envelopes on the contest channel so every server
// instance holding sockets of that contest receives them.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher { return &RedisPublisher{rdb: rdb} }

func (p *RedisPublisher) Publish(ctx context.Context, contestID int64, topic string, payload any) error {
	frame, err := Encode(contestID, topic, payload)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, Channel(contestID), frame).Err()
}

// Encode builds the wire frame of an event.
func Encode(contestID int64, topic string, payload any) ([]byte, error) {
	env, err := racedto.NewEnvelope(contestID, topic, payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", topic, err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", topic, err)
	}
	return raw, nil
}
