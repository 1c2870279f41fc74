package roomstate

import (
	"context"
	"fmt"
	"time"

	"github.com/park285/typerace/internal/contest"
	"github.com/redis/go-redis/v9"
)

// Finish is the outcome of registering a finisher.
type Finish struct {
	Rank      int64
	Place     contest.Place
	Duplicate bool
}

// KEYS: finish zset, sequence counter, arrival timestamps
// ARGV: user id, arrival unix millis, ttl seconds
//
// Scores come from a per-room counter, so two finishes in the same millisecond
// still rank in the order Redis executed them.
var registerFinishScript = redis.NewScript(`
local existing = redis.call('ZRANK', KEYS[1], ARGV[1])
if existing then
  return {existing, 1}
end
local seq = redis.call('INCR', KEYS[2])
redis.call('ZADD', KEYS[1], seq, ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
for i = 1, 3 do redis.call('EXPIRE', KEYS[i], ARGV[3]) end
return {redis.call('ZRANK', KEYS[1], ARGV[1]), 0}
`)

// RegisterFinish appends userID to the finish order and returns its place.
// Registering the same user again returns the original rank with Duplicate set.
func (s *Store) RegisterFinish(ctx context.Context, contestID, userID int64) (Finish, error) {
	keys := []string{keyFinish(contestID), keyFinishSeq(contestID), keyFinishAt(contestID)}
	res, err := registerFinishScript.Run(ctx, s.rdb, keys, userField(userID), time.Now().UnixMilli(), ttlSeconds(s.ttl)).Int64Slice()
	if err != nil {
		return Finish{}, err
	}
	if len(res) != 2 {
		return Finish{}, fmt.Errorf("register finish: unexpected reply %v", res)
	}
	return Finish{Rank: res[0], Place: contest.PlaceForRank(res[0]), Duplicate: res[1] == 1}, nil
}

func (s *Store) FinishersCount(ctx context.Context, contestID int64) (int, error) {
	n, err := s.rdb.ZCard(ctx, keyFinish(contestID)).Result()
	return int(n), err
}

// FinishOrder lists finishers in arrival order.
func (s *Store) FinishOrder(ctx context.Context, contestID int64) ([]int64, error) {
	raw, err := s.rdb.ZRange(ctx, keyFinish(contestID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return parseUserIDs(raw), nil
}

// MarkRecorded notes that userID's result is durably stored. Completion is
// judged against this set rather than the finish order.
func (s *Store) MarkRecorded(ctx context.Context, contestID, userID int64) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, keyFinishDone(contestID), userField(userID))
		pipe.Expire(ctx, keyFinishDone(contestID), s.ttl)
		return nil
	})
	return err
}

func (s *Store) IsRecorded(ctx context.Context, contestID, userID int64) (bool, error) {
	return s.rdb.SIsMember(ctx, keyFinishDone(contestID), userField(userID)).Result()
}

// IsComplete reports whether everyone currently present has a recorded result.
// Both counts are read in one MULTI so they describe the same moment.
func (s *Store) IsComplete(ctx context.Context, contestID int64) (bool, error) {
	var recorded, present *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		recorded = pipe.SCard(ctx, keyFinishDone(contestID))
		present = pipe.SCard(ctx, keyMembers(contestID))
		return nil
	})
	if err != nil {
		return false, err
	}
	return present.Val() > 0 && recorded.Val() >= present.Val(), nil
}
