package roomstate

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// JoinOutcome is the result of an admission attempt.
type JoinOutcome int

const (
	JoinNoRoom JoinOutcome = iota
	JoinAdded
	JoinAlreadyMember
	JoinFull
)

func (o JoinOutcome) String() string {
	switch o {
	case JoinAdded:
		return "added"
	case JoinAlreadyMember:
		return "already_member"
	case JoinFull:
		return "full"
	default:
		return "no_room"
	}
}

// KEYS: room, members, names, progress
// ARGV: user id, display name, zero snapshot json, ttl seconds
var tryJoinScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
  redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
  for i = 1, 4 do redis.call('EXPIRE', KEYS[i], ARGV[4]) end
  return 2
end
local limit = tonumber(redis.call('HGET', KEYS[1], 'max_participants') or '0')
if redis.call('SCARD', KEYS[2]) >= limit then
  return 0
end
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('HSETNX', KEYS[4], ARGV[1], ARGV[3])
for i = 1, 4 do redis.call('EXPIRE', KEYS[i], ARGV[4]) end
return 1
`)

var zeroSnapshotJSON = func() string {
	raw, _ := json.Marshal(Snapshot{})
	return string(raw)
}()

// TryJoin admits userID only while the room exists and has a free seat. A
// returning member keeps its seat and gets its name refreshed.
func (s *Store) TryJoin(ctx context.Context, contestID, userID int64, name string) (JoinOutcome, error) {
	keys := []string{keyRoom(contestID), keyMembers(contestID), keyNames(contestID), keyProgress(contestID)}
	n, err := tryJoinScript.Run(ctx, s.rdb, keys, userField(userID), name, zeroSnapshotJSON, ttlSeconds(s.ttl)).Int64()
	if err != nil {
		return JoinNoRoom, err
	}
	switch n {
	case 1:
		return JoinAdded, nil
	case 2:
		return JoinAlreadyMember, nil
	case 0:
		return JoinFull, nil
	default:
		return JoinNoRoom, nil
	}
}

// AddParticipant unconditionally records a member, its name and a zero progress
// snapshot. Existing progress is kept so a reconnect does not reset it.
func (s *Store) AddParticipant(ctx context.Context, contestID, userID int64, name string) error {
	field := userField(userID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, keyMembers(contestID), field)
		pipe.HSet(ctx, keyNames(contestID), field, name)
		pipe.HSetNX(ctx, keyProgress(contestID), field, zeroSnapshotJSON)
		pipe.Expire(ctx, keyRoom(contestID), s.ttl)
		pipe.Expire(ctx, keyMembers(contestID), s.ttl)
		pipe.Expire(ctx, keyNames(contestID), s.ttl)
		pipe.Expire(ctx, keyProgress(contestID), s.ttl)
		return nil
	})
	return err
}

// RemoveParticipant drops userID from presence; absent users are ignored.
func (s *Store) RemoveParticipant(ctx context.Context, contestID, userID int64) error {
	field := userField(userID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, keyMembers(contestID), field)
		pipe.HDel(ctx, keyNames(contestID), field)
		pipe.HDel(ctx, keyProgress(contestID), field)
		return nil
	})
	return err
}

func (s *Store) IsParticipant(ctx context.Context, contestID, userID int64) (bool, error) {
	return s.rdb.SIsMember(ctx, keyMembers(contestID), userField(userID)).Result()
}

func (s *Store) ParticipantCount(ctx context.Context, contestID int64) (int, error) {
	n, err := s.rdb.SCard(ctx, keyMembers(contestID)).Result()
	return int(n), err
}

// IsFull reports count >= maxParticipants. An unknown room counts as full.
func (s *Store) IsFull(ctx context.Context, contestID int64) (bool, error) {
	limit, err := s.MaxParticipants(ctx, contestID)
	if err != nil {
		return false, err
	}
	n, err := s.ParticipantCount(ctx, contestID)
	if err != nil {
		return false, err
	}
	return n >= limit, nil
}

// Names maps participant id to display name.
func (s *Store) Names(ctx context.Context, contestID int64) (map[int64]string, error) {
	raw, err := s.rdb.HGetAll(ctx, keyNames(contestID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(raw))
	for k, v := range raw {
		id, perr := strconv.ParseInt(k, 10, 64)
		if perr != nil {
			continue
		}
		out[id] = v
	}
	return out, nil
}

// Members lists the current participant ids in ascending order.
func (s *Store) Members(ctx context.Context, contestID int64) ([]int64, error) {
	raw, err := s.rdb.SMembers(ctx, keyMembers(contestID)).Result()
	if err != nil {
		return nil, err
	}
	return sortedIDs(parseUserIDs(raw)), nil
}
