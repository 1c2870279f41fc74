package roomstate

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// CreateRoom writes room metadata with the store TTL. Calling it again for the
// same contest overwrites the metadata.
func (s *Store) CreateRoom(ctx context.Context, contestID, exerciseID int64, maxParticipants int) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, keyRoom(contestID),
			fieldExerciseID, exerciseID,
			fieldMaxParticipants, maxParticipants,
		)
		pipe.Expire(ctx, keyRoom(contestID), s.ttl)
		return nil
	})
	return err
}

func (s *Store) RoomExists(ctx context.Context, contestID int64) (bool, error) {
	n, err := s.rdb.Exists(ctx, keyRoom(contestID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MaxParticipants returns 0 for an unknown room.
func (s *Store) MaxParticipants(ctx context.Context, contestID int64) (int, error) {
	n, err := s.roomInt(ctx, contestID, fieldMaxParticipants)
	return int(n), err
}

// ExerciseID returns 0 for an unknown room.
func (s *Store) ExerciseID(ctx context.Context, contestID int64) (int64, error) {
	return s.roomInt(ctx, contestID, fieldExerciseID)
}

func (s *Store) roomInt(ctx context.Context, contestID int64, field string) (int64, error) {
	raw, err := s.rdb.HGet(ctx, keyRoom(contestID), field).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// DeleteRoom removes the room and every per-room key. Absent keys are ignored.
func (s *Store) DeleteRoom(ctx context.Context, contestID int64) error {
	return s.rdb.Del(ctx, roomKeys(contestID)...).Err()
}
