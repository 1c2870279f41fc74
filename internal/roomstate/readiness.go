package roomstate

import (
	"context"
	"sort"

	"github.com/redis/go-redis/v9"
)

func (s *Store) MarkReady(ctx context.Context, contestID, userID int64) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, keyReady(contestID), userField(userID))
		pipe.Expire(ctx, keyReady(contestID), s.ttl)
		return nil
	})
	return err
}

func (s *Store) UnmarkReady(ctx context.Context, contestID, userID int64) error {
	return s.rdb.SRem(ctx, keyReady(contestID), userField(userID)).Err()
}

func (s *Store) IsReady(ctx context.Context, contestID, userID int64) (bool, error) {
	return s.rdb.SIsMember(ctx, keyReady(contestID), userField(userID)).Result()
}

func (s *Store) ReadyIDs(ctx context.Context, contestID int64) ([]int64, error) {
	raw, err := s.rdb.SMembers(ctx, keyReady(contestID)).Result()
	if err != nil {
		return nil, err
	}
	return sortedIDs(parseUserIDs(raw)), nil
}

func (s *Store) ReadyCount(ctx context.Context, contestID int64) (int, error) {
	n, err := s.rdb.SCard(ctx, keyReady(contestID)).Result()
	return int(n), err
}

func (s *Store) ClearReady(ctx context.Context, contestID int64) error {
	return s.rdb.Del(ctx, keyReady(contestID)).Err()
}

func sortedIDs(ids []int64) []int64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
