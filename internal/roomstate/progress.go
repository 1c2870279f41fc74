package roomstate

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/park285/typerace/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Snapshot is the latest progress reading of one participant.
type Snapshot struct {
	Percent  int     `json:"percent"`
	Speed    int     `json:"speed"`
	Accuracy float64 `json:"accuracy"`
}

// KEYS: members, progress
// ARGV: user id, snapshot json, ttl seconds
var updateProgressScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('EXPIRE', KEYS[2], ARGV[3])
return 1
`)

// UpdateProgress overwrites the snapshot of a current participant. It reports
// false when userID is not in the room, in which case nothing is written.
func (s *Store) UpdateProgress(ctx context.Context, contestID, userID int64, snap Snapshot) (bool, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return false, err
	}
	keys := []string{keyMembers(contestID), keyProgress(contestID)}
	n, err := updateProgressScript.Run(ctx, s.rdb, keys, userField(userID), string(raw), ttlSeconds(s.ttl)).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AllProgress returns every stored snapshot; malformed entries are skipped.
func (s *Store) AllProgress(ctx context.Context, contestID int64) (map[int64]Snapshot, error) {
	raw, err := s.rdb.HGetAll(ctx, keyProgress(contestID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[int64]Snapshot, len(raw))
	for k, v := range raw {
		id, perr := strconv.ParseInt(k, 10, 64)
		if perr != nil {
			continue
		}
		var snap Snapshot
		if jerr := json.Unmarshal([]byte(v), &snap); jerr != nil {
			obslog.L().Warn("progress_snapshot_decode", obslog.Contest(contestID), obslog.User(id), zap.Error(jerr))
			continue
		}
		out[id] = snap
	}
	return out, nil
}

// Progress returns the zero snapshot when nothing is stored.
func (s *Store) Progress(ctx context.Context, contestID, userID int64) (Snapshot, error) {
	raw, err := s.rdb.HGet(ctx, keyProgress(contestID), userField(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, nil
	}
	return snap, nil
}
