// Package roomstate keeps the ephemeral, TTL-bound state of live contest rooms
// in Redis so any server instance can serve any participant.
//
// Every mutation is a single atomic Redis primitive (SADD, HSET, a MULTI
// pipeline or a Lua script); callers never read a value, decide, and write it
// back in two round trips.
package roomstate

import (
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds the lifetime of an abandoned room.
const DefaultTTL = 30 * time.Minute

const (
	fieldExerciseID      = "exercise_id"
	fieldMaxParticipants = "max_participants"
)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// TTL is the expiry applied to every room key.
func (s *Store) TTL() time.Duration { return s.ttl }

// Keys share the {id} hash tag so scripts touching several of them stay on one
// cluster slot.
func keyBase(contestID int64) string {
	return "race:{" + strconv.FormatInt(contestID, 10) + "}"
}
func keyRoom(id int64) string       { return keyBase(id) + ":room" }
func keyMembers(id int64) string    { return keyBase(id) + ":members" }
func keyNames(id int64) string      { return keyBase(id) + ":names" }
func keyProgress(id int64) string   { return keyBase(id) + ":progress" }
func keyReady(id int64) string      { return keyBase(id) + ":ready" }
func keyFinish(id int64) string     { return keyBase(id) + ":finish" }
func keyFinishSeq(id int64) string  { return keyBase(id) + ":finish:seq" }
func keyFinishAt(id int64) string   { return keyBase(id) + ":finish:at" }
func keyFinishDone(id int64) string { return keyBase(id) + ":finish:done" }

func roomKeys(id int64) []string {
	return []string{
		keyRoom(id), keyMembers(id), keyNames(id), keyProgress(id),
		keyReady(id), keyFinish(id), keyFinishSeq(id), keyFinishAt(id),
		keyFinishDone(id),
	}
}

func ttlSeconds(d time.Duration) int64 {
	n := int64(d / time.Second)
	if n < 1 {
		n = 1
	}
	return n
}

func userField(userID int64) string { return strconv.FormatInt(userID, 10) }

func parseUserIDs(raw []string) []int64 {
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}
