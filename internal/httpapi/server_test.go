package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/park285/typerace/internal/broadcast"
	"github.com/park285/typerace/internal/contest"
	"github.com/park285/typerace/internal/msgcat"
	"github.com/park285/typerace/internal/race"
	"github.com/park285/typerace/internal/raceclient"
	"github.com/park285/typerace/internal/roomstate"
	"github.com/park285/typerace/pkg/racedto"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = race.Player{ID: 1, Name: "alice"}
	bob   = race.Player{ID: 2, Name: "bob"}
	carol = race.Player{ID: 3, Name: "carol"}
)

type env struct {
	ts  *httptest.Server
	hub *broadcast.Hub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := contest.NewMemoryRepository()
	repo.PutExercise(contest.Exercise{ID: 1, Text: "sphinx of black quartz", Language: "en"})

	hub := broadcast.NewHub(rdb)
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Close() })

	cfg := race.DefaultConfig()
	cfg.CountdownSeconds = 1
	cfg.CountdownTick = 10 * time.Millisecond
	svc := race.NewService(roomstate.NewStore(rdb, time.Hour), repo, nil, broadcast.NewRedisPublisher(rdb), cfg)
	t.Cleanup(svc.Wait)

	msgs, err := msgcat.New("")
	require.NoError(t, err)

	srv := NewServer(svc, hub, msgs, Config{
		MinCapacity: 2,
		MaxCapacity: 15,
		Health:      func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &env{ts: ts, hub: hub}
}

func (e *env) do(t *testing.T, method, path string, p *race.Player, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if p != nil {
		req.Header.Set("X-User-Id", strconv.FormatInt(p.ID, 10))
		req.Header.Set("X-User-Name", p.Name)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (e *env) create(t *testing.T, p race.Player, capacity int) int64 {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/contests", &p, racedto.CreateRoomRequest{ExerciseID: 1, Capacity: capacity})
	require.Equal(t, http.StatusCreated, status, string(body))
	var out racedto.CreateRoomResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "CREATED", out.Status)
	return out.ContestID
}

func (e *env) join(t *testing.T, id int64, p race.Player) (int, []byte) {
	t.Helper()
	return e.do(t, http.MethodPost, fmt.Sprintf("/api/contests/%d/join", id), &p, nil)
}

func decodeError(t *testing.T, body []byte) racedto.DomainError {
	t.Helper()
	var de racedto.DomainError
	require.NoError(t, json.Unmarshal(body, &de))
	return de
}

func TestIdentityIsRequired(t *testing.T) {
	e := newEnv(t)

	status, body := e.do(t, http.MethodPost, "/api/contests", nil, racedto.CreateRoomRequest{ExerciseID: 1, Capacity: 2})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthenticated", decodeError(t, body).Code)

	status, _ = e.do(t, http.MethodGet, "/api/contests?userId=9&name=zed", nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	status, body := e.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestRoomEndpoints(t *testing.T) {
	e := newEnv(t)

	status, body := e.do(t, http.MethodPost, "/api/contests", &alice, racedto.CreateRoomRequest{ExerciseID: 1, Capacity: 1})
	assert.Equal(t, http.StatusBadRequest, status)
	de := decodeError(t, body)
	assert.Equal(t, "invalid_capacity", de.Code)
	assert.Equal(t, "Capacity must be between 2 and 15.", de.Message)

	status, body = e.do(t, http.MethodPost, "/api/contests", &alice, racedto.CreateRoomRequest{ExerciseID: 42, Capacity: 2})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "exercise_not_found", decodeError(t, body).Code)

	id := e.create(t, alice, 2)

	status, body = e.join(t, id, bob)
	require.Equal(t, http.StatusOK, status)
	var jr racedto.JoinResponse
	require.NoError(t, json.Unmarshal(body, &jr))
	assert.Equal(t, racedto.JoinJoined, jr.Status)

	status, body = e.join(t, id, bob)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &jr))
	assert.Equal(t, racedto.JoinReconnected, jr.Status)

	status, body = e.join(t, id, carol)
	assert.Equal(t, http.StatusConflict, status)
	de = decodeError(t, body)
	assert.Equal(t, "room_full", de.Code)
	assert.Equal(t, fmt.Sprintf("Contest %d is full.", id), de.Message)
	assert.Equal(t, id, de.ContestID)

	status, body = e.do(t, http.MethodGet, "/api/contests", &alice, nil)
	require.Equal(t, http.StatusOK, status)
	var page racedto.RoomPage
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, 2, page.Items[0].Participants)

	status, body = e.do(t, http.MethodGet, fmt.Sprintf("/api/contests/%d", id), &alice, nil)
	require.Equal(t, http.StatusOK, status)
	var d racedto.RoomDetail
	require.NoError(t, json.Unmarshal(body, &d))
	assert.Len(t, d.Participants, 2)
	assert.Empty(t, d.Text)

	status, _ = e.do(t, http.MethodPost, fmt.Sprintf("/api/contests/%d/leave", id), &bob, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = e.do(t, http.MethodGet, "/api/contests/999", &alice, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", decodeError(t, body).Code)

	status, _ = e.do(t, http.MethodGet, "/api/contests/abc", &alice, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = e.do(t, http.MethodGet, "/api/contests?page=-1", &alice, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

type events chan *racedto.Envelope

func (e *env) connect(t *testing.T, id int64, p race.Player) (*raceclient.Client, events) {
	t.Helper()
	c := raceclient.New(raceclient.ContestURL(e.ts.URL, id), raceclient.Options{UserID: p.ID, Name: p.Name})
	ch := make(events, 256)
	c.OnEvent(func(ev *racedto.Envelope) { ch <- ev })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c, ch
}

func (ch events) next(t *testing.T, topic string) *racedto.Envelope {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Topic == topic {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %q event", topic)
			return nil
		}
	}
}

func TestSocketRound(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	id := e.create(t, alice, 2)
	status, _ := e.join(t, id, bob)
	require.Equal(t, http.StatusOK, status)

	ac, aev := e.connect(t, id, alice)
	bc, bev := e.connect(t, id, bob)
	require.Eventually(t, func() bool { return e.hub.Count(id) == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ac.Ready(ctx))
	require.NoError(t, bc.Ready(ctx))

	var start racedto.Start
	require.NoError(t, aev.next(t, racedto.TopicStart).Decode(&start))
	assert.Equal(t, "sphinx of black quartz", start.Text)
	bev.next(t, racedto.TopicStart)

	require.NoError(t, ac.Progress(ctx, 40, 280, 99))
	var board racedto.ProgressBoard
	require.NoError(t, bev.next(t, racedto.TopicProgress).Decode(&board))
	assert.Equal(t, 40, board[alice.ID].Percent)

	require.NoError(t, bc.Finish(ctx, 22, 310, 96.5))
	var pf racedto.PlayerFinished
	require.NoError(t, aev.next(t, racedto.TopicPlayerFinished).Decode(&pf))
	assert.Equal(t, "bob", pf.Name)
	assert.Equal(t, "FIRST", pf.Place)

	require.NoError(t, ac.Finish(ctx, 30, 250, 99))
	var fin racedto.Finished
	require.NoError(t, bev.next(t, racedto.TopicFinished).Decode(&fin))
	require.Len(t, fin.Leaderboard, 2)
	assert.Equal(t, bob.ID, fin.Leaderboard[0].UserID)
	assert.Equal(t, "SECOND", fin.Leaderboard[1].Place)
	assert.Equal(t, "alice", fin.Leaderboard[1].Name)
}

func TestSocketErrorFrames(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	id := e.create(t, alice, 3)
	ac, aev := e.connect(t, id, alice)

	require.NoError(t, ac.Send(ctx, racedto.ClientMessage{Type: "dance"}))
	var de racedto.DomainError
	require.NoError(t, aev.next(t, racedto.TopicError).Decode(&de))
	assert.Equal(t, "invalid_argument", de.Code)

	require.NoError(t, ac.Finish(ctx, 10, 100, 90))
	require.NoError(t, aev.next(t, racedto.TopicError).Decode(&de))
	assert.Equal(t, "not_in_progress", de.Code)
	assert.Equal(t, id, de.ContestID)

	require.NoError(t, ac.Progress(ctx, 101, 0, 0))
	require.NoError(t, aev.next(t, racedto.TopicError).Decode(&de))
	assert.Equal(t, "invalid_argument", de.Code)
	require.NoError(t, ac.Progress(ctx, 20, 150, 98))
	require.NoError(t, aev.next(t, racedto.TopicError).Decode(&de))
	assert.Equal(t, "not_in_progress", de.Code)
}

func TestSocketUnknownContest(t *testing.T) {
	e := newEnv(t)
	c := raceclient.New(raceclient.ContestURL(e.ts.URL, 777), raceclient.Options{UserID: 1, Name: "alice"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, c.Connect(ctx))
	_ = c.Close(ctx)
}
