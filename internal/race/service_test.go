package race

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/park285/typerace/internal/contest"
	"github.com/park285/typerace/internal/roomstate"
	"github.com/park285/typerace/pkg/racedto"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	contestID int64
	topic     string
	payload   any
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Publish(_ context.Context, contestID int64, topic string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{contestID: contestID, topic: topic, payload: payload})
	return nil
}

func (r *recorder) byTopic(contestID int64, topic string) []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event
	for _, e := range r.events {
		if e.contestID == contestID && e.topic == topic {
			out = append(out, e)
		}
	}
	return out
}

var (
	alice = Player{ID: 1, Name: "alice"}
	bob   = Player{ID: 2, Name: "bob"}
	carol = Player{ID: 3, Name: "carol"}
	dave  = Player{ID: 4, Name: "dave"}
)

type fixture struct {
	svc   *Service
	repo  *contest.MemoryRepository
	store *roomstate.Store
	rec   *recorder
}

func newFixture(t *testing.T, exercises ExerciseSource) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, exercises, nil)
}

// newFixtureWithRepo lets a test wrap the in-memory repository the service
// talks to; fixture.repo stays the underlying one.
func newFixtureWithRepo(t *testing.T, exercises ExerciseSource, wrap func(*contest.MemoryRepository) contest.Repository) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := roomstate.NewStore(rdb, time.Hour)
	repo := contest.NewMemoryRepository()
	repo.PutExercise(contest.Exercise{ID: 1, Text: "the quick brown fox", Language: "en"})
	rec := &recorder{}

	cfg := DefaultConfig()
	cfg.CountdownSeconds = 2
	cfg.CountdownTick = 10 * time.Millisecond
	var svcRepo contest.Repository = repo
	if wrap != nil {
		svcRepo = wrap(repo)
	}
	svc := NewService(store, svcRepo, exercises, rec, cfg)
	t.Cleanup(svc.Wait)
	return &fixture{svc: svc, repo: repo, store: store, rec: rec}
}

func (f *fixture) status(t *testing.T, id int64) contest.Status {
	t.Helper()
	c, err := f.repo.GetContest(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c.Status
}

func (f *fixture) waitStatus(t *testing.T, id int64, want contest.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		c, err := f.repo.GetContest(context.Background(), id)
		return err == nil && c != nil && c.Status == want
	}, 2*time.Second, 5*time.Millisecond)
}

// readyAccepted allows the one outcome a late Ready may legitimately see: the
// countdown already started from an earlier quorum.
func readyAccepted(t *testing.T, err error) bool {
	t.Helper()
	if err == nil {
		return true
	}
	return assert.ErrorIs(t, err, ErrAlreadyStarted)
}

// startRace seats players in a room sized to them and readies everyone.
func (f *fixture) startRace(t *testing.T, players ...Player) int64 {
	t.Helper()
	ctx := context.Background()
	c, err := f.svc.CreateRoom(ctx, players[0], 1, len(players))
	require.NoError(t, err)
	for _, p := range players[1:] {
		st, err := f.svc.Join(ctx, c.ID, p)
		require.NoError(t, err)
		require.Equal(t, racedto.JoinJoined, st)
	}
	for _, p := range players {
		require.True(t, readyAccepted(t, f.svc.Ready(ctx, c.ID, p.ID)))
	}
	f.waitStatus(t, c.ID, contest.StatusProgress)
	return c.ID
}

func TestQuorumThreshold(t *testing.T) {
	cases := map[int]int{2: 1, 3: 2, 4: 2, 5: 3, 15: 8}
	for capacity, want := range cases {
		assert.Equal(t, want, QuorumThreshold(capacity), "capacity %d", capacity)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CreateRoom(ctx, alice, 1, 1)
	assert.Equal(t, KindInvalid, KindOf(err))
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = f.svc.CreateRoom(ctx, alice, 1, 16)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = f.svc.CreateRoom(ctx, alice, 99, 2)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.ErrorIs(t, err, ErrExerciseNotFound)

	_, err = f.svc.CreateRoom(ctx, Player{ID: 0, Name: "x"}, 1, 2)
	assert.ErrorIs(t, err, ErrInvalidPlayer)

	c, err := f.svc.CreateRoom(ctx, alice, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, contest.StatusCreated, c.Status)
	assert.Equal(t, []int64{alice.ID}, f.repo.Members(c.ID))

	joined := f.rec.byTopic(c.ID, racedto.TopicPlayerJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, racedto.PlayerJoined{UserID: 1, Name: "alice", CurrentCount: 1, MaxCount: 2}, joined[0].payload)
}

func TestJoinOutcomesAndErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Join(ctx, 404, alice)
	assert.Equal(t, KindNotFound, KindOf(err))

	c, err := f.svc.CreateRoom(ctx, alice, 1, 2)
	require.NoError(t, err)

	st, err := f.svc.Join(ctx, c.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, racedto.JoinReconnected, st)

	st, err = f.svc.Join(ctx, c.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, racedto.JoinJoined, st)

	_, err = f.svc.Join(ctx, c.ID, carol)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, c.ID, ContestOf(err))

	assert.Len(t, f.rec.byTopic(c.ID, racedto.TopicPlayerJoined), 2)
}

func TestJoinAfterStartIsRejectedButReconnectWorks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.startRace(t, alice, bob, carol)

	_, err := f.svc.Join(ctx, id, dave)
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	st, err := f.svc.Join(ctx, id, bob)
	require.NoError(t, err)
	assert.Equal(t, racedto.JoinReconnected, st)
}

func TestStaleJoinRemovesContest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.svc.CreateRoom(ctx, alice, 1, 2)
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteRoom(ctx, c.ID))

	_, err = f.svc.Join(ctx, c.ID, bob)
	assert.Equal(t, KindStale, KindOf(err))
	assert.ErrorIs(t, err, ErrRoomExpired)

	f.svc.Wait()
	got, err := f.repo.GetContest(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReadyRequiresTwoPresent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.svc.CreateRoom(ctx, alice, 1, 2)
	require.NoError(t, err)
	require.NoError(t, f.svc.Ready(ctx, c.ID, alice.ID))
	assert.Equal(t, contest.StatusCreated, f.status(t, c.ID))

	_, err = f.svc.Join(ctx, c.ID, bob)
	require.NoError(t, err)
	require.NoError(t, f.svc.Ready(ctx, c.ID, bob.ID))
	f.waitStatus(t, c.ID, contest.StatusProgress)

	err = f.svc.Ready(ctx, c.ID, carol.ID)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestQuorumIsHalfOfCapacity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.svc.CreateRoom(ctx, alice, 1, 5)
	require.NoError(t, err)
	for _, p := range []Player{bob, carol, dave} {
		_, err := f.svc.Join(ctx, c.ID, p)
		require.NoError(t, err)
	}
	require.NoError(t, f.svc.Ready(ctx, c.ID, alice.ID))
	require.NoError(t, f.svc.Ready(ctx, c.ID, bob.ID))
	assert.Equal(t, contest.StatusCreated, f.status(t, c.ID))

	ready := f.rec.byTopic(c.ID, racedto.TopicPlayerReady)
	require.Len(t, ready, 2)
	assert.Equal(t, racedto.PlayerReady{UserID: 2, ReadyCount: 2, TotalCount: 4}, ready[1].payload)

	require.NoError(t, f.svc.Ready(ctx, c.ID, carol.ID))
	f.waitStatus(t, c.ID, contest.StatusProgress)
}

func TestConcurrentReadyStartsOneCountdown(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.svc.CreateRoom(ctx, alice, 1, 4)
	require.NoError(t, err)
	players := []Player{alice, bob, carol, dave}
	for _, p := range players[1:] {
		_, err := f.svc.Join(ctx, c.ID, p)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, p := range players {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			readyAccepted(t, f.svc.Ready(ctx, c.ID, id))
		}(p.ID)
	}
	wg.Wait()
	f.waitStatus(t, c.ID, contest.StatusProgress)
	f.svc.Wait()

	assert.Len(t, f.rec.byTopic(c.ID, racedto.TopicStart), 1)
	assert.Len(t, f.rec.byTopic(c.ID, racedto.TopicCountdown), 3)
}

func TestFullRound(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.startRace(t, alice, bob)
	f.svc.Wait()

	var seconds []int
	for _, e := range f.rec.byTopic(id, racedto.TopicCountdown) {
		seconds = append(seconds, e.payload.(racedto.Countdown).SecondsRemaining)
	}
	assert.Equal(t, []int{2, 1, 0}, seconds)

	starts := f.rec.byTopic(id, racedto.TopicStart)
	require.Len(t, starts, 1)
	start := starts[0].payload.(racedto.Start)
	assert.Equal(t, "the quick brown fox", start.Text)
	assert.NotZero(t, start.StartTimestampMillis)

	readyIDs, err := f.store.ReadyIDs(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, readyIDs)

	detail, err := f.svc.Detail(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "the quick brown fox", detail.Text)
	assert.Len(t, detail.Participants, 2)

	require.NoError(t, f.svc.Progress(ctx, id, alice.ID, roomstate.Snapshot{Percent: 50, Speed: 300, Accuracy: 98.5}))
	boards := f.rec.byTopic(id, racedto.TopicProgress)
	require.Len(t, boards, 1)
	board := boards[0].payload.(racedto.ProgressBoard)
	assert.Equal(t, racedto.Snapshot{Percent: 50, Speed: 300, Accuracy: 98.5}, board[alice.ID])
	assert.Equal(t, racedto.Snapshot{}, board[bob.ID])

	out, err := f.svc.Finish(ctx, id, alice.ID, FinishReport{DurationSeconds: 30, Speed: 320, Accuracy: 97})
	require.NoError(t, err)
	assert.Equal(t, contest.PlaceFirst, out.Place)
	assert.False(t, out.Completed)
	assert.Equal(t, contest.StatusProgress, f.status(t, id))

	out, err = f.svc.Finish(ctx, id, bob.ID, FinishReport{DurationSeconds: 41, Speed: 250, Accuracy: 91})
	require.NoError(t, err)
	assert.Equal(t, contest.PlaceSecond, out.Place)
	assert.True(t, out.Completed)
	assert.Equal(t, contest.StatusFinished, f.status(t, id))

	finished := f.rec.byTopic(id, racedto.TopicFinished)
	require.Len(t, finished, 1)
	lb := finished[0].payload.(racedto.Finished).Leaderboard
	require.Len(t, lb, 2)
	assert.Equal(t, racedto.LeaderboardEntry{UserID: 1, Name: "alice", Place: "FIRST", DurationSeconds: 30, Speed: 320, Accuracy: 97}, lb[0])
	assert.Equal(t, "bob", lb[1].Name)
	assert.Equal(t, "SECOND", lb[1].Place)

	results, err := f.repo.ListResults(ctx, id)
	require.NoError(t, err)
	require.Len(t, results, 2)

	exists, err := f.store.RoomExists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)
}

// heldResults blocks SaveResult for one user until release is closed, or fails
// it once when failFirst is set.
type heldResults struct {
	*contest.MemoryRepository
	user      int64
	failFirst bool
	entered   chan struct{}
	release   chan struct{}
	failed    atomic.Bool
}

func (r *heldResults) SaveResult(ctx context.Context, res *contest.Result) error {
	if res.UserID == r.user {
		if r.failFirst && r.failed.CompareAndSwap(false, true) {
			return context.DeadlineExceeded
		}
		if r.entered != nil {
			close(r.entered)
			<-r.release
		}
	}
	return r.MemoryRepository.SaveResult(ctx, res)
}

func TestConcurrentFinishesBuildFullLeaderboard(t *testing.T) {
	held := &heldResults{user: alice.ID, entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixtureWithRepo(t, nil, func(m *contest.MemoryRepository) contest.Repository {
		held.MemoryRepository = m
		return held
	})
	ctx := context.Background()
	id := f.startRace(t, alice, bob)

	done := make(chan *FinishOutcome, 1)
	go func() {
		out, err := f.svc.Finish(ctx, id, alice.ID, FinishReport{DurationSeconds: 30, Speed: 320, Accuracy: 97})
		assert.NoError(t, err)
		done <- out
	}()
	select {
	case <-held.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("alice never reached result storage")
	}

	// alice is ranked but her row is not stored yet
	out, err := f.svc.Finish(ctx, id, bob.ID, FinishReport{DurationSeconds: 41, Speed: 250, Accuracy: 91})
	require.NoError(t, err)
	assert.Equal(t, contest.PlaceSecond, out.Place)
	assert.False(t, out.Completed)
	assert.Equal(t, contest.StatusProgress, f.status(t, id))
	assert.Empty(t, f.rec.byTopic(id, racedto.TopicFinished))

	close(held.release)
	var first *FinishOutcome
	select {
	case first = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("alice's finish did not return")
	}
	require.NotNil(t, first)
	assert.Equal(t, contest.PlaceFirst, first.Place)
	assert.True(t, first.Completed)
	assert.Equal(t, contest.StatusFinished, f.status(t, id))

	finished := f.rec.byTopic(id, racedto.TopicFinished)
	require.Len(t, finished, 1)
	lb := finished[0].payload.(racedto.Finished).Leaderboard
	require.Len(t, lb, 2)
	assert.Equal(t, "alice", lb[0].Name)
	assert.Equal(t, "FIRST", lb[0].Place)
	assert.Equal(t, "bob", lb[1].Name)
	assert.Equal(t, "SECOND", lb[1].Place)

	names := map[int64]string{}
	for _, e := range f.rec.byTopic(id, racedto.TopicPlayerFinished) {
		pf := e.payload.(racedto.PlayerFinished)
		names[pf.UserID] = pf.Name
	}
	assert.Equal(t, map[int64]string{alice.ID: "alice", bob.ID: "bob"}, names)
}

func TestFinishRetryAfterStorageFailureKeepsPlace(t *testing.T) {
	held := &heldResults{user: alice.ID, failFirst: true}
	f := newFixtureWithRepo(t, nil, func(m *contest.MemoryRepository) contest.Repository {
		held.MemoryRepository = m
		return held
	})
	ctx := context.Background()
	id := f.startRace(t, alice, bob)

	_, err := f.svc.Finish(ctx, id, alice.ID, FinishReport{DurationSeconds: 30, Speed: 320, Accuracy: 97})
	assert.Equal(t, KindInfra, KindOf(err))

	out, err := f.svc.Finish(ctx, id, bob.ID, FinishReport{DurationSeconds: 41, Speed: 250, Accuracy: 91})
	require.NoError(t, err)
	assert.False(t, out.Completed)

	out, err = f.svc.Finish(ctx, id, alice.ID, FinishReport{DurationSeconds: 30, Speed: 320, Accuracy: 97})
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Equal(t, contest.PlaceFirst, out.Place)
	assert.True(t, out.Completed)

	results, err := f.repo.ListResults(ctx, id)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Len(t, f.rec.byTopic(id, racedto.TopicPlayerFinished), 2)
}

func TestJoinAfterCompletionIsAlreadyStarted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.startRace(t, alice, bob)

	_, err := f.svc.Finish(ctx, id, alice.ID, FinishReport{DurationSeconds: 30, Speed: 320, Accuracy: 97})
	require.NoError(t, err)
	out, err := f.svc.Finish(ctx, id, bob.ID, FinishReport{DurationSeconds: 41, Speed: 250, Accuracy: 91})
	require.NoError(t, err)
	require.True(t, out.Completed)

	for _, p := range []Player{bob, dave} {
		_, err = f.svc.Join(ctx, id, p)
		assert.Equal(t, KindConflict, KindOf(err))
		assert.ErrorIs(t, err, ErrAlreadyStarted)
	}
	f.svc.Wait()
	assert.Equal(t, contest.StatusFinished, f.status(t, id))
}

func TestReadyAndProgressFollowContestStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	assert.Equal(t, KindNotFound, KindOf(f.svc.Ready(ctx, 404, alice.ID)))
	assert.Equal(t, KindNotFound, KindOf(f.svc.Progress(ctx, 404, alice.ID, roomstate.Snapshot{Percent: 1})))

	c, err := f.svc.CreateRoom(ctx, alice, 1, 3)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, c.ID, bob)
	require.NoError(t, err)

	err = f.svc.Progress(ctx, c.ID, alice.ID, roomstate.Snapshot{Percent: 10})
	assert.Equal(t, KindConflict, KindOf(err))
	assert.ErrorIs(t, err, ErrNotInProgress)
	assert.Empty(t, f.rec.byTopic(c.ID, racedto.TopicProgress))

	require.NoError(t, f.svc.Ready(ctx, c.ID, alice.ID))
	require.NoError(t, f.svc.Ready(ctx, c.ID, bob.ID))
	f.waitStatus(t, c.ID, contest.StatusProgress)
	f.svc.Wait()
	readyEvents := len(f.rec.byTopic(c.ID, racedto.TopicPlayerReady))

	err = f.svc.Ready(ctx, c.ID, alice.ID)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Len(t, f.rec.byTopic(c.ID, racedto.TopicPlayerReady), readyEvents)

	ready, err := f.store.IsReady(ctx, c.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, ready)

	require.NoError(t, f.svc.Progress(ctx, c.ID, bob.ID, roomstate.Snapshot{Percent: 10}))
}

func TestDuplicateFinishIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.startRace(t, alice, bob)

	first, err := f.svc.Finish(ctx, id, alice.ID, FinishReport{DurationSeconds: 30, Speed: 320, Accuracy: 97})
	require.NoError(t, err)
	again, err := f.svc.Finish(ctx, id, alice.ID, FinishReport{DurationSeconds: 10, Speed: 900, Accuracy: 100})
	require.NoError(t, err)

	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Place, again.Place)
	assert.Len(t, f.rec.byTopic(id, racedto.TopicPlayerFinished), 1)

	results, err := f.repo.ListResults(ctx, id)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 320, results[0].Speed)
}

func TestDepartureLetsRemainingFinishersComplete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.startRace(t, alice, bob, carol)

	_, err := f.svc.Finish(ctx, id, alice.ID, FinishReport{DurationSeconds: 20, Speed: 400, Accuracy: 99})
	require.NoError(t, err)
	require.NoError(t, f.svc.Leave(ctx, id, carol))
	assert.Equal(t, contest.StatusProgress, f.status(t, id))

	out, err := f.svc.Finish(ctx, id, bob.ID, FinishReport{DurationSeconds: 25, Speed: 350, Accuracy: 95})
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Equal(t, contest.StatusFinished, f.status(t, id))

	left := f.rec.byTopic(id, racedto.TopicPlayerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, racedto.PlayerLeft{UserID: 3, Name: "carol", CurrentCount: 2}, left[0].payload)
}

func TestFinishPreconditions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.svc.CreateRoom(ctx, alice, 1, 2)
	require.NoError(t, err)
	_, err = f.svc.Finish(ctx, c.ID, alice.ID, FinishReport{DurationSeconds: 1, Speed: 1, Accuracy: 1})
	assert.ErrorIs(t, err, ErrNotInProgress)

	_, err = f.svc.Finish(ctx, c.ID, alice.ID, FinishReport{DurationSeconds: 1, Speed: 1, Accuracy: 101})
	assert.Equal(t, KindInvalid, KindOf(err))

	id := f.startRace(t, bob, carol)
	_, err = f.svc.Finish(ctx, id, dave.ID, FinishReport{DurationSeconds: 1, Speed: 1, Accuracy: 1})
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestProgressValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.startRace(t, alice, bob)

	err := f.svc.Progress(ctx, id, alice.ID, roomstate.Snapshot{Percent: 120})
	assert.ErrorIs(t, err, ErrInvalidProgress)

	err = f.svc.Progress(ctx, id, dave.ID, roomstate.Snapshot{Percent: 10})
	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.Empty(t, f.rec.byTopic(id, racedto.TopicProgress))
}

func TestListAndDetailBeforeStart(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.svc.CreateRoom(ctx, alice, 1, 3)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, c.ID, bob)
	require.NoError(t, err)
	require.NoError(t, f.svc.Ready(ctx, c.ID, bob.ID))

	page, err := f.svc.ListAvailable(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 20, page.Size)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 2, page.Items[0].Participants)

	page, err = f.svc.ListAvailable(ctx, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 100, page.Size)

	d, err := f.svc.Detail(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, d.Text)
	assert.Equal(t, []racedto.Participant{
		{UserID: 1, Name: "alice", Ready: false},
		{UserID: 2, Name: "bob", Ready: true},
	}, d.Participants)

	_, err = f.svc.Detail(ctx, 404)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestLeaveBeforeStartDropsMembership(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	c, err := f.svc.CreateRoom(ctx, alice, 1, 3)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, c.ID, bob)
	require.NoError(t, err)
	require.NoError(t, f.svc.Ready(ctx, c.ID, bob.ID))
	require.NoError(t, f.svc.Leave(ctx, c.ID, bob))

	assert.Equal(t, []int64{alice.ID}, f.repo.Members(c.ID))
	ready, err := f.store.IsReady(ctx, c.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, ready)

	assert.Equal(t, KindNotFound, KindOf(f.svc.Leave(ctx, 404, bob)))
}

// failingSource serves the exercise once, for room creation, then fails.
type failingSource struct {
	repo  *contest.MemoryRepository
	calls atomic.Int32
}

func (s *failingSource) GetExercise(ctx context.Context, id int64) (*contest.Exercise, error) {
	if s.calls.Add(1) > 1 {
		return nil, context.DeadlineExceeded
	}
	return s.repo.GetExercise(ctx, id)
}

func TestStartAbortsWhenTextUnavailable(t *testing.T) {
	src := &failingSource{}
	f := newFixture(t, src)
	src.repo = f.repo
	ctx := context.Background()

	c, err := f.svc.CreateRoom(ctx, alice, 1, 2)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, c.ID, bob)
	require.NoError(t, err)
	require.NoError(t, f.svc.Ready(ctx, c.ID, alice.ID))
	require.True(t, readyAccepted(t, f.svc.Ready(ctx, c.ID, bob.ID)))
	f.svc.Wait()

	assert.Equal(t, contest.StatusWaiting, f.status(t, c.ID))
	assert.Empty(t, f.rec.byTopic(c.ID, racedto.TopicStart))
}
